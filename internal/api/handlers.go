package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/stagegate/stagegate/internal/domain"
)

type releaseResponse struct {
	ID         string             `json:"id"`
	ImageTag   string             `json:"image_tag"`
	Stage      string             `json:"stage"`
	Status     string             `json:"status"`
	Approvals  []approvalResponse `json:"approvals"`
	CreatedAt  time.Time          `json:"created_at"`
	DeployedAt *time.Time         `json:"deployed_at,omitempty"`
}

type approvalResponse struct {
	ApproverID string    `json:"approver_id"`
	ApprovedAt time.Time `json:"approved_at"`
}

func toReleaseResponse(rel domain.Release) releaseResponse {
	resp := releaseResponse{
		ID:        string(rel.ID),
		ImageTag:  string(rel.ImageTag),
		Stage:     string(rel.Stage),
		Status:    string(rel.Status),
		Approvals: make([]approvalResponse, 0, len(rel.Approvals)),
		CreatedAt: rel.CreatedAt,
	}
	for _, a := range rel.Approvals {
		resp.Approvals = append(resp.Approvals, approvalResponse{ApproverID: a.ApproverID, ApprovedAt: a.ApprovedAt})
	}
	if !rel.DeployedAt.IsZero() {
		t := rel.DeployedAt
		resp.DeployedAt = &t
	}
	return resp
}

type stageStatusResponse struct {
	Stage        string           `json:"stage"`
	MinApprovals int              `json:"min_approvals"`
	Soak         string           `json:"soak"`
	Active       *releaseResponse `json:"active,omitempty"`
	InFlight     *releaseResponse `json:"in_flight,omitempty"`
}

type deployRecordResponse struct {
	Stage      string    `json:"stage"`
	ReleaseID  string    `json:"release_id"`
	ImageTag   string    `json:"image_tag"`
	Action     string    `json:"action"`
	RecordedAt time.Time `json:"recorded_at"`
}

type artifactResponse struct {
	Tag      string    `json:"tag"`
	PushedAt time.Time `json:"pushed_at"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	stages := make([]string, 0, len(domain.StageOrder))
	for _, st := range domain.StageOrder {
		stages = append(stages, string(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "stagegate",
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"stages":    stages,
	})
}

func (s *Server) handleRegisterArtifact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag string `json:"tag"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	a, err := s.Artifacts.Register(r.Context(), domain.ImageTag(req.Tag))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, artifactResponse{Tag: string(a.Tag), PushedAt: a.PushedAt})
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	artifacts, err := s.Artifacts.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]artifactResponse, 0, len(artifacts))
	for _, a := range artifacts {
		resp = append(resp, artifactResponse{Tag: string(a.Tag), PushedAt: a.PushedAt})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRequestPromotion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageTag string `json:"image_tag"`
		Stage    string `json:"stage"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	rel, err := s.Promotions.RequestPromotion(r.Context(), domain.ImageTag(req.ImageTag), domain.StageName(req.Stage))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReleaseResponse(rel))
}

func (s *Server) handleStages(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.Promotions.StageStatuses(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]stageStatusResponse, 0, len(statuses))
	for _, st := range statuses {
		item := stageStatusResponse{
			Stage:        string(st.Stage),
			MinApprovals: st.Policy.MinApprovals,
			Soak:         st.Policy.Soak.String(),
		}
		if st.Active != nil {
			active := toReleaseResponse(*st.Active)
			item.Active = &active
		}
		if st.InFlight != nil {
			inFlight := toReleaseResponse(*st.InFlight)
			item.InFlight = &inFlight
		}
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListReleases(w http.ResponseWriter, r *http.Request) {
	stage := domain.StageName(mux.Vars(r)["stage"])
	releases, err := s.Promotions.ListReleases(r.Context(), stage)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]releaseResponse, 0, len(releases))
	for _, rel := range releases {
		resp = append(resp, toReleaseResponse(rel))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeployHistory(w http.ResponseWriter, r *http.Request) {
	stage := domain.StageName(mux.Vars(r)["stage"])
	records, err := s.Promotions.DeployHistory(r.Context(), stage)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]deployRecordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, deployRecordResponse{
			Stage:      string(rec.Stage),
			ReleaseID:  string(rec.ReleaseID),
			ImageTag:   string(rec.ImageTag),
			Action:     string(rec.Action),
			RecordedAt: rec.RecordedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	stage := domain.StageName(mux.Vars(r)["stage"])
	rel, err := s.Promotions.Rollback(r.Context(), stage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReleaseResponse(rel))
}

func (s *Server) handleGetRelease(w http.ResponseWriter, r *http.Request) {
	rel, err := s.Promotions.GetRelease(r.Context(), domain.ReleaseID(mux.Vars(r)["id"]))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReleaseResponse(rel))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ApproverID string `json:"approver_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	rel, err := s.Promotions.Approve(r.Context(), domain.ReleaseID(mux.Vars(r)["id"]), req.ApproverID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReleaseResponse(rel))
}

func (s *Server) handleReportHealth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OK bool `json:"ok"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.Promotions.ReportHealth(r.Context(), domain.ReleaseID(mux.Vars(r)["id"]), req.OK); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	if err := s.Promotions.Abort(r.Context(), domain.ReleaseID(mux.Vars(r)["id"])); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidArtifact):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStageBusy),
		errors.Is(err, domain.ErrDuplicateApprover),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrNoPriorRelease),
		errors.Is(err, domain.ErrStaleRelease):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
