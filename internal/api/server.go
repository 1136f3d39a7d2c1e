// Package api exposes the promotion controller over HTTP.
package api

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/stagegate/stagegate/internal/application"
)

// Server wires the application services into an HTTP API.
type Server struct {
	Promotions *application.PromotionService
	Artifacts  *application.ArtifactService
	Log        logrus.FieldLogger

	started time.Time
	ready   atomic.Bool
}

// NewServer creates a ready-to-serve API server.
func NewServer(promotions *application.PromotionService, artifacts *application.ArtifactService, log logrus.FieldLogger) *Server {
	s := &Server{
		Promotions: promotions,
		Artifacts:  artifacts,
		Log:        log,
		started:    time.Now(),
	}
	s.ready.Store(true)
	return s
}

// SetReady flips the readiness probe; the server answers 503 on /readyz
// while draining.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/api/info", s.handleInfo).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/artifacts", s.handleRegisterArtifact).Methods(http.MethodPost)
	v1.HandleFunc("/artifacts", s.handleListArtifacts).Methods(http.MethodGet)
	v1.HandleFunc("/promotions", s.handleRequestPromotion).Methods(http.MethodPost)
	v1.HandleFunc("/stages", s.handleStages).Methods(http.MethodGet)
	v1.HandleFunc("/stages/{stage}/releases", s.handleListReleases).Methods(http.MethodGet)
	v1.HandleFunc("/stages/{stage}/history", s.handleDeployHistory).Methods(http.MethodGet)
	v1.HandleFunc("/stages/{stage}/rollback", s.handleRollback).Methods(http.MethodPost)
	v1.HandleFunc("/releases/{id}", s.handleGetRelease).Methods(http.MethodGet)
	v1.HandleFunc("/releases/{id}/approvals", s.handleApprove).Methods(http.MethodPost)
	v1.HandleFunc("/releases/{id}/health", s.handleReportHealth).Methods(http.MethodPost)
	v1.HandleFunc("/releases/{id}/abort", s.handleAbort).Methods(http.MethodPost)

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.Log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("request handled")
	})
}
