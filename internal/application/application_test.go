package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stagegate/stagegate/internal/application"
	"github.com/stagegate/stagegate/internal/domain"
	"github.com/stagegate/stagegate/internal/infrastructure/sqlite"
	"github.com/stagegate/stagegate/internal/infrastructure/syncworkflow"
)

type testHarness struct {
	promotions *application.PromotionService
	artifacts  *application.ArtifactService
	releases   *sqlite.ReleaseRepo
	stages     *sqlite.StageRepo
	records    *sqlite.DeployRecordRepo
}

// fastPolicies keeps soak windows short enough for synchronous tests.
func fastPolicies() domain.PolicyTable {
	return domain.PolicyTable{
		domain.StageDev:        {MinApprovals: 0, Soak: 0},
		domain.StageStaging:    {MinApprovals: 1, Soak: 5 * time.Millisecond},
		domain.StageProduction: {MinApprovals: 2, Soak: 5 * time.Millisecond},
	}
}

func setup(t *testing.T, policies domain.PolicyTable) testHarness {
	t.Helper()
	db := sqlite.OpenTestDB(t)

	releaseRepo := &sqlite.ReleaseRepo{DB: db}
	stageRepo := &sqlite.StageRepo{DB: db}
	artifactRepo := &sqlite.ArtifactRepo{DB: db}
	recordRepo := &sqlite.DeployRecordRepo{DB: db}

	now := func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }
	deployer := &sqlite.RecordingDeployer{Records: recordRepo, Now: now}

	wf := &domain.PromotionWorkflow{
		Releases: releaseRepo,
		Stages:   stageRepo,
		Deployer: deployer,
		Policies: policies,
	}
	engine := &syncworkflow.Engine{}
	runner, err := engine.PromotionRunner(wf)
	if err != nil {
		t.Fatalf("PromotionRunner: %v", err)
	}

	return testHarness{
		promotions: &application.PromotionService{
			Releases:  releaseRepo,
			Stages:    stageRepo,
			Artifacts: artifactRepo,
			Deployer:  deployer,
			Policies:  policies,
			Promotion: runner,
			Now:       now,
		},
		artifacts: &application.ArtifactService{Artifacts: artifactRepo, Now: now},
		releases:  releaseRepo,
		stages:    stageRepo,
		records:   recordRepo,
	}
}

func registerArtifacts(t *testing.T, h testHarness, tags ...domain.ImageTag) {
	t.Helper()
	for _, tag := range tags {
		if _, err := h.artifacts.Register(context.Background(), tag); err != nil {
			t.Fatalf("register artifact %s: %v", tag, err)
		}
	}
}

// promoteToHealthy walks a tag through request and enough approvals to
// reach healthy at the given stage.
func promoteToHealthy(t *testing.T, h testHarness, tag domain.ImageTag, stage domain.StageName, approvers ...string) domain.Release {
	t.Helper()
	ctx := context.Background()

	rel, err := h.promotions.RequestPromotion(ctx, tag, stage)
	if err != nil {
		t.Fatalf("RequestPromotion(%s, %s): %v", tag, stage, err)
	}
	for _, approver := range approvers {
		rel, err = h.promotions.Approve(ctx, rel.ID, approver)
		if err != nil {
			t.Fatalf("Approve(%s, %s): %v", rel.ID, approver, err)
		}
	}
	if rel.Status != domain.ReleaseStatusHealthy {
		t.Fatalf("release %s at %s: status = %q, want healthy", rel.ID, stage, rel.Status)
	}
	return rel
}

func TestRequestPromotion_DevDeploysImmediately(t *testing.T) {
	h := setup(t, fastPolicies())
	ctx := context.Background()
	registerArtifacts(t, h, "api:v1")

	rel, err := h.promotions.RequestPromotion(ctx, "api:v1", domain.StageDev)
	if err != nil {
		t.Fatalf("RequestPromotion: %v", err)
	}
	if rel.Status != domain.ReleaseStatusHealthy {
		t.Errorf("Status = %q, want healthy (zero approvals, zero soak)", rel.Status)
	}
	if rel.DeployedAt.IsZero() {
		t.Error("DeployedAt should be set")
	}

	st, err := h.stages.Get(ctx, domain.StageDev)
	if err != nil {
		t.Fatalf("Get stage: %v", err)
	}
	if st.ActiveRelease != rel.ID {
		t.Errorf("dev active release = %q, want %q", st.ActiveRelease, rel.ID)
	}

	records, err := h.records.ListByStage(ctx, domain.StageDev)
	if err != nil {
		t.Fatalf("ListByStage: %v", err)
	}
	if len(records) != 1 || records[0].Action != domain.DeployActionDeploy {
		t.Fatalf("records = %+v, want one deploy", records)
	}
}

func TestRequestPromotion_UnregisteredTag(t *testing.T) {
	h := setup(t, fastPolicies())

	_, err := h.promotions.RequestPromotion(context.Background(), "api:v9", domain.StageDev)
	if !errors.Is(err, domain.ErrInvalidArtifact) {
		t.Fatalf("RequestPromotion: got %v, want ErrInvalidArtifact", err)
	}
}

func TestRequestPromotion_RejectsUnknownStage(t *testing.T) {
	h := setup(t, fastPolicies())

	_, err := h.promotions.RequestPromotion(context.Background(), "api:v1", "qa")
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("RequestPromotion: got %v, want ErrInvalidArgument", err)
	}
}

func TestRequestPromotion_StageBusy(t *testing.T) {
	h := setup(t, fastPolicies())
	ctx := context.Background()
	registerArtifacts(t, h, "api:v1")

	promoteToHealthy(t, h, "api:v1", domain.StageDev)

	// First staging promotion sits in pending_approval; the slot is taken.
	if _, err := h.promotions.RequestPromotion(ctx, "api:v1", domain.StageStaging); err != nil {
		t.Fatalf("first staging promotion: %v", err)
	}
	_, err := h.promotions.RequestPromotion(ctx, "api:v1", domain.StageStaging)
	if !errors.Is(err, domain.ErrStageBusy) {
		t.Fatalf("second staging promotion: got %v, want ErrStageBusy", err)
	}

	// Other stages progress independently of the busy one.
	registerArtifacts(t, h, "api:v2")
	if _, err := h.promotions.RequestPromotion(ctx, "api:v2", domain.StageDev); err != nil {
		t.Errorf("dev promotion while staging busy: %v", err)
	}
}

func TestRequestPromotion_IdenticalArtifactOnly(t *testing.T) {
	h := setup(t, fastPolicies())
	ctx := context.Background()
	registerArtifacts(t, h, "api:v1", "api:v2")

	promoteToHealthy(t, h, "api:v1", domain.StageDev)

	// api:v2 was never validated at dev.
	_, err := h.promotions.RequestPromotion(ctx, "api:v2", domain.StageStaging)
	if !errors.Is(err, domain.ErrInvalidArtifact) {
		t.Fatalf("staging promotion of unvalidated tag: got %v, want ErrInvalidArtifact", err)
	}

	// Skipping a stage entirely is the same violation.
	_, err = h.promotions.RequestPromotion(ctx, "api:v2", domain.StageProduction)
	if !errors.Is(err, domain.ErrInvalidArtifact) {
		t.Fatalf("production promotion of unvalidated tag: got %v, want ErrInvalidArtifact", err)
	}
}

func TestPromotionPipeline_DevToProduction(t *testing.T) {
	h := setup(t, fastPolicies())
	ctx := context.Background()
	registerArtifacts(t, h, "api:v1")

	promoteToHealthy(t, h, "api:v1", domain.StageDev)
	promoteToHealthy(t, h, "api:v1", domain.StageStaging, "alice")

	// Production wants two approvals: one is not enough.
	rel, err := h.promotions.RequestPromotion(ctx, "api:v1", domain.StageProduction)
	if err != nil {
		t.Fatalf("RequestPromotion production: %v", err)
	}
	rel, err = h.promotions.Approve(ctx, rel.ID, "alice")
	if err != nil {
		t.Fatalf("first approval: %v", err)
	}
	if rel.Status != domain.ReleaseStatusPendingApproval {
		t.Errorf("after one approval: status = %q, want pending_approval", rel.Status)
	}

	rel, err = h.promotions.Approve(ctx, rel.ID, "bob")
	if err != nil {
		t.Fatalf("second approval: %v", err)
	}
	if rel.Status != domain.ReleaseStatusHealthy {
		t.Errorf("after two approvals: status = %q, want healthy", rel.Status)
	}

	st, _ := h.stages.Get(ctx, domain.StageProduction)
	if st.ActiveRelease != rel.ID {
		t.Errorf("production active = %q, want %q", st.ActiveRelease, rel.ID)
	}
}

func TestApprove_DuplicateApprover(t *testing.T) {
	h := setup(t, fastPolicies())
	ctx := context.Background()
	registerArtifacts(t, h, "api:v1")

	promoteToHealthy(t, h, "api:v1", domain.StageDev)
	promoteToHealthy(t, h, "api:v1", domain.StageStaging, "alice")

	rel, err := h.promotions.RequestPromotion(ctx, "api:v1", domain.StageProduction)
	if err != nil {
		t.Fatalf("RequestPromotion: %v", err)
	}
	if _, err := h.promotions.Approve(ctx, rel.ID, "alice"); err != nil {
		t.Fatalf("first approval: %v", err)
	}
	_, err = h.promotions.Approve(ctx, rel.ID, "alice")
	if !errors.Is(err, domain.ErrDuplicateApprover) {
		t.Fatalf("repeat approval: got %v, want ErrDuplicateApprover", err)
	}
}

func TestApprove_SettledRelease(t *testing.T) {
	h := setup(t, fastPolicies())
	ctx := context.Background()
	registerArtifacts(t, h, "api:v1")

	rel := promoteToHealthy(t, h, "api:v1", domain.StageDev)
	_, err := h.promotions.Approve(ctx, rel.ID, "alice")
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("approving healthy release: got %v, want ErrInvalidArgument", err)
	}
}

// noopRunner accepts workflow starts but never executes them, leaving
// releases parked in deploying so tests can exercise the soak window.
type noopRunner struct{}

func (noopRunner) Run(_ context.Context, id domain.ReleaseID) (domain.WorkflowHandle[domain.PromotionOutcome], error) {
	return parkedHandle{id: id}, nil
}

type parkedHandle struct{ id domain.ReleaseID }

func (h parkedHandle) WorkflowID() string { return string(h.id) }
func (h parkedHandle) AwaitResult(ctx context.Context) (domain.PromotionOutcome, error) {
	<-ctx.Done()
	return domain.PromotionOutcome{}, ctx.Err()
}

func TestReportHealth_FailureDuringSoakRollsBack(t *testing.T) {
	h := setup(t, fastPolicies())
	ctx := context.Background()
	registerArtifacts(t, h, "api:v1", "api:v2")

	good := promoteToHealthy(t, h, "api:v1", domain.StageDev)

	// Park the next rollout mid-deploy.
	h.promotions.Promotion = noopRunner{}
	bad, err := h.promotions.RequestPromotion(ctx, "api:v2", domain.StageDev)
	if err != nil {
		t.Fatalf("RequestPromotion: %v", err)
	}
	if bad.Status != domain.ReleaseStatusDeploying {
		t.Fatalf("parked release status = %q, want deploying", bad.Status)
	}

	if err := h.promotions.ReportHealth(ctx, bad.ID, false); err != nil {
		t.Fatalf("ReportHealth: %v", err)
	}

	got, _ := h.releases.Get(ctx, bad.ID)
	if got.Status != domain.ReleaseStatusFailed {
		t.Errorf("release status = %q, want failed", got.Status)
	}

	// The active pointer never moved; the prior tag is re-applied.
	st, _ := h.stages.Get(ctx, domain.StageDev)
	if st.ActiveRelease != good.ID {
		t.Errorf("active = %q, want %q", st.ActiveRelease, good.ID)
	}
	records, _ := h.records.ListByStage(ctx, domain.StageDev)
	last := records[len(records)-1]
	if last.Action != domain.DeployActionRollback || last.ImageTag != "api:v1" {
		t.Errorf("last record = %+v, want rollback to api:v1", last)
	}
}

func TestReportHealth_FailureDuringInlineSoak(t *testing.T) {
	// With the synchronous engine the caller's goroutine sleeps through
	// the soak; a failure report from another goroutine must get through
	// and settle the release before the soak confirms it.
	policies := fastPolicies()
	policies[domain.StageDev] = domain.StagePolicy{MinApprovals: 0, Soak: 250 * time.Millisecond}
	h := setup(t, policies)
	ctx := context.Background()
	registerArtifacts(t, h, "api:v1")

	reported := make(chan error, 1)
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if rel, err := h.releases.InFlight(ctx, domain.StageDev); err == nil && rel.Status == domain.ReleaseStatusDeploying {
				reported <- h.promotions.ReportHealth(ctx, rel.ID, false)
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
		reported <- errors.New("release never observed deploying")
	}()

	rel, err := h.promotions.RequestPromotion(ctx, "api:v1", domain.StageDev)
	if err != nil {
		t.Fatalf("RequestPromotion: %v", err)
	}
	if err := <-reported; err != nil {
		t.Fatalf("ReportHealth: %v", err)
	}

	if rel.Status != domain.ReleaseStatusFailed {
		t.Errorf("status = %q, want failed after in-soak health failure", rel.Status)
	}
	st, _ := h.stages.Get(ctx, domain.StageDev)
	if st.ActiveRelease != "" {
		t.Errorf("active = %q, want none for a first failed rollout", st.ActiveRelease)
	}
}

func TestReportHealth_IgnoredOutsideWindow(t *testing.T) {
	h := setup(t, fastPolicies())
	ctx := context.Background()
	registerArtifacts(t, h, "api:v1")

	rel := promoteToHealthy(t, h, "api:v1", domain.StageDev)

	// Stage is stable; a late failure signal must not auto-rollback.
	if err := h.promotions.ReportHealth(ctx, rel.ID, false); err != nil {
		t.Fatalf("ReportHealth: %v", err)
	}
	got, _ := h.releases.Get(ctx, rel.ID)
	if got.Status != domain.ReleaseStatusHealthy {
		t.Errorf("release status = %q, want healthy", got.Status)
	}
}

func TestAbort_PendingReleaseFreesStage(t *testing.T) {
	h := setup(t, fastPolicies())
	ctx := context.Background()
	registerArtifacts(t, h, "api:v1")

	promoteToHealthy(t, h, "api:v1", domain.StageDev)
	rel, err := h.promotions.RequestPromotion(ctx, "api:v1", domain.StageStaging)
	if err != nil {
		t.Fatalf("RequestPromotion: %v", err)
	}

	if err := h.promotions.Abort(ctx, rel.ID); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	got, _ := h.releases.Get(ctx, rel.ID)
	if got.Status != domain.ReleaseStatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}

	// The stage slot is free again.
	if _, err := h.promotions.RequestPromotion(ctx, "api:v1", domain.StageStaging); err != nil {
		t.Errorf("promotion after abort: %v", err)
	}
}

func TestAbort_SettledRelease(t *testing.T) {
	h := setup(t, fastPolicies())
	registerArtifacts(t, h, "api:v1")
	rel := promoteToHealthy(t, h, "api:v1", domain.StageDev)

	err := h.promotions.Abort(context.Background(), rel.ID)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("Abort healthy release: got %v, want ErrInvalidArgument", err)
	}
}

func TestRollback_RestoresPriorHealthy(t *testing.T) {
	h := setup(t, fastPolicies())
	ctx := context.Background()
	registerArtifacts(t, h, "api:v1", "api:v2")

	first := promoteToHealthy(t, h, "api:v1", domain.StageDev)
	second := promoteToHealthy(t, h, "api:v2", domain.StageDev)

	prior, err := h.promotions.Rollback(ctx, domain.StageDev)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if prior.ID != first.ID {
		t.Errorf("rolled back to %q, want %q", prior.ID, first.ID)
	}

	st, _ := h.stages.Get(ctx, domain.StageDev)
	if st.ActiveRelease != first.ID {
		t.Errorf("active = %q, want %q", st.ActiveRelease, first.ID)
	}

	// History is retained: the superseded release is marked, not deleted.
	got, err := h.releases.Get(ctx, second.ID)
	if err != nil {
		t.Fatalf("Get rolled-back release: %v", err)
	}
	if got.Status != domain.ReleaseStatusRolledBack {
		t.Errorf("status = %q, want rolled_back", got.Status)
	}

	records, _ := h.records.ListByStage(ctx, domain.StageDev)
	last := records[len(records)-1]
	if last.Action != domain.DeployActionRollback || last.ImageTag != "api:v1" {
		t.Errorf("last record = %+v, want rollback to api:v1", last)
	}
}

func TestRollback_NoPriorRelease(t *testing.T) {
	h := setup(t, fastPolicies())
	ctx := context.Background()
	registerArtifacts(t, h, "api:v1")

	// Empty stage: nothing has ever been active.
	_, err := h.promotions.Rollback(ctx, domain.StageDev)
	if !errors.Is(err, domain.ErrNoPriorRelease) {
		t.Fatalf("Rollback on empty stage: got %v, want ErrNoPriorRelease", err)
	}

	// One healthy release but no predecessor.
	promoteToHealthy(t, h, "api:v1", domain.StageDev)
	_, err = h.promotions.Rollback(ctx, domain.StageDev)
	if !errors.Is(err, domain.ErrNoPriorRelease) {
		t.Fatalf("Rollback with no predecessor: got %v, want ErrNoPriorRelease", err)
	}
}

func TestStageStatuses(t *testing.T) {
	h := setup(t, fastPolicies())
	ctx := context.Background()
	registerArtifacts(t, h, "api:v1")

	dev := promoteToHealthy(t, h, "api:v1", domain.StageDev)
	staging, err := h.promotions.RequestPromotion(ctx, "api:v1", domain.StageStaging)
	if err != nil {
		t.Fatalf("RequestPromotion: %v", err)
	}

	statuses, err := h.promotions.StageStatuses(ctx)
	if err != nil {
		t.Fatalf("StageStatuses: %v", err)
	}
	if len(statuses) != len(domain.StageOrder) {
		t.Fatalf("got %d statuses, want %d", len(statuses), len(domain.StageOrder))
	}

	if statuses[0].Stage != domain.StageDev || statuses[0].Active == nil || statuses[0].Active.ID != dev.ID {
		t.Errorf("dev status = %+v, want active %s", statuses[0], dev.ID)
	}
	if statuses[1].InFlight == nil || statuses[1].InFlight.ID != staging.ID {
		t.Errorf("staging status = %+v, want in-flight %s", statuses[1], staging.ID)
	}
	if statuses[2].Active != nil || statuses[2].InFlight != nil {
		t.Errorf("production status = %+v, want idle", statuses[2])
	}
	if statuses[2].Policy.MinApprovals != 2 {
		t.Errorf("production policy = %+v, want 2 approvals", statuses[2].Policy)
	}
}

func TestArtifactService_RegisterDuplicate(t *testing.T) {
	h := setup(t, fastPolicies())
	ctx := context.Background()

	if _, err := h.artifacts.Register(ctx, "api:v1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := h.artifacts.Register(ctx, "api:v1")
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("second Register: got %v, want ErrAlreadyExists", err)
	}
}
