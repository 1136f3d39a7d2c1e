package goworkflows_test

import (
	"context"
	"testing"
	"time"

	"github.com/cschleiden/go-workflows/backend"
	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"

	"github.com/stagegate/stagegate/internal/application"
	"github.com/stagegate/stagegate/internal/domain"
	"github.com/stagegate/stagegate/internal/infrastructure/goworkflows"
	"github.com/stagegate/stagegate/internal/infrastructure/sqlite"
)

func startWorker(t *testing.T, b backend.Backend) *worker.Worker {
	t.Helper()
	w := worker.New(b, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = w.WaitForCompletion()
	})
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	return w
}

// awaitStatus polls until the release reaches the wanted status; the
// durable engine settles releases asynchronously.
func awaitStatus(t *testing.T, releases domain.ReleaseRepository, id domain.ReleaseID, want domain.ReleaseStatus) domain.Release {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		rel, err := releases.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get release: %v", err)
		}
		if rel.Status == want {
			return rel
		}
		if time.Now().After(deadline) {
			t.Fatalf("release %s: status = %q, want %q before deadline", id, rel.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPromotion_GoWorkflows(t *testing.T) {
	b := wfsqlite.NewInMemoryBackend()
	w := startWorker(t, b)
	c := client.New(b)

	db := sqlite.OpenTestDB(t)
	releaseRepo := &sqlite.ReleaseRepo{DB: db}
	stageRepo := &sqlite.StageRepo{DB: db}
	artifactRepo := &sqlite.ArtifactRepo{DB: db}
	recordRepo := &sqlite.DeployRecordRepo{DB: db}

	deployer := &sqlite.RecordingDeployer{
		Records: recordRepo,
		Now:     func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) },
	}

	policies := domain.PolicyTable{
		domain.StageDev:        {MinApprovals: 0, Soak: 50 * time.Millisecond},
		domain.StageStaging:    {MinApprovals: 1, Soak: 50 * time.Millisecond},
		domain.StageProduction: {MinApprovals: 2, Soak: 50 * time.Millisecond},
	}

	wf := &domain.PromotionWorkflow{
		Releases: releaseRepo,
		Stages:   stageRepo,
		Deployer: deployer,
		Policies: policies,
	}

	engine := &goworkflows.Engine{Worker: w, Client: c, Timeout: 10 * time.Second}
	runner, err := engine.PromotionRunner(wf)
	if err != nil {
		t.Fatalf("PromotionRunner: %v", err)
	}

	promotions := &application.PromotionService{
		Releases:  releaseRepo,
		Stages:    stageRepo,
		Artifacts: artifactRepo,
		Deployer:  deployer,
		Policies:  policies,
		Promotion: runner,
	}
	artifacts := &application.ArtifactService{Artifacts: artifactRepo}

	ctx := context.Background()

	if _, err := artifacts.Register(ctx, "api:v1"); err != nil {
		t.Fatalf("register artifact: %v", err)
	}

	// Dev deploys without approvals; the durable soak timer runs off the
	// caller's goroutine, so the request returns while the release soaks.
	rel, err := promotions.RequestPromotion(ctx, "api:v1", domain.StageDev)
	if err != nil {
		t.Fatalf("RequestPromotion dev: %v", err)
	}
	rel = awaitStatus(t, releaseRepo, rel.ID, domain.ReleaseStatusHealthy)

	st, err := stageRepo.Get(ctx, domain.StageDev)
	if err != nil {
		t.Fatalf("Get stage: %v", err)
	}
	if st.ActiveRelease != rel.ID {
		t.Errorf("dev active = %q, want %q", st.ActiveRelease, rel.ID)
	}

	// Staging needs one approval, then settles the same way.
	rel, err = promotions.RequestPromotion(ctx, "api:v1", domain.StageStaging)
	if err != nil {
		t.Fatalf("RequestPromotion staging: %v", err)
	}
	if _, err := promotions.Approve(ctx, rel.ID, "alice"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	awaitStatus(t, releaseRepo, rel.ID, domain.ReleaseStatusHealthy)

	records, err := recordRepo.ListByStage(ctx, domain.StageStaging)
	if err != nil {
		t.Fatalf("ListByStage: %v", err)
	}
	if len(records) != 1 || records[0].Action != domain.DeployActionDeploy {
		t.Fatalf("staging records = %+v, want one deploy", records)
	}
}
