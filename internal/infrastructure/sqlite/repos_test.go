package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stagegate/stagegate/internal/domain"
	"github.com/stagegate/stagegate/internal/domain/artifactrepotest"
	"github.com/stagegate/stagegate/internal/domain/releaserepotest"
	"github.com/stagegate/stagegate/internal/domain/stagerepotest"
	"github.com/stagegate/stagegate/internal/infrastructure/sqlite"
)

func TestReleaseRepo(t *testing.T) {
	releaserepotest.Run(t, func(t *testing.T) domain.ReleaseRepository {
		db := sqlite.OpenTestDB(t)
		return &sqlite.ReleaseRepo{DB: db}
	})
}

func TestStageRepo(t *testing.T) {
	stagerepotest.Run(t, func(t *testing.T) domain.StageRepository {
		db := sqlite.OpenTestDB(t)
		return &sqlite.StageRepo{DB: db}
	})
}

func TestArtifactRepo(t *testing.T) {
	artifactrepotest.Run(t, func(t *testing.T) domain.ArtifactRepository {
		db := sqlite.OpenTestDB(t)
		return &sqlite.ArtifactRepo{DB: db}
	})
}

func TestRecordingDeployer_AppendsAuditTrail(t *testing.T) {
	db := sqlite.OpenTestDB(t)
	records := &sqlite.DeployRecordRepo{DB: db}
	deployer := &sqlite.RecordingDeployer{
		Records: records,
		Now:     func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}

	ctx := context.Background()
	if err := deployer.Deploy(ctx, domain.StageStaging, "api:v2", "r1"); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if err := deployer.Restore(ctx, domain.StageStaging, "api:v1", "r0"); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if err := deployer.Deploy(ctx, domain.StageDev, "api:v3", "r2"); err != nil {
		t.Fatalf("Deploy dev: %v", err)
	}

	got, err := records.ListByStage(ctx, domain.StageStaging)
	if err != nil {
		t.Fatalf("ListByStage: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 staging records, got %d", len(got))
	}
	if got[0].Action != domain.DeployActionDeploy || got[0].ImageTag != "api:v2" {
		t.Errorf("first record = %+v, want deploy of api:v2", got[0])
	}
	if got[1].Action != domain.DeployActionRollback || got[1].ImageTag != "api:v1" {
		t.Errorf("second record = %+v, want rollback to api:v1", got[1])
	}
}
