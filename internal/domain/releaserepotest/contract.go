// Package releaserepotest provides contract tests for
// [domain.ReleaseRepository] implementations.
package releaserepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stagegate/stagegate/internal/domain"
)

// Factory creates a fresh [domain.ReleaseRepository] for each test.
type Factory func(t *testing.T) domain.ReleaseRepository

// Run exercises the [domain.ReleaseRepository] contract.
func Run(t *testing.T, factory Factory) {
	sampleRelease := func(id domain.ReleaseID, created time.Time) domain.Release {
		return domain.Release{
			ID:        id,
			ImageTag:  "registry.local/api-service:v1.4.0",
			Stage:     domain.StageStaging,
			Status:    domain.ReleaseStatusPendingApproval,
			CreatedAt: created,
		}
	}
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, sampleRelease("r1", base)); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ImageTag != "registry.local/api-service:v1.4.0" {
			t.Errorf("ImageTag = %q", got.ImageTag)
		}
		if got.Stage != domain.StageStaging {
			t.Errorf("Stage = %q, want staging", got.Stage)
		}
		if got.Status != domain.ReleaseStatusPendingApproval {
			t.Errorf("Status = %q, want pending_approval", got.Status)
		}
		if !got.CreatedAt.Equal(base) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
		}
		if !got.DeployedAt.IsZero() {
			t.Errorf("DeployedAt = %v, want zero", got.DeployedAt)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleRelease("r1", base))
		err := repo.Create(ctx, sampleRelease("r1", base))
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		rel := sampleRelease("r1", base)
		_ = repo.Create(ctx, rel)

		rel.Status = domain.ReleaseStatusDeploying
		rel.DeployedAt = base.Add(5 * time.Minute)
		if err := repo.Update(ctx, rel); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, _ := repo.Get(ctx, "r1")
		if got.Status != domain.ReleaseStatusDeploying {
			t.Errorf("Status after Update = %q, want deploying", got.Status)
		}
		if !got.DeployedAt.Equal(base.Add(5 * time.Minute)) {
			t.Errorf("DeployedAt = %v, want %v", got.DeployedAt, base.Add(5*time.Minute))
		}
	})

	t.Run("UpdateNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.Update(context.Background(), domain.Release{ID: "nonexistent"})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Update: got %v, want ErrNotFound", err)
		}
	})

	t.Run("TransitionStatus", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		rel := sampleRelease("r1", base)
		rel.Status = domain.ReleaseStatusDeploying
		_ = repo.Create(ctx, rel)

		if err := repo.TransitionStatus(ctx, "r1", domain.ReleaseStatusDeploying, domain.ReleaseStatusHealthy); err != nil {
			t.Fatalf("TransitionStatus: %v", err)
		}
		got, _ := repo.Get(ctx, "r1")
		if got.Status != domain.ReleaseStatusHealthy {
			t.Errorf("Status = %q, want healthy", got.Status)
		}
	})

	t.Run("TransitionStatusStale", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		rel := sampleRelease("r1", base)
		rel.Status = domain.ReleaseStatusFailed
		_ = repo.Create(ctx, rel)

		err := repo.TransitionStatus(ctx, "r1", domain.ReleaseStatusDeploying, domain.ReleaseStatusHealthy)
		if !errors.Is(err, domain.ErrStaleRelease) {
			t.Fatalf("TransitionStatus on settled release: got %v, want ErrStaleRelease", err)
		}
		got, _ := repo.Get(ctx, "r1")
		if got.Status != domain.ReleaseStatusFailed {
			t.Errorf("Status = %q, want failed untouched", got.Status)
		}
	})

	t.Run("TransitionStatusNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.TransitionStatus(context.Background(), "nonexistent", domain.ReleaseStatusDeploying, domain.ReleaseStatusHealthy)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("TransitionStatus: got %v, want ErrNotFound", err)
		}
	})

	t.Run("AddApproval", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleRelease("r1", base))

		a1 := domain.Approval{ApproverID: "alice", ApprovedAt: base.Add(time.Minute)}
		a2 := domain.Approval{ApproverID: "bob", ApprovedAt: base.Add(2 * time.Minute)}
		if err := repo.AddApproval(ctx, "r1", a1); err != nil {
			t.Fatalf("AddApproval alice: %v", err)
		}
		if err := repo.AddApproval(ctx, "r1", a2); err != nil {
			t.Fatalf("AddApproval bob: %v", err)
		}

		got, _ := repo.Get(ctx, "r1")
		if len(got.Approvals) != 2 {
			t.Fatalf("Approvals = %d, want 2", len(got.Approvals))
		}
		if got.Approvals[0].ApproverID != "alice" || got.Approvals[1].ApproverID != "bob" {
			t.Errorf("approvals out of order: %+v", got.Approvals)
		}
	})

	t.Run("AddApprovalDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleRelease("r1", base))

		a := domain.Approval{ApproverID: "alice", ApprovedAt: base}
		_ = repo.AddApproval(ctx, "r1", a)
		err := repo.AddApproval(ctx, "r1", a)
		if !errors.Is(err, domain.ErrDuplicateApprover) {
			t.Fatalf("repeat AddApproval: got %v, want ErrDuplicateApprover", err)
		}
	})

	t.Run("AddApprovalNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.AddApproval(context.Background(), "nonexistent", domain.Approval{ApproverID: "alice", ApprovedAt: base})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("AddApproval: got %v, want ErrNotFound", err)
		}
	})

	t.Run("ListByStageNewestFirst", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleRelease("r1", base))
		_ = repo.Create(ctx, sampleRelease("r2", base.Add(time.Hour)))
		other := sampleRelease("r3", base)
		other.Stage = domain.StageProduction
		_ = repo.Create(ctx, other)

		got, err := repo.ListByStage(ctx, domain.StageStaging)
		if err != nil {
			t.Fatalf("ListByStage: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("ListByStage: got %d, want 2", len(got))
		}
		if got[0].ID != "r2" || got[1].ID != "r1" {
			t.Errorf("order = [%s %s], want [r2 r1]", got[0].ID, got[1].ID)
		}
	})

	t.Run("InFlight", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		settled := sampleRelease("r1", base)
		settled.Status = domain.ReleaseStatusHealthy
		_ = repo.Create(ctx, settled)

		if _, err := repo.InFlight(ctx, domain.StageStaging); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("InFlight with only settled releases: got %v, want ErrNotFound", err)
		}

		_ = repo.Create(ctx, sampleRelease("r2", base.Add(time.Hour)))
		got, err := repo.InFlight(ctx, domain.StageStaging)
		if err != nil {
			t.Fatalf("InFlight: %v", err)
		}
		if got.ID != "r2" {
			t.Errorf("InFlight = %s, want r2", got.ID)
		}
	})
}
