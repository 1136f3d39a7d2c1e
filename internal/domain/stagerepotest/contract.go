// Package stagerepotest provides contract tests for
// [domain.StageRepository] implementations.
package stagerepotest

import (
	"context"
	"errors"
	"testing"

	"github.com/stagegate/stagegate/internal/domain"
)

// Factory creates a fresh [domain.StageRepository] for each test. The
// repository must already contain every stage in [domain.StageOrder].
type Factory func(t *testing.T) domain.StageRepository

// Run exercises the [domain.StageRepository] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("ListSeededStages", func(t *testing.T) {
		repo := factory(t)
		got, err := repo.List(context.Background())
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != len(domain.StageOrder) {
			t.Fatalf("List: got %d stages, want %d", len(got), len(domain.StageOrder))
		}
		for i, name := range domain.StageOrder {
			if got[i].Name != name {
				t.Errorf("stage %d = %q, want %q", i, got[i].Name, name)
			}
			if got[i].ActiveRelease != "" {
				t.Errorf("stage %q: ActiveRelease = %q, want empty", name, got[i].ActiveRelease)
			}
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "qa")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("SetActive", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.SetActive(ctx, domain.StageStaging, "r42"); err != nil {
			t.Fatalf("SetActive: %v", err)
		}

		got, err := repo.Get(ctx, domain.StageStaging)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ActiveRelease != "r42" {
			t.Errorf("ActiveRelease = %q, want r42", got.ActiveRelease)
		}

		// Other stages are untouched.
		dev, _ := repo.Get(ctx, domain.StageDev)
		if dev.ActiveRelease != "" {
			t.Errorf("dev ActiveRelease = %q, want empty", dev.ActiveRelease)
		}
	})

	t.Run("SetActiveMoves", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.SetActive(ctx, domain.StageDev, "r1")
		if err := repo.SetActive(ctx, domain.StageDev, "r2"); err != nil {
			t.Fatalf("SetActive: %v", err)
		}
		got, _ := repo.Get(ctx, domain.StageDev)
		if got.ActiveRelease != "r2" {
			t.Errorf("ActiveRelease = %q, want r2", got.ActiveRelease)
		}
	})

	t.Run("SetActiveNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.SetActive(context.Background(), "qa", "r1")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("SetActive: got %v, want ErrNotFound", err)
		}
	})
}
