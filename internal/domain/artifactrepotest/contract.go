// Package artifactrepotest provides contract tests for
// [domain.ArtifactRepository] implementations.
package artifactrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stagegate/stagegate/internal/domain"
)

// Factory creates a fresh [domain.ArtifactRepository] for each test.
type Factory func(t *testing.T) domain.ArtifactRepository

// Run exercises the [domain.ArtifactRepository] contract.
func Run(t *testing.T, factory Factory) {
	pushed := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	t.Run("PutAndExists", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Put(ctx, domain.Artifact{Tag: "api:v1", PushedAt: pushed}); err != nil {
			t.Fatalf("Put: %v", err)
		}

		ok, err := repo.Exists(ctx, "api:v1")
		if err != nil {
			t.Fatalf("Exists: %v", err)
		}
		if !ok {
			t.Error("expected api:v1 to exist")
		}

		ok, err = repo.Exists(ctx, "api:v2")
		if err != nil {
			t.Fatalf("Exists: %v", err)
		}
		if ok {
			t.Error("api:v2 should not exist")
		}
	})

	t.Run("PutDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Put(ctx, domain.Artifact{Tag: "api:v1", PushedAt: pushed})
		err := repo.Put(ctx, domain.Artifact{Tag: "api:v1", PushedAt: pushed.Add(time.Hour)})
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Put: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Put(ctx, domain.Artifact{Tag: "api:v1", PushedAt: pushed})
		_ = repo.Put(ctx, domain.Artifact{Tag: "api:v2", PushedAt: pushed.Add(time.Hour)})

		got, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("List: got %d, want 2", len(got))
		}
	})
}
