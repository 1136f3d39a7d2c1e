package application

import (
	"context"
	"fmt"
	"time"

	"github.com/stagegate/stagegate/internal/domain"
)

// ArtifactService manages the registry of image tags. CI registers a
// tag after pushing the image; promotions reference registered tags only.
type ArtifactService struct {
	Artifacts domain.ArtifactRepository
	Now       func() time.Time
}

func (s *ArtifactService) Register(ctx context.Context, tag domain.ImageTag) (domain.Artifact, error) {
	if tag == "" {
		return domain.Artifact{}, fmt.Errorf("%w: artifact tag is required", domain.ErrInvalidArgument)
	}
	a := domain.Artifact{Tag: tag, PushedAt: s.now()}
	if err := s.Artifacts.Put(ctx, a); err != nil {
		return domain.Artifact{}, err
	}
	return a, nil
}

func (s *ArtifactService) List(ctx context.Context) ([]domain.Artifact, error) {
	return s.Artifacts.List(ctx)
}

func (s *ArtifactService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
