package domain

import (
	"context"
	"errors"
	"fmt"
)

// PromotionOutcome is the terminal result of one promotion workflow run.
type PromotionOutcome struct {
	ReleaseID ReleaseID
	Status    ReleaseStatus
}

// DeployInput carries the release being rolled out to its stage.
type DeployInput struct {
	Release Release
}

// ConfirmInput identifies the release whose soak window has elapsed.
type ConfirmInput struct {
	ReleaseID ReleaseID
}

// FailInput identifies a release whose rollout could not be applied.
type FailInput struct {
	ReleaseID ReleaseID
}

// PromotionWorkflow rolls an approved release out to its stage, soaks it
// for the stage's observation window, and confirms or fails it. The
// caller transitions the release to deploying before starting the
// workflow; health failures reported during the soak window settle the
// release before the confirm step runs.
type PromotionWorkflow struct {
	Releases ReleaseRepository
	Stages   StageRepository
	Deployer Deployer
	Policies PolicyTable
}

func (w *PromotionWorkflow) Name() string { return "promotion" }

// Run executes the promotion pipeline for one release.
func (w *PromotionWorkflow) Run(runner DurableRunner, releaseID ReleaseID) (PromotionOutcome, error) {
	rel, err := RunActivity(runner, w.LoadRelease(), releaseID)
	if err != nil {
		return PromotionOutcome{}, err
	}
	if rel.Status != ReleaseStatusDeploying {
		// Aborted or otherwise settled before the workflow started.
		return PromotionOutcome{ReleaseID: rel.ID, Status: rel.Status}, nil
	}

	if _, err := RunActivity(runner, w.DeployImage(), DeployInput{Release: rel}); err != nil {
		if _, ferr := RunActivity(runner, w.FailRelease(), FailInput{ReleaseID: rel.ID}); ferr != nil {
			return PromotionOutcome{}, ferr
		}
		return PromotionOutcome{ReleaseID: rel.ID, Status: ReleaseStatusFailed}, nil
	}

	if soak := w.Policies.For(rel.Stage).Soak; soak > 0 {
		if err := runner.Sleep(soak); err != nil {
			return PromotionOutcome{}, err
		}
	}

	status, err := RunActivity(runner, w.ConfirmRelease(), ConfirmInput{ReleaseID: rel.ID})
	if err != nil {
		return PromotionOutcome{}, err
	}
	return PromotionOutcome{ReleaseID: rel.ID, Status: status}, nil
}

// LoadRelease reads the release under promotion.
func (w *PromotionWorkflow) LoadRelease() Activity[ReleaseID, Release] {
	return NewActivity("load-release", func(ctx context.Context, id ReleaseID) (Release, error) {
		return w.Releases.Get(ctx, id)
	})
}

// DeployImage asks the deployer to roll the stage forward to the
// release's tag.
func (w *PromotionWorkflow) DeployImage() Activity[DeployInput, struct{}] {
	return NewActivity("deploy-image", func(ctx context.Context, in DeployInput) (struct{}, error) {
		rel := in.Release
		return struct{}{}, w.Deployer.Deploy(ctx, rel.Stage, rel.ImageTag, rel.ID)
	})
}

// FailRelease settles a release whose rollout could not be applied and
// restores the stage's previously active tag.
func (w *PromotionWorkflow) FailRelease() Activity[FailInput, struct{}] {
	return NewActivity("fail-release", func(ctx context.Context, in FailInput) (struct{}, error) {
		rel, err := w.Releases.Get(ctx, in.ReleaseID)
		if err != nil {
			return struct{}{}, err
		}
		if rel.Status.Terminal() {
			// Already settled; the activity re-ran after a crash.
			return struct{}{}, nil
		}
		if err := MarkFailed(ctx, w.Releases, w.Stages, w.Deployer, rel); err != nil && !errors.Is(err, ErrStaleRelease) {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
}

// ConfirmRelease settles the soak window. A release that is still
// deploying becomes healthy and the stage's active pointer; a release
// that failed during the soak is left as the health report settled it.
// The flip from deploying to healthy is a compare-and-set, so exactly
// one of confirm and a failure report wins at soak expiry.
func (w *PromotionWorkflow) ConfirmRelease() Activity[ConfirmInput, ReleaseStatus] {
	return NewActivity("confirm-release", func(ctx context.Context, in ConfirmInput) (ReleaseStatus, error) {
		err := w.Releases.TransitionStatus(ctx, in.ReleaseID, ReleaseStatusDeploying, ReleaseStatusHealthy)
		if errors.Is(err, ErrStaleRelease) {
			rel, err := w.Releases.Get(ctx, in.ReleaseID)
			if err != nil {
				return "", err
			}
			return rel.Status, nil
		}
		if err != nil {
			return "", err
		}

		rel, err := w.Releases.Get(ctx, in.ReleaseID)
		if err != nil {
			return "", err
		}
		if err := w.Stages.SetActive(ctx, rel.Stage, rel.ID); err != nil {
			return "", err
		}
		return ReleaseStatusHealthy, nil
	})
}

// MarkFailed transitions an in-flight release to failed and, when the
// rollout had already reached the cluster, restores the stage's active
// tag on the deployer. The active pointer never moved for an in-flight
// release, so restoring it is the whole rollback. The transition is a
// compare-and-set against the observed status; ErrStaleRelease means
// the soak-expiry confirm settled the release first.
func MarkFailed(ctx context.Context, releases ReleaseRepository, stages StageRepository, deployer Deployer, rel Release) error {
	if !rel.Status.InFlight() {
		return fmt.Errorf("%w: release %s is %s, not in flight", ErrInvalidArgument, rel.ID, rel.Status)
	}
	deployed := rel.Status == ReleaseStatusDeploying

	if err := releases.TransitionStatus(ctx, rel.ID, rel.Status, ReleaseStatusFailed); err != nil {
		return err
	}
	if !deployed {
		// Nothing reached the cluster; there is nothing to restore.
		return nil
	}

	stage, err := stages.Get(ctx, rel.Stage)
	if err != nil {
		return err
	}
	if stage.ActiveRelease == "" {
		// First rollout at this stage; the stage simply has no release.
		return nil
	}
	active, err := releases.Get(ctx, stage.ActiveRelease)
	if err != nil {
		return err
	}
	if err := deployer.Restore(ctx, stage.Name, active.ImageTag, active.ID); err != nil {
		return fmt.Errorf("restore %s after failed release %s: %w", stage.Name, rel.ID, err)
	}
	return nil
}
