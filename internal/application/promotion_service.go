package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stagegate/stagegate/internal/domain"
)

// PromotionService gates and sequences release transitions per stage
// policy. It is the single writer for release state: all transitions go
// through it, serialized by a mutex so that the per-stage busy check and
// the transition it guards are atomic.
type PromotionService struct {
	Releases  domain.ReleaseRepository
	Stages    domain.StageRepository
	Artifacts domain.ArtifactRepository
	Deployer  domain.Deployer
	Policies  domain.PolicyTable
	Promotion domain.PromotionRunner
	Records   domain.DeployRecordRepository
	Log       logrus.FieldLogger
	Now       func() time.Time

	mu sync.Mutex
}

// RequestPromotion creates a release for the given tag at the target
// stage. Dev accepts any registered artifact; staging and production
// only accept the tag that is currently healthy and active at the
// preceding stage. Stages with a zero-approval policy start deploying
// immediately.
func (s *PromotionService) RequestPromotion(ctx context.Context, tag domain.ImageTag, stage domain.StageName) (domain.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tag == "" {
		return domain.Release{}, fmt.Errorf("%w: image tag is required", domain.ErrInvalidArgument)
	}
	if !stage.Valid() {
		return domain.Release{}, fmt.Errorf("%w: unknown stage %q", domain.ErrInvalidArgument, stage)
	}

	if inFlight, err := s.Releases.InFlight(ctx, stage); err == nil {
		return domain.Release{}, fmt.Errorf("%w: release %s is %s at %s", domain.ErrStageBusy, inFlight.ID, inFlight.Status, stage)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Release{}, err
	}

	if err := s.validateArtifact(ctx, tag, stage); err != nil {
		return domain.Release{}, err
	}

	rel := domain.Release{
		ID:        domain.ReleaseID(uuid.NewString()),
		ImageTag:  tag,
		Stage:     stage,
		Status:    domain.ReleaseStatusPendingApproval,
		CreatedAt: s.now(),
	}
	if err := s.Releases.Create(ctx, rel); err != nil {
		return domain.Release{}, err
	}
	s.logger().WithFields(logrus.Fields{
		"release": rel.ID,
		"stage":   stage,
		"tag":     tag,
	}).Info("promotion requested")

	if s.Policies.For(stage).MinApprovals == 0 {
		return s.beginDeploy(ctx, rel)
	}
	return rel, nil
}

// validateArtifact enforces identical-artifact promotion: past dev, the
// tag must be the healthy active release of the preceding stage.
func (s *PromotionService) validateArtifact(ctx context.Context, tag domain.ImageTag, stage domain.StageName) error {
	prev, ok := stage.Previous()
	if !ok {
		known, err := s.Artifacts.Exists(ctx, tag)
		if err != nil {
			return err
		}
		if !known {
			return fmt.Errorf("%w: tag %q is not registered", domain.ErrInvalidArtifact, tag)
		}
		return nil
	}

	prevStage, err := s.Stages.Get(ctx, prev)
	if err != nil {
		return err
	}
	if prevStage.ActiveRelease == "" {
		return fmt.Errorf("%w: nothing is active at %s", domain.ErrInvalidArtifact, prev)
	}
	active, err := s.Releases.Get(ctx, prevStage.ActiveRelease)
	if err != nil {
		return err
	}
	if active.Status != domain.ReleaseStatusHealthy || active.ImageTag != tag {
		return fmt.Errorf("%w: %s requires the tag validated at %s (%s)", domain.ErrInvalidArtifact, stage, prev, active.ImageTag)
	}
	return nil
}

// Approve appends one reviewer's sign-off. Reaching the stage's approval
// threshold starts the deployment workflow.
func (s *PromotionService) Approve(ctx context.Context, id domain.ReleaseID, approver string) (domain.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if approver == "" {
		return domain.Release{}, fmt.Errorf("%w: approver is required", domain.ErrInvalidArgument)
	}

	rel, err := s.Releases.Get(ctx, id)
	if err != nil {
		return domain.Release{}, err
	}
	if rel.Status != domain.ReleaseStatusPendingApproval {
		return domain.Release{}, fmt.Errorf("%w: release %s is %s, not awaiting approval", domain.ErrInvalidArgument, id, rel.Status)
	}
	if rel.HasApprover(approver) {
		return domain.Release{}, fmt.Errorf("%w: %s already approved release %s", domain.ErrDuplicateApprover, approver, id)
	}

	approval := domain.Approval{ApproverID: approver, ApprovedAt: s.now()}
	if err := s.Releases.AddApproval(ctx, id, approval); err != nil {
		return domain.Release{}, err
	}
	rel.Approvals = append(rel.Approvals, approval)
	s.logger().WithFields(logrus.Fields{
		"release":  rel.ID,
		"approver": approver,
		"count":    len(rel.Approvals),
	}).Info("release approved")

	if len(rel.Approvals) >= s.Policies.For(rel.Stage).MinApprovals {
		return s.beginDeploy(ctx, rel)
	}
	return rel, nil
}

// beginDeploy transitions the release to deploying and starts the
// promotion workflow. The workflow owns the rollout, soak, and confirm
// steps; the caller is not blocked for the soak window when a durable
// engine backs the runner.
func (s *PromotionService) beginDeploy(ctx context.Context, rel domain.Release) (domain.Release, error) {
	rel.Status = domain.ReleaseStatusDeploying
	rel.DeployedAt = s.now()
	if err := s.Releases.Update(ctx, rel); err != nil {
		return domain.Release{}, err
	}

	// The synchronous engine runs the whole workflow inline, soak
	// included. Release the lock for the duration so health reports and
	// other stages are not serialized behind the soak window; the
	// release is already deploying, which keeps the stage busy.
	s.mu.Unlock()
	handle, err := s.Promotion.Run(ctx, rel.ID)
	s.mu.Lock()
	if err != nil {
		return domain.Release{}, fmt.Errorf("start promotion workflow: %w", err)
	}
	s.logger().WithFields(logrus.Fields{
		"release":  rel.ID,
		"stage":    rel.Stage,
		"workflow": handle.WorkflowID(),
	}).Info("deployment started")

	// The workflow may already have settled the release (synchronous
	// engine, zero soak); report the stored state.
	return s.Releases.Get(ctx, rel.ID)
}

// ReportHealth records a health signal for a release. A failure during
// the deploy/soak window settles the release as failed and restores the
// stage's active tag; anything else is logged and ignored.
func (s *PromotionService) ReportHealth(ctx context.Context, id domain.ReleaseID, ok bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, err := s.Releases.Get(ctx, id)
	if err != nil {
		return err
	}

	log := s.logger().WithFields(logrus.Fields{"release": rel.ID, "stage": rel.Stage, "ok": ok})
	if rel.Status != domain.ReleaseStatusDeploying {
		log.WithField("status", rel.Status).Info("health report outside deploy window ignored")
		return nil
	}
	if ok {
		log.Debug("health report during soak")
		return nil
	}

	log.Warn("health failure during soak, rolling back")
	err = domain.MarkFailed(ctx, s.Releases, s.Stages, s.Deployer, rel)
	if errors.Is(err, domain.ErrStaleRelease) {
		// The soak window expired and confirmed the release between our
		// read and the transition; treat the report as out of window.
		log.Info("release settled before failure report applied")
		return nil
	}
	return err
}

// Abort cancels an in-flight release. It is equivalent to an immediate
// failure report: a deploying release triggers the same restore path,
// a pending one simply settles as failed.
func (s *PromotionService) Abort(ctx context.Context, id domain.ReleaseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, err := s.Releases.Get(ctx, id)
	if err != nil {
		return err
	}
	if !rel.Status.InFlight() {
		return fmt.Errorf("%w: release %s is %s, nothing to abort", domain.ErrInvalidArgument, id, rel.Status)
	}
	s.logger().WithFields(logrus.Fields{"release": rel.ID, "stage": rel.Stage}).Info("release aborted")
	return domain.MarkFailed(ctx, s.Releases, s.Stages, s.Deployer, rel)
}

// Rollback moves the stage's active pointer to the most recent prior
// healthy release and re-applies its tag. The rolled-back-from release
// is marked rolled_back; history is never deleted.
func (s *PromotionService) Rollback(ctx context.Context, stage domain.StageName) (domain.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !stage.Valid() {
		return domain.Release{}, fmt.Errorf("%w: unknown stage %q", domain.ErrInvalidArgument, stage)
	}

	st, err := s.Stages.Get(ctx, stage)
	if err != nil {
		return domain.Release{}, err
	}
	if st.ActiveRelease == "" {
		return domain.Release{}, fmt.Errorf("%w: nothing active at %s", domain.ErrNoPriorRelease, stage)
	}
	current, err := s.Releases.Get(ctx, st.ActiveRelease)
	if err != nil {
		return domain.Release{}, err
	}

	prior, err := s.priorHealthy(ctx, stage, current.ID)
	if err != nil {
		return domain.Release{}, err
	}

	current.Status = domain.ReleaseStatusRolledBack
	if err := s.Releases.Update(ctx, current); err != nil {
		return domain.Release{}, err
	}
	if err := s.Stages.SetActive(ctx, stage, prior.ID); err != nil {
		return domain.Release{}, err
	}
	if err := s.Deployer.Restore(ctx, stage, prior.ImageTag, prior.ID); err != nil {
		return domain.Release{}, fmt.Errorf("restore %s: %w", stage, err)
	}

	s.logger().WithFields(logrus.Fields{
		"stage": stage,
		"from":  current.ID,
		"to":    prior.ID,
		"tag":   prior.ImageTag,
	}).Info("stage rolled back")
	return prior, nil
}

// priorHealthy finds the most recent healthy release at the stage that
// is older than the given release.
func (s *PromotionService) priorHealthy(ctx context.Context, stage domain.StageName, after domain.ReleaseID) (domain.Release, error) {
	history, err := s.Releases.ListByStage(ctx, stage)
	if err != nil {
		return domain.Release{}, err
	}
	seen := false
	for _, rel := range history {
		if rel.ID == after {
			seen = true
			continue
		}
		if seen && rel.Status == domain.ReleaseStatusHealthy {
			return rel, nil
		}
	}
	return domain.Release{}, fmt.Errorf("%w: no healthy release before %s at %s", domain.ErrNoPriorRelease, after, stage)
}

// GetRelease retrieves a release by ID.
func (s *PromotionService) GetRelease(ctx context.Context, id domain.ReleaseID) (domain.Release, error) {
	return s.Releases.Get(ctx, id)
}

// ListReleases returns a stage's release history, newest first.
func (s *PromotionService) ListReleases(ctx context.Context, stage domain.StageName) ([]domain.Release, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("%w: unknown stage %q", domain.ErrInvalidArgument, stage)
	}
	return s.Releases.ListByStage(ctx, stage)
}

// DeployHistory returns the stage's deploy audit trail, oldest first.
func (s *PromotionService) DeployHistory(ctx context.Context, stage domain.StageName) ([]domain.DeployRecord, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("%w: unknown stage %q", domain.ErrInvalidArgument, stage)
	}
	if s.Records == nil {
		return nil, nil
	}
	return s.Records.ListByStage(ctx, stage)
}

// StageStatus is the operator's view of one stage.
type StageStatus struct {
	Stage    domain.StageName
	Policy   domain.StagePolicy
	Active   *domain.Release
	InFlight *domain.Release
}

// StageStatuses returns the status of every stage in promotion order.
func (s *PromotionService) StageStatuses(ctx context.Context) ([]StageStatus, error) {
	stages, err := s.Stages.List(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]StageStatus, 0, len(stages))
	for _, st := range stages {
		status := StageStatus{Stage: st.Name, Policy: s.Policies.For(st.Name)}
		if st.ActiveRelease != "" {
			active, err := s.Releases.Get(ctx, st.ActiveRelease)
			if err != nil {
				return nil, err
			}
			status.Active = &active
		}
		if inFlight, err := s.Releases.InFlight(ctx, st.Name); err == nil {
			status.InFlight = &inFlight
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (s *PromotionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

var discardLog = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

func (s *PromotionService) logger() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log
	}
	return discardLog
}
