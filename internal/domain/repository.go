package domain

import "context"

// ReleaseRepository persists and retrieves releases. Releases are never
// deleted; the full per-stage history backs audit and rollback.
type ReleaseRepository interface {
	Create(ctx context.Context, r Release) error
	Get(ctx context.Context, id ReleaseID) (Release, error)

	// ListByStage returns a stage's releases, newest first.
	ListByStage(ctx context.Context, stage StageName) ([]Release, error)

	// InFlight returns the stage's pending or deploying release, or
	// ErrNotFound when the stage is idle.
	InFlight(ctx context.Context, stage StageName) (Release, error)

	// Update persists status and deployment timestamp changes.
	// Approvals are appended through AddApproval.
	Update(ctx context.Context, r Release) error

	// AddApproval appends one approval. Implementations return
	// ErrDuplicateApprover when the approver already signed off.
	AddApproval(ctx context.Context, id ReleaseID, a Approval) error

	// TransitionStatus atomically moves the release from one status to
	// another. It returns ErrStaleRelease when the stored status is no
	// longer `from`, so concurrent settle paths (soak-expiry confirm,
	// health failures, aborts) cannot overwrite each other.
	TransitionStatus(ctx context.Context, id ReleaseID, from, to ReleaseStatus) error
}

// StageRepository persists the per-stage active release pointer.
type StageRepository interface {
	Get(ctx context.Context, name StageName) (Stage, error)
	List(ctx context.Context) ([]Stage, error)
	SetActive(ctx context.Context, name StageName, id ReleaseID) error
}

// ArtifactRepository is the registry of image tags known to the platform.
// CI registers a tag before any promotion may reference it.
type ArtifactRepository interface {
	Put(ctx context.Context, a Artifact) error
	Exists(ctx context.Context, tag ImageTag) (bool, error)
	List(ctx context.Context) ([]Artifact, error)
}

// DeployRecordRepository persists the audit trail of deployer actions
// per stage.
type DeployRecordRepository interface {
	Append(ctx context.Context, rec DeployRecord) error
	ListByStage(ctx context.Context, stage StageName) ([]DeployRecord, error)
}
