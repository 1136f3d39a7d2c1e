package domain

import "errors"

var (
	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource with the same identity
	// already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidArtifact indicates that a promotion targets an image tag
	// that was not validated at the preceding stage, or, for dev, a tag
	// unknown to the artifact registry.
	ErrInvalidArtifact = errors.New("invalid artifact")

	// ErrDuplicateApprover indicates that the approver already signed
	// off on this release.
	ErrDuplicateApprover = errors.New("duplicate approver")

	// ErrStageBusy indicates that the stage already has a release in
	// flight. Promotions are serialized per stage.
	ErrStageBusy = errors.New("stage busy")

	// ErrNoPriorRelease indicates that a rollback found no earlier
	// healthy release in the stage's history.
	ErrNoPriorRelease = errors.New("no prior release")

	// ErrStaleRelease indicates that a status transition lost the race:
	// the release's stored status no longer matches the one observed.
	ErrStaleRelease = errors.New("stale release status")
)
