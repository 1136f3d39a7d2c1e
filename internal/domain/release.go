package domain

import "time"

// ReleaseID uniquely identifies one promotion attempt.
type ReleaseID string

// ImageTag names an immutable build artifact.
type ImageTag string

// ReleaseStatus indicates the lifecycle state of a release.
type ReleaseStatus string

const (
	ReleaseStatusPendingApproval ReleaseStatus = "pending_approval"
	ReleaseStatusDeploying       ReleaseStatus = "deploying"
	ReleaseStatusHealthy         ReleaseStatus = "healthy"
	ReleaseStatusFailed          ReleaseStatus = "failed"
	ReleaseStatusRolledBack      ReleaseStatus = "rolled_back"
)

// InFlight reports whether the release still occupies its stage's single
// promotion slot. A stage admits a new promotion only once no release is
// in flight.
func (s ReleaseStatus) InFlight() bool {
	return s == ReleaseStatusPendingApproval || s == ReleaseStatusDeploying
}

// Terminal reports whether the status can never change again.
func (s ReleaseStatus) Terminal() bool {
	return s == ReleaseStatusFailed || s == ReleaseStatusRolledBack
}

// Release is one promotion attempt of an image tag at a stage. Releases
// are never deleted; superseded records remain for audit and rollback.
type Release struct {
	ID         ReleaseID
	ImageTag   ImageTag
	Stage      StageName
	Status     ReleaseStatus
	Approvals  []Approval
	CreatedAt  time.Time
	DeployedAt time.Time // zero until the release enters deploying
}

// HasApprover reports whether the given approver already signed off.
func (r Release) HasApprover(approver string) bool {
	for _, a := range r.Approvals {
		if a.ApproverID == approver {
			return true
		}
	}
	return false
}

// Approval is one reviewer's sign-off on a pending release.
type Approval struct {
	ApproverID string
	ApprovedAt time.Time
}
