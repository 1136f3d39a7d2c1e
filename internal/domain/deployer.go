package domain

import (
	"context"
	"time"
)

// Deployer is the port through which the controller asks the cluster
// layer to run an image tag at a stage. The real implementation talks to
// the orchestration layer; the initial implementation records deploys in
// the database.
type Deployer interface {
	// Deploy rolls the stage forward to the given tag.
	Deploy(ctx context.Context, stage StageName, tag ImageTag, release ReleaseID) error

	// Restore re-applies a previously healthy tag after a failed or
	// rolled-back release.
	Restore(ctx context.Context, stage StageName, tag ImageTag, release ReleaseID) error
}

// DeployAction labels one entry in a stage's deploy history.
type DeployAction string

const (
	DeployActionDeploy   DeployAction = "deploy"
	DeployActionRollback DeployAction = "rollback"
)

// DeployRecord captures one deployer action at a stage.
type DeployRecord struct {
	Stage      StageName
	ReleaseID  ReleaseID
	ImageTag   ImageTag
	Action     DeployAction
	RecordedAt time.Time
}

// Artifact is an image tag registered with the platform's artifact
// registry.
type Artifact struct {
	Tag      ImageTag
	PushedAt time.Time
}
