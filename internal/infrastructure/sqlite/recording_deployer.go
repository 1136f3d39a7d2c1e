package sqlite

import (
	"context"
	"time"

	"github.com/stagegate/stagegate/internal/domain"
)

// RecordingDeployer implements [domain.Deployer] by appending deploy
// records to SQLite. This is the naive implementation used until a real
// cluster-facing deployer is available; it doubles as the audit trail.
type RecordingDeployer struct {
	Records *DeployRecordRepo
	Now     func() time.Time
}

func (d *RecordingDeployer) Deploy(ctx context.Context, stage domain.StageName, tag domain.ImageTag, release domain.ReleaseID) error {
	return d.Records.Append(ctx, domain.DeployRecord{
		Stage:      stage,
		ReleaseID:  release,
		ImageTag:   tag,
		Action:     domain.DeployActionDeploy,
		RecordedAt: d.now(),
	})
}

func (d *RecordingDeployer) Restore(ctx context.Context, stage domain.StageName, tag domain.ImageTag, release domain.ReleaseID) error {
	return d.Records.Append(ctx, domain.DeployRecord{
		Stage:      stage,
		ReleaseID:  release,
		ImageTag:   tag,
		Action:     domain.DeployActionRollback,
		RecordedAt: d.now(),
	})
}

func (d *RecordingDeployer) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
