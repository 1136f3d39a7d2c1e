package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stagegate/stagegate/internal/domain"
)

// DeployRecordRepo implements [domain.DeployRecordRepository] backed by
// SQLite.
type DeployRecordRepo struct {
	DB *sql.DB
}

func (r *DeployRecordRepo) Append(ctx context.Context, rec domain.DeployRecord) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO deploy_records (stage, release_id, image_tag, action, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		string(rec.Stage), string(rec.ReleaseID), string(rec.ImageTag),
		string(rec.Action), formatTime(rec.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("insert deploy record: %w", err)
	}
	return nil
}

func (r *DeployRecordRepo) ListByStage(ctx context.Context, stage domain.StageName) ([]domain.DeployRecord, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT stage, release_id, image_tag, action, recorded_at
		 FROM deploy_records WHERE stage = ?
		 ORDER BY id`,
		string(stage),
	)
	if err != nil {
		return nil, fmt.Errorf("list deploy records: %w", err)
	}
	defer rows.Close()

	var records []domain.DeployRecord
	for rows.Next() {
		var rec domain.DeployRecord
		var st, relID, tag, action, recordedAtStr string
		if err := rows.Scan(&st, &relID, &tag, &action, &recordedAtStr); err != nil {
			return nil, fmt.Errorf("scan deploy record: %w", err)
		}
		rec.Stage = domain.StageName(st)
		rec.ReleaseID = domain.ReleaseID(relID)
		rec.ImageTag = domain.ImageTag(tag)
		rec.Action = domain.DeployAction(action)
		rec.RecordedAt, err = parseTime(recordedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
