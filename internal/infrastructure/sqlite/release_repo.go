package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stagegate/stagegate/internal/domain"
)

// ReleaseRepo implements [domain.ReleaseRepository] backed by SQLite.
type ReleaseRepo struct {
	DB *sql.DB
}

func (r *ReleaseRepo) Create(ctx context.Context, rel domain.Release) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO releases (id, image_tag, stage, status, created_at, deployed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(rel.ID), string(rel.ImageTag), string(rel.Stage), string(rel.Status),
		formatTime(rel.CreatedAt), nullTime(rel.DeployedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("release %q: %w", rel.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert release: %w", err)
	}
	return nil
}

func (r *ReleaseRepo) Get(ctx context.Context, id domain.ReleaseID) (domain.Release, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, image_tag, stage, status, created_at, deployed_at
		 FROM releases WHERE id = ?`,
		string(id),
	)
	rel, err := scanRelease(row)
	if err != nil {
		return rel, err
	}
	rel.Approvals, err = r.approvals(ctx, rel.ID)
	return rel, err
}

func (r *ReleaseRepo) ListByStage(ctx context.Context, stage domain.StageName) ([]domain.Release, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, image_tag, stage, status, created_at, deployed_at
		 FROM releases WHERE stage = ?
		 ORDER BY created_at DESC, rowid DESC`,
		string(stage),
	)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	defer rows.Close()

	var releases []domain.Release
	for rows.Next() {
		rel, err := scanRelease(rows)
		if err != nil {
			return nil, err
		}
		releases = append(releases, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range releases {
		releases[i].Approvals, err = r.approvals(ctx, releases[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return releases, nil
}

func (r *ReleaseRepo) InFlight(ctx context.Context, stage domain.StageName) (domain.Release, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, image_tag, stage, status, created_at, deployed_at
		 FROM releases
		 WHERE stage = ? AND status IN (?, ?)
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT 1`,
		string(stage),
		string(domain.ReleaseStatusPendingApproval), string(domain.ReleaseStatusDeploying),
	)
	rel, err := scanRelease(row)
	if err != nil {
		return rel, err
	}
	rel.Approvals, err = r.approvals(ctx, rel.ID)
	return rel, err
}

func (r *ReleaseRepo) Update(ctx context.Context, rel domain.Release) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE releases SET status = ?, deployed_at = ? WHERE id = ?`,
		string(rel.Status), nullTime(rel.DeployedAt), string(rel.ID),
	)
	if err != nil {
		return fmt.Errorf("update release: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("release %q: %w", rel.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *ReleaseRepo) TransitionStatus(ctx context.Context, id domain.ReleaseID, from, to domain.ReleaseStatus) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE releases SET status = ? WHERE id = ? AND status = ?`,
		string(to), string(id), string(from),
	)
	if err != nil {
		return fmt.Errorf("transition release: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		return nil
	}

	var exists int
	err = r.DB.QueryRowContext(ctx, `SELECT 1 FROM releases WHERE id = ?`, string(id)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("release %q: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check release: %w", err)
	}
	return fmt.Errorf("release %q is no longer %s: %w", id, from, domain.ErrStaleRelease)
}

func (r *ReleaseRepo) AddApproval(ctx context.Context, id domain.ReleaseID, a domain.Approval) error {
	var exists int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM releases WHERE id = ?`, string(id)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("release %q: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check release: %w", err)
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO approvals (release_id, approver_id, approved_at) VALUES (?, ?, ?)`,
		string(id), a.ApproverID, formatTime(a.ApprovedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("approver %q on release %q: %w", a.ApproverID, id, domain.ErrDuplicateApprover)
		}
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (r *ReleaseRepo) approvals(ctx context.Context, id domain.ReleaseID) ([]domain.Approval, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT approver_id, approved_at FROM approvals
		 WHERE release_id = ?
		 ORDER BY approved_at, rowid`,
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []domain.Approval
	for rows.Next() {
		var a domain.Approval
		var approvedAtStr string
		if err := rows.Scan(&a.ApproverID, &approvedAtStr); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		a.ApprovedAt, err = parseTime(approvedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parse approved_at: %w", err)
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

func scanRelease(s scanner) (domain.Release, error) {
	var rel domain.Release
	var id, tag, stage, status, createdAtStr string
	var deployedAtStr sql.NullString
	if err := s.Scan(&id, &tag, &stage, &status, &createdAtStr, &deployedAtStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rel, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return rel, fmt.Errorf("scan release: %w", err)
	}
	rel.ID = domain.ReleaseID(id)
	rel.ImageTag = domain.ImageTag(tag)
	rel.Stage = domain.StageName(stage)
	rel.Status = domain.ReleaseStatus(status)

	var err error
	rel.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return rel, fmt.Errorf("parse created_at: %w", err)
	}
	if deployedAtStr.Valid {
		rel.DeployedAt, err = parseTime(deployedAtStr.String)
		if err != nil {
			return rel, fmt.Errorf("parse deployed_at: %w", err)
		}
	}
	return rel, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}
