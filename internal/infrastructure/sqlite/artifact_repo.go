package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stagegate/stagegate/internal/domain"
)

// ArtifactRepo implements [domain.ArtifactRepository] backed by SQLite.
type ArtifactRepo struct {
	DB *sql.DB
}

func (r *ArtifactRepo) Put(ctx context.Context, a domain.Artifact) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO artifacts (tag, pushed_at) VALUES (?, ?)`,
		string(a.Tag), formatTime(a.PushedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("artifact %q: %w", a.Tag, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (r *ArtifactRepo) Exists(ctx context.Context, tag domain.ImageTag) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM artifacts WHERE tag = ?`, string(tag),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check artifact: %w", err)
	}
	return n > 0, nil
}

func (r *ArtifactRepo) List(ctx context.Context) ([]domain.Artifact, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT tag, pushed_at FROM artifacts ORDER BY pushed_at DESC, rowid DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		var tag, pushedAtStr string
		if err := rows.Scan(&tag, &pushedAtStr); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.Tag = domain.ImageTag(tag)
		a.PushedAt, err = parseTime(pushedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parse pushed_at: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
