package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stagegate/stagegate/internal/domain"
)

// StageRepo implements [domain.StageRepository] backed by SQLite. Stage
// rows are seeded by the migrations; only the active pointer mutates.
type StageRepo struct {
	DB *sql.DB
}

func (r *StageRepo) Get(ctx context.Context, name domain.StageName) (domain.Stage, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT name, active_release FROM stages WHERE name = ?`,
		string(name),
	)
	return scanStage(row)
}

func (r *StageRepo) List(ctx context.Context) ([]domain.Stage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT name, active_release FROM stages`)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	byName := make(map[domain.StageName]domain.Stage)
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		byName[st.Name] = st
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Promotion order, not storage order.
	stages := make([]domain.Stage, 0, len(byName))
	for _, name := range domain.StageOrder {
		if st, ok := byName[name]; ok {
			stages = append(stages, st)
		}
	}
	return stages, nil
}

func (r *StageRepo) SetActive(ctx context.Context, name domain.StageName, id domain.ReleaseID) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE stages SET active_release = ? WHERE name = ?`,
		string(id), string(name),
	)
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("stage %q: %w", name, domain.ErrNotFound)
	}
	return nil
}

func scanStage(s scanner) (domain.Stage, error) {
	var st domain.Stage
	var name string
	var active sql.NullString
	if err := s.Scan(&name, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return st, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return st, fmt.Errorf("scan stage: %w", err)
	}
	st.Name = domain.StageName(name)
	if active.Valid {
		st.ActiveRelease = domain.ReleaseID(active.String)
	}
	return st, nil
}
