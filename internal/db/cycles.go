package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kube-rca/alertsync/internal/model"
)

// EnsureCycleSchema - sync_cycles 테이블 생성
func (db *Postgres) EnsureCycleSchema(ctx context.Context) error {
	queries := []string{
		`
		CREATE TABLE IF NOT EXISTS sync_cycles (
			id TEXT PRIMARY KEY,
			trigger TEXT NOT NULL,
			outcome TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			stats JSONB NOT NULL DEFAULT '{}',
			errors TEXT[] NOT NULL DEFAULT '{}'
		)
		`,
		`CREATE INDEX IF NOT EXISTS sync_cycles_started_at_idx ON sync_cycles(started_at DESC)`,
	}
	return db.exec(ctx, queries)
}

// SaveCycleRun - 사이클 결과 기록
func (db *Postgres) SaveCycleRun(ctx context.Context, r model.CycleResult) error {
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	query := `
		INSERT INTO sync_cycles (id, trigger, outcome, started_at, finished_at, stats, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	_, err := db.Pool.Exec(ctx, query, r.ID, string(r.Trigger), string(r.Outcome), r.StartedAt, r.FinishedAt, r.Stats, errs)
	if err != nil {
		return fmt.Errorf("failed to save cycle run: %w", err)
	}
	return nil
}

// LastCycleRun - 가장 최근 사이클 결과
func (db *Postgres) LastCycleRun(ctx context.Context) (*model.CycleResult, error) {
	query := `
		SELECT id, trigger, outcome, started_at, finished_at, stats, errors
		FROM sync_cycles
		ORDER BY started_at DESC
		LIMIT 1`

	var (
		r       model.CycleResult
		trigger string
		outcome string
	)
	err := db.Pool.QueryRow(ctx, query).Scan(&r.ID, &trigger, &outcome, &r.StartedAt, &r.FinishedAt, &r.Stats, &r.Errors)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Trigger = model.Trigger(trigger)
	r.Outcome = model.Outcome(outcome)
	return &r, nil
}
