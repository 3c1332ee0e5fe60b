package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kube-rca/alertsync/internal/model"
)

// EnsurePendingActionSchema - pending_actions 테이블 생성
func (db *Postgres) EnsurePendingActionSchema(ctx context.Context) error {
	queries := []string{
		`
		CREATE TABLE IF NOT EXISTS pending_actions (
			id BIGSERIAL PRIMARY KEY,
			alert_id TEXT NOT NULL REFERENCES alerts(id),
			action TEXT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at TIMESTAMPTZ,
			CONSTRAINT pending_actions_action_chk CHECK (action IN ('acknowledge', 'resolve')),
			CONSTRAINT pending_actions_status_chk CHECK (status IN ('pending', 'done', 'failed'))
		)
		`,
		`CREATE INDEX IF NOT EXISTS pending_actions_pending_idx ON pending_actions(created_at) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS pending_actions_alert_id_idx ON pending_actions(alert_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS pending_actions_dedupe_idx ON pending_actions(alert_id, action) WHERE status = 'pending'`,
	}
	return db.exec(ctx, queries)
}

// EnqueuePendingAction - 매칭 전 레코드에 대한 요청 저장
// 같은 레코드/액션의 pending 요청이 이미 있으면 ErrDuplicate
func (db *Postgres) EnqueuePendingAction(ctx context.Context, a model.PendingAction) (int64, error) {
	query := `
		INSERT INTO pending_actions (alert_id, action, actor, note, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', NOW())
		RETURNING id`

	var id int64
	if err := db.Pool.QueryRow(ctx, query, a.AlertID, string(a.Action), a.Actor, a.Note).Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("failed to enqueue pending action: %w", err)
	}
	return id, nil
}

// ListPendingActions - 처리 대기 중인 요청 (오래된 순)
func (db *Postgres) ListPendingActions(ctx context.Context) ([]model.PendingAction, error) {
	query := `
		SELECT id, alert_id, action, actor, note, status, attempts, last_error, created_at, processed_at
		FROM pending_actions
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC`

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []model.PendingAction
	for rows.Next() {
		var (
			a      model.PendingAction
			action string
		)
		if err := rows.Scan(&a.ID, &a.AlertID, &action, &a.Actor, &a.Note, &a.Status, &a.Attempts, &a.LastError, &a.CreatedAt, &a.ProcessedAt); err != nil {
			return nil, err
		}
		a.Action = model.Action(action)
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.PendingAction{}
	}
	return list, nil
}

// CompletePendingAction - 처리 결과 기록 (status: done/failed/pending)
// pending으로 남기면 attempts만 증가
func (db *Postgres) CompletePendingAction(ctx context.Context, id int64, status, lastError string) error {
	var processedAt *time.Time
	if status != model.PendingStatusPending {
		now := time.Now().UTC()
		processedAt = &now
	}
	query := `
		UPDATE pending_actions
		SET status = $2, attempts = attempts + 1, last_error = $3, processed_at = $4
		WHERE id = $1`

	tag, err := db.Pool.Exec(ctx, query, id, status, lastError, processedAt)
	if err != nil {
		return fmt.Errorf("failed to update pending action %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountPendingActions - 대기 중인 요청 수
func (db *Postgres) CountPendingActions(ctx context.Context) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM pending_actions WHERE status = 'pending'`).Scan(&n)
	return n, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
