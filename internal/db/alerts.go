package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kube-rca/alertsync/internal/model"
)

// EnsureAlertSchema - alerts 테이블 생성
func (db *Postgres) EnsureAlertSchema(ctx context.Context) error {
	queries := []string{
		`
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			source_a_id TEXT NOT NULL,
			source_b_id TEXT,
			source_b_tiny_id TEXT,
			alert_name TEXT NOT NULL DEFAULT '',
			cluster TEXT NOT NULL DEFAULT '',
			instance TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			tags TEXT[] NOT NULL DEFAULT '{}',
			labels JSONB NOT NULL DEFAULT '{}',
			generator_url TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ,
			match_type TEXT NOT NULL DEFAULT 'none',
			match_confidence DOUBLE PRECISION,
			match_low_certainty BOOLEAN NOT NULL DEFAULT FALSE,
			matched_at TIMESTAMPTZ,
			source_a_status TEXT NOT NULL DEFAULT 'active',
			source_b_status TEXT,
			source_b_owner TEXT,
			source_b_priority TEXT,
			acknowledged_by TEXT,
			acknowledged_at TIMESTAMPTZ,
			resolved_by TEXT,
			resolved_at TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT alerts_match_type_chk
				CHECK (match_type IN ('none', 'alias', 'tag', 'content_similarity', 'time_proximity')),
			CONSTRAINT alerts_match_confidence_chk
				CHECK ((match_type = 'none') = (match_confidence IS NULL)),
			CONSTRAINT alerts_match_confidence_range_chk
				CHECK (match_confidence IS NULL OR (match_confidence >= 0 AND match_confidence <= 100)),
			CONSTRAINT alerts_source_a_status_chk
				CHECK (source_a_status IN ('active', 'resolved')),
			CONSTRAINT alerts_source_b_status_chk
				CHECK (source_b_status IS NULL OR source_b_status IN ('open', 'acknowledged', 'closed'))
		)
		`,
		`CREATE UNIQUE INDEX IF NOT EXISTS alerts_source_a_id_key ON alerts(source_a_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS alerts_source_b_id_key ON alerts(source_b_id) WHERE source_b_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS alerts_source_a_status_idx ON alerts(source_a_status)`,
		`CREATE INDEX IF NOT EXISTS alerts_match_type_idx ON alerts(match_type)`,
		`CREATE INDEX IF NOT EXISTS alerts_started_at_idx ON alerts(started_at DESC)`,
	}
	return db.exec(ctx, queries)
}

const alertColumns = `
	id, source_a_id, source_b_id, source_b_tiny_id,
	alert_name, cluster, instance, severity, summary, description,
	tags, labels, generator_url, started_at,
	match_type, match_confidence, match_low_certainty, matched_at,
	source_a_status, source_b_status, source_b_owner, source_b_priority,
	acknowledged_by, acknowledged_at, resolved_by, resolved_at,
	version, created_at, updated_at`

func scanAlert(row pgx.Row) (model.AlertRecord, error) {
	var (
		r         model.AlertRecord
		startedAt *time.Time
		matchType string
	)
	err := row.Scan(
		&r.ID, &r.SourceAID, &r.SourceBID, &r.SourceBTinyID,
		&r.AlertName, &r.Cluster, &r.Instance, &r.Severity, &r.Summary, &r.Description,
		&r.Tags, &r.Labels, &r.GeneratorURL, &startedAt,
		&matchType, &r.MatchConfidence, &r.MatchLowCertainty, &r.MatchedAt,
		&r.SourceAStatus, &r.SourceBStatus, &r.SourceBOwner, &r.SourceBPriority,
		&r.AcknowledgedBy, &r.AcknowledgedAt, &r.ResolvedBy, &r.ResolvedAt,
		&r.Version, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return r, err
	}
	r.MatchType = model.MatchType(matchType)
	if startedAt != nil {
		r.StartedAt = *startedAt
	}
	return r, nil
}

func collectAlerts(rows pgx.Rows) ([]model.AlertRecord, error) {
	defer rows.Close()

	var list []model.AlertRecord
	for rows.Next() {
		r, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.AlertRecord{}
	}
	return list, nil
}

// ListWorkingSet - 사이클에서 다루는 레코드 조회
//   - A가 active인 레코드 (resolve 판정, 매칭 대상)
//   - B와 매칭되어 있고 B가 아직 closed가 아닌 레코드 (상태 갱신 대상)
func (db *Postgres) ListWorkingSet(ctx context.Context) ([]model.AlertRecord, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE source_a_status = 'active'
		   OR (source_b_id IS NOT NULL AND COALESCE(source_b_status, '') <> 'closed')
		ORDER BY started_at ASC NULLS LAST, source_a_id ASC`

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return collectAlerts(rows)
}

// ListBoundSourceBIDs - 이미 레코드에 연결된 source_b_id 목록
func (db *Postgres) ListBoundSourceBIDs(ctx context.Context, ids []string) (map[string]string, error) {
	bound := make(map[string]string)
	if len(ids) == 0 {
		return bound, nil
	}
	rows, err := db.Pool.Query(ctx, `SELECT source_b_id, id FROM alerts WHERE source_b_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var bID, id string
		if err := rows.Scan(&bID, &id); err != nil {
			return nil, err
		}
		bound[bID] = id
	}
	return bound, rows.Err()
}

// GetAlert - 단건 조회 (없으면 ErrNotFound)
func (db *Postgres) GetAlert(ctx context.Context, id string) (*model.AlertRecord, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`

	r, err := scanAlert(db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// CommitCycle - 사이클 변경분을 하나의 트랜잭션으로 반영
//
// 순서: content upsert → A resolve → 매칭 → B 상태 갱신
// 매칭은 match_type = 'none' 이고 B가 다른 레코드에 연결되지 않은 경우에만 적용
func (db *Postgres) CommitCycle(ctx context.Context, c model.CycleCommit) (model.CommitStats, error) {
	var stats model.CommitStats
	if c.Empty() {
		return stats, nil
	}
	at := c.CommittedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to begin cycle transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, content := range c.Upserts {
		created, changed, err := upsertContent(ctx, tx, content, at)
		if err != nil {
			return model.CommitStats{}, fmt.Errorf("failed to upsert alert %s: %w", content.SourceAID, err)
		}
		switch {
		case created:
			stats.Created++
		case changed:
			stats.Updated++
		}
	}

	if len(c.ResolvedA) > 0 {
		tag, err := tx.Exec(ctx, `
			UPDATE alerts
			SET source_a_status = 'resolved', version = version + 1, updated_at = $2
			WHERE id = ANY($1) AND source_a_status = 'active'`,
			c.ResolvedA, at)
		if err != nil {
			return model.CommitStats{}, fmt.Errorf("failed to resolve alerts: %w", err)
		}
		stats.Resolved = int(tag.RowsAffected())
	}

	for _, m := range c.Matches {
		tag, err := tx.Exec(ctx, `
			UPDATE alerts
			SET source_b_id = $2,
				source_b_tiny_id = NULLIF($3, ''),
				match_type = $4,
				match_confidence = $5,
				match_low_certainty = $6,
				matched_at = $7,
				version = version + 1,
				updated_at = $7
			WHERE id = $1
			  AND match_type = 'none'
			  AND source_b_id IS NULL
			  AND NOT EXISTS (SELECT 1 FROM alerts bound WHERE bound.source_b_id = $2)`,
			m.AlertID, m.SourceBID, m.SourceBTinyID, string(m.Type), m.Score, m.LowCertainty, at)
		if err != nil {
			return model.CommitStats{}, fmt.Errorf("failed to apply match %s -> %s: %w", m.AlertID, m.SourceBID, err)
		}
		stats.Matched += int(tag.RowsAffected())
	}

	for _, s := range c.BStatuses {
		tag, err := tx.Exec(ctx, `
			UPDATE alerts
			SET source_b_status = $2,
				source_b_owner = COALESCE(NULLIF($3, ''), source_b_owner),
				source_b_priority = COALESCE(NULLIF($4, ''), source_b_priority),
				source_b_tiny_id = COALESCE(NULLIF($5, ''), source_b_tiny_id),
				acknowledged_by = COALESCE(acknowledged_by, $6),
				acknowledged_at = COALESCE(acknowledged_at, $7),
				resolved_by = COALESCE(resolved_by, $8),
				resolved_at = COALESCE(resolved_at, $9),
				version = version + 1,
				updated_at = $10
			WHERE id = $1
			  AND source_b_id IS NOT NULL
			  AND `+statusRank("$2::text")+` >= `+statusRank("source_b_status")+`
			  AND (source_b_status, source_b_owner, source_b_priority, source_b_tiny_id,
			       acknowledged_at IS NULL AND $7::timestamptz IS NOT NULL,
			       resolved_at IS NULL AND $9::timestamptz IS NOT NULL)
			      IS DISTINCT FROM
			      ($2::text, COALESCE(NULLIF($3, ''), source_b_owner), COALESCE(NULLIF($4, ''), source_b_priority),
			       COALESCE(NULLIF($5, ''), source_b_tiny_id), FALSE, FALSE)`,
			s.AlertID, s.Status, s.Owner, s.Priority, s.TinyID,
			s.AcknowledgedBy, s.AcknowledgedAt, s.ResolvedBy, s.ResolvedAt, at)
		if err != nil {
			return model.CommitStats{}, fmt.Errorf("failed to refresh status of %s: %w", s.AlertID, err)
		}
		stats.Statuses += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return model.CommitStats{}, fmt.Errorf("failed to commit cycle transaction: %w", err)
	}
	return stats, nil
}

// upsertContent - source_a_id 기준 content 갱신 (match/B 상태 컬럼은 건드리지 않음)
// 내용이 같으면 version/updated_at도 그대로 유지
func upsertContent(ctx context.Context, tx pgx.Tx, c model.AlertContent, at time.Time) (created, changed bool, err error) {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	labels := c.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	status := c.SourceAStatus
	if status == "" {
		status = model.SourceAActive
	}
	var startedAt *time.Time
	if !c.StartedAt.IsZero() {
		startedAt = &c.StartedAt
	}

	query := `
		INSERT INTO alerts (
			id, source_a_id, alert_name, cluster, instance, severity, summary, description,
			tags, labels, generator_url, started_at, source_a_status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		ON CONFLICT (source_a_id) DO UPDATE SET
			alert_name = EXCLUDED.alert_name,
			cluster = EXCLUDED.cluster,
			instance = EXCLUDED.instance,
			severity = EXCLUDED.severity,
			summary = EXCLUDED.summary,
			description = EXCLUDED.description,
			tags = EXCLUDED.tags,
			labels = EXCLUDED.labels,
			generator_url = EXCLUDED.generator_url,
			started_at = EXCLUDED.started_at,
			source_a_status = EXCLUDED.source_a_status,
			version = alerts.version + 1,
			updated_at = EXCLUDED.updated_at
		WHERE (alerts.alert_name, alerts.cluster, alerts.instance, alerts.severity,
		       alerts.summary, alerts.description, alerts.tags, alerts.labels,
		       alerts.generator_url, alerts.started_at, alerts.source_a_status)
		      IS DISTINCT FROM
		      (EXCLUDED.alert_name, EXCLUDED.cluster, EXCLUDED.instance, EXCLUDED.severity,
		       EXCLUDED.summary, EXCLUDED.description, EXCLUDED.tags, EXCLUDED.labels,
		       EXCLUDED.generator_url, EXCLUDED.started_at, EXCLUDED.source_a_status)
		RETURNING (xmax = 0) AS inserted`

	var inserted bool
	err = tx.QueryRow(ctx, query,
		c.ID, c.SourceAID, c.AlertName, c.Cluster, c.Instance, c.Severity, c.Summary, c.Description,
		tags, labels, c.GeneratorURL, startedAt, status, at,
	).Scan(&inserted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, false, nil
		}
		return false, false, err
	}
	return inserted, !inserted, nil
}

// UpdateAlertStatus - 낙관적 버전 체크와 함께 상태 갱신
// version이 다르면 ErrVersionConflict, 레코드가 없으면 ErrNotFound
func (db *Postgres) UpdateAlertStatus(ctx context.Context, u model.StatusUpdate) (*model.AlertRecord, error) {
	query := `
		UPDATE alerts
		SET source_b_status = COALESCE(NULLIF($3, ''), source_b_status),
			acknowledged_by = COALESCE($4, acknowledged_by),
			acknowledged_at = COALESCE($5, acknowledged_at),
			resolved_by = COALESCE($6, resolved_by),
			resolved_at = COALESCE($7, resolved_at),
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING ` + alertColumns

	r, err := scanAlert(db.Pool.QueryRow(ctx, query,
		u.AlertID, u.ExpectedVersion, u.SourceBStatus,
		u.AcknowledgedBy, u.AcknowledgedAt, u.ResolvedBy, u.ResolvedAt,
	))
	if err == nil {
		return &r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var exists bool
	if err := db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM alerts WHERE id = $1)`, u.AlertID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrVersionConflict
}

// statusRank - B 상태 진행 순서 SQL 표현식 (역방향 갱신 방지)
func statusRank(expr string) string {
	return `(CASE ` + expr + ` WHEN 'open' THEN 1 WHEN 'acknowledged' THEN 2 WHEN 'closed' THEN 3 ELSE 0 END)`
}
