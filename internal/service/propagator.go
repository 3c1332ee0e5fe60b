package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kube-rca/alertsync/internal/client"
	"github.com/kube-rca/alertsync/internal/db"
	"github.com/kube-rca/alertsync/internal/metrics"
	"github.com/kube-rca/alertsync/internal/model"
)

const statusWriteAttempts = 3

// 실패 사유 (API 응답에 그대로 노출)
const (
	reasonRejected    = "upstream rejected transition"
	reasonUnavailable = "upstream unavailable"
	reasonNotMatched  = "alert is not matched to an incident"
	reasonDisabled    = "propagation disabled"
)

// incidentTransitioner - Upstream B 상태 전이 API
type incidentTransitioner interface {
	Acknowledge(ctx context.Context, id, user, note string) error
	Close(ctx context.Context, id, user, note string) error
}

// alertStatusRepo - 상태 갱신용 DB 인터페이스
type alertStatusRepo interface {
	GetAlert(ctx context.Context, id string) (*model.AlertRecord, error)
	UpdateAlertStatus(ctx context.Context, u model.StatusUpdate) (*model.AlertRecord, error)
}

// Propagator - 로컬에서 요청된 acknowledge/resolve를 Upstream B에 반영
//
// open → acknowledged → closed, open → closed 방향으로만 전이하며
// Upstream 호출이 성공한 뒤에만 로컬 상태를 기록
type Propagator struct {
	upstream incidentTransitioner
	repo     alertStatusRepo
	enabled  bool
	logger   *zap.Logger
	now      func() time.Time
}

// NewPropagator 생성자
func NewPropagator(upstream incidentTransitioner, repo alertStatusRepo, enabled bool, logger *zap.Logger) *Propagator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Propagator{
		upstream: upstream,
		repo:     repo,
		enabled:  enabled,
		logger:   logger.Named("propagator"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enabled - ENABLE_PROPAGATION 값
func (p *Propagator) Enabled() bool { return p.enabled }

// Apply - 매칭된 레코드 하나에 전이 적용
func (p *Propagator) Apply(ctx context.Context, rec model.AlertRecord, t model.Transition) model.ActionResult {
	result := p.apply(ctx, rec, t)
	metrics.PropagationsTotal.WithLabelValues(string(t.Action), string(result.Status)).Inc()
	return result
}

func (p *Propagator) apply(ctx context.Context, rec model.AlertRecord, t model.Transition) model.ActionResult {
	result := model.ActionResult{AlertID: rec.ID, Action: t.Action}
	if !rec.IsMatched() {
		result.Status = model.ActionFailed
		result.Reason = reasonNotMatched
		return result
	}

	if satisfied(rec, t.Action) {
		result.Status = model.ActionAlreadySatisfied
		result.Reason = "already " + rec.BStatus()
		return result
	}
	if !p.enabled {
		result.Status = model.ActionSkipped
		result.Reason = reasonDisabled
		return result
	}

	bID := *rec.SourceBID
	var err error
	if t.Action == model.ActionResolve {
		err = p.upstream.Close(ctx, bID, t.Actor, t.Note)
	} else {
		err = p.upstream.Acknowledge(ctx, bID, t.Actor, t.Note)
	}
	if err != nil {
		result.Status = model.ActionFailed
		result.Reason = reasonUnavailable
		if errors.Is(err, client.ErrRejected) {
			result.Reason = reasonRejected
		}
		p.logger.Warn("upstream transition failed",
			zap.String("alert_id", rec.ID),
			zap.String("source_b_id", bID),
			zap.String("action", string(t.Action)),
			zap.Error(err),
		)
		return result
	}

	result.Status = model.ActionApplied
	if err := writeStatus(ctx, p.repo, rec, t, p.now()); err != nil {
		// Upstream에는 반영되었으므로 다음 사이클의 B 상태 갱신이 로컬 상태를 맞춤
		result.Reason = "local status pending refresh"
		p.logger.Warn("failed to record local status",
			zap.String("alert_id", rec.ID),
			zap.String("action", string(t.Action)),
			zap.Error(err),
		)
		return result
	}

	p.logger.Info("transition applied",
		zap.String("alert_id", rec.ID),
		zap.String("source_b_id", bID),
		zap.String("action", string(t.Action)),
		zap.String("actor", t.Actor),
	)
	return result
}

// satisfied - 레코드가 이미 전이 후 상태인지 확인
// 매칭된 레코드는 B 상태, 매칭 전 레코드는 로컬 actor/시각 기준
func satisfied(rec model.AlertRecord, action model.Action) bool {
	if rec.IsMatched() {
		return model.SourceBRank(rec.BStatus()) >= model.SourceBRank(action.TargetStatus())
	}
	if action == model.ActionAcknowledge {
		return rec.AcknowledgedAt != nil || rec.ResolvedAt != nil
	}
	return rec.ResolvedAt != nil
}

// writeStatus - 버전 충돌 시 레코드를 다시 읽어 최대 3회 재시도
func writeStatus(ctx context.Context, repo alertStatusRepo, rec model.AlertRecord, t model.Transition, at time.Time) error {
	current := &rec
	var err error
	for attempt := 0; attempt < statusWriteAttempts; attempt++ {
		if attempt > 0 && satisfied(*current, t.Action) {
			return nil
		}
		_, err = repo.UpdateAlertStatus(ctx, transitionUpdate(*current, t, at))
		if err == nil || !errors.Is(err, db.ErrVersionConflict) {
			return err
		}
		current, err = repo.GetAlert(ctx, rec.ID)
		if err != nil {
			return err
		}
	}
	return db.ErrVersionConflict
}

// transitionUpdate - 전이에 해당하는 StatusUpdate 생성 (이미 기록된 actor/시각은 유지)
func transitionUpdate(rec model.AlertRecord, t model.Transition, at time.Time) model.StatusUpdate {
	u := model.StatusUpdate{
		AlertID:         rec.ID,
		ExpectedVersion: rec.Version,
		AcknowledgedBy:  rec.AcknowledgedBy,
		AcknowledgedAt:  rec.AcknowledgedAt,
		ResolvedBy:      rec.ResolvedBy,
		ResolvedAt:      rec.ResolvedAt,
	}
	if rec.IsMatched() {
		u.SourceBStatus = t.Action.TargetStatus()
	}
	actor := t.Actor
	switch t.Action {
	case model.ActionAcknowledge:
		if u.AcknowledgedAt == nil {
			u.AcknowledgedBy = &actor
			u.AcknowledgedAt = &at
		}
	case model.ActionResolve:
		if u.ResolvedAt == nil {
			u.ResolvedBy = &actor
			u.ResolvedAt = &at
		}
	}
	return u
}
