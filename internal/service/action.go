package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kube-rca/alertsync/internal/db"
	"github.com/kube-rca/alertsync/internal/metrics"
	"github.com/kube-rca/alertsync/internal/model"
)

const (
	DefaultActor       = "System User"
	DefaultResolveNote = "Manually resolved via alertsync"
)

// actionRepo - acknowledge/resolve 처리용 DB 인터페이스
type actionRepo interface {
	alertStatusRepo
	EnqueuePendingAction(ctx context.Context, a model.PendingAction) (int64, error)
}

// ActionService - 사용자 acknowledge/resolve 요청 처리
//
// 매칭된 레코드는 Propagator로 Upstream B에 반영하고,
// 매칭 전 레코드는 로컬 actor/시각만 기록한 뒤 PendingAction으로 큐잉
type ActionService struct {
	repo       actionRepo
	propagator *Propagator
	logger     *zap.Logger
	now        func() time.Time
}

// NewActionService 생성자
func NewActionService(repo actionRepo, propagator *Propagator, logger *zap.Logger) *ActionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActionService{
		repo:       repo,
		propagator: propagator,
		logger:     logger.Named("actions"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Acknowledge - 레코드별 acknowledge
func (s *ActionService) Acknowledge(ctx context.Context, ids []string, actor, note string) model.ActionResponse {
	return s.apply(ctx, ids, model.Transition{Action: model.ActionAcknowledge, Actor: actor, Note: note})
}

// Resolve - 레코드별 resolve (note가 없으면 기본 note 사용)
func (s *ActionService) Resolve(ctx context.Context, ids []string, actor, note string) model.ActionResponse {
	if strings.TrimSpace(note) == "" {
		note = DefaultResolveNote
	}
	return s.apply(ctx, ids, model.Transition{Action: model.ActionResolve, Actor: actor, Note: note})
}

func (s *ActionService) apply(ctx context.Context, ids []string, t model.Transition) model.ActionResponse {
	if strings.TrimSpace(t.Actor) == "" {
		t.Actor = DefaultActor
	}

	resp := model.ActionResponse{Results: make([]model.ActionResult, 0, len(ids))}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		result := s.applyOne(ctx, id, t)
		if result.OK() {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
		resp.Results = append(resp.Results, result)
	}

	switch {
	case resp.Failed == 0:
		resp.Status = "success"
	case resp.Succeeded == 0:
		resp.Status = "failed"
	default:
		resp.Status = "partial"
	}
	return resp
}

func (s *ActionService) applyOne(ctx context.Context, id string, t model.Transition) model.ActionResult {
	result := model.ActionResult{AlertID: id, Action: t.Action}

	rec, err := s.repo.GetAlert(ctx, id)
	if err != nil {
		result.Status = model.ActionFailed
		if errors.Is(err, db.ErrNotFound) {
			result.Reason = "alert not found"
			return result
		}
		result.Reason = "failed to load alert"
		s.logger.Error("failed to load alert", zap.String("alert_id", id), zap.Error(err))
		return result
	}

	if rec.IsMatched() {
		return s.propagator.Apply(ctx, *rec, t)
	}
	return s.queue(ctx, *rec, t)
}

// queue - 매칭 전 레코드: 로컬 추적 정보 기록 후 PendingAction 저장
func (s *ActionService) queue(ctx context.Context, rec model.AlertRecord, t model.Transition) model.ActionResult {
	result := model.ActionResult{AlertID: rec.ID, Action: t.Action}
	if satisfied(rec, t.Action) {
		result.Status = model.ActionAlreadySatisfied
		result.Reason = "already recorded locally"
		return result
	}

	if err := writeStatus(ctx, s.repo, rec, t, s.now()); err != nil {
		result.Status = model.ActionFailed
		result.Reason = "failed to record local status"
		s.logger.Error("failed to record local status", zap.String("alert_id", rec.ID), zap.Error(err))
		return result
	}

	_, err := s.repo.EnqueuePendingAction(ctx, model.PendingAction{
		AlertID: rec.ID,
		Action:  t.Action,
		Actor:   t.Actor,
		Note:    t.Note,
	})
	if err != nil && !errors.Is(err, db.ErrDuplicate) {
		result.Status = model.ActionFailed
		result.Reason = "failed to queue action"
		s.logger.Error("failed to queue pending action", zap.String("alert_id", rec.ID), zap.Error(err))
		return result
	}

	metrics.PropagationsTotal.WithLabelValues(string(t.Action), string(model.ActionQueued)).Inc()
	s.logger.Info("alert has no matched incident, action queued",
		zap.String("alert_id", rec.ID),
		zap.String("source_a_id", rec.SourceAID),
		zap.String("action", string(t.Action)),
		zap.String("actor", t.Actor),
	)
	result.Status = model.ActionQueued
	return result
}
