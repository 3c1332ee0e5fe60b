package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kube-rca/alertsync/internal/client"
	"github.com/kube-rca/alertsync/internal/db"
	"github.com/kube-rca/alertsync/internal/filter"
	"github.com/kube-rca/alertsync/internal/matcher"
	"github.com/kube-rca/alertsync/internal/metrics"
	"github.com/kube-rca/alertsync/internal/model"
)

const (
	AutoCloseActor = "alertsync (auto-close)"
	autoCloseNote  = "Source alert resolved"

	maxPendingAttempts = 5
	cycleRunSaveWait   = 5 * time.Second
)

// MonitoringSource - Upstream A 조회
type MonitoringSource interface {
	FetchAlerts(ctx context.Context) (model.MonitoringFetch, error)
}

// IncidentSource - Upstream B 조회 및 상태 전이
type IncidentSource interface {
	incidentTransitioner
	ListAlerts(ctx context.Context) ([]model.IncidentAlert, int, error)
	GetAlert(ctx context.Context, id string) (*model.IncidentAlert, error)
}

// cycleRepo - 사이클 처리용 DB 인터페이스
type cycleRepo interface {
	alertStatusRepo
	ListWorkingSet(ctx context.Context) ([]model.AlertRecord, error)
	ListBoundSourceBIDs(ctx context.Context, ids []string) (map[string]string, error)
	CommitCycle(ctx context.Context, c model.CycleCommit) (model.CommitStats, error)
	SaveCycleRun(ctx context.Context, r model.CycleResult) error
	LastCycleRun(ctx context.Context) (*model.CycleResult, error)
	ListPendingActions(ctx context.Context) ([]model.PendingAction, error)
	CompletePendingAction(ctx context.Context, id int64, status, lastError string) error
	CountPendingActions(ctx context.Context) (int, error)
}

// ReconcilerConfig - 사이클 동작 설정
type ReconcilerConfig struct {
	Match        matcher.Config
	LogMatches   bool
	CycleTimeout time.Duration
	AutoClose    bool
}

// Reconciler - 한 사이클 동안 A/B를 가져와 로컬 레코드와 비교하고 변경분을 반영
//
// 사이클은 동시에 하나만 실행 (잠금을 얻지 못하면 skipped)
type Reconciler struct {
	repo       cycleRepo
	monitoring MonitoringSource
	incidents  IncidentSource
	filter     filter.Stage
	propagator *Propagator
	cfg        ReconcilerConfig
	logger     *zap.Logger

	mu sync.Mutex

	lastMu sync.RWMutex
	last   *model.CycleResult

	now   func() time.Time
	newID func() string
}

// NewReconciler 생성자
func NewReconciler(repo cycleRepo, monitoring MonitoringSource, incidents IncidentSource, stage filter.Stage, propagator *Propagator, cfg ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		repo:       repo,
		monitoring: monitoring,
		incidents:  incidents,
		filter:     stage,
		propagator: propagator,
		cfg:        cfg,
		logger:     logger.Named("reconciler"),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// LastResult - 마지막으로 끝난 사이클 (메모리에 없으면 DB에서 조회)
func (r *Reconciler) LastResult(ctx context.Context) (*model.CycleResult, error) {
	r.lastMu.RLock()
	last := r.last
	r.lastMu.RUnlock()
	if last != nil {
		copied := *last
		return &copied, nil
	}
	return r.repo.LastCycleRun(ctx)
}

// Run - 사이클 1회 실행. 실패해도 panic이나 error를 밖으로 내보내지 않고 결과에 기록
func (r *Reconciler) Run(ctx context.Context, trigger model.Trigger) model.CycleResult {
	started := r.now()
	result := model.CycleResult{ID: r.newID(), Trigger: trigger, StartedAt: started}

	if !r.mu.TryLock() {
		result.Outcome = model.OutcomeSkipped
		result.FinishedAt = started
		metrics.CyclesTotal.WithLabelValues(string(trigger), string(model.OutcomeSkipped)).Inc()
		r.logger.Info("cycle skipped, another cycle is running", zap.String("trigger", string(trigger)))
		return result
	}

	func() {
		defer r.mu.Unlock()
		defer func() {
			if p := recover(); p != nil {
				result.Outcome = model.OutcomeFailed
				result.Errors = append(result.Errors, fmt.Sprintf("panic: %v", p))
				r.logger.Error("cycle panicked", zap.Any("panic", p), zap.Stack("stack"))
			}
		}()
		r.run(ctx, &result)
	}()

	result.FinishedAt = r.now()
	r.finish(ctx, result)
	return result
}

// fetched - 한 쪽 Upstream 조회 결과
type fetched[T any] struct {
	records []T
	skipped int
	// skippedIDs - 검증 실패로 빠졌지만 upstream에는 존재하는 레코드
	skippedIDs []string
	err        error
}

func (r *Reconciler) run(ctx context.Context, res *model.CycleResult) {
	if r.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.CycleTimeout)
		defer cancel()
	}

	// 1. A/B 동시 조회 (한 쪽 실패가 다른 쪽을 취소하지 않도록 각각 에러 보관)
	var (
		a fetched[model.MonitoringAlert]
		b fetched[model.IncidentAlert]
		g errgroup.Group
	)
	g.Go(func() error {
		var out model.MonitoringFetch
		out, a.err = r.monitoring.FetchAlerts(ctx)
		a.records, a.skipped, a.skippedIDs = out.Alerts, out.Skipped, out.SkippedIDs
		return a.err
	})
	g.Go(func() error {
		b.records, b.skipped, b.err = r.incidents.ListAlerts(ctx)
		return b.err
	})
	_ = g.Wait()

	res.Stats.FetchedA = len(a.records)
	res.Stats.FetchedB = len(b.records)
	res.Stats.Skipped = a.skipped + b.skipped
	if a.err != nil {
		res.Errors = append(res.Errors, "monitoring fetch: "+a.err.Error())
		r.logger.Warn("monitoring fetch failed", zap.Error(a.err))
	}
	if b.err != nil {
		res.Errors = append(res.Errors, "incident fetch: "+b.err.Error())
		r.logger.Warn("incident fetch failed", zap.Error(b.err))
	}
	if client.IsAuth(a.err) || client.IsAuth(b.err) || (a.err != nil && b.err != nil) {
		res.Outcome = model.OutcomeFailed
		return
	}

	// 2. Filter Stage
	keptA, droppedA := r.filter.FilterMonitoring(a.records)
	keptB, droppedB := r.filter.FilterIncidents(b.records)
	res.Stats.FilteredA = droppedA
	res.Stats.FilteredB = droppedB
	metrics.FilteredRecords.WithLabelValues("monitoring").Add(float64(droppedA))
	metrics.FilteredRecords.WithLabelValues("incident").Add(float64(droppedB))

	// 3. 로컬 레코드 조회
	local, err := r.repo.ListWorkingSet(ctx)
	if err != nil {
		res.Outcome = model.OutcomeFailed
		res.Errors = append(res.Errors, "load local records: "+err.Error())
		r.logger.Error("failed to load local records", zap.Error(err))
		return
	}

	// 4. 반영할 변경분 생성
	commit, err := r.buildCommit(ctx, local, a, keptA, b, keptB)
	if err != nil {
		res.Outcome = model.OutcomeFailed
		res.Errors = append(res.Errors, err.Error())
		r.logger.Error("failed to build cycle commit", zap.Error(err))
		return
	}
	for _, m := range commit.Matches {
		if m.LowCertainty {
			res.Stats.LowCertain++
		}
	}

	// 5. 타임아웃된 사이클은 반영하지 않음
	if err := ctx.Err(); err != nil {
		res.Outcome = model.OutcomeFailed
		res.Errors = append(res.Errors, "cycle aborted before commit: "+err.Error())
		r.logger.Warn("cycle aborted before commit", zap.Error(err))
		return
	}

	stats, err := r.repo.CommitCycle(ctx, commit)
	if err != nil {
		res.Outcome = model.OutcomeFailed
		res.Errors = append(res.Errors, "commit: "+err.Error())
		r.logger.Error("failed to commit cycle", zap.Error(err))
		return
	}
	res.Stats.Created = stats.Created
	res.Stats.Updated = stats.Updated
	res.Stats.Resolved = stats.Resolved
	res.Stats.Matched = stats.Matched
	res.Stats.Refreshed = stats.Statuses

	for _, m := range commit.Matches {
		metrics.MatchesTotal.WithLabelValues(string(m.Type), metrics.Certainty(m.LowCertainty)).Inc()
		if r.cfg.LogMatches {
			r.logger.Info("alert matched",
				zap.String("alert_id", m.AlertID),
				zap.String("source_a_id", m.SourceAID),
				zap.String("source_b_id", m.SourceBID),
				zap.String("match_type", string(m.Type)),
				zap.Float64("score", m.Score),
				zap.Bool("low_certainty", m.LowCertainty),
			)
		}
	}

	// 6. 반영 이후 작업 (잠금 유지)
	res.Stats.ActionsDone = r.drainPending(ctx)
	if r.cfg.AutoClose && b.err == nil {
		res.Stats.AutoClosed = r.autoClose(ctx, local, commit.ResolvedA, excludedIncidents(b.records, keptB))
	}

	if a.err != nil || b.err != nil {
		res.Outcome = model.OutcomePartial
		return
	}
	res.Outcome = model.OutcomeSuccess
}

// buildCommit - content upsert, A resolve, 매칭, B 상태 갱신 목록 생성
func (r *Reconciler) buildCommit(
	ctx context.Context,
	local []model.AlertRecord,
	a fetched[model.MonitoringAlert], keptA []model.MonitoringAlert,
	b fetched[model.IncidentAlert], keptB []model.IncidentAlert,
) (model.CycleCommit, error) {
	commit := model.CycleCommit{CommittedAt: r.now()}

	bySourceA := make(map[string]int, len(local))
	for i := range local {
		bySourceA[local[i].SourceAID] = i
	}

	// 매칭 후보: 매칭되지 않은 active 레코드 (이번 사이클 내용 반영)
	var candidates []model.AlertRecord
	resolvedNow := make(map[string]bool)

	if a.err == nil {
		present := make(map[string]bool, len(a.records)+len(a.skippedIDs))
		for _, alert := range a.records {
			present[alert.ID()] = true
		}
		for _, id := range a.skippedIDs {
			present[id] = true
		}
		for _, alert := range keptA {
			content := contentFromMonitoring(alert)
			rec := content.Record()
			if i, ok := bySourceA[content.SourceAID]; ok {
				content.ID = local[i].ID
				rec = withContent(local[i], content)
			} else {
				content.ID = r.newID()
				rec.ID = content.ID
			}
			commit.Upserts = append(commit.Upserts, content)
			if !rec.IsMatched() {
				candidates = append(candidates, rec)
			}
		}
		// 필터 적용 전 조회 결과(검증 실패 포함)에 없는 active 레코드만 resolve
		for _, rec := range local {
			if rec.SourceAStatus == model.SourceAActive && !present[rec.SourceAID] {
				commit.ResolvedA = append(commit.ResolvedA, rec.ID)
				resolvedNow[rec.ID] = true
			}
		}
	} else {
		for _, rec := range local {
			if rec.SourceAStatus == model.SourceAActive && !rec.IsMatched() {
				candidates = append(candidates, rec)
			}
		}
	}

	if b.err != nil {
		return commit, nil
	}

	// 매칭: 닫히지 않았고 다른 레코드에 연결되지 않은 B만 대상
	ids := make([]string, 0, len(keptB))
	for _, inc := range keptB {
		ids = append(ids, inc.ID)
	}
	bound, err := r.repo.ListBoundSourceBIDs(ctx, ids)
	if err != nil {
		return commit, fmt.Errorf("load bound incident ids: %w", err)
	}
	free := make([]model.IncidentAlert, 0, len(keptB))
	for _, inc := range keptB {
		if _, taken := bound[inc.ID]; taken || inc.NormalizedStatus() == model.SourceBClosed {
			continue
		}
		free = append(free, inc)
	}

	byID := make(map[string]model.IncidentAlert, len(keptB))
	for _, inc := range keptB {
		byID[inc.ID] = inc
	}
	filteredB := excludedIncidents(b.records, keptB)

	commit.Matches = matcher.Match(candidates, free, r.cfg.Match)
	for _, m := range commit.Matches {
		commit.BStatuses = append(commit.BStatuses, statusFromIncident(m.AlertID, byID[m.SourceBID], commit.CommittedAt))
	}

	// 기존 매칭 레코드의 B 상태 갱신 (목록에 없으면 개별 조회, 404 또는 필터 제외면 그대로 둠)
	for _, rec := range local {
		if !rec.IsMatched() {
			continue
		}
		bID := *rec.SourceBID
		if filteredB[bID] {
			continue
		}
		inc, ok := byID[bID]
		if !ok {
			got, err := r.incidents.GetAlert(ctx, bID)
			if err != nil {
				if client.IsAuth(err) {
					return commit, fmt.Errorf("fetch incident %s: %w", bID, err)
				}
				if !errors.Is(err, client.ErrNotFound) {
					r.logger.Warn("failed to fetch matched incident",
						zap.String("alert_id", rec.ID),
						zap.String("source_b_id", bID),
						zap.Error(err),
					)
				}
				continue
			}
			inc = *got
		}
		commit.BStatuses = append(commit.BStatuses, statusFromIncident(rec.ID, inc, commit.CommittedAt))
	}

	return commit, nil
}

// excludedIncidents - Filter Stage에서 제외된 B id
func excludedIncidents(all, kept []model.IncidentAlert) map[string]bool {
	keptIDs := make(map[string]struct{}, len(kept))
	for _, inc := range kept {
		keptIDs[inc.ID] = struct{}{}
	}
	out := make(map[string]bool)
	for _, inc := range all {
		if _, ok := keptIDs[inc.ID]; !ok {
			out[inc.ID] = true
		}
	}
	return out
}

// drainPending - 매칭이 완료된 레코드의 대기 요청 처리
func (r *Reconciler) drainPending(ctx context.Context) int {
	done := 0
	defer func() {
		if n, err := r.repo.CountPendingActions(ctx); err == nil {
			metrics.PendingActions.Set(float64(n))
		}
	}()

	pending, err := r.repo.ListPendingActions(ctx)
	if err != nil {
		r.logger.Warn("failed to load pending actions", zap.Error(err))
		return 0
	}
	for _, pa := range pending {
		rec, err := r.repo.GetAlert(ctx, pa.AlertID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				r.completePending(ctx, pa, model.PendingStatusFailed, "alert not found")
			}
			continue
		}
		if !rec.IsMatched() {
			continue
		}

		out := r.propagator.Apply(ctx, *rec, model.Transition{Action: pa.Action, Actor: pa.Actor, Note: pa.Note})
		switch out.Status {
		case model.ActionApplied, model.ActionAlreadySatisfied:
			r.completePending(ctx, pa, model.PendingStatusDone, "")
			done++
		case model.ActionFailed:
			status := model.PendingStatusPending
			if pa.Attempts+1 >= maxPendingAttempts {
				status = model.PendingStatusFailed
			}
			r.completePending(ctx, pa, status, out.Reason)
		}
	}
	return done
}

func (r *Reconciler) completePending(ctx context.Context, pa model.PendingAction, status, reason string) {
	if err := r.repo.CompletePendingAction(ctx, pa.ID, status, reason); err != nil {
		r.logger.Warn("failed to update pending action", zap.Int64("pending_id", pa.ID), zap.Error(err))
	}
}

// autoClose - A가 resolve되었는데 B가 닫히지 않은 매칭 레코드의 B를 close
func (r *Reconciler) autoClose(ctx context.Context, local []model.AlertRecord, resolvedNow []string, excludedB map[string]bool) int {
	resolved := make(map[string]bool, len(resolvedNow))
	for _, id := range resolvedNow {
		resolved[id] = true
	}

	closed := 0
	for _, rec := range local {
		if !rec.IsMatched() || rec.BStatus() == model.SourceBClosed || excludedB[*rec.SourceBID] {
			continue
		}
		if rec.SourceAStatus != model.SourceAResolved && !resolved[rec.ID] {
			continue
		}
		current, err := r.repo.GetAlert(ctx, rec.ID)
		if err != nil {
			r.logger.Warn("failed to reload alert for auto-close", zap.String("alert_id", rec.ID), zap.Error(err))
			continue
		}
		out := r.propagator.Apply(ctx, *current, model.Transition{
			Action: model.ActionResolve,
			Actor:  AutoCloseActor,
			Note:   autoCloseNote,
		})
		if out.Status == model.ActionApplied {
			closed++
		}
	}
	return closed
}

// finish - 사이클 기록, 메트릭, 로그
func (r *Reconciler) finish(ctx context.Context, res model.CycleResult) {
	trigger := string(res.Trigger)
	metrics.CyclesTotal.WithLabelValues(trigger, string(res.Outcome)).Inc()
	metrics.CycleDuration.WithLabelValues(trigger).Observe(res.Duration().Seconds())
	metrics.LastCycleTimestamp.Set(float64(res.FinishedAt.Unix()))

	saved := res
	r.lastMu.Lock()
	r.last = &saved
	r.lastMu.Unlock()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cycleRunSaveWait)
	defer cancel()
	if err := r.repo.SaveCycleRun(saveCtx, res); err != nil {
		r.logger.Warn("failed to save cycle run", zap.String("cycle_id", res.ID), zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("cycle_id", res.ID),
		zap.String("trigger", trigger),
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("duration", res.Duration()),
		zap.Int("fetched_a", res.Stats.FetchedA),
		zap.Int("fetched_b", res.Stats.FetchedB),
		zap.Int("created", res.Stats.Created),
		zap.Int("matched", res.Stats.Matched),
		zap.Int("resolved", res.Stats.Resolved),
		zap.Int("auto_closed", res.Stats.AutoClosed),
	}
	if len(res.Errors) > 0 {
		fields = append(fields, zap.Strings("errors", res.Errors))
	}
	if res.Outcome == model.OutcomeSuccess {
		r.logger.Info("cycle finished", fields...)
		return
	}
	r.logger.Warn("cycle finished", fields...)
}

// contentFromMonitoring - Upstream A 알림을 content 필드로 변환
func contentFromMonitoring(a model.MonitoringAlert) model.AlertContent {
	return model.AlertContent{
		SourceAID:     a.ID(),
		AlertName:     a.AlertName(),
		Cluster:       a.Cluster(),
		Instance:      a.Instance(),
		Severity:      a.Severity(),
		Summary:       a.Summary(),
		Description:   a.Description(),
		Tags:          a.Tags(),
		Labels:        a.LabelMap(),
		GeneratorURL:  a.GeneratorURL,
		StartedAt:     a.StartsAt,
		SourceAStatus: model.SourceAActive,
	}
}

// withContent - 기존 레코드에 이번 사이클 content 적용 (매칭 후보 계산용)
func withContent(rec model.AlertRecord, c model.AlertContent) model.AlertRecord {
	rec.AlertName = c.AlertName
	rec.Cluster = c.Cluster
	rec.Instance = c.Instance
	rec.Severity = c.Severity
	rec.Summary = c.Summary
	rec.Description = c.Description
	rec.Tags = c.Tags
	rec.Labels = c.Labels
	rec.GeneratorURL = c.GeneratorURL
	rec.StartedAt = c.StartedAt
	rec.SourceAStatus = c.SourceAStatus
	return rec
}

// statusFromIncident - B 알림을 로컬 B 상태 갱신으로 변환
func statusFromIncident(alertID string, inc model.IncidentAlert, at time.Time) model.BStatusUpdate {
	u := model.BStatusUpdate{
		AlertID:  alertID,
		Status:   inc.NormalizedStatus(),
		Owner:    inc.Owner,
		Priority: inc.Priority,
		TinyID:   inc.TinyID,
	}
	changedAt := inc.UpdatedAt
	if changedAt.IsZero() {
		changedAt = at
	}
	var by *string
	if inc.Owner != "" {
		owner := inc.Owner
		by = &owner
	}
	if u.Status == model.SourceBAcknowledged || inc.Acknowledged {
		u.AcknowledgedBy = by
		u.AcknowledgedAt = &changedAt
	}
	if u.Status == model.SourceBClosed {
		u.ResolvedBy = by
		u.ResolvedAt = &changedAt
	}
	return u
}
