package service

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	pmodel "github.com/prometheus/common/model"

	"github.com/kube-rca/alertsync/internal/client"
	"github.com/kube-rca/alertsync/internal/db"
	"github.com/kube-rca/alertsync/internal/model"
)

// memoryStore - cycleRepo/actionRepo 인메모리 구현
type memoryStore struct {
	mu        sync.Mutex
	records   map[string]*model.AlertRecord
	pending   []model.PendingAction
	runs      []model.CycleResult
	commits   int
	conflicts int // UpdateAlertStatus가 ErrVersionConflict를 돌려줄 횟수
	commitErr error
}

func newMemoryStore(records ...model.AlertRecord) *memoryStore {
	s := &memoryStore{records: map[string]*model.AlertRecord{}}
	for i := range records {
		rec := records[i]
		if rec.MatchType == "" {
			rec.MatchType = model.MatchNone
		}
		if rec.SourceAStatus == "" {
			rec.SourceAStatus = model.SourceAActive
		}
		s.records[rec.ID] = &rec
	}
	return s
}

func (s *memoryStore) get(id string) model.AlertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.records[id]
}

func (s *memoryStore) bySourceA(sourceAID string) *model.AlertRecord {
	for _, rec := range s.records {
		if rec.SourceAID == sourceAID {
			return rec
		}
	}
	return nil
}

func (s *memoryStore) ListWorkingSet(ctx context.Context) ([]model.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.AlertRecord{}
	for _, rec := range s.records {
		if rec.SourceAStatus == model.SourceAActive || (rec.IsMatched() && rec.BStatus() != model.SourceBClosed) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) ListBoundSourceBIDs(ctx context.Context, ids []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := map[string]string{}
	for _, rec := range s.records {
		if rec.SourceBID != nil && want[*rec.SourceBID] {
			out[*rec.SourceBID] = rec.ID
		}
	}
	return out, nil
}

func (s *memoryStore) GetAlert(ctx context.Context, id string) (*model.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (s *memoryStore) CommitCycle(ctx context.Context, c model.CycleCommit) (model.CommitStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats model.CommitStats
	if s.commitErr != nil {
		return stats, s.commitErr
	}
	s.commits++

	for _, content := range c.Upserts {
		if rec := s.bySourceA(content.SourceAID); rec != nil {
			updated := withContent(*rec, content)
			updated.Version++
			*rec = updated
			stats.Updated++
			continue
		}
		rec := content.Record()
		rec.Version = 1
		s.records[rec.ID] = &rec
		stats.Created++
	}
	for _, id := range c.ResolvedA {
		if rec, ok := s.records[id]; ok && rec.SourceAStatus == model.SourceAActive {
			rec.SourceAStatus = model.SourceAResolved
			rec.Version++
			stats.Resolved++
		}
	}
	for _, m := range c.Matches {
		rec, ok := s.records[m.AlertID]
		if !ok || rec.MatchType != model.MatchNone || rec.SourceBID != nil {
			continue
		}
		bID, score := m.SourceBID, m.Score
		rec.SourceBID = &bID
		rec.MatchType = m.Type
		rec.MatchConfidence = &score
		rec.MatchLowCertainty = m.LowCertainty
		rec.Version++
		stats.Matched++
	}
	for _, u := range c.BStatuses {
		rec, ok := s.records[u.AlertID]
		if !ok || rec.SourceBID == nil || model.SourceBRank(u.Status) < model.SourceBRank(rec.BStatus()) {
			continue
		}
		status := u.Status
		rec.SourceBStatus = &status
		if rec.AcknowledgedAt == nil {
			rec.AcknowledgedBy, rec.AcknowledgedAt = u.AcknowledgedBy, u.AcknowledgedAt
		}
		if rec.ResolvedAt == nil {
			rec.ResolvedBy, rec.ResolvedAt = u.ResolvedBy, u.ResolvedAt
		}
		rec.Version++
		stats.Statuses++
	}
	return stats, nil
}

func (s *memoryStore) UpdateAlertStatus(ctx context.Context, u model.StatusUpdate) (*model.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[u.AlertID]
	if !ok {
		return nil, db.ErrNotFound
	}
	if s.conflicts > 0 {
		s.conflicts--
		rec.Version++
		return nil, db.ErrVersionConflict
	}
	if rec.Version != u.ExpectedVersion {
		return nil, db.ErrVersionConflict
	}
	if u.SourceBStatus != "" {
		status := u.SourceBStatus
		rec.SourceBStatus = &status
	}
	if u.AcknowledgedBy != nil {
		rec.AcknowledgedBy = u.AcknowledgedBy
	}
	if u.AcknowledgedAt != nil {
		rec.AcknowledgedAt = u.AcknowledgedAt
	}
	if u.ResolvedBy != nil {
		rec.ResolvedBy = u.ResolvedBy
	}
	if u.ResolvedAt != nil {
		rec.ResolvedAt = u.ResolvedAt
	}
	rec.Version++
	copied := *rec
	return &copied, nil
}

func (s *memoryStore) SaveCycleRun(ctx context.Context, r model.CycleResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, r)
	return nil
}

func (s *memoryStore) LastCycleRun(ctx context.Context) (*model.CycleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) == 0 {
		return nil, db.ErrNotFound
	}
	last := s.runs[len(s.runs)-1]
	return &last, nil
}

func (s *memoryStore) EnqueuePendingAction(ctx context.Context, a model.PendingAction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pending {
		if p.AlertID == a.AlertID && p.Action == a.Action && p.Status == model.PendingStatusPending {
			return 0, db.ErrDuplicate
		}
	}
	a.ID = int64(len(s.pending) + 1)
	a.Status = model.PendingStatusPending
	a.CreatedAt = time.Now()
	s.pending = append(s.pending, a)
	return a.ID, nil
}

func (s *memoryStore) ListPendingActions(ctx context.Context) ([]model.PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.PendingAction{}
	for _, p := range s.pending {
		if p.Status == model.PendingStatusPending {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memoryStore) CompletePendingAction(ctx context.Context, id int64, status, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pending {
		if s.pending[i].ID == id {
			s.pending[i].Status = status
			s.pending[i].Attempts++
			s.pending[i].LastError = lastError
			return nil
		}
	}
	return db.ErrNotFound
}

func (s *memoryStore) CountPendingActions(ctx context.Context) (int, error) {
	pending, _ := s.ListPendingActions(ctx)
	return len(pending), nil
}

// fakeMonitoring - 고정 응답 또는 fn으로 동작하는 Upstream A
type fakeMonitoring struct {
	alerts     []model.MonitoringAlert
	skippedIDs []string
	err        error
	fn         func(ctx context.Context) (model.MonitoringFetch, error)
}

func (f *fakeMonitoring) FetchAlerts(ctx context.Context) (model.MonitoringFetch, error) {
	if f.fn != nil {
		return f.fn(ctx)
	}
	if f.err != nil {
		return model.MonitoringFetch{}, f.err
	}
	return model.MonitoringFetch{Alerts: f.alerts, Skipped: len(f.skippedIDs), SkippedIDs: f.skippedIDs}, nil
}

type transitionCall struct {
	Action string
	ID     string
	User   string
	Note   string
}

// fakeIncidents - Upstream B
type fakeIncidents struct {
	mu        sync.Mutex
	alerts    []model.IncidentAlert
	detail    []model.IncidentAlert // GetAlert로만 조회되는 레코드
	listErr   error
	getErr    error
	actionErr error
	calls     []transitionCall
	gets      []string
}

func (f *fakeIncidents) ListAlerts(ctx context.Context) ([]model.IncidentAlert, int, error) {
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	return f.alerts, 0, nil
}

func (f *fakeIncidents) GetAlert(ctx context.Context, id string) (*model.IncidentAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, id)
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, a := range append(append([]model.IncidentAlert(nil), f.alerts...), f.detail...) {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, &client.RejectedError{Upstream: "jsm", StatusCode: http.StatusNotFound}
}

func (f *fakeIncidents) Acknowledge(ctx context.Context, id, user, note string) error {
	return f.record("acknowledge", id, user, note)
}

func (f *fakeIncidents) Close(ctx context.Context, id, user, note string) error {
	return f.record("close", id, user, note)
}

func (f *fakeIncidents) record(action, id, user, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, transitionCall{Action: action, ID: id, User: user, Note: note})
	return f.actionErr
}

func (f *fakeIncidents) transitions() []transitionCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transitionCall(nil), f.calls...)
}

// 테스트 데이터 헬퍼

var baseTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func monitoringAlert(fingerprint, name, cluster, instance, severity string) model.MonitoringAlert {
	a := model.MonitoringAlert{
		Fingerprint: fingerprint,
		Labels: pmodel.LabelSet{
			"alertname": pmodel.LabelValue(name),
			"cluster":   pmodel.LabelValue(cluster),
			"instance":  pmodel.LabelValue(instance),
			"severity":  pmodel.LabelValue(severity),
		},
		Annotations: pmodel.LabelSet{"summary": pmodel.LabelValue(name + " on " + instance)},
		StartsAt:    baseTime,
	}
	a.Status.State = "active"
	return a
}

func incidentAlert(id, status string, tags ...string) model.IncidentAlert {
	return model.IncidentAlert{
		ID:        id,
		TinyID:    "T-" + id,
		Message:   "incident " + id,
		Status:    status,
		Tags:      tags,
		Priority:  "P2",
		CreatedAt: baseTime,
		UpdatedAt: baseTime.Add(time.Minute),
	}
}

func matchedRecord(id, sourceAID, bID, bStatus string) model.AlertRecord {
	score := 95.0
	return model.AlertRecord{
		ID:              id,
		SourceAID:       sourceAID,
		SourceBID:       &bID,
		AlertName:       "HighCPU",
		Cluster:         "prod-1",
		Instance:        "node-a",
		Severity:        "critical",
		MatchType:       model.MatchAlias,
		MatchConfidence: &score,
		SourceAStatus:   model.SourceAActive,
		SourceBStatus:   &bStatus,
		Version:         3,
	}
}
