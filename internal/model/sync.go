package model

import "time"

// MatchCandidate - 한 번의 매칭 패스에서만 존재하는 A/B 페어 제안
type MatchCandidate struct {
	AlertID       string    `json:"alert_id"`
	SourceAID     string    `json:"source_a_id"`
	SourceBID     string    `json:"source_b_id"`
	SourceBTinyID string    `json:"source_b_tiny_id,omitempty"`
	Type          MatchType `json:"match_type"`
	Score         float64   `json:"score"`
	LowCertainty  bool      `json:"low_certainty"`
}

// Trigger - 사이클 실행 주체
type Trigger string

const (
	TriggerMonitoring Trigger = "monitoring-sync"
	TriggerIncident   Trigger = "incident-sync"
	TriggerManual     Trigger = "manual"
	TriggerStartup    Trigger = "startup"
)

// Outcome - 사이클 결과
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// CycleStats - 사이클 diff 요약
type CycleStats struct {
	FetchedA    int `json:"fetched_a"`
	FetchedB    int `json:"fetched_b"`
	FilteredA   int `json:"filtered_a"`
	FilteredB   int `json:"filtered_b"`
	Created     int `json:"created"`
	Matched     int `json:"matched"`
	LowCertain  int `json:"low_certainty"`
	Updated     int `json:"updated"`
	Resolved    int `json:"resolved"`
	Refreshed   int `json:"statuses_refreshed"`
	Skipped     int `json:"skipped_records"`
	AutoClosed  int `json:"auto_closed"`
	ActionsDone int `json:"actions_done"`
}

// CycleResult - Reconciler.Run 결과 (수동 트리거 응답 및 sync_cycles 기록)
type CycleResult struct {
	ID         string     `json:"id"`
	Trigger    Trigger    `json:"trigger"`
	Outcome    Outcome    `json:"outcome"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Stats      CycleStats `json:"stats"`
	Errors     []string   `json:"errors,omitempty"`
}

// Duration - 사이클 소요 시간
func (r CycleResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// BStatusUpdate - 매칭된 레코드의 B 상태 갱신
type BStatusUpdate struct {
	AlertID        string
	Status         string
	Owner          string
	Priority       string
	TinyID         string
	AcknowledgedBy *string
	AcknowledgedAt *time.Time
	ResolvedBy     *string
	ResolvedAt     *time.Time
}

// CycleCommit - 한 트랜잭션으로 반영되는 사이클 변경분
type CycleCommit struct {
	Upserts     []AlertContent
	ResolvedA   []string
	Matches     []MatchCandidate
	BStatuses   []BStatusUpdate
	CommittedAt time.Time
}

// Empty - 반영할 변경이 없는지 확인
func (c CycleCommit) Empty() bool {
	return len(c.Upserts) == 0 && len(c.ResolvedA) == 0 && len(c.Matches) == 0 && len(c.BStatuses) == 0
}

// CommitStats - CycleCommit 반영 결과
type CommitStats struct {
	Created  int
	Updated  int
	Resolved int
	Matched  int
	Statuses int
}
