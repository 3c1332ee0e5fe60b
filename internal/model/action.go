package model

import "time"

// Action - 사용자가 요청하는 상태 전이
type Action string

const (
	ActionAcknowledge Action = "acknowledge"
	ActionResolve     Action = "resolve"
)

// TargetStatus - 전이 후 B 상태
func (a Action) TargetStatus() string {
	if a == ActionResolve {
		return SourceBClosed
	}
	return SourceBAcknowledged
}

// Transition - Status Propagator 입력
type Transition struct {
	Action Action
	Actor  string
	Note   string
}

// ActionStatus - 레코드별 전이 결과
type ActionStatus string

const (
	ActionApplied          ActionStatus = "applied"
	ActionAlreadySatisfied ActionStatus = "already_satisfied"
	ActionQueued           ActionStatus = "queued"
	ActionSkipped          ActionStatus = "skipped"
	ActionFailed           ActionStatus = "failed"
)

// ActionResult - 레코드별 전이 결과 (API 응답)
type ActionResult struct {
	AlertID string       `json:"alert_id"`
	Action  Action       `json:"action"`
	Status  ActionStatus `json:"status"`
	Reason  string       `json:"reason,omitempty"`
}

// OK - 실패가 아닌 결과인지 확인
func (r ActionResult) OK() bool {
	return r.Status != ActionFailed
}

// PendingAction - 아직 매칭되지 않은 레코드에 대해 큐잉된 사용자 요청
type PendingAction struct {
	ID          int64      `json:"id"`
	AlertID     string     `json:"alert_id"`
	Action      Action     `json:"action"`
	Actor       string     `json:"actor"`
	Note        string     `json:"note"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// PendingAction 상태
const (
	PendingStatusPending = "pending"
	PendingStatusDone    = "done"
	PendingStatusFailed  = "failed"
)

// StatusUpdate - 낙관적 버전 체크와 함께 반영되는 상태 갱신
type StatusUpdate struct {
	AlertID         string
	ExpectedVersion int64
	SourceBStatus   string
	AcknowledgedBy  *string
	AcknowledgedAt  *time.Time
	ResolvedBy      *string
	ResolvedAt      *time.Time
}

// ActionRequest - acknowledge/resolve API 요청
type ActionRequest struct {
	AlertIDs []string `json:"alert_ids" binding:"required,min=1"`
	Note     string   `json:"note"`
	Actor    string   `json:"actor"`
}

// ActionResponse - acknowledge/resolve API 응답
type ActionResponse struct {
	Status    string         `json:"status"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Results   []ActionResult `json:"results"`
}
