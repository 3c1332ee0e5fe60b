// 로컬에 저장되는 알림 레코드(AlertRecord)와 상태 값 정의
// reconciler, matcher, db 레이어에서 공통으로 사용하기 때문에 model 레이어에 별도로 정의

package model

import "time"

// MatchType - 두 소스의 알림을 연결한 매칭 전략
type MatchType string

const (
	MatchNone              MatchType = "none"
	MatchAlias             MatchType = "alias"
	MatchTag               MatchType = "tag"
	MatchContentSimilarity MatchType = "content_similarity"
	MatchTimeProximity     MatchType = "time_proximity"
)

// Valid - 정의된 MatchType인지 확인
func (t MatchType) Valid() bool {
	switch t {
	case MatchNone, MatchAlias, MatchTag, MatchContentSimilarity, MatchTimeProximity:
		return true
	}
	return false
}

// Upstream A(모니터링) 상태
const (
	SourceAActive   = "active"
	SourceAResolved = "resolved"
)

// Upstream B(인시던트 관리) 상태
// open → acknowledged → closed, open → closed 순으로만 전이
const (
	SourceBOpen         = "open"
	SourceBAcknowledged = "acknowledged"
	SourceBClosed       = "closed"
)

// SourceBRank - B 상태의 진행 순서 (단조 전이 비교용)
func SourceBRank(status string) int {
	switch status {
	case SourceBOpen:
		return 1
	case SourceBAcknowledged:
		return 2
	case SourceBClosed:
		return 3
	}
	return 0
}

// AlertRecord - 로컬 DB(alerts 테이블)에 저장되는 정규화된 알림
//
// 불변 조건:
//   - SourceBID는 최대 하나 (1:1 매칭)
//   - MatchConfidence는 MatchType == none 일 때만 nil
//   - none 이외의 MatchType은 사이클에 의해 지워지지 않음
type AlertRecord struct {
	ID            string  `json:"id"`
	SourceAID     string  `json:"source_a_id"`
	SourceBID     *string `json:"source_b_id"`
	SourceBTinyID *string `json:"source_b_tiny_id"`

	AlertName    string            `json:"alert_name"`
	Cluster      string            `json:"cluster"`
	Instance     string            `json:"instance"`
	Severity     string            `json:"severity"`
	Summary      string            `json:"summary"`
	Description  string            `json:"description"`
	Tags         []string          `json:"tags"`
	Labels       map[string]string `json:"labels"`
	GeneratorURL string            `json:"generator_url"`
	StartedAt    time.Time         `json:"started_at"`

	MatchType         MatchType  `json:"match_type"`
	MatchConfidence   *float64   `json:"match_confidence"`
	MatchLowCertainty bool       `json:"match_low_certainty"`
	MatchedAt         *time.Time `json:"matched_at"`

	SourceAStatus   string     `json:"source_a_status"`
	SourceBStatus   *string    `json:"source_b_status"`
	SourceBOwner    *string    `json:"source_b_owner"`
	SourceBPriority *string    `json:"source_b_priority"`
	AcknowledgedBy  *string    `json:"acknowledged_by"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at"`
	ResolvedBy      *string    `json:"resolved_by"`
	ResolvedAt      *time.Time `json:"resolved_at"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsMatched - B 레코드와 연결되어 있는지 확인
func (r AlertRecord) IsMatched() bool {
	return r.SourceBID != nil && *r.SourceBID != "" && r.MatchType != MatchNone
}

// BStatus - nil-safe SourceBStatus 조회
func (r AlertRecord) BStatus() string {
	if r.SourceBStatus == nil {
		return ""
	}
	return *r.SourceBStatus
}

// AlertContent - 매 사이클 source_a_id 기준으로 갱신되는 내용 필드
// match/status 컬럼은 포함하지 않음 (upsert가 매칭 정보를 덮어쓰지 않도록)
type AlertContent struct {
	ID            string
	SourceAID     string
	AlertName     string
	Cluster       string
	Instance      string
	Severity      string
	Summary       string
	Description   string
	Tags          []string
	Labels        map[string]string
	GeneratorURL  string
	StartedAt     time.Time
	SourceAStatus string
}

// Record - 신규 레코드 생성용 AlertRecord 변환
func (c AlertContent) Record() AlertRecord {
	return AlertRecord{
		ID:            c.ID,
		SourceAID:     c.SourceAID,
		AlertName:     c.AlertName,
		Cluster:       c.Cluster,
		Instance:      c.Instance,
		Severity:      c.Severity,
		Summary:       c.Summary,
		Description:   c.Description,
		Tags:          c.Tags,
		Labels:        c.Labels,
		GeneratorURL:  c.GeneratorURL,
		StartedAt:     c.StartedAt,
		MatchType:     MatchNone,
		SourceAStatus: c.SourceAStatus,
	}
}
