// Upstream API에서 가져온 원본 레코드 구조체 정의
//   - MonitoringAlert: Grafana Alertmanager 호환 API (/api/v2/alerts) 의 gettable alert
//   - IncidentAlert: JSM Ops API (/v1/alerts) 의 alert

package model

import (
	"sort"
	"strings"
	"time"

	pmodel "github.com/prometheus/common/model"
)

// MonitoringAlert - Upstream A 알림
type MonitoringAlert struct {
	Fingerprint  string          `json:"fingerprint"`
	Labels       pmodel.LabelSet `json:"labels"`
	Annotations  pmodel.LabelSet `json:"annotations"`
	StartsAt     time.Time       `json:"startsAt"`
	EndsAt       time.Time       `json:"endsAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	GeneratorURL string          `json:"generatorURL"`
	Status       struct {
		State string `json:"state"`
	} `json:"status"`
}

// MonitoringFetch - Upstream A 조회 결과
type MonitoringFetch struct {
	Alerts  []MonitoringAlert
	Skipped int
	// SkippedIDs - 검증에 실패했지만 source_a_id는 알 수 있는 레코드 (resolve 대상에서 제외)
	SkippedIDs []string
}

func (a MonitoringAlert) label(name string) string {
	return strings.TrimSpace(string(a.Labels[pmodel.LabelName(name)]))
}

func (a MonitoringAlert) annotation(name string) string {
	return strings.TrimSpace(string(a.Annotations[pmodel.LabelName(name)]))
}

// ID - source_a_id (fingerprint가 없으면 label set으로 계산)
func (a MonitoringAlert) ID() string {
	if fp := strings.TrimSpace(a.Fingerprint); fp != "" {
		return fp
	}
	if len(a.Labels) == 0 {
		return ""
	}
	return a.Labels.Fingerprint().String()
}

func (a MonitoringAlert) AlertName() string {
	return a.label(string(pmodel.AlertNameLabel))
}

func (a MonitoringAlert) Cluster() string {
	return a.label("cluster")
}

// Instance - instance 라벨, 없으면 pod 라벨
func (a MonitoringAlert) Instance() string {
	if v := a.label("instance"); v != "" {
		return v
	}
	return a.label("pod")
}

func (a MonitoringAlert) Severity() string {
	return a.label("severity")
}

// Environment - env 또는 environment 라벨
func (a MonitoringAlert) Environment() string {
	if v := a.label("env"); v != "" {
		return v
	}
	return a.label("environment")
}

func (a MonitoringAlert) Summary() string {
	return a.annotation("summary")
}

func (a MonitoringAlert) Description() string {
	return a.annotation("description")
}

// Tags - 라벨을 key:value 형태로 정렬한 목록
func (a MonitoringAlert) Tags() []string {
	tags := make([]string, 0, len(a.Labels))
	for k, v := range a.Labels {
		tags = append(tags, string(k)+":"+string(v))
	}
	sort.Strings(tags)
	return tags
}

// LabelMap - DB 저장용 map 변환
func (a MonitoringAlert) LabelMap() map[string]string {
	out := make(map[string]string, len(a.Labels))
	for k, v := range a.Labels {
		out[string(k)] = string(v)
	}
	return out
}

// IncidentAlert - Upstream B 알림
type IncidentAlert struct {
	ID              string    `json:"id"`
	TinyID          string    `json:"tinyId"`
	Alias           string    `json:"alias"`
	Message         string    `json:"message"`
	Description     string    `json:"description"`
	Status          string    `json:"status"`
	Acknowledged    bool      `json:"acknowledged"`
	Tags            []string  `json:"tags"`
	Priority        string    `json:"priority"`
	Owner           string    `json:"owner"`
	Source          string    `json:"source"`
	IntegrationName string    `json:"integrationName"`
	Count           int       `json:"count"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TagValue - "key:value" 형식 태그에서 값 조회 (key는 대소문자 무시)
func (a IncidentAlert) TagValue(key string) string {
	for _, tag := range a.Tags {
		k, v, ok := strings.Cut(tag, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Instance - instance 태그, 없으면 pod 태그
func (a IncidentAlert) Instance() string {
	if v := a.TagValue("instance"); v != "" {
		return v
	}
	return a.TagValue("pod")
}

// Severity - severity 태그, 없으면 priority 매핑
func (a IncidentAlert) Severity() string {
	if v := a.TagValue("severity"); v != "" {
		return v
	}
	return SeverityFromPriority(a.Priority)
}

// Environment - env 또는 environment 태그
func (a IncidentAlert) Environment() string {
	if v := a.TagValue("env"); v != "" {
		return v
	}
	return a.TagValue("environment")
}

// NormalizedStatus - JSM 상태(open/closed + acknowledged)를 로컬 B 상태로 변환
func (a IncidentAlert) NormalizedStatus() string {
	if strings.EqualFold(a.Status, "closed") {
		return SourceBClosed
	}
	if a.Acknowledged || strings.EqualFold(a.Status, "acked") || strings.EqualFold(a.Status, SourceBAcknowledged) {
		return SourceBAcknowledged
	}
	return SourceBOpen
}

// SeverityFromPriority - JSM priority(P1~P5) → severity
func SeverityFromPriority(priority string) string {
	switch strings.ToUpper(strings.TrimSpace(priority)) {
	case "P1", "P2":
		return "critical"
	case "P3":
		return "warning"
	case "P4", "P5":
		return "info"
	}
	return ""
}
