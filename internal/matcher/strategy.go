package matcher

import "github.com/kube-rca/alertsync/internal/model"

// 전략별 점수 범위
const (
	aliasScore = 95

	tagFloor      = 70
	tagSpan       = 20
	tagNameWeight = 0.5
	tagSideWeight = 0.25

	contentFloor    = 70
	contentSpan     = 15
	contentMinRatio = 0.4

	timeCeiling = 70
	timeSpan    = 20
)

// alertSide - 매칭 패스 동안 재사용하는 A 레코드 파생 값
type alertSide struct {
	record   model.AlertRecord
	identity Identity
	fp       string
	fpNoSev  string
	tokens   map[string]struct{}
}

// incidentSide - 매칭 패스 동안 재사용하는 B 레코드 파생 값
type incidentSide struct {
	alert    model.IncidentAlert
	identity Identity
	fp       string
	fpNoSev  string
	tokens   map[string]struct{}
	// severity - 태그, 없으면 priority 매핑 (time proximity 전용)
	severity string
}

func newAlertSide(r model.AlertRecord) alertSide {
	id := RecordIdentity(r).Normalize()
	return alertSide{
		record:   r,
		identity: id,
		fp:       Fingerprint(id),
		fpNoSev:  fingerprintWithoutSeverity(id),
		tokens:   tokenSet(r.Summary, r.Description),
	}
}

func newIncidentSide(b model.IncidentAlert) incidentSide {
	id := IncidentIdentity(b).Normalize()
	return incidentSide{
		alert:    b,
		identity: id,
		fp:       Fingerprint(id),
		fpNoSev:  fingerprintWithoutSeverity(id),
		tokens:   tokenSet(b.Message, b.Description),
		severity: normalizeField(b.Severity()),
	}
}

// strategy - 페어에 대해 점수를 제안하거나(ok=true) 제안하지 않음
type strategy struct {
	kind    model.MatchType
	propose func(a *alertSide, b *incidentSide, cfg Config) (float64, bool)
}

// 우선순위 순서 (첫 번째로 제안한 전략이 페어의 type/score 결정)
var strategies = []strategy{
	{model.MatchAlias, proposeAlias},
	{model.MatchTag, proposeTag},
	{model.MatchContentSimilarity, proposeContent},
	{model.MatchTimeProximity, proposeTime},
}

// proposeAlias - fingerprint 일치 또는 B alias 필드가 A fingerprint와 일치
func proposeAlias(a *alertSide, b *incidentSide, _ Config) (float64, bool) {
	if b.alert.Alias != "" && b.alert.Alias == a.fp {
		return aliasScore, true
	}
	if a.identity.AlertName == "" || b.identity.AlertName == "" {
		return 0, false
	}
	if b.identity.Severity == "" {
		if a.fpNoSev == b.fpNoSev {
			return aliasScore, true
		}
		return 0, false
	}
	if a.fp == b.fp {
		return aliasScore, true
	}
	return 0, false
}

// proposeTag - alertname(필수) 0.5, cluster 0.25, instance 0.25 가중치
func proposeTag(a *alertSide, b *incidentSide, _ Config) (float64, bool) {
	if a.identity.AlertName == "" || a.identity.AlertName != b.identity.AlertName {
		return 0, false
	}
	weight := tagNameWeight
	if a.identity.Cluster != "" && a.identity.Cluster == b.identity.Cluster {
		weight += tagSideWeight
	}
	if a.identity.Instance != "" && a.identity.Instance == b.identity.Instance {
		weight += tagSideWeight
	}
	return tagFloor + tagSpan*(weight-tagNameWeight)/tagNameWeight, true
}

// proposeContent - 토큰 집합 Jaccard 비율이 최소값 이상일 때만
func proposeContent(a *alertSide, b *incidentSide, _ Config) (float64, bool) {
	ratio := jaccard(a.tokens, b.tokens)
	if ratio < contentMinRatio {
		return 0, false
	}
	return contentFloor + contentSpan*(ratio-contentMinRatio)/(1-contentMinRatio), true
}

// proposeTime - 같은 severity, 윈도우 안에서 선형 감소 (70 → 50)
func proposeTime(a *alertSide, b *incidentSide, cfg Config) (float64, bool) {
	if cfg.TimeWindow <= 0 || a.identity.Severity == "" || a.identity.Severity != b.severity {
		return 0, false
	}
	if a.record.StartedAt.IsZero() || b.alert.CreatedAt.IsZero() {
		return 0, false
	}
	delta := a.record.StartedAt.Sub(b.alert.CreatedAt)
	if delta < 0 {
		delta = -delta
	}
	if delta > cfg.TimeWindow {
		return 0, false
	}
	return timeCeiling - timeSpan*float64(delta)/float64(cfg.TimeWindow), true
}

// evaluate - 우선순위대로 전략을 적용해 첫 제안을 반환
func evaluate(a *alertSide, b *incidentSide, cfg Config) (model.MatchType, float64, bool) {
	for _, s := range strategies {
		if score, ok := s.propose(a, b, cfg); ok {
			return s.kind, clampScore(score), true
		}
	}
	return model.MatchNone, 0, false
}

