// Package matcher correlates local monitoring records with incident alerts.
//
// Match is a pure function: it never mutates its inputs and identical
// inputs always yield identical candidates.
package matcher

import (
	"math"
	"sort"
	"time"

	"github.com/kube-rca/alertsync/internal/config"
	"github.com/kube-rca/alertsync/internal/model"
)

// Config - 수락 기준과 time proximity 윈도우
type Config struct {
	BaseThreshold float64
	HighThreshold float64
	TimeWindow    time.Duration
}

// DefaultConfig - 기본값 (70 / 85 / 15분)
func DefaultConfig() Config {
	return Config{
		BaseThreshold: 70,
		HighThreshold: 85,
		TimeWindow:    15 * time.Minute,
	}
}

// ConfigFrom - 환경 설정에서 생성
func ConfigFrom(cfg config.MatchConfig) Config {
	return Config{
		BaseThreshold: cfg.BaseThreshold,
		HighThreshold: cfg.HighThreshold,
		TimeWindow:    cfg.TimeWindow,
	}
}

// proposal - 수락 기준을 통과한 페어
type proposal struct {
	a     *alertSide
	b     *incidentSide
	kind  model.MatchType
	score float64
}

// Match - 매칭되지 않은 A 레코드와 B 레코드를 1:1로 연결
//
// 이미 매칭된 레코드(match_type != none)는 무시
// 각 페어는 우선순위가 가장 높은 전략 하나로만 평가하고,
// 수락된 제안 전체를 (score desc, B created asc, B id asc, A source id asc)로 정렬해
// 이미 사용된 A/B는 건너뛰며 탐욕적으로 선택
func Match(alerts []model.AlertRecord, incidents []model.IncidentAlert, cfg Config) []model.MatchCandidate {
	as := make([]alertSide, 0, len(alerts))
	for _, r := range alerts {
		if r.MatchType != model.MatchNone && r.MatchType != "" {
			continue
		}
		if r.SourceBID != nil && *r.SourceBID != "" {
			continue
		}
		as = append(as, newAlertSide(r))
	}
	bs := make([]incidentSide, 0, len(incidents))
	for _, b := range incidents {
		if b.ID == "" {
			continue
		}
		bs = append(bs, newIncidentSide(b))
	}

	var proposals []proposal
	for i := range as {
		for j := range bs {
			kind, score, ok := evaluate(&as[i], &bs[j], cfg)
			if !ok || score < cfg.BaseThreshold {
				continue
			}
			proposals = append(proposals, proposal{a: &as[i], b: &bs[j], kind: kind, score: score})
		}
	}

	sort.SliceStable(proposals, func(i, j int) bool {
		pi, pj := proposals[i], proposals[j]
		if pi.score != pj.score {
			return pi.score > pj.score
		}
		if !pi.b.alert.CreatedAt.Equal(pj.b.alert.CreatedAt) {
			return pi.b.alert.CreatedAt.Before(pj.b.alert.CreatedAt)
		}
		if pi.b.alert.ID != pj.b.alert.ID {
			return pi.b.alert.ID < pj.b.alert.ID
		}
		return pi.a.record.SourceAID < pj.a.record.SourceAID
	})

	usedA := make(map[string]struct{})
	usedB := make(map[string]struct{})
	candidates := make([]model.MatchCandidate, 0)
	for _, p := range proposals {
		aKey := p.a.record.SourceAID
		if _, ok := usedA[aKey]; ok {
			continue
		}
		if _, ok := usedB[p.b.alert.ID]; ok {
			continue
		}
		usedA[aKey] = struct{}{}
		usedB[p.b.alert.ID] = struct{}{}
		candidates = append(candidates, model.MatchCandidate{
			AlertID:       p.a.record.ID,
			SourceAID:     p.a.record.SourceAID,
			SourceBID:     p.b.alert.ID,
			SourceBTinyID: p.b.alert.TinyID,
			Type:          p.kind,
			Score:         p.score,
			LowCertainty:  p.score < cfg.HighThreshold,
		})
	}
	return candidates
}

// clampScore - [0,100] 범위, 소수 둘째 자리 반올림
func clampScore(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 100 {
		score = 100
	}
	return math.Round(score*100) / 100
}
