// Package filter drops non-production records before matching.
package filter

import (
	"strings"

	"github.com/kube-rca/alertsync/internal/config"
	"github.com/kube-rca/alertsync/internal/model"
)

// Stage - 비운영 환경 알림 제외 규칙
type Stage struct {
	Enabled              bool
	ExcludedClusters     []string
	ExcludedEnvironments []string
	ClusterSubstrings    []string
}

// New - FilterConfig로 Stage 생성
func New(cfg config.FilterConfig) Stage {
	return Stage{
		Enabled:              cfg.Enabled,
		ExcludedClusters:     normalize(cfg.ExcludedClusters),
		ExcludedEnvironments: normalize(cfg.ExcludedEnvironments),
		ClusterSubstrings:    normalize(cfg.ClusterSubstrings),
	}
}

// FilterMonitoring - 제외 대상이 아닌 A 레코드와 제외된 개수 반환
func (s Stage) FilterMonitoring(alerts []model.MonitoringAlert) ([]model.MonitoringAlert, int) {
	if !s.Enabled {
		return alerts, 0
	}
	kept := make([]model.MonitoringAlert, 0, len(alerts))
	for _, a := range alerts {
		if s.excluded(a.Cluster(), a.Environment()) {
			continue
		}
		kept = append(kept, a)
	}
	return kept, len(alerts) - len(kept)
}

// FilterIncidents - 제외 대상이 아닌 B 레코드와 제외된 개수 반환
func (s Stage) FilterIncidents(alerts []model.IncidentAlert) ([]model.IncidentAlert, int) {
	if !s.Enabled {
		return alerts, 0
	}
	kept := make([]model.IncidentAlert, 0, len(alerts))
	for _, a := range alerts {
		if s.excluded(a.TagValue("cluster"), a.Environment()) {
			continue
		}
		kept = append(kept, a)
	}
	return kept, len(alerts) - len(kept)
}

// Excluded - 클러스터/환경 값이 제외 대상인지 확인
func (s Stage) Excluded(cluster, env string) bool {
	return s.Enabled && s.excluded(cluster, env)
}

func (s Stage) excluded(cluster, env string) bool {
	cluster = strings.ToLower(strings.TrimSpace(cluster))
	env = strings.ToLower(strings.TrimSpace(env))

	if cluster != "" {
		if contains(s.ExcludedClusters, cluster) {
			return true
		}
		for _, sub := range s.ClusterSubstrings {
			if sub != "" && strings.Contains(cluster, sub) {
				return true
			}
		}
	}
	if env != "" && contains(s.ExcludedEnvironments, env) {
		return true
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
