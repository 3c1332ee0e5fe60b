// Upstream A: Grafana Alertmanager 호환 API 클라이언트
//
// 환경변수:
//   - GRAFANA_API_URL: Grafana 주소 (예: https://grafana.example.com)
//   - GRAFANA_API_KEY: Service account token

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/kube-rca/alertsync/internal/model"
)

const grafanaAlertsPath = "/api/alertmanager/grafana/api/v2/alerts"

// MonitoringClient - 활성 알림 조회
type MonitoringClient struct {
	baseURL string
	apiKey  string
	http    *RateLimitedClient
	logger  *zap.Logger
}

// NewMonitoringClient 객체 생성
func NewMonitoringClient(baseURL, apiKey string, rc *RateLimitedClient, logger *zap.Logger) *MonitoringClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonitoringClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    rc,
		logger:  logger,
	}
}

// FetchAlerts - 활성 알림 전체 조회
// 형식이 잘못된 레코드는 건너뛰고 skipped로 집계 (식별 가능하면 SkippedIDs에 기록)
func (c *MonitoringClient) FetchAlerts(ctx context.Context) (model.MonitoringFetch, error) {
	url := c.baseURL + grafanaAlertsPath + "?active=true"
	body, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		return req, nil
	})
	if err != nil {
		return model.MonitoringFetch{}, fmt.Errorf("failed to fetch grafana alerts: %w", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return model.MonitoringFetch{}, &ValidationError{Upstream: c.http.Upstream(), Reason: fmt.Sprintf("alerts response: %v", err)}
	}

	out := model.MonitoringFetch{Alerts: make([]model.MonitoringAlert, 0, len(raw))}
	seen := make(map[string]struct{}, len(raw))
	for _, item := range raw {
		alert, err := decodeMonitoringAlert(item)
		if err != nil {
			out.Skipped++
			id := recoverAlertID(item)
			if id != "" {
				out.SkippedIDs = append(out.SkippedIDs, id)
			}
			c.logger.Warn("skipping invalid grafana alert", zap.String("source_a_id", id), zap.Error(err))
			continue
		}
		if _, dup := seen[alert.ID()]; dup {
			continue
		}
		seen[alert.ID()] = struct{}{}
		out.Alerts = append(out.Alerts, alert)
	}

	c.logger.Debug("fetched grafana alerts", zap.Int("count", len(out.Alerts)), zap.Int("skipped", out.Skipped))
	return out, nil
}

// recoverAlertID - 디코딩에 실패한 레코드에서 fingerprint 또는 labels만 다시 읽음
func recoverAlertID(raw json.RawMessage) string {
	var partial struct {
		Fingerprint string          `json:"fingerprint"`
		Labels      json.RawMessage `json:"labels"`
	}
	if err := json.Unmarshal(raw, &partial); err != nil {
		return ""
	}
	alert := model.MonitoringAlert{Fingerprint: partial.Fingerprint}
	if alert.ID() == "" && len(partial.Labels) > 0 {
		_ = json.Unmarshal(partial.Labels, &alert.Labels)
	}
	return alert.ID()
}

func decodeMonitoringAlert(raw json.RawMessage) (model.MonitoringAlert, error) {
	var alert model.MonitoringAlert
	if err := json.Unmarshal(raw, &alert); err != nil {
		return alert, &ValidationError{Upstream: "grafana", Reason: err.Error()}
	}
	if alert.ID() == "" {
		return alert, &ValidationError{Upstream: "grafana", Reason: "alert has no fingerprint or labels"}
	}
	if alert.AlertName() == "" {
		return alert, &ValidationError{Upstream: "grafana", RecordID: alert.ID(), Reason: "alert has no alertname label"}
	}
	if alert.StartsAt.IsZero() {
		return alert, &ValidationError{Upstream: "grafana", RecordID: alert.ID(), Reason: "alert has no startsAt"}
	}
	return alert, nil
}
