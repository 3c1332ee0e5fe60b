// Upstream B: Jira Service Management Ops API 클라이언트
//
// 환경변수:
//   - JIRA_URL: tenant URL (cloud id 조회)
//   - JIRA_USER_EMAIL, JIRA_API_TOKEN: Basic 인증
//   - JSM_API_BASE_URL: Ops API base (기본값 https://api.atlassian.com/jsm/ops/api)
//   - JSM_ALERTS_LIMIT: 사이클당 조회할 최대 알림 수

package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/kube-rca/alertsync/internal/model"
)

const jsmPageSize = 100

// IncidentClient - JSM alert 조회 및 상태 전이
type IncidentClient struct {
	baseURL string
	authz   string
	limit   int
	tenant  *Tenant
	http    *RateLimitedClient
	logger  *zap.Logger
}

type jsmListResponse struct {
	Values []json.RawMessage `json:"values"`
	Count  int               `json:"count"`
}

type jsmActionRequest struct {
	User string `json:"user,omitempty"`
	Note string `json:"note,omitempty"`
}

// BasicAuth - JSM Basic 인증 헤더 값
func BasicAuth(email, token string) string {
	if email == "" && token == "" {
		return ""
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(email+":"+token))
}

// NewIncidentClient 객체 생성
func NewIncidentClient(baseURL, authz string, limit int, tenant *Tenant, rc *RateLimitedClient, logger *zap.Logger) *IncidentClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = 500
	}
	return &IncidentClient{
		baseURL: baseURL,
		authz:   authz,
		limit:   limit,
		tenant:  tenant,
		http:    rc,
		logger:  logger,
	}
}

// Tenant - cloud id 보관 객체
func (c *IncidentClient) Tenant() *Tenant { return c.tenant }

// ListAlerts - 최근 알림을 createdAt 내림차순으로 limit 개까지 조회
// 목록 조회가 404면 cloud id를 다시 조회한 뒤 한 번 더 시도
func (c *IncidentClient) ListAlerts(ctx context.Context) ([]model.IncidentAlert, int, error) {
	alerts, skipped, err := c.listAlerts(ctx)
	if err != nil && errors.Is(err, ErrNotFound) {
		c.logger.Warn("JSM alerts list returned 404, re-discovering cloud id")
		c.tenant.Invalidate(c.tenant.CloudID())
		alerts, skipped, err = c.listAlerts(ctx)
	}
	return alerts, skipped, err
}

func (c *IncidentClient) listAlerts(ctx context.Context) ([]model.IncidentAlert, int, error) {
	cloudID, err := c.tenant.Resolve(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to resolve JSM cloud id: %w", err)
	}

	var (
		alerts  []model.IncidentAlert
		skipped int
		seen    = make(map[string]struct{})
	)
	for offset := 0; offset < c.limit; offset += jsmPageSize {
		size := jsmPageSize
		if remaining := c.limit - offset; remaining < size {
			size = remaining
		}
		params := url.Values{}
		params.Set("limit", strconv.Itoa(size))
		params.Set("offset", strconv.Itoa(offset))
		params.Set("sort", "createdAt")
		params.Set("order", "desc")
		endpoint := c.alertsURL(cloudID) + "?" + params.Encode()

		body, err := c.http.Do(ctx, c.request(http.MethodGet, endpoint, nil))
		if err != nil {
			return nil, 0, fmt.Errorf("failed to fetch JSM alerts: %w", err)
		}

		var page jsmListResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, 0, &ValidationError{Upstream: c.http.Upstream(), Reason: fmt.Sprintf("alerts response: %v", err)}
		}
		for _, item := range page.Values {
			alert, err := decodeIncidentAlert(item)
			if err != nil {
				skipped++
				c.logger.Warn("skipping invalid JSM alert", zap.Error(err))
				continue
			}
			if _, dup := seen[alert.ID]; dup {
				continue
			}
			seen[alert.ID] = struct{}{}
			alerts = append(alerts, alert)
		}
		if len(page.Values) < size {
			break
		}
	}

	c.logger.Debug("fetched JSM alerts", zap.Int("count", len(alerts)), zap.Int("skipped", skipped))
	return alerts, skipped, nil
}

// GetAlert - 단건 조회 (없으면 ErrNotFound)
func (c *IncidentClient) GetAlert(ctx context.Context, id string) (*model.IncidentAlert, error) {
	cloudID, err := c.tenant.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve JSM cloud id: %w", err)
	}
	body, err := c.http.Do(ctx, c.request(http.MethodGet, c.alertsURL(cloudID)+"/"+url.PathEscape(id), nil))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JSM alert %s: %w", id, err)
	}
	alert, err := decodeIncidentAlert(body)
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// Acknowledge - open → acknowledged
func (c *IncidentClient) Acknowledge(ctx context.Context, id, user, note string) error {
	return c.transition(ctx, id, "acknowledge", user, note)
}

// Close - open/acknowledged → closed
func (c *IncidentClient) Close(ctx context.Context, id, user, note string) error {
	return c.transition(ctx, id, "close", user, note)
}

func (c *IncidentClient) transition(ctx context.Context, id, action, user, note string) error {
	cloudID, err := c.tenant.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve JSM cloud id: %w", err)
	}
	payload, err := json.Marshal(jsmActionRequest{User: user, Note: note})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", action, err)
	}
	endpoint := c.alertsURL(cloudID) + "/" + url.PathEscape(id) + "/" + action
	if _, err := c.http.Do(ctx, c.request(http.MethodPost, endpoint, payload)); err != nil {
		return fmt.Errorf("failed to %s JSM alert %s: %w", action, id, err)
	}
	c.logger.Info("JSM alert transitioned", zap.String("jsm_id", id), zap.String("action", action))
	return nil
}

func (c *IncidentClient) alertsURL(cloudID string) string {
	return c.baseURL + "/" + url.PathEscape(cloudID) + "/v1/alerts"
}

// request - 시도마다 body를 새로 감싸는 RequestFactory
func (c *IncidentClient) request(method, endpoint string, payload []byte) RequestFactory {
	return func(ctx context.Context) (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.authz != "" {
			req.Header.Set("Authorization", c.authz)
		}
		return req, nil
	}
}

func decodeIncidentAlert(raw []byte) (model.IncidentAlert, error) {
	var alert model.IncidentAlert
	if err := json.Unmarshal(raw, &alert); err != nil {
		return alert, &ValidationError{Upstream: "jsm", Reason: err.Error()}
	}
	if alert.ID == "" {
		return alert, &ValidationError{Upstream: "jsm", Reason: "alert has no id"}
	}
	if alert.CreatedAt.IsZero() {
		return alert, &ValidationError{Upstream: "jsm", RecordID: alert.ID, Reason: "alert has no createdAt"}
	}
	return alert, nil
}
