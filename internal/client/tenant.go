// JSM cloud id 관리
// 기동 시 JSM_CLOUD_ID 또는 {JIRA_URL}/_edge/tenant_info 조회로 결정하고
// 명시적인 실패(값 없음, alerts 목록 404) 이후에만 다시 조회

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Tenant - 프로세스 범위의 JSM cloud id
type Tenant struct {
	tenantURL string
	authz     string
	http      *RateLimitedClient
	logger    *zap.Logger

	mu      sync.RWMutex
	cloudID string
	group   singleflight.Group
}

type tenantInfo struct {
	CloudID string `json:"cloudId"`
}

// NewTenant 객체 생성 (cloudID가 비어 있으면 첫 Resolve에서 조회)
func NewTenant(tenantURL, cloudID, authz string, rc *RateLimitedClient, logger *zap.Logger) *Tenant {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tenant{
		tenantURL: strings.TrimRight(tenantURL, "/"),
		authz:     authz,
		http:      rc,
		logger:    logger,
		cloudID:   strings.TrimSpace(cloudID),
	}
}

// CloudID - 현재 값 (없으면 빈 문자열)
func (t *Tenant) CloudID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cloudID
}

// Resolve - 캐시된 cloud id 반환, 없으면 조회
func (t *Tenant) Resolve(ctx context.Context) (string, error) {
	if id := t.CloudID(); id != "" {
		return id, nil
	}
	return t.discover(ctx)
}

// Invalidate - stale 값이 현재 값과 같을 때만 비움
// 다른 goroutine이 이미 다시 조회한 값은 유지
func (t *Tenant) Invalidate(stale string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cloudID == stale {
		t.cloudID = ""
	}
}

// discover - 동시 조회는 singleflight로 하나로 합침
func (t *Tenant) discover(ctx context.Context) (string, error) {
	v, err, _ := t.group.Do("cloud-id", func() (any, error) {
		if id := t.CloudID(); id != "" {
			return id, nil
		}
		id, err := t.fetch(ctx)
		if err != nil {
			return "", err
		}
		t.mu.Lock()
		t.cloudID = id
		t.mu.Unlock()
		t.logger.Info("discovered JSM cloud id", zap.String("cloud_id", id))
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (t *Tenant) fetch(ctx context.Context) (string, error) {
	if t.tenantURL == "" {
		return "", fmt.Errorf("JIRA_URL is required to discover the JSM cloud id")
	}
	url := t.tenantURL + "/_edge/tenant_info"
	body, err := t.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if t.authz != "" {
			req.Header.Set("Authorization", t.authz)
		}
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch tenant info: %w", err)
	}

	var info tenantInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return "", &ValidationError{Upstream: t.http.Upstream(), Reason: fmt.Sprintf("tenant info: %v", err)}
	}
	id := strings.TrimSpace(info.CloudID)
	if id == "" {
		return "", &ValidationError{Upstream: t.http.Upstream(), Reason: "tenant info has no cloudId"}
	}
	return id, nil
}
