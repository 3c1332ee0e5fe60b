package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kube-rca/alertsync/internal/config"
	"github.com/kube-rca/alertsync/internal/db"
	"github.com/kube-rca/alertsync/internal/model"
	"github.com/kube-rca/alertsync/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCycles struct {
	result model.CycleResult
	last   *model.CycleResult
	runs   []model.Trigger
}

func (f *fakeCycles) Run(ctx context.Context, trigger model.Trigger) model.CycleResult {
	f.runs = append(f.runs, trigger)
	r := f.result
	r.Trigger = trigger
	return r
}

func (f *fakeCycles) LastResult(ctx context.Context) (*model.CycleResult, error) {
	if f.last == nil {
		return nil, db.ErrNotFound
	}
	return f.last, nil
}

type actionCall struct {
	action model.Action
	ids    []string
	actor  string
	note   string
}

type fakeActions struct {
	calls []actionCall
}

func (f *fakeActions) Acknowledge(ctx context.Context, ids []string, actor, note string) model.ActionResponse {
	return f.record(model.ActionAcknowledge, ids, actor, note)
}

func (f *fakeActions) Resolve(ctx context.Context, ids []string, actor, note string) model.ActionResponse {
	return f.record(model.ActionResolve, ids, actor, note)
}

func (f *fakeActions) record(action model.Action, ids []string, actor, note string) model.ActionResponse {
	f.calls = append(f.calls, actionCall{action: action, ids: ids, actor: actor, note: note})
	resp := model.ActionResponse{Status: "success"}
	for _, id := range ids {
		resp.Results = append(resp.Results, model.ActionResult{AlertID: id, Action: action, Status: model.ActionApplied})
		resp.Succeeded++
	}
	return resp
}

type fakeScheduler struct{ state string }

func (f fakeScheduler) State() string { return f.state }

type fakeTenant struct{ id string }

func (f fakeTenant) CloudID() string { return f.id }

func newTestRouter(t *testing.T, auth config.AuthConfig, cycles *fakeCycles, actions *fakeActions) *gin.Engine {
	t.Helper()
	authSvc, err := service.NewAuthService(auth)
	require.NoError(t, err)
	return NewRouter(Dependencies{
		Auth:           authSvc,
		Health:         NewHealthHandler(fakeScheduler{state: "running"}, cycles, fakeTenant{id: "cloud-1"}),
		Sync:           NewSyncHandler(cycles),
		Actions:        NewActionHandler(actions),
		AllowedOrigins: []string{"http://localhost:3000"},
	})
}

func do(router http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPingAndRoot(t *testing.T) {
	router := newTestRouter(t, config.AuthConfig{}, &fakeCycles{}, &fakeActions{})

	w := do(router, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())

	w = do(router, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestHealth(t *testing.T) {
	last := &model.CycleResult{ID: "c-1", Trigger: model.TriggerIncident, Outcome: model.OutcomePartial}
	router := newTestRouter(t, config.AuthConfig{}, &fakeCycles{last: last}, &fakeActions{})

	w := do(router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "running", resp.Scheduler)
	assert.Equal(t, "cloud-1", resp.CloudID)
	require.NotNil(t, resp.LastCycle)
	assert.Equal(t, "c-1", resp.LastCycle.ID)
}

func TestTriggerSync(t *testing.T) {
	tests := []struct {
		name     string
		outcome  model.Outcome
		wantCode int
		wantStat string
	}{
		{name: "success", outcome: model.OutcomeSuccess, wantCode: http.StatusOK, wantStat: "success"},
		{name: "partial", outcome: model.OutcomePartial, wantCode: http.StatusOK, wantStat: "partial"},
		{name: "skipped", outcome: model.OutcomeSkipped, wantCode: http.StatusConflict, wantStat: "skipped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cycles := &fakeCycles{result: model.CycleResult{ID: "c-1", Outcome: tt.outcome}}
			router := newTestRouter(t, config.AuthConfig{}, cycles, &fakeActions{})

			w := do(router, http.MethodPost, "/api/v1/sync", "", nil)

			assert.Equal(t, tt.wantCode, w.Code)
			var resp model.SyncResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStat, resp.Status)
			assert.Equal(t, model.TriggerManual, resp.Data.Trigger)
			assert.Equal(t, []model.Trigger{model.TriggerManual}, cycles.runs)
		})
	}
}

func TestLastSync(t *testing.T) {
	router := newTestRouter(t, config.AuthConfig{}, &fakeCycles{}, &fakeActions{})
	w := do(router, http.MethodGet, "/api/v1/sync/last", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	last := &model.CycleResult{ID: "c-9", Outcome: model.OutcomeSuccess, StartedAt: time.Unix(0, 0).UTC()}
	router = newTestRouter(t, config.AuthConfig{}, &fakeCycles{last: last}, &fakeActions{})
	w = do(router, http.MethodGet, "/api/v1/sync/last", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"c-9"`)
}

func TestActions(t *testing.T) {
	actions := &fakeActions{}
	router := newTestRouter(t, config.AuthConfig{}, &fakeCycles{}, actions)

	w := do(router, http.MethodPost, "/api/v1/alerts/acknowledge", `{"alert_ids":["r-1","r-2"],"note":"on it","actor":"alice"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp model.ActionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Succeeded)

	w = do(router, http.MethodPost, "/api/v1/alerts/resolve", `{"alert_ids":["r-3"]}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, actions.calls, 2)
	assert.Equal(t, actionCall{action: model.ActionAcknowledge, ids: []string{"r-1", "r-2"}, actor: "alice", note: "on it"}, actions.calls[0])
	assert.Equal(t, actionCall{action: model.ActionResolve, ids: []string{"r-3"}}, actions.calls[1])
}

func TestActionsRejectInvalidBody(t *testing.T) {
	actions := &fakeActions{}
	router := newTestRouter(t, config.AuthConfig{}, &fakeCycles{}, actions)

	for _, body := range []string{`{"alert_ids":[]}`, `{}`, `not json`} {
		w := do(router, http.MethodPost, "/api/v1/alerts/resolve", body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Empty(t, actions.calls)
}

func TestAuthMiddleware(t *testing.T) {
	auth := config.AuthConfig{Enabled: true, JWTSecret: "secret"}
	actions := &fakeActions{}
	router := newTestRouter(t, auth, &fakeCycles{}, actions)

	w := do(router, http.MethodPost, "/api/v1/alerts/acknowledge", `{"alert_ids":["r-1"]}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(router, http.MethodPost, "/api/v1/alerts/acknowledge", `{"alert_ids":["r-1"]}`,
		map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 공개 엔드포인트는 토큰 없이 접근 가능
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/ping", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/health", "", nil).Code)

	svc, err := service.NewAuthService(auth)
	require.NoError(t, err)
	token, err := svc.IssueAccessToken("oncall", time.Minute)
	require.NoError(t, err)

	w = do(router, http.MethodPost, "/api/v1/alerts/acknowledge", `{"alert_ids":["r-1"]}`,
		map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, actions.calls, 1)
	assert.Equal(t, "oncall", actions.calls[0].actor)

	// scheme 대소문자 무시, 본문 actor가 토큰 loginId보다 우선
	w = do(router, http.MethodPost, "/api/v1/alerts/resolve", `{"alert_ids":["r-1"],"actor":"alice"}`,
		map[string]string{"Authorization": "bearer " + token})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, actions.calls, 2)
	assert.Equal(t, "alice", actions.calls[1].actor)
}

func TestAuthMiddlewareRejection(t *testing.T) {
	router := newTestRouter(t, config.AuthConfig{Enabled: true, JWTSecret: "secret"}, &fakeCycles{}, &fakeActions{})

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "missing", header: "", want: "missing bearer token"},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz", want: "missing bearer token"},
		{name: "empty token", header: "Bearer   ", want: "missing bearer token"},
		{name: "invalid token", header: "Bearer not-a-jwt", want: "invalid access token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/api/v1/sync", "", map[string]string{"Authorization": tt.header})
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, `Bearer realm="alertsync"`, w.Header().Get("WWW-Authenticate"))
			assert.JSONEq(t, `{"error":"`+tt.want+`"}`, w.Body.String())
		})
	}
}

func TestActorWithoutAuthFallsBackToService(t *testing.T) {
	actions := &fakeActions{}
	router := newTestRouter(t, config.AuthConfig{}, &fakeCycles{}, actions)

	w := do(router, http.MethodPost, "/api/v1/alerts/acknowledge", `{"alert_ids":["r-1"],"actor":"  "}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, actions.calls, 1)
	assert.Empty(t, actions.calls[0].actor)
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(t, config.AuthConfig{Enabled: true, JWTSecret: "secret"}, &fakeCycles{}, &fakeActions{})

	w := do(router, http.MethodOptions, "/api/v1/sync", "", map[string]string{"Origin": "http://localhost:3000"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(router, http.MethodOptions, "/api/v1/sync", "", map[string]string{"Origin": "http://evil.example"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcard(t *testing.T) {
	router := NewRouter(Dependencies{AllowedOrigins: []string{"*"}})

	w := do(router, http.MethodOptions, "/ping", "", map[string]string{"Origin": "http://any.example"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://any.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
}

func TestOpenAPIAndMetrics(t *testing.T) {
	router := newTestRouter(t, config.AuthConfig{}, &fakeCycles{}, &fakeActions{})

	w := do(router, http.MethodGet, "/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/api/v1/sync")
	assert.Contains(t, paths, "/api/v1/alerts/resolve")

	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	w = do(router, http.MethodGet, "/openapi.json", "", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, w.Code)

	w = do(router, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "go_goroutines"))
}
