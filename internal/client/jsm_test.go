package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	jsmBase    = "https://jsm.test/jsm/ops/api"
	tenantBase = "https://example.atlassian.test"
)

func jsmAlertJSON(id, tiny string) string {
	return fmt.Sprintf(`{"id":%q,"tinyId":%q,"message":"msg %s","status":"open","acknowledged":false,"tags":["cluster:prod"],"priority":"P2","createdAt":"2024-05-01T10:00:00Z"}`, id, tiny, id)
}

func jsmPage(from, n int) string {
	values := make([]json.RawMessage, 0, n)
	for i := from; i < from+n; i++ {
		values = append(values, json.RawMessage(jsmAlertJSON(fmt.Sprintf("id-%d", i), fmt.Sprint(i))))
	}
	raw, _ := json.Marshal(map[string]any{"values": values, "count": n})
	return string(raw)
}

func newTestIncidentClient(t *testing.T, cloudID string, limit int) (*IncidentClient, *httpmock.MockTransport) {
	t.Helper()
	rc, transport, _ := newTestClient(t, nil)
	authz := BasicAuth("ops@example.com", "token")
	tenant := NewTenant(tenantBase, cloudID, authz, rc, zap.NewNop())
	return NewIncidentClient(jsmBase, authz, limit, tenant, rc, zap.NewNop()), transport
}

func TestBasicAuth(t *testing.T) {
	// base64("ops@example.com:token")
	assert.Equal(t, "Basic b3BzQGV4YW1wbGUuY29tOnRva2Vu", BasicAuth("ops@example.com", "token"))
	assert.Equal(t, "", BasicAuth("", ""))
}

func TestIncidentClientListAlertsPaginates(t *testing.T) {
	c, transport := newTestIncidentClient(t, "cloud-1", 150)
	transport.RegisterResponderWithQuery(http.MethodGet, jsmBase+"/cloud-1/v1/alerts",
		map[string]string{"limit": "100", "offset": "0", "sort": "createdAt", "order": "desc"},
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Basic b3BzQGV4YW1wbGUuY29tOnRva2Vu", req.Header.Get("Authorization"))
			return httpmock.NewStringResponse(http.StatusOK, jsmPage(0, 100)), nil
		})
	transport.RegisterResponderWithQuery(http.MethodGet, jsmBase+"/cloud-1/v1/alerts",
		map[string]string{"limit": "50", "offset": "100", "sort": "createdAt", "order": "desc"},
		httpmock.NewStringResponder(http.StatusOK, jsmPage(100, 30)))

	alerts, skipped, err := c.ListAlerts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, alerts, 130)
	assert.Equal(t, "id-0", alerts[0].ID)
	assert.Equal(t, "129", alerts[129].TinyID)
	assert.Equal(t, "critical", alerts[0].Severity())
	assert.Equal(t, 2, transport.GetTotalCallCount())
}

func TestTenantDiscoveryIsCollapsed(t *testing.T) {
	c, transport := newTestIncidentClient(t, "", 10)
	transport.RegisterResponder(http.MethodGet, tenantBase+"/_edge/tenant_info",
		httpmock.NewStringResponder(http.StatusOK, `{"cloudId":"cloud-xyz"}`))

	var wg sync.WaitGroup
	ids := make([]string, 5)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := c.Tenant().Resolve(context.Background())
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, "cloud-xyz", id)
	}
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET "+tenantBase+"/_edge/tenant_info"])
}

func TestIncidentClientRediscoversCloudIDOnNotFound(t *testing.T) {
	c, transport := newTestIncidentClient(t, "stale", 10)
	transport.RegisterResponderWithQuery(http.MethodGet, jsmBase+"/stale/v1/alerts",
		map[string]string{"limit": "10", "offset": "0", "sort": "createdAt", "order": "desc"},
		httpmock.NewStringResponder(http.StatusNotFound, `{"message":"site not found"}`))
	transport.RegisterResponder(http.MethodGet, tenantBase+"/_edge/tenant_info",
		httpmock.NewStringResponder(http.StatusOK, `{"cloudId":"fresh"}`))
	transport.RegisterResponderWithQuery(http.MethodGet, jsmBase+"/fresh/v1/alerts",
		map[string]string{"limit": "10", "offset": "0", "sort": "createdAt", "order": "desc"},
		httpmock.NewStringResponder(http.StatusOK, jsmPage(0, 2)))

	alerts, _, err := c.ListAlerts(context.Background())
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
	assert.Equal(t, "fresh", c.Tenant().CloudID())
}

func TestTenantDiscoveryWithoutCloudID(t *testing.T) {
	c, transport := newTestIncidentClient(t, "", 10)
	transport.RegisterResponder(http.MethodGet, tenantBase+"/_edge/tenant_info",
		httpmock.NewStringResponder(http.StatusOK, `{}`))

	_, _, err := c.ListAlerts(context.Background())
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, c.Tenant().CloudID())
}

func TestIncidentClientGetAlert(t *testing.T) {
	c, transport := newTestIncidentClient(t, "cloud-1", 10)
	transport.RegisterResponder(http.MethodGet, jsmBase+"/cloud-1/v1/alerts/abc",
		httpmock.NewStringResponder(http.StatusOK, jsmAlertJSON("abc", "42")))
	transport.RegisterResponder(http.MethodGet, jsmBase+"/cloud-1/v1/alerts/gone",
		httpmock.NewStringResponder(http.StatusNotFound, `{}`))

	alert, err := c.GetAlert(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "42", alert.TinyID)
	assert.Equal(t, "open", alert.NormalizedStatus())

	_, err = c.GetAlert(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIncidentClientTransitions(t *testing.T) {
	c, transport := newTestIncidentClient(t, "cloud-1", 10)

	var bodies []map[string]string
	capture := func(req *http.Request) (*http.Response, error) {
		raw, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(raw, &payload))
		bodies = append(bodies, payload)
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		return httpmock.NewStringResponse(http.StatusAccepted, `{"result":"Request will be processed"}`), nil
	}
	transport.RegisterResponder(http.MethodPost, jsmBase+"/cloud-1/v1/alerts/abc/acknowledge", capture)
	transport.RegisterResponder(http.MethodPost, jsmBase+"/cloud-1/v1/alerts/abc/close", capture)
	transport.RegisterResponder(http.MethodPost, jsmBase+"/cloud-1/v1/alerts/done/close",
		httpmock.NewStringResponder(http.StatusUnprocessableEntity, `{"message":"alert already closed"}`))

	require.NoError(t, c.Acknowledge(context.Background(), "abc", "alice", "looking"))
	require.NoError(t, c.Close(context.Background(), "abc", "alice", ""))
	assert.Equal(t, []map[string]string{
		{"user": "alice", "note": "looking"},
		{"user": "alice"},
	}, bodies)

	err := c.Close(context.Background(), "done", "alice", "")
	assert.ErrorIs(t, err, ErrRejected)
}
