package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kube-rca/alertsync/internal/client"
	"github.com/kube-rca/alertsync/internal/config"
	"github.com/kube-rca/alertsync/internal/db"
	"github.com/kube-rca/alertsync/internal/filter"
	"github.com/kube-rca/alertsync/internal/matcher"
	"github.com/kube-rca/alertsync/internal/service"
)

const upstreamHTTPTimeout = 30 * time.Second

// app - serve/sync 명령이 공유하는 구성 요소
type app struct {
	pool       *pgxpool.Pool
	store      *db.Postgres
	tenant     *client.Tenant
	propagator *service.Propagator
	reconciler *service.Reconciler
	actions    *service.ActionService
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	pool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	store := &db.Postgres{Pool: pool}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	retry := client.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.RateLimit.MaxAttempts
	retry.BaseDelay = cfg.RateLimit.BaseDelay
	retry.MaxDelay = cfg.RateLimit.MaxDelay

	httpClient := &http.Client{Timeout: upstreamHTTPTimeout}
	newUpstream := func(name string) *client.RateLimitedClient {
		budget := client.NewBudget(cfg.RateLimit.Budget, cfg.RateLimit.Window, cfg.RateLimit.MaxWait)
		return client.NewRateLimitedClient(name, httpClient, budget, retry, logger.Named(name))
	}
	grafanaHTTP := newUpstream("grafana")
	jsmHTTP := newUpstream("jsm")

	authz := client.BasicAuth(cfg.JSM.UserEmail, cfg.JSM.APIToken)
	tenant := client.NewTenant(cfg.JSM.TenantURL, cfg.JSM.CloudID, authz, jsmHTTP, logger.Named("tenant"))
	if tenant.CloudID() == "" {
		// 실패해도 첫 사이클에서 다시 조회
		if _, err := tenant.Resolve(ctx); err != nil {
			logger.Warn("jsm cloud id discovery failed", zap.Error(err))
		}
	}

	monitoring := client.NewMonitoringClient(cfg.Grafana.APIURL, cfg.Grafana.APIKey, grafanaHTTP, logger.Named("grafana"))
	incidents := client.NewIncidentClient(cfg.JSM.APIBaseURL, authz, cfg.JSM.AlertsLimit, tenant, jsmHTTP, logger.Named("jsm"))

	propagator := service.NewPropagator(incidents, store, cfg.Features.EnablePropagation, logger)
	reconciler := service.NewReconciler(store, monitoring, incidents, filter.New(cfg.Filter), propagator, service.ReconcilerConfig{
		Match:        matcher.ConfigFrom(cfg.Match),
		LogMatches:   cfg.Match.LogMatches,
		CycleTimeout: cfg.Sync.CycleTimeout,
		AutoClose:    cfg.Features.EnableAutoClose,
	}, logger)

	return &app{
		pool:       pool,
		store:      store,
		tenant:     tenant,
		propagator: propagator,
		reconciler: reconciler,
		actions:    service.NewActionService(store, propagator, logger),
	}, nil
}

func (a *app) Close() {
	a.pool.Close()
}

func requireUpstreams(cfg config.Config) error {
	if cfg.Grafana.APIKey == "" {
		return fmt.Errorf("GRAFANA_API_KEY is required")
	}
	if cfg.JSM.UserEmail == "" || cfg.JSM.APIToken == "" {
		return fmt.Errorf("JIRA_USER_EMAIL and JIRA_API_TOKEN are required")
	}
	if cfg.JSM.CloudID == "" && cfg.JSM.TenantURL == "" {
		return fmt.Errorf("JSM_CLOUD_ID or JIRA_URL is required")
	}
	return nil
}
