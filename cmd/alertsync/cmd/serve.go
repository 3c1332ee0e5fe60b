package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kube-rca/alertsync/internal/handler"
	"github.com/kube-rca/alertsync/internal/metrics"
	"github.com/kube-rca/alertsync/internal/service"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the periodic sync loops",
	Long: `Start the operator HTTP API (health, manual sync, acknowledge/resolve,
metrics, OpenAPI document) together with the monitoring-sync and
incident-sync loops. SIGINT/SIGTERM stops the loops and drains the server.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := requireUpstreams(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	authService, err := service.NewAuthService(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to init auth: %w", err)
	}

	metrics.SetBuildInfo(Version, Commit)

	scheduler := service.NewScheduler(a.reconciler, service.SchedulerConfig{
		MonitoringInterval: cfg.Sync.MonitoringInterval,
		IncidentInterval:   cfg.Sync.IncidentInterval,
		RunOnStart:         cfg.Sync.RunOnStart,
	}, logger)

	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.NewRouter(handler.Dependencies{
		Auth:           authService,
		Health:         handler.NewHealthHandler(scheduler, a.reconciler, a.tenant),
		Sync:           handler.NewSyncHandler(a.reconciler),
		Actions:        handler.NewActionHandler(a.actions),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	scheduler.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening",
			zap.String("addr", srv.Addr),
			zap.Bool("auth_enabled", authService.Enabled()),
			zap.Bool("propagation_enabled", a.propagator.Enabled()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		scheduler.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
