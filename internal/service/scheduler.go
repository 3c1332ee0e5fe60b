package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kube-rca/alertsync/internal/model"
)

// cycleRunner - Scheduler가 호출하는 사이클 실행기
type cycleRunner interface {
	Run(ctx context.Context, trigger model.Trigger) model.CycleResult
}

// SchedulerConfig - 두 주기 루프 설정
type SchedulerConfig struct {
	MonitoringInterval time.Duration
	IncidentInterval   time.Duration
	RunOnStart         bool
}

// Scheduler - monitoring-sync / incident-sync 주기로 Reconciler.Run 호출
//
// 두 루프는 Reconciler 잠금을 공유하므로 겹치는 tick은 skipped로 끝남
type Scheduler struct {
	runner cycleRunner
	cfg    SchedulerConfig
	logger *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewScheduler 생성자
func NewScheduler(runner cycleRunner, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner: runner,
		cfg:    cfg,
		logger: logger.Named("scheduler"),
	}
}

// Start - 루프 시작 후 즉시 반환 (이미 실행 중이면 무시)
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runner.Run(ctx, model.TriggerStartup)
		}()
	}
	s.loop(ctx, model.TriggerMonitoring, s.cfg.MonitoringInterval)
	s.loop(ctx, model.TriggerIncident, s.cfg.IncidentInterval)

	s.logger.Info("scheduler started",
		zap.Duration("monitoring_interval", s.cfg.MonitoringInterval),
		zap.Duration("incident_interval", s.cfg.IncidentInterval),
		zap.Bool("run_on_start", s.cfg.RunOnStart),
	)
}

func (s *Scheduler) loop(ctx context.Context, trigger model.Trigger, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runner.Run(ctx, trigger)
			}
		}
	}()
}

// Stop - 루프 취소 후 진행 중인 사이클까지 대기
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Running - 루프 실행 여부
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// State - /health 응답용 상태 문자열
func (s *Scheduler) State() string {
	if s.Running() {
		return "running"
	}
	return "stopped"
}
