package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vaccinealert/internal/domain"
)

// SchedulerConfig holds configuration for the alert scheduler.
type SchedulerConfig struct {
	// Interval is how often a cycle runs. Default: 10 minutes
	Interval time.Duration
	// RunOnStart triggers a cycle as soon as the scheduler starts.
	RunOnStart bool
}

// AlertScheduler runs alert cycles periodically and persists their reports.
// It is the domain.CycleRunner behind the ops API.
type AlertScheduler struct {
	logger    *slog.Logger
	cycles    domain.AlertCycleService
	reports   domain.CycleReportRepository
	config    SchedulerConfig
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
	wg        sync.WaitGroup
}

// NewAlertScheduler creates a new alert scheduler. reports may be nil, in
// which case reports are only logged.
func NewAlertScheduler(logger *slog.Logger, cycles domain.AlertCycleService, reports domain.CycleReportRepository, config SchedulerConfig) *AlertScheduler {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Minute
	}
	return &AlertScheduler{
		logger:  logger,
		cycles:  cycles,
		reports: reports,
		config:  config,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the periodic loop. It returns immediately; the loop ends on
// Stop or when ctx is done.
func (s *AlertScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	s.logger.Info("alert scheduler started", "interval", s.config.Interval, "run_on_start", s.config.RunOnStart)

	s.wg.Add(1)
	go s.run(ctx)
}

func (s *AlertScheduler) run(ctx context.Context) {
	defer s.wg.Done()
	if s.config.RunOnStart {
		s.RunNow(ctx)
	}
	for {
		select {
		case <-s.ticker.C:
			s.RunNow(ctx)
		case <-s.stopCh:
			s.logger.Info("alert scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("alert scheduler stopped", "err", ctx.Err())
			return
		}
	}
}

// Stop stops the scheduler and waits for an in-flight cycle to return.
func (s *AlertScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
		s.mu.Unlock()
	})
	s.wg.Wait()
}

// RunNow runs one cycle immediately and persists its report. Skipped cycles
// are not persisted.
func (s *AlertScheduler) RunNow(ctx context.Context) domain.CycleReport {
	report := s.cycles.RunAlertCycle(ctx)
	if report.Skipped || s.reports == nil {
		return report
	}
	if err := s.reports.Save(context.WithoutCancel(ctx), &report); err != nil {
		s.logger.ErrorContext(ctx, "save cycle report failed", "cycle_id", report.ID, "err", err)
	}
	return report
}

// Latest returns the most recently persisted cycle report.
func (s *AlertScheduler) Latest(ctx context.Context) (*domain.CycleReport, error) {
	if s.reports == nil {
		return nil, domain.ErrNoCycleReport
	}
	return s.reports.Latest(ctx)
}

// History returns persisted cycle reports, newest first.
func (s *AlertScheduler) History(ctx context.Context, params domain.PaginationParams) (domain.CycleReportPage, error) {
	if s.reports == nil {
		return domain.CycleReportPage{}, nil
	}
	return s.reports.List(ctx, params)
}

var _ domain.CycleRunner = (*AlertScheduler)(nil)
