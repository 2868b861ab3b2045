package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vaccinealert/internal/domain"
)

const (
	cycleLockKey        = "cycle:lock"
	defaultCycleLockTTL = 15 * time.Minute
)

// CycleConfig bounds one alert cycle.
type CycleConfig struct {
	BatchSize int
	Workers   int
	// Deadline stops waiting for unfinished batches. Zero waits forever.
	Deadline time.Duration
}

type alertCycleService struct {
	logger    *slog.Logger
	registry  domain.Registry
	processor domain.BatchProcessor
	locker    domain.Claimer
	cfg       CycleConfig
	now       func() time.Time
}

// NewAlertCycleService returns an AlertCycleService that fans the registry out
// into batches and runs them on a bounded worker group. locker is optional;
// when set, a cycle only runs if it wins the cycle lock.
func NewAlertCycleService(logger *slog.Logger, registry domain.Registry, processor domain.BatchProcessor, locker domain.Claimer, cfg CycleConfig, clock func() time.Time) domain.AlertCycleService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = domain.DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if clock == nil {
		clock = time.Now
	}
	return &alertCycleService{
		logger:    logger,
		registry:  registry,
		processor: processor,
		locker:    locker,
		cfg:       cfg,
		now:       clock,
	}
}

// SplitBatches cuts buckets into contiguous batches of at most size buckets.
func SplitBatches(buckets []domain.LocationBucket, size int) []domain.Batch {
	if size <= 0 {
		size = domain.DefaultBatchSize
	}
	batches := make([]domain.Batch, 0, (len(buckets)+size-1)/size)
	for start := 0; start < len(buckets); start += size {
		end := min(start+size, len(buckets))
		batches = append(batches, domain.Batch{Index: len(batches), Buckets: buckets[start:end]})
	}
	return batches
}

func (s *alertCycleService) RunAlertCycle(ctx context.Context) domain.CycleReport {
	report := domain.CycleReport{ID: uuid.NewString(), StartedAt: s.now()}
	logger := s.logger.With("cycle_id", report.ID)

	// stragglers is set when the deadline fires before every batch returned;
	// the lock is then held until they do.
	var stragglers <-chan struct{}
	if s.locker != nil {
		ok, err := s.locker.Claim(ctx, cycleLockKey, s.lockTTL())
		switch {
		case err != nil:
			logger.WarnContext(ctx, "cycle lock unavailable, running unlocked", "err", err)
		case !ok:
			logger.InfoContext(ctx, "alert cycle skipped", "err", domain.ErrCycleInProgress)
			report.Skipped = true
			report.FinishedAt = s.now()
			return report
		default:
			defer func() {
				if stragglers == nil {
					s.releaseLock(ctx, logger)
					return
				}
				go func() {
					<-stragglers
					s.releaseLock(ctx, logger)
				}()
			}()
		}
	}

	cycleCtx := ctx
	if s.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, s.cfg.Deadline)
		defer cancel()
	}

	buckets, err := s.registry.ActiveBuckets(cycleCtx)
	if err != nil {
		logger.ErrorContext(ctx, "read active buckets failed", "err", err)
		report.AddFailure(domain.Location{}, domain.FailureRegistry, "", err)
		report.FinishedAt = s.now()
		return report
	}
	batches := SplitBatches(buckets, s.cfg.BatchSize)
	report.Buckets = len(buckets)
	report.Batches = len(batches)
	logger.InfoContext(ctx, "alert cycle started", "buckets", report.Buckets, "batches", report.Batches, "workers", s.cfg.Workers)

	var (
		mu        sync.Mutex
		acc       domain.BatchResult
		completed int
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		g.SetLimit(s.cfg.Workers)
		for _, batch := range batches {
			batch := batch
			g.Go(func() error {
				res := s.runBatch(cycleCtx, logger, batch)
				mu.Lock()
				acc.Merge(res)
				completed++
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}()

	timedOut := false
	select {
	case <-done:
	case <-cycleCtx.Done():
		select {
		case <-done:
		default:
			timedOut = true
		}
	}

	mu.Lock()
	report.BatchResult = acc.Clone()
	report.BatchesCompleted = completed
	mu.Unlock()

	if timedOut {
		stragglers = done
		report.TimedOut = true
		unfinished := report.Batches - report.BatchesCompleted
		report.AddFailure(domain.Location{}, domain.FailureCancelled, "",
			fmt.Errorf("%d of %d batches unfinished: %w", unfinished, report.Batches, cycleCtx.Err()))
		logger.WarnContext(ctx, "alert cycle deadline reached", "unfinished_batches", unfinished)
	}

	logger.InfoContext(ctx, "alert cycle finished",
		"buckets_processed", report.BucketsProcessed,
		"buckets_skipped", report.BucketsSkipped,
		"fetch_calls", report.FetchCalls,
		"sent", report.NotificationsSent,
		"failed", report.NotificationsFailed,
		"deduplicated", report.NotificationsDeduplicated,
		"failures", len(report.Failures),
		"timed_out", report.TimedOut,
	)
	report.FinishedAt = s.now()
	return report
}

// runBatch turns a panic inside one batch into a failure for each of its buckets.
func (s *alertCycleService) runBatch(ctx context.Context, logger *slog.Logger, batch domain.Batch) (res domain.BatchResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "batch panicked", "batch", batch.Index, "panic", r)
			res = domain.BatchResult{}
			err := fmt.Errorf("batch %d panicked: %v", batch.Index, r)
			for _, bucket := range batch.Buckets {
				res.AddFailure(bucket.Location, domain.FailureBatch, "", err)
			}
		}
	}()
	return s.processor.ProcessBatch(ctx, batch)
}

func (s *alertCycleService) releaseLock(ctx context.Context, logger *slog.Logger) {
	if err := s.locker.Release(context.WithoutCancel(ctx), cycleLockKey); err != nil {
		logger.WarnContext(ctx, "cycle lock release failed", "err", err)
	}
}

func (s *alertCycleService) lockTTL() time.Duration {
	if s.cfg.Deadline > 0 {
		return s.cfg.Deadline + time.Minute
	}
	return defaultCycleLockTTL
}
