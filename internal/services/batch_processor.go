package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"vaccinealert/internal/domain"
)

type batchProcessor struct {
	logger   *slog.Logger
	registry domain.Registry
	fetcher  domain.AvailabilityFetcher
	notifier domain.Notifier
	gating   domain.TierGating
	now      func() time.Time
}

// NewBatchProcessor returns a BatchProcessor that filters, fetches and
// notifies every bucket of a batch in order. A nil clock defaults to time.Now.
func NewBatchProcessor(logger *slog.Logger, registry domain.Registry, fetcher domain.AvailabilityFetcher, notifier domain.Notifier, gating domain.TierGating, clock func() time.Time) domain.BatchProcessor {
	if clock == nil {
		clock = time.Now
	}
	if gating == "" {
		gating = domain.TierGatingIndependent
	}
	return &batchProcessor{
		logger:   logger,
		registry: registry,
		fetcher:  fetcher,
		notifier: notifier,
		gating:   gating,
		now:      clock,
	}
}

func (p *batchProcessor) ProcessBatch(ctx context.Context, batch domain.Batch) domain.BatchResult {
	var result domain.BatchResult
	for _, bucket := range batch.Buckets {
		if err := ctx.Err(); err != nil {
			result.AddFailure(bucket.Location, domain.FailureCancelled, "", err)
			continue
		}
		p.processBucket(ctx, batch.Index, bucket, &result)
	}
	return result
}

func (p *batchProcessor) processBucket(ctx context.Context, batchIndex int, bucket domain.LocationBucket, result *domain.BatchResult) {
	result.BucketsProcessed++
	tier18, tier45 := PartitionByAge(bucket.Users)
	if len(tier18) == 0 && len(tier45) == 0 {
		result.BucketsSkipped++
		return
	}

	result.FetchCalls++
	snapshot, err := p.fetcher.FetchByLocation(ctx, bucket.Location, p.now())
	if err != nil {
		p.logger.WarnContext(ctx, "availability fetch failed",
			"batch", batchIndex,
			"location", bucket.Location.String(),
			"err", err,
		)
		result.AddFailure(bucket.Location, domain.FailureFetch, "", err)
		return
	}

	centers18, centers45 := OpenCenters(snapshot)
	if len(tier18) > 0 && len(centers18) > 0 {
		p.deliver(ctx, tier18, domain.Notification{
			Tier:     domain.Tier18to44,
			Location: bucket.Location,
			Date:     snapshot.Date,
			Centers:  centers18,
		}, result)
	}
	if len(centers45) > 0 && p.seniorGateOpen(tier18, tier45) {
		p.deliver(ctx, tier45, domain.Notification{
			Tier:     domain.Tier45Plus,
			Location: bucket.Location,
			Date:     snapshot.Date,
			Centers:  centers45,
		}, result)
	}
}

// seniorGateOpen reports whether the 45+ tier may be notified.
func (p *batchProcessor) seniorGateOpen(tier18, tier45 []string) bool {
	if p.gating == domain.TierGatingLegacy {
		return len(tier18) > 0
	}
	return len(tier45) > 0
}

func (p *batchProcessor) deliver(ctx context.Context, recipients []string, n domain.Notification, result *domain.BatchResult) {
	if len(recipients) == 0 {
		return
	}
	res := p.notifier.NotifyAll(ctx, recipients, n)
	result.NotificationsSent += len(res.Sent)
	result.NotificationsDeduplicated += len(res.Deduplicated)

	for _, email := range res.Sent {
		if err := p.registry.RecordAlertSent(ctx, email); err != nil {
			p.logger.WarnContext(ctx, "record alert sent failed", "recipient", email, "err", err)
			result.AddFailure(n.Location, domain.FailureRegistry, email, err)
		}
	}

	for _, f := range res.Failures {
		result.NotificationsFailed++
		kind := domain.FailureNotify
		var ne *domain.NotifyError
		if errors.As(f.Err, &ne) && ne.Kind != "" {
			kind = ne.Kind
		}
		p.logger.WarnContext(ctx, "alert delivery failed",
			"location", n.Location.String(),
			"tier", string(n.Tier),
			"recipient", f.Recipient,
			"err", f.Err,
		)
		result.AddFailure(n.Location, kind, f.Recipient, f.Err)
		// A cancelled cycle says nothing about the address itself.
		if ctx.Err() != nil {
			continue
		}
		if err := p.registry.IncrementFailedAlert(ctx, f.Recipient); err != nil {
			p.logger.WarnContext(ctx, "increment failed alert failed", "recipient", f.Recipient, "err", err)
			result.AddFailure(n.Location, domain.FailureRegistry, f.Recipient, err)
		}
	}
}
