package domain

import (
	"context"
	"errors"
	"slices"
	"time"
)

// Sentinel errors for alert cycles.
var (
	ErrCycleInProgress = errors.New("alert cycle already in progress")
	ErrNoCycleReport   = errors.New("no alert cycle report")
)

// DefaultBatchSize is the number of location buckets processed by one worker.
const DefaultBatchSize = 5

// TierGating decides when the 45+ tier is notified.
type TierGating string

const (
	// TierGatingIndependent notifies the 45+ tier whenever it has recipients.
	TierGatingIndependent TierGating = "independent"
	// TierGatingLegacy only notifies the 45+ tier when the 18-44 tier also has
	// recipients, matching the behavior of the first alerting system.
	TierGatingLegacy TierGating = "legacy"
)

// FailureKind classifies an isolated failure recorded during a cycle.
type FailureKind string

const (
	FailureFetch     FailureKind = "fetch_failure"
	FailureNotify    FailureKind = "notify_failure"
	FailureRender    FailureKind = "render_failure"
	FailureRegistry  FailureKind = "registry_failure"
	FailureBatch     FailureKind = "batch_panic"
	FailureCancelled FailureKind = "cancelled"
)

// Failure is one typed entry in a batch result or cycle report.
type Failure struct {
	Location  string      `json:"location,omitempty"`
	Kind      FailureKind `json:"kind"`
	Recipient string      `json:"recipient,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

// Batch is a contiguous group of location buckets dispatched to one worker.
type Batch struct {
	Index   int
	Buckets []LocationBucket
}

// BatchResult summarizes the work done for one batch.
type BatchResult struct {
	BucketsProcessed          int       `json:"buckets_processed"`
	BucketsSkipped            int       `json:"buckets_skipped"`
	FetchCalls                int       `json:"fetch_calls"`
	NotificationsSent         int       `json:"notifications_sent"`
	NotificationsFailed       int       `json:"notifications_failed"`
	NotificationsDeduplicated int       `json:"notifications_deduplicated"`
	Failures                  []Failure `json:"failures"`
}

// AddFailure records an isolated failure.
func (r *BatchResult) AddFailure(location Location, kind FailureKind, recipient string, err error) {
	f := Failure{Location: location.String(), Kind: kind, Recipient: recipient}
	if err != nil {
		f.Detail = err.Error()
	}
	r.Failures = append(r.Failures, f)
}

// Merge adds the counters and failures of other into r.
func (r *BatchResult) Merge(other BatchResult) {
	r.BucketsProcessed += other.BucketsProcessed
	r.BucketsSkipped += other.BucketsSkipped
	r.FetchCalls += other.FetchCalls
	r.NotificationsSent += other.NotificationsSent
	r.NotificationsFailed += other.NotificationsFailed
	r.NotificationsDeduplicated += other.NotificationsDeduplicated
	r.Failures = append(r.Failures, other.Failures...)
}

// Clone returns a copy that does not share the failure slice.
func (r BatchResult) Clone() BatchResult {
	r.Failures = slices.Clone(r.Failures)
	return r
}

// CycleReport is the outcome of one full run of the alert pipeline.
type CycleReport struct {
	ID               string    `json:"id"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Buckets          int       `json:"buckets"`
	Batches          int       `json:"batches"`
	BatchesCompleted int       `json:"batches_completed"`
	TimedOut         bool      `json:"timed_out"`
	Skipped          bool      `json:"skipped"`
	BatchResult
}

// Duration is the wall time the cycle took.
func (c CycleReport) Duration() time.Duration {
	return c.FinishedAt.Sub(c.StartedAt)
}

// BatchProcessor runs the filter, fetch and notify steps for one batch.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, batch Batch) BatchResult
}

// AlertCycleService runs the full alert pipeline once.
type AlertCycleService interface {
	RunAlertCycle(ctx context.Context) CycleReport
}

// CycleReportRepository persists cycle reports.
type CycleReportRepository interface {
	Save(ctx context.Context, report *CycleReport) error
	Latest(ctx context.Context) (*CycleReport, error)
	// List returns reports newest first.
	List(ctx context.Context, params PaginationParams) (CycleReportPage, error)
}

// CycleRunner exposes on-demand cycles and the last persisted report.
type CycleRunner interface {
	RunNow(ctx context.Context) CycleReport
	Latest(ctx context.Context) (*CycleReport, error)
	History(ctx context.Context, params PaginationParams) (CycleReportPage, error)
}
