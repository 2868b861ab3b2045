package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vaccinealert/internal/domain"
)

var cycleColumns = []string{
	"id", "started_at", "finished_at", "buckets", "batches", "batches_completed",
	"buckets_processed", "buckets_skipped", "fetch_calls",
	"notifications_sent", "notifications_failed", "notifications_deduplicated",
	"timed_out", "failures",
}

type cycleReportRepository struct {
	DB      *sql.DB
	dialect Dialect
}

// NewCycleReportRepository returns a domain.CycleReportRepository backed by the alert_cycles table.
func NewCycleReportRepository(db *sql.DB, dialect Dialect) domain.CycleReportRepository {
	return &cycleReportRepository{DB: db, dialect: dialect}
}

func (r *cycleReportRepository) Save(ctx context.Context, report *domain.CycleReport) error {
	if report == nil {
		return fmt.Errorf("cycle report is nil")
	}
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	failures := report.Failures
	if failures == nil {
		failures = []domain.Failure{}
	}
	failuresJSON, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("encode failures: %w", err)
	}

	query, args, err := r.dialect.builder().
		Insert("alert_cycles").
		Columns(cycleColumns...).
		Values(
			report.ID, report.StartedAt.UTC(), report.FinishedAt.UTC(),
			report.Buckets, report.Batches, report.BatchesCompleted,
			report.BucketsProcessed, report.BucketsSkipped, report.FetchCalls,
			report.NotificationsSent, report.NotificationsFailed, report.NotificationsDeduplicated,
			report.TimedOut, string(failuresJSON),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert cycle: %w", err)
	}
	if _, err := r.DB.ExecContext(ctx, query, args...); err != nil {
		return mapError(err, "insert cycle")
	}
	return nil
}

func (r *cycleReportRepository) Latest(ctx context.Context) (*domain.CycleReport, error) {
	query, args, err := r.dialect.builder().
		Select(cycleColumns...).
		From("alert_cycles").
		OrderBy("started_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build latest cycle: %w", err)
	}

	report, err := scanCycleReport(r.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoCycleReport
	}
	if err != nil {
		return nil, mapError(err, "select latest cycle")
	}
	return report, nil
}

func (r *cycleReportRepository) List(ctx context.Context, params domain.PaginationParams) (domain.CycleReportPage, error) {
	var page domain.CycleReportPage

	countQuery, countArgs, err := r.dialect.builder().
		Select("COUNT(*)").
		From("alert_cycles").
		ToSql()
	if err != nil {
		return page, fmt.Errorf("build count cycles: %w", err)
	}
	if err := r.DB.QueryRowContext(ctx, countQuery, countArgs...).Scan(&page.Total); err != nil {
		return page, mapError(err, "count cycles")
	}
	if page.Total == 0 || params.PageSize < 1 {
		return page, nil
	}

	query, args, err := r.dialect.builder().
		Select(cycleColumns...).
		From("alert_cycles").
		OrderBy("started_at DESC").
		Limit(uint64(params.PageSize)).
		Offset(uint64(params.Offset())).
		ToSql()
	if err != nil {
		return page, fmt.Errorf("build list cycles: %w", err)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return page, mapError(err, "list cycles")
	}
	defer rows.Close()

	for rows.Next() {
		report, err := scanCycleReport(rows)
		if err != nil {
			return page, mapError(err, "scan cycle")
		}
		page.Reports = append(page.Reports, *report)
	}
	if err := rows.Err(); err != nil {
		return page, mapError(err, "iterate cycles")
	}
	return page, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycleReport(row rowScanner) (*domain.CycleReport, error) {
	var (
		report       domain.CycleReport
		failuresJSON string
		startedAt    time.Time
		finishedAt   time.Time
	)
	err := row.Scan(
		&report.ID, &startedAt, &finishedAt,
		&report.Buckets, &report.Batches, &report.BatchesCompleted,
		&report.BucketsProcessed, &report.BucketsSkipped, &report.FetchCalls,
		&report.NotificationsSent, &report.NotificationsFailed, &report.NotificationsDeduplicated,
		&report.TimedOut, &failuresJSON,
	)
	if err != nil {
		return nil, err
	}
	report.StartedAt = startedAt.UTC()
	report.FinishedAt = finishedAt.UTC()
	if err := json.Unmarshal([]byte(failuresJSON), &report.Failures); err != nil {
		return nil, fmt.Errorf("decode failures: %w", err)
	}
	return &report, nil
}
