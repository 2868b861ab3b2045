package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaccinealert/internal/domain"
)

type seedUser struct {
	email      string
	age        int
	pincode    string
	district   string
	active     bool
	alertCount int
	createdAt  time.Time
	updatedAt  time.Time
}

func seedUsers(t *testing.T, db *sql.DB, dialect Dialect, users []seedUser) {
	t.Helper()
	b := dialect.builder().
		Insert("users").
		Columns("email", "age", "pincode", "district_id", "active", "alert_count", "created_at", "updated_at")
	for _, u := range users {
		createdAt := u.createdAt
		if createdAt.IsZero() {
			createdAt = u.updatedAt
		}
		b = b.Values(u.email, u.age, u.pincode, u.district, u.active, u.alertCount, createdAt, u.updatedAt)
	}
	query, args, err := b.ToSql()
	require.NoError(t, err)
	_, err = db.ExecContext(context.Background(), query, args...)
	require.NoError(t, err)
}

func bucketEmails(buckets []domain.LocationBucket) map[string][]string {
	out := make(map[string][]string, len(buckets))
	for _, b := range buckets {
		for _, u := range b.Users {
			out[b.Location.String()] = append(out[b.Location.String()], u.Email)
		}
	}
	return out
}

func bucketOrder(buckets []domain.LocationBucket) []string {
	out := make([]string, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, b.Location.String())
	}
	return out
}

// runStoreSuite exercises both repositories against a migrated, empty database.
func runStoreSuite(t *testing.T, db *sql.DB, dialect Dialect) {
	ctx := context.Background()
	base := time.Date(2021, 5, 10, 8, 0, 0, 0, time.UTC)

	seedUsers(t, db, dialect, []seedUser{
		{email: "a@x.in", age: 20, pincode: "110001", active: true, alertCount: 2, updatedAt: base.Add(time.Hour)},
		{email: "b@x.in", age: 50, pincode: "110001", district: "141", active: true, updatedAt: base.Add(2 * time.Hour)},
		{email: "c@x.in", age: 30, pincode: "560001", active: true, updatedAt: base},
		{email: "d@x.in", age: 61, district: "294", active: true, updatedAt: base},
		{email: "e@x.in", age: 40, pincode: "110001", active: false, updatedAt: base},
		{email: "f@x.in", age: 40, pincode: "110001", active: true, alertCount: 5, updatedAt: base},
		{email: "g@x.in", age: 40, active: true, updatedAt: base},
		// Same updated_at: the later sign-up comes first. i is inserted before j
		// so insertion order alone would give the opposite result.
		{email: "i@x.in", age: 35, pincode: "400001", active: true, createdAt: base.Add(-2 * time.Hour), updatedAt: base},
		{email: "j@x.in", age: 36, pincode: "400001", active: true, createdAt: base.Add(-time.Hour), updatedAt: base},
		{email: "k@x.in", age: 37, pincode: "400001 ", active: true, updatedAt: base.Add(time.Hour)},
	})

	registry := NewRegistryRepository(db, dialect, domain.DefaultAlertThreshold)
	clock := base.Add(3 * time.Hour)
	registry.(*registryRepository).now = func() time.Time { return clock }

	t.Run("active buckets grouped by location", func(t *testing.T) {
		buckets, err := registry.ActiveBuckets(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"110001", "400001", "560001", "district:294"}, bucketOrder(buckets))
		assert.Equal(t, map[string][]string{
			"110001":       {"b@x.in", "a@x.in"},
			"400001":       {"k@x.in", "j@x.in", "i@x.in"},
			"560001":       {"c@x.in"},
			"district:294": {"d@x.in"},
		}, bucketEmails(buckets))
		assert.Equal(t, domain.LocationDistrict, buckets[3].Location.Kind)
		assert.Equal(t, "400001", buckets[1].Users[0].LocationCode)
		assert.Equal(t, 2, buckets[0].Users[1].AlertCount)
	})

	t.Run("record alert sent resets the counter", func(t *testing.T) {
		require.NoError(t, registry.RecordAlertSent(ctx, "a@x.in"))
		buckets, err := registry.ActiveBuckets(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, buckets[0].Users[1].AlertCount)
	})

	t.Run("failed alerts drop a user at the threshold", func(t *testing.T) {
		for i := 0; i < domain.DefaultAlertThreshold; i++ {
			require.NoError(t, registry.IncrementFailedAlert(ctx, "c@x.in"))
		}
		buckets, err := registry.ActiveBuckets(ctx)
		require.NoError(t, err)
		assert.NotContains(t, bucketOrder(buckets), "560001")
	})

	t.Run("deactivate removes the user", func(t *testing.T) {
		require.NoError(t, registry.Deactivate(ctx, "b@x.in"))
		buckets, err := registry.ActiveBuckets(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string][]string{
			"110001":       {"a@x.in"},
			"400001":       {"k@x.in", "j@x.in", "i@x.in"},
			"district:294": {"d@x.in"},
		}, bucketEmails(buckets))
	})

	t.Run("unknown user", func(t *testing.T) {
		assert.ErrorIs(t, registry.IncrementFailedAlert(ctx, "ghost@x.in"), domain.ErrUserNotFound)
		assert.ErrorIs(t, registry.Deactivate(ctx, "ghost@x.in"), domain.ErrUserNotFound)
	})

	t.Run("cycle reports", func(t *testing.T) {
		reports := NewCycleReportRepository(db, dialect)

		_, err := reports.Latest(ctx)
		require.ErrorIs(t, err, domain.ErrNoCycleReport)

		older := &domain.CycleReport{ID: "older", StartedAt: base, FinishedAt: base.Add(time.Minute), Buckets: 1}
		newer := &domain.CycleReport{
			ID:               "newer",
			StartedAt:        base.Add(10 * time.Minute),
			FinishedAt:       base.Add(12 * time.Minute),
			Buckets:          3,
			Batches:          1,
			BatchesCompleted: 1,
			TimedOut:         true,
			BatchResult: domain.BatchResult{
				BucketsProcessed:  3,
				FetchCalls:        2,
				NotificationsSent: 2,
				Failures:          []domain.Failure{{Location: "560001", Kind: domain.FailureFetch, Detail: "upstream_status"}},
			},
		}
		require.NoError(t, reports.Save(ctx, newer))
		require.NoError(t, reports.Save(ctx, older))

		got, err := reports.Latest(ctx)
		require.NoError(t, err)
		assert.Equal(t, "newer", got.ID)
		assert.True(t, got.StartedAt.Equal(newer.StartedAt))
		assert.True(t, got.FinishedAt.Equal(newer.FinishedAt))
		assert.Equal(t, newer.BatchResult, got.BatchResult)
		assert.True(t, got.TimedOut)
		assert.Equal(t, 1, got.BatchesCompleted)

		page, err := reports.List(ctx, domain.PaginationParams{Page: 1, PageSize: 1})
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
		require.Len(t, page.Reports, 1)
		assert.Equal(t, "newer", page.Reports[0].ID)

		page, err = reports.List(ctx, domain.PaginationParams{Page: 2, PageSize: 1})
		require.NoError(t, err)
		require.Len(t, page.Reports, 1)
		assert.Equal(t, "older", page.Reports[0].ID)
	})
}
