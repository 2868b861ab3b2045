package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"vaccinealert/internal/domain"
)

// locationKeyExpr sorts pincode users by pincode and the rest by district.
// Codes are trimmed so the sort key matches the bucket the row is grouped into.
const locationKeyExpr = "CASE WHEN TRIM(pincode) <> '' THEN TRIM(pincode) ELSE 'district:' || TRIM(district_id) END"

type registryRepository struct {
	DB        *sql.DB
	dialect   Dialect
	threshold int
	now       func() time.Time
}

// NewRegistryRepository returns a domain.Registry backed by the users table.
// Users whose failed alert count reached threshold are left out of buckets.
func NewRegistryRepository(db *sql.DB, dialect Dialect, threshold int) domain.Registry {
	if threshold <= 0 {
		threshold = domain.DefaultAlertThreshold
	}
	return &registryRepository{DB: db, dialect: dialect, threshold: threshold, now: time.Now}
}

func (r *registryRepository) ActiveBuckets(ctx context.Context) ([]domain.LocationBucket, error) {
	query, args, err := r.dialect.builder().
		Select("email", "age", "pincode", "district_id", "alert_count").
		From("users").
		Where(sq.Eq{"active": true}).
		Where(sq.Lt{"alert_count": r.threshold}).
		Where(sq.Or{sq.NotEq{"TRIM(pincode)": ""}, sq.NotEq{"TRIM(district_id)": ""}}).
		OrderBy(locationKeyExpr, "updated_at DESC", "created_at DESC").
		ToSql()
	if err != nil {
		return nil, mapError(err, "build active users query")
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "query active users")
	}
	defer rows.Close()

	var buckets []domain.LocationBucket
	for rows.Next() {
		u := domain.UserRecord{Active: true}
		if err := rows.Scan(&u.Email, &u.AgeYears, &u.LocationCode, &u.DistrictID, &u.AlertCount); err != nil {
			return nil, mapError(err, "scan active user")
		}
		u.LocationCode = strings.TrimSpace(u.LocationCode)
		u.DistrictID = strings.TrimSpace(u.DistrictID)
		loc := u.Location()
		if n := len(buckets); n > 0 && buckets[n-1].Location == loc {
			buckets[n-1].Users = append(buckets[n-1].Users, u)
			continue
		}
		buckets = append(buckets, domain.LocationBucket{Location: loc, Users: []domain.UserRecord{u}})
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate active users")
	}
	return buckets, nil
}

func (r *registryRepository) RecordAlertSent(ctx context.Context, email string) error {
	return r.update(ctx, "record alert sent", r.dialect.builder().
		Update("users").
		Set("alert_count", 0).
		Set("last_alerted_at", r.now().UTC()).
		Where(sq.Eq{"email": email}))
}

func (r *registryRepository) IncrementFailedAlert(ctx context.Context, email string) error {
	return r.update(ctx, "increment failed alert", r.dialect.builder().
		Update("users").
		Set("alert_count", sq.Expr("alert_count + 1")).
		Where(sq.Eq{"email": email}))
}

func (r *registryRepository) Deactivate(ctx context.Context, email string) error {
	return r.update(ctx, "deactivate user", r.dialect.builder().
		Update("users").
		Set("active", false).
		Set("updated_at", r.now().UTC()).
		Where(sq.Eq{"email": email}))
}

func (r *registryRepository) update(ctx context.Context, op string, b sq.UpdateBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return mapError(err, op)
	}
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err, op)
	}
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
