package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"vaccinealert/internal/domain"
)

// Postgres error codes the repositories care about.
const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

// mapError converts driver errors into domain errors. Context errors pass
// through unchanged so callers can tell a cancelled cycle apart.
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrUserNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w", op, domain.ErrAlreadyExists)
		case pgCheckViolation:
			return fmt.Errorf("%s: %w: %s", op, domain.ErrRegistryFailure, pqErr.Message)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrRegistryFailure, err)
}
