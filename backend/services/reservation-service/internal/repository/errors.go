package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("repository: not found")

	// ErrOverlap is returned when the reservation exclusion constraint rejects a write.
	ErrOverlap = errors.New("repository: reservation window overlaps an active reservation")

	// ErrStaleWrite is returned when a conditional update matched no row.
	ErrStaleWrite = errors.New("repository: row changed concurrently")

	// ErrBuildQuery is returned when a SQL statement cannot be built.
	ErrBuildQuery = errors.New("repository: failed to build query")

	// ErrExecQuery is returned when a SQL statement fails.
	ErrExecQuery = errors.New("repository: failed to execute query")

	// ErrScanRow is returned when a result row cannot be decoded.
	ErrScanRow = errors.New("repository: failed to scan row")
)

const (
	pgExclusionViolation = "23P01"
	pgInvalidTextRep     = "22P02"
)

func isOverlap(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgExclusionViolation
	}
	return false
}

// isInvalidInput reports a value Postgres could not parse, such as a malformed uuid.
func isInvalidInput(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgInvalidTextRep
	}
	return false
}
