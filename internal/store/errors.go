package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConflict reports a uniqueness violation the caller may retry or map to
// a business-rule conflict (duplicate session, duplicate slug, open PR).
var ErrConflict = errors.New("store: conflict")

// ErrOutOfRange reports a position outside the dense 1..N sibling window.
var ErrOutOfRange = errors.New("store: position out of range")

const uniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// mapConflict converts Postgres unique violations into ErrConflict while
// preserving the original error for everything else.
func mapConflict(err error) error {
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}
