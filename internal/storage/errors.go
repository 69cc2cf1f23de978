package storage

import (
	"database/sql"
	"errors"
)

// ErrNotFound is returned by store lookups when the requested row does
// not exist (or is soft-deleted, per I7). Callers map it to 404.
var ErrNotFound = errors.New("storage: not found")

// isNoRows reports whether err is sql.ErrNoRows, the sentinel
// database/sql uses for a QueryRowContext that matched nothing.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
