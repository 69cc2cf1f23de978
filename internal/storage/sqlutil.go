package storage

import (
	"fmt"

	"github.com/lib/pq"
)

// limitPlaceholder returns the $N placeholder for the nth positional
// argument, used when a query's WHERE clause has a variable number of
// preceding arguments (e.g. an optional keyset cursor).
func limitPlaceholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// pqStringArray adapts a Go string slice for use as a PostgreSQL text[]
// bind parameter (e.g. ANY($1)).
func pqStringArray(values []string) any {
	return pq.Array(values)
}
