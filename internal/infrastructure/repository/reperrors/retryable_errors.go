package reperrors

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a guarded update matched no row, i.e. the
	// record changed state concurrently.
	ErrConflict = errors.New("record state conflict")
)

// Postgres error classes worth retrying: serialization failures, deadlocks,
// connection loss and connection exhaustion.
var retryableCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"08000": {}, // connection_exception
	"08003": {}, // connection_does_not_exist
	"08006": {}, // connection_failure
	"53300": {}, // too_many_connections
	"57P03": {}, // cannot_connect_now
}

func IsRetryableError(err error) bool {
	var pgErr *pgconn.PgError

	for {
		if errors.As(err, &pgErr) {
			if _, ok := retryableCodes[pgErr.Code]; ok {
				return true
			}
		}

		nextErr := errors.Unwrap(err)
		if nextErr == nil {
			break
		}
		err = nextErr
	}

	return false
}
