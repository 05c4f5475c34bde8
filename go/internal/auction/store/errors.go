package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// isRaceError reports Postgres failures that mean the transaction lost a
// race: serialization_failure and deadlock_detected.
func isRaceError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
