package sqlutil

import (
	"database/sql"
	"time"
)

// FromNullTime converts sql.NullTime to a Go time pointer.
func FromNullTime(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time
	return &t
}

