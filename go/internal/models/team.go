package models

import (
	"github.com/google/uuid"
)

// Team is a bidding participant. Balance is mutated only through
// compare-and-swap writes.
type Team struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Balance int64     `json:"balance"`
}
