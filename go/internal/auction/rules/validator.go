package rules

import (
	"time"

	"github.com/google/uuid"

	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

// Proposal is a bid as seen by the validator. Balance and Counters are
// optional: a client checking locally may not know them, the server always
// fills both in.
type Proposal struct {
	BidderID uuid.UUID
	Amount   int64
	Balance  *int64
	Counters *TheftCounters
}

// Validate decides whether p is admissible against the auction snapshot at
// server time now. The first failing rule wins.
func Validate(a *models.Auction, p Proposal, fr FormatRules, now time.Time) error {
	if a.Status != models.AuctionStatusActive {
		return Reject(ReasonAuctionNotActive, "auction is %s", a.Status)
	}
	if !now.Before(a.Deadline) {
		return Reject(ReasonAuctionExpired, "deadline %s passed", a.Deadline.UTC().Format(time.RFC3339))
	}
	if min := fr.MinimumBid(a); p.Amount < min {
		return Reject(ReasonBidTooLow, "bid %d below minimum %d", p.Amount, min)
	}
	if p.Balance != nil {
		if due := fr.Due(a, p.BidderID, p.Amount); due > *p.Balance {
			return Reject(ReasonInsufficientBalance, "bid %d needs %d, balance is %d", p.Amount, due, *p.Balance)
		}
	}
	if a.Format == models.AuctionFormatTheft {
		if err := checkTheftEligibility(a, p, fr); err != nil {
			return err
		}
	}
	return nil
}
