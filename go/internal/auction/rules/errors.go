package rules

import (
	"errors"
	"fmt"
)

// Reason names why a bid (or a clock sync) did not go through.
type Reason string

const (
	ReasonClockUnavailable    Reason = "ClockUnavailable"
	ReasonAuctionNotActive    Reason = "AuctionNotActive"
	ReasonAuctionExpired      Reason = "AuctionExpired"
	ReasonBidTooLow           Reason = "BidTooLow"
	ReasonInsufficientBalance Reason = "InsufficientBalance"
	ReasonEligibilityDenied   Reason = "EligibilityDenied"
	ReasonSettlementConflict  Reason = "SettlementConflict"
	ReasonNetworkTimeout      Reason = "NetworkTimeout"
)

// IsValidation reports whether the reason comes out of the bid validator and
// should be shown to the user as is.
func (r Reason) IsValidation() bool {
	switch r {
	case ReasonAuctionNotActive, ReasonAuctionExpired, ReasonBidTooLow,
		ReasonInsufficientBalance, ReasonEligibilityDenied:
		return true
	}
	return false
}

// NeedsRefresh reports whether the caller's snapshot must be re-fetched
// before another attempt.
func (r Reason) NeedsRefresh() bool {
	return r == ReasonSettlementConflict || r == ReasonNetworkTimeout || r == ReasonBidTooLow
}

// ParseReason maps a wire value back to a Reason.
func ParseReason(s string) (Reason, bool) {
	switch r := Reason(s); r {
	case ReasonClockUnavailable, ReasonAuctionNotActive, ReasonAuctionExpired, ReasonBidTooLow,
		ReasonInsufficientBalance, ReasonEligibilityDenied, ReasonSettlementConflict, ReasonNetworkTimeout:
		return r, true
	}
	return "", false
}

// Rejection is the typed outcome for every non-accepted bid.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

// Is matches any Rejection carrying the same reason, so
// errors.Is(err, ErrBidTooLow) works regardless of detail.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Reason == r.Reason
}

var (
	ErrClockUnavailable    = &Rejection{Reason: ReasonClockUnavailable}
	ErrAuctionNotActive    = &Rejection{Reason: ReasonAuctionNotActive}
	ErrAuctionExpired      = &Rejection{Reason: ReasonAuctionExpired}
	ErrBidTooLow           = &Rejection{Reason: ReasonBidTooLow}
	ErrInsufficientBalance = &Rejection{Reason: ReasonInsufficientBalance}
	ErrEligibilityDenied   = &Rejection{Reason: ReasonEligibilityDenied}
	ErrSettlementConflict  = &Rejection{Reason: ReasonSettlementConflict}
	ErrNetworkTimeout      = &Rejection{Reason: ReasonNetworkTimeout}
)

// Reject builds a Rejection with a formatted detail.
func Reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the rejection reason from err, looking through wrapping.
func ReasonOf(err error) (Reason, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason, true
	}
	return "", false
}
