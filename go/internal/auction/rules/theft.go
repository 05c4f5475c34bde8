package rules

import (
	"strings"

	"github.com/google/uuid"

	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

// TheftCounters are the event-wide holdings read inside the settlement
// transaction. They count current leads, so a displaced bidder gives a slot
// back.
type TheftCounters struct {
	TargetLosses int
	PairWins     int
	BidderWins   int
}

// Counter keys as persisted per theft event.
func TargetLossesKey(target uuid.UUID) string { return "target:" + target.String() }
func BidderWinsKey(bidder uuid.UUID) string   { return "bidder:" + bidder.String() }
func PairWinsKey(bidder, target uuid.UUID) string {
	return "pair:" + bidder.String() + ":" + target.String()
}

// CounterCap returns the configured ceiling for a counter key, 0 for none.
func CounterCap(key string, fr FormatRules) int {
	switch {
	case strings.HasPrefix(key, "target:"):
		return fr.MaxLossesPerTarget
	case strings.HasPrefix(key, "pair:"):
		return fr.MaxWinsPerPair
	case strings.HasPrefix(key, "bidder:"):
		return fr.MaxWinsPerBidder
	}
	return 0
}

// CounterDelta is one counter change a theft settlement must apply.
type CounterDelta struct {
	Key   string
	Delta int
}

// TheftDeltas lists the counter changes for bidder taking the lead of a.
// A bidder raising their own lead changes nothing.
func TheftDeltas(a *models.Auction, bidder uuid.UUID) []CounterDelta {
	if a.Theft == nil || a.IsLeader(bidder) {
		return nil
	}
	target := a.Theft.TargetID
	deltas := []CounterDelta{
		{Key: BidderWinsKey(bidder), Delta: 1},
		{Key: PairWinsKey(bidder, target), Delta: 1},
	}
	if a.CurrentLeaderID == nil {
		deltas = append(deltas, CounterDelta{Key: TargetLossesKey(target), Delta: 1})
	} else {
		prev := *a.CurrentLeaderID
		deltas = append(deltas,
			CounterDelta{Key: BidderWinsKey(prev), Delta: -1},
			CounterDelta{Key: PairWinsKey(prev, target), Delta: -1},
		)
	}
	return deltas
}

// ReleaseDeltas undoes the current leader's holdings when a theft auction is
// cancelled.
func ReleaseDeltas(a *models.Auction) []CounterDelta {
	if a.Theft == nil || a.CurrentLeaderID == nil {
		return nil
	}
	target := a.Theft.TargetID
	leader := *a.CurrentLeaderID
	return []CounterDelta{
		{Key: BidderWinsKey(leader), Delta: -1},
		{Key: PairWinsKey(leader, target), Delta: -1},
		{Key: TargetLossesKey(target), Delta: -1},
	}
}

func checkTheftEligibility(a *models.Auction, p Proposal, fr FormatRules) error {
	if a.Theft == nil {
		return Reject(ReasonEligibilityDenied, "theft auction has no target")
	}
	if p.BidderID == a.Theft.TargetID {
		return Reject(ReasonEligibilityDenied, "cannot bid on your own asset")
	}
	c := p.Counters
	if c == nil || a.IsLeader(p.BidderID) {
		return nil
	}
	if a.CurrentLeaderID == nil && fr.MaxLossesPerTarget > 0 && c.TargetLosses >= fr.MaxLossesPerTarget {
		return Reject(ReasonEligibilityDenied, "target already lost %d of %d assets", c.TargetLosses, fr.MaxLossesPerTarget)
	}
	if fr.MaxWinsPerPair > 0 && c.PairWins >= fr.MaxWinsPerPair {
		return Reject(ReasonEligibilityDenied, "already holding %d assets of this target", c.PairWins)
	}
	if fr.MaxWinsPerBidder > 0 && c.BidderWins >= fr.MaxWinsPerBidder {
		return Reject(ReasonEligibilityDenied, "already holding %d of %d allowed assets", c.BidderWins, fr.MaxWinsPerBidder)
	}
	return nil
}
