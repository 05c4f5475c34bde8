package rules

import (
	"maps"

	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

// Revealed returns how many hidden attributes the current price unlocks.
func (fr FormatRules) Revealed(price int64) int {
	n := 0
	for _, threshold := range fr.RevealThresholds {
		if price < threshold {
			break
		}
		n++
	}
	return n
}

// Project returns the auction as observers may see it. For dark auctions the
// subject attributes listed in the reveal order stay hidden until the price
// crosses their threshold; attributes outside the reveal order are public.
func Project(a models.Auction, table Table) models.Auction {
	if a.Format != models.AuctionFormatDark || a.Dark == nil || len(a.Subject.Attributes) == 0 {
		return a
	}

	visible := maps.Clone(a.Subject.Attributes)
	unlocked := table.Dark.Revealed(a.CurrentPrice)
	if a.Status.IsTerminal() {
		unlocked = len(a.Dark.RevealOrder)
	}
	for i, key := range a.Dark.RevealOrder {
		if i >= unlocked {
			delete(visible, key)
		}
	}
	a.Subject.Attributes = visible
	return a
}
