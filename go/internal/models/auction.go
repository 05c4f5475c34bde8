package models

import (
	"time"

	"github.com/google/uuid"
)

// AuctionFormat selects the bidding rules an auction runs under.
type AuctionFormat string

const (
	AuctionFormatSystem AuctionFormat = "system"
	AuctionFormatDark   AuctionFormat = "dark"
	AuctionFormatTheft  AuctionFormat = "theft"
)

// Valid reports whether f is a known format.
func (f AuctionFormat) Valid() bool {
	switch f {
	case AuctionFormatSystem, AuctionFormatDark, AuctionFormatTheft:
		return true
	}
	return false
}

// AuctionStatus defines the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionStatusQueued    AuctionStatus = "queued"
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusSettled   AuctionStatus = "settled"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// IsTerminal reports whether the status can never change again.
func (s AuctionStatus) IsTerminal() bool {
	return s == AuctionStatusSettled || s == AuctionStatusCancelled
}

// Subject describes the item being sold. The engine only reads Value (theft
// pricing) and OwnerID (who gets paid at close); the rest is display data.
type Subject struct {
	Name       string            `json:"name"`
	Category   string            `json:"category,omitempty"`
	Value      int64             `json:"value,omitempty"`
	OwnerID    *uuid.UUID        `json:"owner_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// TheftTerms ties a theft auction to its event and the team losing the asset.
type TheftTerms struct {
	EventID  uuid.UUID `json:"event_id"`
	TargetID uuid.UUID `json:"target_id"`
}

// DarkTerms lists the hidden subject attributes in the order they unlock.
type DarkTerms struct {
	RevealOrder []string `json:"reveal_order"`
}

// Auction is the authoritative record for a single sellable subject.
type Auction struct {
	ID                uuid.UUID     `json:"id"`
	Format            AuctionFormat `json:"format"`
	Subject           Subject       `json:"subject"`
	CurrentPrice      int64         `json:"current_price"`
	CurrentLeaderID   *uuid.UUID    `json:"current_leader_id,omitempty"`
	CurrentLeaderName string        `json:"current_leader_name,omitempty"`
	Deadline          time.Time     `json:"deadline"`
	Duration          time.Duration `json:"duration"`
	CreatedAt         time.Time     `json:"created_at"`
	Status            AuctionStatus `json:"status"`
	Theft             *TheftTerms   `json:"theft,omitempty"`
	Dark              *DarkTerms    `json:"dark,omitempty"`
}

// IsLeader reports whether bidderID currently holds the auction.
func (a *Auction) IsLeader(bidderID uuid.UUID) bool {
	return a.CurrentLeaderID != nil && *a.CurrentLeaderID == bidderID
}

// SellerID returns the party credited with the final price, if any.
func (a *Auction) SellerID() *uuid.UUID {
	if a.Theft != nil {
		id := a.Theft.TargetID
		return &id
	}
	return a.Subject.OwnerID
}

// Supersedes reports whether a is a newer view of the same auction than b.
// Price is the primary version; at equal price a later deadline or a terminal
// status wins.
func (a *Auction) Supersedes(b *Auction) bool {
	if a.CurrentPrice != b.CurrentPrice {
		return a.CurrentPrice > b.CurrentPrice
	}
	if a.Status != b.Status {
		return a.Status.IsTerminal() || (a.Status == AuctionStatusActive && b.Status == AuctionStatusQueued)
	}
	return a.Deadline.After(b.Deadline)
}

// Bid is an append-only log entry for an accepted bid.
type Bid struct {
	ID         uuid.UUID `json:"id"`
	AuctionID  uuid.UUID `json:"auction_id"`
	BidderID   uuid.UUID `json:"bidder_id"`
	BidderName string    `json:"bidder_name"`
	Amount     int64     `json:"amount"`
	CreatedAt  time.Time `json:"created_at"`
}
