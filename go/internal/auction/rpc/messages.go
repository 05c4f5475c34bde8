package rpc

import (
	"time"

	"github.com/google/uuid"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/events"
	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

type PlaceBidRequest struct {
	AuctionID  uuid.UUID `json:"auction_id"`
	BidderID   uuid.UUID `json:"bidder_id"`
	BidderName string    `json:"bidder_name"`
	Amount     int64     `json:"amount"`
	// ExpectedPrice is the price on the bidder's snapshot.
	ExpectedPrice *int64 `json:"expected_price,omitempty"`
	ShouldExtend  bool   `json:"should_extend,omitempty"`
}

type PlaceBidResponse struct {
	Auction  models.Auction `json:"auction"`
	Bid      models.Bid     `json:"bid"`
	Extended bool           `json:"extended"`
}

type GetAuctionRequest struct {
	AuctionID uuid.UUID `json:"auction_id"`
}

type GetAuctionResponse struct {
	Auction    models.Auction `json:"auction"`
	ServerTime int64          `json:"server_time_ms"`
}

type ListAuctionsRequest struct {
	Status models.AuctionStatus `json:"status,omitempty"`
}

type ListAuctionsResponse struct {
	Auctions []models.Auction `json:"auctions"`
}

type ListBidsRequest struct {
	AuctionID uuid.UUID `json:"auction_id"`
}

type ListBidsResponse struct {
	Bids []models.Bid `json:"bids"`
}

type HasBidRequest struct {
	AuctionID uuid.UUID `json:"auction_id"`
	BidderID  uuid.UUID `json:"bidder_id"`
}

type HasBidResponse struct {
	HasBid bool `json:"has_bid"`
}

type GetTeamRequest struct {
	TeamID uuid.UUID `json:"team_id"`
}

type GetTeamResponse struct {
	Team models.Team `json:"team"`
}

type ServerTimeRequest struct{}

type ServerTimeResponse struct {
	UnixMillis int64 `json:"unix_ms"`
}

// PushMessage is one frame on the websocket change feed. The first frame of
// every connection is a snapshot of the auction.
type PushMessage struct {
	Type       events.Type    `json:"type"`
	EventID    string         `json:"event_id,omitempty"`
	Auction    models.Auction `json:"auction"`
	Bid        *models.Bid    `json:"bid,omitempty"`
	ServerTime int64          `json:"server_time_ms"`
}

// TypeSnapshot marks the frame sent on connect.
const TypeSnapshot events.Type = "Snapshot"

func Millis(t time.Time) int64 { return t.UnixMilli() }

func FromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
