package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

// Type names a domain event written to the auction outbox.
type Type string

const (
	TypeAuctionCreated   Type = "AuctionCreated"
	TypeAuctionActivated Type = "AuctionActivated"
	TypeBidAccepted      Type = "BidAccepted"
	TypeDeadlineExtended Type = "DeadlineExtended"
	TypeAuctionSettled   Type = "AuctionSettled"
	TypeAuctionCancelled Type = "AuctionCancelled"
)

// ErrEventNotFound is returned when an outbox row is missing or already sent.
var ErrEventNotFound = errors.New("outbox event not found or already sent")

// Event is one outbox row.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	AuctionID uuid.UUID       `json:"auction_id"`
	Type      Type            `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

// AuctionChangedPayload carries the post-update auction row, plus the bid
// that caused the change when there is one.
type AuctionChangedPayload struct {
	Auction          models.Auction `json:"auction"`
	Bid              *models.Bid    `json:"bid,omitempty"`
	PreviousDeadline *time.Time     `json:"previous_deadline,omitempty"`
}

// New builds an outbox event for an auction change.
func New(t Type, payload AuctionChangedPayload, at time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Event{
		ID:        uuid.New(),
		AuctionID: payload.Auction.ID,
		Type:      t,
		Payload:   data,
		CreatedAt: at,
	}, nil
}

// Decode parses an event payload.
func Decode(data []byte) (*AuctionChangedPayload, error) {
	var p AuctionChangedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal auction payload: %w", err)
	}
	return &p, nil
}

// Envelope is the message body published to the event stream.
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	AuctionID string          `json:"auctionId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Wrap builds the stream envelope for an outbox event.
func Wrap(e Event, at time.Time) Envelope {
	return Envelope{
		EventID:   e.ID.String(),
		EventType: string(e.Type),
		AuctionID: e.AuctionID.String(),
		Timestamp: at.UTC(),
		Payload:   e.Payload,
	}
}
