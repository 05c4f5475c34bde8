package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/events"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rpc"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rules"
)

// Broadcaster turns outbox events into push frames for websocket watchers.
// It is also an outbox publisher, which lets a single process relay its own
// outbox straight to its watchers without a stream in between.
type Broadcaster struct {
	cm    *ConnectionManager
	rules rules.Table
}

func NewBroadcaster(cm *ConnectionManager, table rules.Table) *Broadcaster {
	return &Broadcaster{cm: cm, rules: table}
}

func (b *Broadcaster) Publish(_ context.Context, e events.Event) error {
	return b.broadcast(e.ID.String(), e.Type, e.Payload, time.Now())
}

func (b *Broadcaster) broadcast(eventID string, t events.Type, payload []byte, at time.Time) error {
	p, err := events.Decode(payload)
	if err != nil {
		return err
	}

	b.cm.BroadcastToAuction(p.Auction.ID, &rpc.PushMessage{
		Type:       t,
		EventID:    eventID,
		Auction:    rules.Project(p.Auction, b.rules),
		Bid:        p.Bid,
		ServerTime: rpc.Millis(at),
	})

	log.Debug().
		Str("event_id", eventID).
		Str("auction_id", p.Auction.ID.String()).
		Str("event_type", string(t)).
		Msg("event queued for websocket clients")
	return nil
}
