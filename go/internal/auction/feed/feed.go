// Package feed merges the push channel and a fixed-interval poll into one
// ordered stream of auction views per subscription.
package feed

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rpc"
	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

// Fetcher reads the authoritative auction row.
type Fetcher interface {
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
}

// PushSource opens a push subscription. The returned channel closes when the
// connection is lost.
type PushSource interface {
	Watch(ctx context.Context, auctionID uuid.UUID) (<-chan rpc.PushMessage, error)
}

type Source string

const (
	SourcePush Source = "push"
	SourcePoll Source = "poll"
)

// Update is one newer view of the auction.
type Update struct {
	Auction models.Auction
	// Bid is set when a push frame reported the accepted bid.
	Bid    *models.Bid
	Source Source
}

type Config struct {
	PollInterval   time.Duration
	FetchTimeout   time.Duration
	ReconnectDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   time.Second,
		FetchTimeout:   3 * time.Second,
		ReconnectDelay: 5 * time.Second,
	}
}

type Feed struct {
	fetcher Fetcher
	push    PushSource
	clock   clockwork.Clock
	cfg     Config
}

// New builds a feed. push may be nil, in which case only polling runs.
func New(fetcher Fetcher, push PushSource, clock clockwork.Clock, cfg Config) *Feed {
	return &Feed{fetcher: fetcher, push: push, clock: clock, cfg: cfg}
}

// Subscribe delivers every view of the auction that supersedes the last one
// delivered, from whichever of push or poll sees it first. Stale and repeated
// views are dropped. The channel closes when ctx ends.
func (f *Feed) Subscribe(ctx context.Context, auctionID uuid.UUID) <-chan Update {
	out := make(chan Update, 16)
	go f.run(ctx, auctionID, out)
	return out
}

func (f *Feed) run(ctx context.Context, auctionID uuid.UUID, out chan<- Update) {
	defer close(out)

	var latest *models.Auction
	deliver := func(u Update) bool {
		if latest != nil && !u.Auction.Supersedes(latest) {
			return true
		}
		a := u.Auction
		latest = &a
		select {
		case out <- u:
			return true
		case <-ctx.Done():
			return false
		}
	}

	ticker := f.clock.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	var pushCh <-chan rpc.PushMessage
	var reconnect <-chan time.Time
	connect := func() {
		if f.push == nil {
			return
		}
		ch, err := f.push.Watch(ctx, auctionID)
		if err != nil {
			log.Debug().Err(err).Str("auction_id", auctionID.String()).Msg("push channel unavailable, polling")
			reconnect = f.clock.After(f.cfg.ReconnectDelay)
			return
		}
		pushCh = ch
		reconnect = nil
	}
	connect()

	if a, ok := f.poll(ctx, auctionID); ok {
		if !deliver(Update{Auction: *a, Source: SourcePoll}) {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-pushCh:
			if !ok {
				log.Debug().Str("auction_id", auctionID.String()).Msg("push channel closed, polling until reconnect")
				pushCh = nil
				reconnect = f.clock.After(f.cfg.ReconnectDelay)
				continue
			}
			if !deliver(Update{Auction: msg.Auction, Bid: msg.Bid, Source: SourcePush}) {
				return
			}

		case <-reconnect:
			connect()

		case <-ticker.Chan():
			a, ok := f.poll(ctx, auctionID)
			if !ok {
				continue
			}
			if !deliver(Update{Auction: *a, Source: SourcePoll}) {
				return
			}
		}
	}
}

func (f *Feed) poll(ctx context.Context, auctionID uuid.UUID) (*models.Auction, bool) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout)
	defer cancel()

	a, err := f.fetcher.GetAuction(fetchCtx, auctionID)
	if err != nil {
		if ctx.Err() == nil {
			log.Debug().Err(err).Str("auction_id", auctionID.String()).Msg("poll failed")
		}
		return nil, false
	}
	return a, true
}
