// Package session is the bidder side of an auction: who is bidding, the last
// authoritative snapshot, the bid input and the submit cooldown.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rpc"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rules"
	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

var (
	// ErrCooldown is returned while a previous submission is unresolved.
	ErrCooldown  = errors.New("previous bid still in flight")
	ErrNotLoaded = errors.New("session has no auction snapshot yet")
)

// Identity is passed in explicitly; a session never looks its bidder up.
type Identity struct {
	BidderID   uuid.UUID
	BidderName string
}

// Transport is the gateway as seen by one bidder.
type Transport interface {
	PlaceBid(ctx context.Context, req rpc.PlaceBidRequest) (*rpc.PlaceBidResponse, error)
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	HasBid(ctx context.Context, auctionID, bidderID uuid.UUID) (bool, error)
	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
}

// ServerClock estimates server time; *clocksync.Synchronizer satisfies it.
type ServerClock interface {
	Now() time.Time
}

type Config struct {
	// SubmitTimeout bounds one bid round trip. Past it the outcome is
	// unknown and the session reconciles from the next snapshot.
	SubmitTimeout  time.Duration
	RefreshTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		SubmitTimeout:  8 * time.Second,
		RefreshTimeout: 5 * time.Second,
	}
}

type Session struct {
	identity  Identity
	auctionID uuid.UUID
	transport Transport
	clock     ServerClock
	table     rules.Table
	cfg       Config

	mu         sync.Mutex
	snapshot   *models.Auction
	balance    *int64
	hasBid     bool
	submitting bool
	input      int64
}

func New(identity Identity, auctionID uuid.UUID, transport Transport, clock ServerClock, table rules.Table, cfg Config) *Session {
	return &Session{
		identity:  identity,
		auctionID: auctionID,
		transport: transport,
		clock:     clock,
		table:     table,
		cfg:       cfg,
	}
}

func (s *Session) Identity() Identity { return s.identity }

// Load fetches the auction, the bidder's balance and whether they already
// bid, and arms the input at the minimum admissible amount.
func (s *Session) Load(ctx context.Context) error {
	a, err := s.transport.GetAuction(ctx, s.auctionID)
	if err != nil {
		return fmt.Errorf("failed to load auction: %w", err)
	}
	hasBid, err := s.transport.HasBid(ctx, s.auctionID, s.identity.BidderID)
	if err != nil {
		return fmt.Errorf("failed to load bid history: %w", err)
	}

	var balance *int64
	if team, err := s.transport.GetTeam(ctx, s.identity.BidderID); err == nil {
		balance = &team.Balance
	} else {
		log.Debug().Err(err).Str("bidder_id", s.identity.BidderID.String()).Msg("balance unknown, skipping local balance check")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = a
	s.hasBid = s.hasBid || hasBid
	s.balance = balance
	s.input = s.minimumLocked()
	return nil
}

// Snapshot returns the last authoritative view.
func (s *Session) Snapshot() (models.Auction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return models.Auction{}, false
	}
	return *s.snapshot, true
}

// Observe reconciles a view from the change feed. Views that do not
// supersede the current snapshot are ignored. It reports whether the
// snapshot changed.
func (s *Session) Observe(a models.Auction) bool {
	if a.ID != s.auctionID {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observeLocked(a)
}

func (s *Session) observeLocked(a models.Auction) bool {
	if s.snapshot != nil && !a.Supersedes(s.snapshot) {
		return false
	}
	s.snapshot = &a
	if min := s.minimumLocked(); s.input < min {
		s.input = min
	}
	return true
}

// Remaining is the time left before the deadline in estimated server time,
// never negative.
func (s *Session) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil || s.snapshot.Status != models.AuctionStatusActive {
		return 0
	}
	left := s.snapshot.Deadline.Sub(s.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

func (s *Session) Input() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

func (s *Session) SetInput(amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = amount
}

// MinimumBid is the lowest amount the current snapshot admits.
func (s *Session) MinimumBid() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minimumLocked()
}

func (s *Session) minimumLocked() int64 {
	if s.snapshot == nil {
		return 0
	}
	fr, err := s.table.For(s.snapshot.Format)
	if err != nil {
		return s.snapshot.CurrentPrice
	}
	return fr.MinimumBid(s.snapshot)
}

// HasBid reports whether this bidder has an accepted bid on the auction.
func (s *Session) HasBid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasBid
}

// CoolingDown reports whether a submission is in flight.
func (s *Session) CoolingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitting
}
