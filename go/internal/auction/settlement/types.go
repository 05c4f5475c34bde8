package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/events"
	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

var (
	ErrAuctionNotFound   = errors.New("auction not found")
	ErrTeamNotFound      = errors.New("team not found")
	ErrAuctionNotExpired = errors.New("auction deadline has not passed")

	// ErrWinnerUnfunded is returned by Finalize when a settle-at-close winner
	// no longer holds the final price. The auction stays active so an
	// administrator can cancel it or finalize again once the team is funded.
	ErrWinnerUnfunded = errors.New("winner cannot cover final price")

	// ErrTxConflict is returned by a Store when the transaction lost a race
	// at commit time (serialization failure, deadlock, stale write set).
	ErrTxConflict = errors.New("transaction conflict")
)

// PriceUpdate is the new leading state written by a bid.
type PriceUpdate struct {
	Price      int64
	LeaderID   uuid.UUID
	LeaderName string
	Deadline   time.Time
}

// Tx is the store as seen from inside one settlement transaction. Every write
// to shared state is a compare-and-swap reporting whether it applied.
type Tx interface {
	Now(ctx context.Context) (time.Time, error)
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	InsertAuction(ctx context.Context, a *models.Auction) error

	// CompareAndSwapPrice applies upd only if the auction is still active at
	// expectedPrice.
	CompareAndSwapPrice(ctx context.Context, id uuid.UUID, expectedPrice int64, upd PriceUpdate) (bool, error)
	// TransitionStatus moves the auction from one status to another. A zero
	// deadline leaves the deadline unchanged.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.AuctionStatus, deadline time.Time) (bool, error)

	GetBalance(ctx context.Context, teamID uuid.UUID) (int64, error)
	CompareAndSwapBalance(ctx context.Context, teamID uuid.UUID, expected, next int64) (bool, error)

	// GetCounters returns the current value of each key; missing keys are 0.
	GetCounters(ctx context.Context, eventID uuid.UUID, keys []string) (map[string]int, error)
	CompareAndSwapCounter(ctx context.Context, eventID uuid.UUID, key string, expected, next int) (bool, error)

	InsertBid(ctx context.Context, bid models.Bid) error
	AppendEvent(ctx context.Context, e events.Event) error
}

// Store is the transactional data store the engine runs on.
type Store interface {
	// InTx runs fn in one transaction: committed if fn returns nil, rolled
	// back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	ServerTime(ctx context.Context) (time.Time, error)

	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	ListAuctions(ctx context.Context, status models.AuctionStatus) ([]models.Auction, error)
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error)
	HasBid(ctx context.Context, auctionID, bidderID uuid.UUID) (bool, error)
	GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error)
}

// Recorder receives settlement measurements. Nil-safe implementations are
// expected; App tolerates a nil Recorder.
type Recorder interface {
	ObserveBid(format, result string, d time.Duration)
	IncCASRetry(resource string)
}

// PlaceBidRequest is the settlement procedure input.
type PlaceBidRequest struct {
	AuctionID  uuid.UUID
	BidderID   uuid.UUID
	BidderName string
	Amount     int64

	// ExpectedPrice is the price the bidder saw. When set, a bid that still
	// validates against a newer price is refused as a conflict.
	ExpectedPrice *int64
	// ShouldExtend is the client's own guess; the server decides from its
	// own clock and only logs disagreement.
	ShouldExtend bool
}

type PlaceBidResult struct {
	Auction  models.Auction
	Bid      models.Bid
	Extended bool
}

type CreateAuctionRequest struct {
	Format     models.AuctionFormat
	Subject    models.Subject
	StartPrice int64
	Duration   time.Duration
	Activate   bool
	Theft      *models.TheftTerms
	Dark       *models.DarkTerms
}
