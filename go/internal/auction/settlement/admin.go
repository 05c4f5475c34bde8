package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/events"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rules"
	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

// CreateAuction stages a single auction, queued or already running.
func (a *App) CreateAuction(ctx context.Context, req CreateAuctionRequest) (*models.Auction, error) {
	if !req.Format.Valid() {
		return nil, fmt.Errorf("unknown auction format %q", req.Format)
	}
	if req.Duration <= 0 {
		return nil, fmt.Errorf("auction duration must be positive")
	}
	if req.StartPrice < 0 {
		return nil, fmt.Errorf("start price must not be negative")
	}
	if req.Format == models.AuctionFormatTheft && req.Theft == nil {
		return nil, fmt.Errorf("theft auctions need an event and a target")
	}

	var created *models.Auction
	err := a.store.InTx(ctx, func(tx Tx) error {
		now, err := tx.Now(ctx)
		if err != nil {
			return fmt.Errorf("failed to read server time: %w", err)
		}
		auction := &models.Auction{
			ID:           uuid.New(),
			Format:       req.Format,
			Subject:      req.Subject,
			CurrentPrice: req.StartPrice,
			Duration:     req.Duration,
			CreatedAt:    now,
			Status:       models.AuctionStatusQueued,
			Theft:        req.Theft,
			Dark:         req.Dark,
		}
		if req.Activate {
			auction.Status = models.AuctionStatusActive
			auction.Deadline = now.Add(req.Duration)
		}
		if err := tx.InsertAuction(ctx, auction); err != nil {
			return fmt.Errorf("failed to insert auction: %w", err)
		}
		created = auction
		return a.emit(ctx, tx, events.TypeAuctionCreated, events.AuctionChangedPayload{Auction: *auction}, now)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("auction_id", created.ID.String()).
		Str("format", string(created.Format)).
		Str("status", string(created.Status)).
		Msg("auction created")
	return created, nil
}

// Activate starts a queued auction; its deadline becomes server now plus the
// staged duration.
func (a *App) Activate(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return a.transition(ctx, id, "activate", func(ctx context.Context, tx Tx, auction *models.Auction, now time.Time) (events.Type, error) {
		if auction.Status != models.AuctionStatusQueued {
			return "", rules.Reject(rules.ReasonAuctionNotActive, "auction is %s, not queued", auction.Status)
		}
		deadline := now.Add(auction.Duration)
		if err := a.swapStatus(ctx, tx, auction, models.AuctionStatusActive, deadline); err != nil {
			return "", err
		}
		auction.Deadline = deadline
		return events.TypeAuctionActivated, nil
	})
}

// Finalize settles an active auction whose deadline has passed in server time
// and runs the close-out fund movement.
func (a *App) Finalize(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return a.transition(ctx, id, "finalize", func(ctx context.Context, tx Tx, auction *models.Auction, now time.Time) (events.Type, error) {
		if auction.Status != models.AuctionStatusActive {
			return "", rules.Reject(rules.ReasonAuctionNotActive, "auction is %s", auction.Status)
		}
		if now.Before(auction.Deadline) {
			return "", fmt.Errorf("%w: %s left", ErrAuctionNotExpired, auction.Deadline.Sub(now).Round(time.Second))
		}
		if err := a.swapStatus(ctx, tx, auction, models.AuctionStatusSettled, time.Time{}); err != nil {
			return "", err
		}
		if err := a.closeOut(ctx, tx, auction); err != nil {
			return "", err
		}
		return events.TypeAuctionSettled, nil
	})
}

// Cancel terminates any non-terminal auction. Funds held by an immediate
// transfer format go back to the leader and theft holdings are released.
func (a *App) Cancel(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return a.transition(ctx, id, "cancel", func(ctx context.Context, tx Tx, auction *models.Auction, now time.Time) (events.Type, error) {
		if auction.Status.IsTerminal() {
			return "", rules.Reject(rules.ReasonAuctionNotActive, "auction is already %s", auction.Status)
		}
		if err := a.swapStatus(ctx, tx, auction, models.AuctionStatusCancelled, time.Time{}); err != nil {
			return "", err
		}
		fr, err := a.rules.For(auction.Format)
		if err != nil {
			return "", err
		}
		if fr.ImmediateTransfer && auction.CurrentLeaderID != nil {
			if err := a.adjustBalance(ctx, tx, *auction.CurrentLeaderID, auction.CurrentPrice); err != nil {
				return "", err
			}
		}
		if err := a.applyCounters(ctx, tx, auction, fr, rules.ReleaseDeltas(auction)); err != nil {
			return "", err
		}
		return events.TypeAuctionCancelled, nil
	})
}

type transitionFunc func(ctx context.Context, tx Tx, auction *models.Auction, now time.Time) (events.Type, error)

func (a *App) transition(ctx context.Context, id uuid.UUID, action string, fn transitionFunc) (*models.Auction, error) {
	var result *models.Auction
	err := a.store.InTx(ctx, func(tx Tx) error {
		now, err := tx.Now(ctx)
		if err != nil {
			return fmt.Errorf("failed to read server time: %w", err)
		}
		auction, err := tx.GetAuction(ctx, id)
		if err != nil {
			return err
		}
		eventType, err := fn(ctx, tx, auction, now)
		if err != nil {
			return err
		}
		result = auction
		return a.emit(ctx, tx, eventType, events.AuctionChangedPayload{Auction: *auction}, now)
	})
	if errors.Is(err, ErrTxConflict) {
		err = rules.Reject(rules.ReasonSettlementConflict, "auction changed during %s", action)
	}
	if err != nil {
		log.Warn().Err(err).Str("auction_id", id.String()).Str("action", action).Msg("administrative action refused")
		return nil, err
	}

	log.Info().
		Str("auction_id", id.String()).
		Str("action", action).
		Str("status", string(result.Status)).
		Msg("auction transitioned")
	return result, nil
}

func (a *App) swapStatus(ctx context.Context, tx Tx, auction *models.Auction, to models.AuctionStatus, deadline time.Time) error {
	ok, err := tx.TransitionStatus(ctx, auction.ID, auction.Status, to, deadline)
	if err != nil {
		return fmt.Errorf("failed to update auction status: %w", err)
	}
	if !ok {
		return rules.Reject(rules.ReasonSettlementConflict, "auction left status %s", auction.Status)
	}
	auction.Status = to
	return nil
}

// closeOut moves the final price: settle-at-close formats debit the winner
// now, and the seller (if any) is credited in every format.
func (a *App) closeOut(ctx context.Context, tx Tx, auction *models.Auction) error {
	if auction.CurrentLeaderID == nil || auction.CurrentPrice == 0 {
		return nil
	}
	fr, err := a.rules.For(auction.Format)
	if err != nil {
		return err
	}
	if !fr.ImmediateTransfer {
		if err := a.adjustBalance(ctx, tx, *auction.CurrentLeaderID, -auction.CurrentPrice); err != nil {
			if errors.Is(err, rules.ErrInsufficientBalance) {
				return fmt.Errorf("%w: team %s owes %d: %v", ErrWinnerUnfunded, *auction.CurrentLeaderID, auction.CurrentPrice, err)
			}
			return err
		}
	}
	if seller := auction.SellerID(); seller != nil {
		return a.adjustBalance(ctx, tx, *seller, auction.CurrentPrice)
	}
	return nil
}

func (a *App) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return a.store.GetAuction(ctx, id)
}

func (a *App) ListAuctions(ctx context.Context, status models.AuctionStatus) ([]models.Auction, error) {
	return a.store.ListAuctions(ctx, status)
}

func (a *App) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	return a.store.ListBids(ctx, auctionID)
}

func (a *App) HasBid(ctx context.Context, auctionID, bidderID uuid.UUID) (bool, error) {
	return a.store.HasBid(ctx, auctionID, bidderID)
}

func (a *App) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	return a.store.GetTeam(ctx, id)
}

func (a *App) ServerTime(ctx context.Context) (time.Time, error) {
	return a.store.ServerTime(ctx)
}
