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
	"github.com/tinti400/ligafut-new-sub000/go/internal/retry"
)

// App runs the settlement procedure and the administrative lifecycle on top
// of a Store.
type App struct {
	store    Store
	rules    rules.Table
	retry    retry.Policy
	recorder Recorder
}

type Option func(*App)

// WithRetryPolicy overrides the balance/counter CAS retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(a *App) { a.retry = p }
}

func WithRecorder(r Recorder) Option {
	return func(a *App) { a.recorder = r }
}

func NewApp(store Store, table rules.Table, opts ...Option) *App {
	a := &App{
		store: store,
		rules: table,
		retry: retry.Once(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Rules exposes the format table the app validates with.
func (a *App) Rules() rules.Table { return a.rules }

// PlaceBid re-reads the auction, re-validates the bid against the fresh row
// and commits price, leader, deadline, funds, counters, bid log and outbox
// event in one transaction, or nothing at all.
func (a *App) PlaceBid(ctx context.Context, req PlaceBidRequest) (*PlaceBidResult, error) {
	start := time.Now()
	var (
		result *PlaceBidResult
		format models.AuctionFormat
	)

	err := a.store.InTx(ctx, func(tx Tx) error {
		res, f, err := a.settle(ctx, tx, req)
		format = f
		result = res
		return err
	})
	if errors.Is(err, ErrTxConflict) {
		err = rules.Reject(rules.ReasonSettlementConflict, "another write won the race")
	}

	a.observe(format, err, time.Since(start))
	if err != nil {
		a.logRejection(req, err)
		return nil, err
	}

	log.Info().
		Str("auction_id", req.AuctionID.String()).
		Str("bidder_id", req.BidderID.String()).
		Int64("amount", req.Amount).
		Bool("extended", result.Extended).
		Msg("bid accepted")
	return result, nil
}

func (a *App) settle(ctx context.Context, tx Tx, req PlaceBidRequest) (*PlaceBidResult, models.AuctionFormat, error) {
	now, err := tx.Now(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read server time: %w", err)
	}

	auction, err := tx.GetAuction(ctx, req.AuctionID)
	if err != nil {
		return nil, "", err
	}
	fr, err := a.rules.For(auction.Format)
	if err != nil {
		return nil, auction.Format, err
	}

	balance, err := tx.GetBalance(ctx, req.BidderID)
	if err != nil {
		return nil, auction.Format, err
	}
	proposal := rules.Proposal{
		BidderID: req.BidderID,
		Amount:   req.Amount,
		Balance:  &balance,
	}
	if auction.Theft != nil {
		counters, err := a.theftCounters(ctx, tx, auction, req.BidderID)
		if err != nil {
			return nil, auction.Format, err
		}
		proposal.Counters = counters
	}

	if err := rules.Validate(auction, proposal, fr, now); err != nil {
		return nil, auction.Format, err
	}
	if req.ExpectedPrice != nil && *req.ExpectedPrice != auction.CurrentPrice {
		return nil, auction.Format, rules.Reject(rules.ReasonSettlementConflict,
			"price moved from %d to %d", *req.ExpectedPrice, auction.CurrentPrice)
	}

	deadline, extended := rules.ExtendDeadline(auction.Deadline, now, fr)
	if extended != req.ShouldExtend {
		log.Debug().
			Str("auction_id", auction.ID.String()).
			Bool("client_extend", req.ShouldExtend).
			Bool("server_extend", extended).
			Msg("client extension estimate disagrees with server")
	}

	ok, err := tx.CompareAndSwapPrice(ctx, auction.ID, auction.CurrentPrice, PriceUpdate{
		Price:      req.Amount,
		LeaderID:   req.BidderID,
		LeaderName: req.BidderName,
		Deadline:   deadline,
	})
	if err != nil {
		return nil, auction.Format, fmt.Errorf("failed to update auction price: %w", err)
	}
	if !ok {
		return nil, auction.Format, rules.Reject(rules.ReasonSettlementConflict, "price changed before commit")
	}

	if fr.ImmediateTransfer {
		if err := a.transferOnBid(ctx, tx, auction, fr, req); err != nil {
			return nil, auction.Format, err
		}
	}
	if err := a.applyCounters(ctx, tx, auction, fr, rules.TheftDeltas(auction, req.BidderID)); err != nil {
		return nil, auction.Format, err
	}

	bid := models.Bid{
		ID:         uuid.New(),
		AuctionID:  auction.ID,
		BidderID:   req.BidderID,
		BidderName: req.BidderName,
		Amount:     req.Amount,
		CreatedAt:  now,
	}
	if err := tx.InsertBid(ctx, bid); err != nil {
		return nil, auction.Format, fmt.Errorf("failed to append bid: %w", err)
	}

	previousDeadline := auction.Deadline
	updated := *auction
	updated.CurrentPrice = req.Amount
	updated.CurrentLeaderID = &bid.BidderID
	updated.CurrentLeaderName = req.BidderName
	updated.Deadline = deadline

	if err := a.emit(ctx, tx, events.TypeBidAccepted, events.AuctionChangedPayload{Auction: updated, Bid: &bid}, now); err != nil {
		return nil, auction.Format, err
	}
	if extended {
		payload := events.AuctionChangedPayload{Auction: updated, PreviousDeadline: &previousDeadline}
		if err := a.emit(ctx, tx, events.TypeDeadlineExtended, payload, now); err != nil {
			return nil, auction.Format, err
		}
	}

	return &PlaceBidResult{Auction: updated, Bid: bid, Extended: extended}, auction.Format, nil
}

// transferOnBid debits the new bidder and refunds the displaced leader, so the
// auction always holds exactly its current price.
func (a *App) transferOnBid(ctx context.Context, tx Tx, auction *models.Auction, fr rules.FormatRules, req PlaceBidRequest) error {
	if auction.IsLeader(req.BidderID) {
		return a.adjustBalance(ctx, tx, req.BidderID, -fr.Due(auction, req.BidderID, req.Amount))
	}
	if err := a.adjustBalance(ctx, tx, req.BidderID, -req.Amount); err != nil {
		return err
	}
	if auction.CurrentLeaderID != nil && auction.CurrentPrice > 0 {
		return a.adjustBalance(ctx, tx, *auction.CurrentLeaderID, auction.CurrentPrice)
	}
	return nil
}

func (a *App) theftCounters(ctx context.Context, tx Tx, auction *models.Auction, bidder uuid.UUID) (*rules.TheftCounters, error) {
	target := auction.Theft.TargetID
	keys := []string{
		rules.TargetLossesKey(target),
		rules.PairWinsKey(bidder, target),
		rules.BidderWinsKey(bidder),
	}
	values, err := tx.GetCounters(ctx, auction.Theft.EventID, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read theft counters: %w", err)
	}
	return &rules.TheftCounters{
		TargetLosses: values[keys[0]],
		PairWins:     values[keys[1]],
		BidderWins:   values[keys[2]],
	}, nil
}

func (a *App) emit(ctx context.Context, tx Tx, t events.Type, payload events.AuctionChangedPayload, now time.Time) error {
	e, err := events.New(t, payload, now)
	if err != nil {
		return err
	}
	if err := tx.AppendEvent(ctx, e); err != nil {
		return fmt.Errorf("failed to append %s event: %w", t, err)
	}
	return nil
}

func (a *App) observe(format models.AuctionFormat, err error, d time.Duration) {
	if a.recorder == nil {
		return
	}
	result := "accepted"
	if err != nil {
		result = "error"
		if reason, ok := rules.ReasonOf(err); ok {
			result = string(reason)
		}
	}
	a.recorder.ObserveBid(string(format), result, d)
}

func (a *App) logRejection(req PlaceBidRequest, err error) {
	reason, ok := rules.ReasonOf(err)
	switch {
	case !ok:
		log.Error().Err(err).Str("auction_id", req.AuctionID.String()).Msg("failed to settle bid")
	case reason == rules.ReasonSettlementConflict:
		log.Warn().Str("auction_id", req.AuctionID.String()).Str("bidder_id", req.BidderID.String()).
			Str("reason", string(reason)).Msg("bid lost settlement race")
	default:
		log.Debug().Str("auction_id", req.AuctionID.String()).Str("bidder_id", req.BidderID.String()).
			Str("reason", string(reason)).Msg("bid rejected")
	}
}
