package session

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rpc"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rules"
)

// Submit sends the current input as a bid. The bid is checked locally first;
// a local rejection never reaches the network. Only one submission may be in
// flight. After any server rejection or a timeout the snapshot is re-fetched
// and the input re-armed; nothing is resubmitted automatically.
func (s *Session) Submit(ctx context.Context) (*rpc.PlaceBidResponse, error) {
	req, err := s.begin()
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	res, err := s.transport.PlaceBid(callCtx, req)
	cancel()
	if err != nil {
		if _, ok := rules.ReasonOf(err); !ok && errors.Is(err, context.DeadlineExceeded) {
			err = rules.Reject(rules.ReasonNetworkTimeout, "no response within %s", s.cfg.SubmitTimeout)
		}
		s.release()
		s.afterRejection(ctx, err)
		return nil, err
	}

	s.mu.Lock()
	s.submitting = false
	s.observeLocked(res.Auction)
	s.hasBid = true
	s.input = s.minimumLocked()
	s.mu.Unlock()

	log.Info().
		Str("auction_id", s.auctionID.String()).
		Str("bidder_id", s.identity.BidderID.String()).
		Int64("amount", req.Amount).
		Bool("extended", res.Extended).
		Msg("bid accepted")
	return res, nil
}

// begin validates locally and takes the cooldown.
func (s *Session) begin() (rpc.PlaceBidRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitting {
		return rpc.PlaceBidRequest{}, ErrCooldown
	}
	if s.snapshot == nil {
		return rpc.PlaceBidRequest{}, ErrNotLoaded
	}

	fr, err := s.table.For(s.snapshot.Format)
	if err != nil {
		return rpc.PlaceBidRequest{}, err
	}
	now := s.clock.Now()
	proposal := rules.Proposal{
		BidderID: s.identity.BidderID,
		Amount:   s.input,
		Balance:  s.balance,
	}
	if err := rules.Validate(s.snapshot, proposal, fr, now); err != nil {
		return rpc.PlaceBidRequest{}, err
	}

	_, extends := rules.ExtendDeadline(s.snapshot.Deadline, now, fr)
	expected := s.snapshot.CurrentPrice
	s.submitting = true
	return rpc.PlaceBidRequest{
		AuctionID:     s.auctionID,
		BidderID:      s.identity.BidderID,
		BidderName:    s.identity.BidderName,
		Amount:        s.input,
		ExpectedPrice: &expected,
		ShouldExtend:  extends,
	}, nil
}

func (s *Session) release() {
	s.mu.Lock()
	s.submitting = false
	s.mu.Unlock()
}

func (s *Session) afterRejection(ctx context.Context, err error) {
	reason, _ := rules.ReasonOf(err)
	ev := log.Debug()
	if reason == rules.ReasonSettlementConflict || reason == rules.ReasonNetworkTimeout {
		ev = log.Warn()
	}
	ev.Err(err).
		Str("auction_id", s.auctionID.String()).
		Str("bidder_id", s.identity.BidderID.String()).
		Str("reason", string(reason)).
		Msg("bid not accepted, refreshing snapshot")

	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RefreshTimeout)
	defer cancel()
	if err := s.Refresh(refreshCtx); err != nil {
		log.Debug().Err(err).Str("auction_id", s.auctionID.String()).Msg("refresh failed, waiting for the change feed")
	}
}

// Refresh re-reads the authoritative snapshot and balance and re-arms the
// input at the new minimum.
func (s *Session) Refresh(ctx context.Context) error {
	a, err := s.transport.GetAuction(ctx, s.auctionID)
	if err != nil {
		return err
	}
	team, teamErr := s.transport.GetTeam(ctx, s.identity.BidderID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.observeLocked(*a)
	if teamErr == nil {
		s.balance = &team.Balance
	}
	s.input = s.minimumLocked()
	return nil
}
