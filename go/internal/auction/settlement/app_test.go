package settlement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/metrics"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rules"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/settlement"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/store"
	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

var epoch = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

type fixture struct {
	clock *clockwork.FakeClock
	mem   *store.Memory
	app   *settlement.App
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	mem := store.NewMemory(clock)
	return &fixture{
		clock: clock,
		mem:   mem,
		app:   settlement.NewApp(mem, rules.DefaultTable()),
	}
}

func (f *fixture) team(name string, balance int64) uuid.UUID {
	id := uuid.New()
	f.mem.PutTeam(models.Team{ID: id, Name: name, Balance: balance})
	return id
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	team, err := f.mem.GetTeam(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTeam: %v", err)
	}
	return team.Balance
}

func (f *fixture) auction(t *testing.T, req settlement.CreateAuctionRequest) *models.Auction {
	t.Helper()
	if req.Format == "" {
		req.Format = models.AuctionFormatSystem
	}
	if req.Duration == 0 {
		req.Duration = 2 * time.Minute
	}
	if req.Subject.Name == "" {
		req.Subject = models.Subject{Name: "Striker", Value: 10_000_000}
	}
	req.Activate = true
	a, err := f.app.CreateAuction(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}
	return a
}

func (f *fixture) bid(auctionID, bidder uuid.UUID, amount int64) (*settlement.PlaceBidResult, error) {
	return f.app.PlaceBid(context.Background(), settlement.PlaceBidRequest{
		AuctionID:  auctionID,
		BidderID:   bidder,
		BidderName: "team",
		Amount:     amount,
	})
}

func TestPlaceBidStaleSnapshot(t *testing.T) {
	f := newFixture(t)
	x := f.team("X", 50_000_000)
	y := f.team("Y", 50_000_000)
	a := f.auction(t, settlement.CreateAuctionRequest{})

	if _, err := f.bid(a.ID, x, 2_000_000); err != nil {
		t.Fatalf("X bid: %v", err)
	}

	// Y still believes the price is 0.
	_, err := f.bid(a.ID, y, 2_000_000)
	if !errors.Is(err, rules.ErrBidTooLow) {
		t.Fatalf("Y stale bid: got %v, want BidTooLow", err)
	}

	res, err := f.bid(a.ID, y, 4_000_000)
	if err != nil {
		t.Fatalf("Y refreshed bid: %v", err)
	}
	if res.Auction.CurrentPrice != 4_000_000 || !res.Auction.IsLeader(y) {
		t.Fatalf("auction after Y: price=%d leader=%v", res.Auction.CurrentPrice, res.Auction.CurrentLeaderID)
	}

	bids, _ := f.app.ListBids(context.Background(), a.ID)
	if len(bids) != 2 {
		t.Fatalf("bid log has %d entries, want 2", len(bids))
	}
}

func TestPlaceBidExpectedPriceGuard(t *testing.T) {
	f := newFixture(t)
	x := f.team("X", 50_000_000)
	y := f.team("Y", 50_000_000)
	a := f.auction(t, settlement.CreateAuctionRequest{})

	if _, err := f.bid(a.ID, x, 2_000_000); err != nil {
		t.Fatalf("X bid: %v", err)
	}

	seen := int64(0)
	_, err := f.app.PlaceBid(context.Background(), settlement.PlaceBidRequest{
		AuctionID:     a.ID,
		BidderID:      y,
		Amount:        6_000_000,
		ExpectedPrice: &seen,
	})
	if !errors.Is(err, rules.ErrSettlementConflict) {
		t.Fatalf("got %v, want SettlementConflict", err)
	}

	got, _ := f.app.GetAuction(context.Background(), a.ID)
	if got.CurrentPrice != 2_000_000 {
		t.Fatalf("price = %d, want 2000000", got.CurrentPrice)
	}
}

func TestPlaceBidConcurrentSameAmount(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		a := f.auction(t, settlement.CreateAuctionRequest{})
		bidders := []uuid.UUID{f.team("X", 50_000_000), f.team("Y", 50_000_000)}

		var (
			wg   sync.WaitGroup
			errs = make([]error, len(bidders))
		)
		for j, b := range bidders {
			wg.Add(1)
			go func(j int, b uuid.UUID) {
				defer wg.Done()
				_, errs[j] = f.bid(a.ID, b, 2_000_000)
			}(j, b)
		}
		wg.Wait()

		accepted := 0
		for _, err := range errs {
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, rules.ErrSettlementConflict), errors.Is(err, rules.ErrBidTooLow):
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if accepted != 1 {
			t.Fatalf("round %d: %d bids accepted, want exactly 1", i, accepted)
		}
		bids, _ := f.app.ListBids(context.Background(), a.ID)
		if len(bids) != 1 {
			t.Fatalf("round %d: bid log has %d entries", i, len(bids))
		}
	}
}

func TestPlaceBidConcurrentDifferentAmounts(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		a := f.auction(t, settlement.CreateAuctionRequest{})
		low, high := f.team("X", 50_000_000), f.team("Y", 50_000_000)
		amounts := map[uuid.UUID]int64{low: 2_000_000, high: 6_000_000}

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs = map[uuid.UUID]error{}
		)
		for bidder, amount := range amounts {
			wg.Add(1)
			go func(bidder uuid.UUID, amount int64) {
				defer wg.Done()
				seen := int64(0)
				_, err := f.app.PlaceBid(context.Background(), settlement.PlaceBidRequest{
					AuctionID:     a.ID,
					BidderID:      bidder,
					Amount:        amount,
					ExpectedPrice: &seen,
				})
				mu.Lock()
				errs[bidder] = err
				mu.Unlock()
			}(bidder, amount)
		}
		wg.Wait()

		accepted := 0
		for bidder, err := range errs {
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, rules.ErrSettlementConflict):
			case bidder == low && errors.Is(err, rules.ErrBidTooLow):
			default:
				t.Fatalf("round %d: unexpected error for %d bid: %v", i, amounts[bidder], err)
			}
		}
		if accepted != 1 {
			t.Fatalf("round %d: %d bids accepted, want exactly 1", i, accepted)
		}
	}
}

func TestPlaceBidAntiSniping(t *testing.T) {
	f := newFixture(t)
	x := f.team("X", 50_000_000)

	late := f.auction(t, settlement.CreateAuctionRequest{})
	early := f.auction(t, settlement.CreateAuctionRequest{Duration: 5 * time.Minute})

	f.clock.Advance(late.Deadline.Sub(epoch) - 5*time.Second)
	now := f.clock.Now()

	res, err := f.bid(late.ID, x, 2_000_000)
	if err != nil {
		t.Fatalf("late bid: %v", err)
	}
	if !res.Extended {
		t.Fatal("bid 5s before deadline did not extend")
	}
	if want := now.Add(30 * time.Second); !res.Auction.Deadline.Equal(want) {
		t.Fatalf("deadline = %s, want %s", res.Auction.Deadline, want)
	}

	res, err = f.bid(early.ID, x, 2_000_000)
	if err != nil {
		t.Fatalf("early bid: %v", err)
	}
	if res.Extended || !res.Auction.Deadline.Equal(early.Deadline) {
		t.Fatalf("bid far from deadline moved it: %s -> %s", early.Deadline, res.Auction.Deadline)
	}
}

func TestPlaceBidAfterDeadline(t *testing.T) {
	f := newFixture(t)
	x := f.team("X", 50_000_000)
	a := f.auction(t, settlement.CreateAuctionRequest{})

	f.clock.Advance(2 * time.Minute)
	if _, err := f.bid(a.ID, x, 2_000_000); !errors.Is(err, rules.ErrAuctionExpired) {
		t.Fatalf("got %v, want AuctionExpired", err)
	}
}

func TestPlaceBidInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	x := f.team("X", 1_000_000)
	a := f.auction(t, settlement.CreateAuctionRequest{})

	if _, err := f.bid(a.ID, x, 2_000_000); !errors.Is(err, rules.ErrInsufficientBalance) {
		t.Fatalf("got %v, want InsufficientBalance", err)
	}
}

func theftAuction(t *testing.T, f *fixture, eventID, target uuid.UUID) *models.Auction {
	t.Helper()
	return f.auction(t, settlement.CreateAuctionRequest{
		Format:  models.AuctionFormatTheft,
		Subject: models.Subject{Name: "Keeper", Value: 10_000_000},
		Theft:   &models.TheftTerms{EventID: eventID, TargetID: target},
	})
}

func TestTheftTargetLossCap(t *testing.T) {
	f := newFixture(t)
	eventID := uuid.New()
	target := f.team("Target", 0)

	for i := 0; i < 3; i++ {
		a := theftAuction(t, f, eventID, target)
		bidder := f.team("thief", 50_000_000)
		if _, err := f.bid(a.ID, bidder, 1_000_000); err != nil {
			t.Fatalf("theft %d: %v", i, err)
		}
	}
	if got := f.mem.Counter(eventID, rules.TargetLossesKey(target)); got != 3 {
		t.Fatalf("target losses = %d, want 3", got)
	}

	fourth := theftAuction(t, f, eventID, target)
	bidder := f.team("late thief", 50_000_000)
	if _, err := f.bid(fourth.ID, bidder, 1_000_000); !errors.Is(err, rules.ErrEligibilityDenied) {
		t.Fatalf("got %v, want EligibilityDenied", err)
	}
	if got := f.balance(t, bidder); got != 50_000_000 {
		t.Fatalf("rejected bidder balance = %d", got)
	}
}

func TestTheftFundsConservation(t *testing.T) {
	f := newFixture(t)
	eventID := uuid.New()
	target := f.team("Target", 0)
	a := f.team("A", 20_000_000)
	b := f.team("B", 20_000_000)
	total := int64(40_000_000)

	auction := theftAuction(t, f, eventID, target)

	steps := []struct {
		bidder uuid.UUID
		amount int64
	}{
		{a, 1_000_000},
		{b, 2_000_000},
		{a, 3_000_000},
		{a, 4_000_000},
	}
	for _, s := range steps {
		res, err := f.bid(auction.ID, s.bidder, s.amount)
		if err != nil {
			t.Fatalf("bid %d: %v", s.amount, err)
		}
		held := res.Auction.CurrentPrice
		if sum := f.balance(t, a) + f.balance(t, b) + f.balance(t, target) + held; sum != total {
			t.Fatalf("after bid %d funds sum to %d, want %d", s.amount, sum, total)
		}
	}
	if got := f.balance(t, a); got != 16_000_000 {
		t.Fatalf("A balance = %d, want 16000000", got)
	}
	if got := f.balance(t, b); got != 20_000_000 {
		t.Fatalf("B balance = %d, want refund to 20000000", got)
	}
	if got := f.mem.Counter(eventID, rules.BidderWinsKey(b)); got != 0 {
		t.Fatalf("displaced bidder still holds %d wins", got)
	}

	f.clock.Advance(10 * time.Minute)
	if _, err := f.app.Finalize(context.Background(), auction.ID); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if got := f.balance(t, target); got != 4_000_000 {
		t.Fatalf("target credited %d, want 4000000", got)
	}
	if sum := f.balance(t, a) + f.balance(t, b) + f.balance(t, target); sum != total {
		t.Fatalf("after close funds sum to %d, want %d", sum, total)
	}
}

func TestTheftLeaderRaisePaysDifference(t *testing.T) {
	f := newFixture(t)
	target := f.team("Target", 0)
	leader := f.team("A", 5_000_000)
	auction := theftAuction(t, f, uuid.New(), target)

	if _, err := f.bid(auction.ID, leader, 4_000_000); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	if got := f.balance(t, leader); got != 1_000_000 {
		t.Fatalf("balance after first bid = %d, want 1000000", got)
	}

	res, err := f.bid(auction.ID, leader, 5_000_000)
	if err != nil {
		t.Fatalf("raise covered by balance was refused: %v", err)
	}
	if res.Auction.CurrentPrice != 5_000_000 {
		t.Fatalf("price = %d, want 5000000", res.Auction.CurrentPrice)
	}
	if got := f.balance(t, leader); got != 0 {
		t.Fatalf("balance after raise = %d, want 0", got)
	}

	if _, err := f.bid(auction.ID, leader, 6_000_000); !errors.Is(err, rules.ErrInsufficientBalance) {
		t.Fatalf("got %v, want InsufficientBalance", err)
	}
}

// racyStore applies an unrelated balance change right before the settlement
// transaction swaps a balance, as a concurrent salary payment would.
type racyStore struct {
	*store.Memory
	salary int64
	times  int

	mu    sync.Mutex
	fired int
}

func (s *racyStore) InTx(ctx context.Context, fn func(tx settlement.Tx) error) error {
	return s.Memory.InTx(ctx, func(tx settlement.Tx) error {
		return fn(&racyTx{Tx: tx, s: s})
	})
}

type racyTx struct {
	settlement.Tx
	s *racyStore
}

func (tx *racyTx) CompareAndSwapBalance(ctx context.Context, teamID uuid.UUID, expected, next int64) (bool, error) {
	tx.s.mu.Lock()
	fire := tx.s.fired < tx.s.times
	tx.s.fired++
	tx.s.mu.Unlock()
	if fire {
		if err := tx.s.AdjustBalance(ctx, teamID, tx.s.salary); err != nil {
			return false, err
		}
	}
	return tx.Tx.CompareAndSwapBalance(ctx, teamID, expected, next)
}

func TestPlaceBidRetriesBalanceRace(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	racy := &racyStore{Memory: store.NewMemory(clock), salary: 500_000, times: 1}
	m := metrics.New(prometheus.NewRegistry())
	app := settlement.NewApp(racy, rules.DefaultTable(), settlement.WithRecorder(m))

	bidder := uuid.New()
	racy.PutTeam(models.Team{ID: bidder, Balance: 10_000_000})
	target := uuid.New()
	racy.PutTeam(models.Team{ID: target})

	a, err := app.CreateAuction(context.Background(), settlement.CreateAuctionRequest{
		Format:   models.AuctionFormatTheft,
		Subject:  models.Subject{Name: "Keeper", Value: 10_000_000},
		Duration: time.Minute,
		Activate: true,
		Theft:    &models.TheftTerms{EventID: uuid.New(), TargetID: target},
	})
	if err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}

	if _, err := app.PlaceBid(context.Background(), settlement.PlaceBidRequest{
		AuctionID: a.ID,
		BidderID:  bidder,
		Amount:    1_000_000,
	}); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}

	team, _ := racy.GetTeam(context.Background(), bidder)
	if want := int64(10_000_000 + 500_000 - 1_000_000); team.Balance != want {
		t.Fatalf("balance = %d, want %d", team.Balance, want)
	}
	if got := testutil.ToFloat64(m.CASRetriesTotal.WithLabelValues("balance")); got != 1 {
		t.Fatalf("balance retries = %v, want 1", got)
	}
}

func TestPlaceBidGivesUpOnPersistentBalanceRace(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	racy := &racyStore{Memory: store.NewMemory(clock), salary: 100, times: 10}
	m := metrics.New(prometheus.NewRegistry())
	app := settlement.NewApp(racy, rules.DefaultTable(), settlement.WithRecorder(m))

	bidder := uuid.New()
	racy.PutTeam(models.Team{ID: bidder, Balance: 10_000_000})
	target := uuid.New()
	racy.PutTeam(models.Team{ID: target})

	a, err := app.CreateAuction(context.Background(), settlement.CreateAuctionRequest{
		Format:   models.AuctionFormatTheft,
		Subject:  models.Subject{Name: "Keeper", Value: 10_000_000},
		Duration: time.Minute,
		Activate: true,
		Theft:    &models.TheftTerms{EventID: uuid.New(), TargetID: target},
	})
	if err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}

	_, err = app.PlaceBid(context.Background(), settlement.PlaceBidRequest{
		AuctionID: a.ID,
		BidderID:  bidder,
		Amount:    1_000_000,
	})
	if !errors.Is(err, rules.ErrSettlementConflict) {
		t.Fatalf("got %v, want SettlementConflict", err)
	}

	got, _ := racy.GetAuction(context.Background(), a.ID)
	if got.CurrentPrice != 0 || got.CurrentLeaderID != nil {
		t.Fatalf("auction changed despite conflict: price=%d", got.CurrentPrice)
	}
	if has, _ := racy.HasBid(context.Background(), a.ID, bidder); has {
		t.Fatal("bid logged despite conflict")
	}
	if got := testutil.ToFloat64(m.CASRetriesTotal.WithLabelValues("balance")); got != 1 {
		t.Fatalf("balance retries = %v, want 1", got)
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.team("Owner", 0)
	x := f.team("X", 10_000_000)

	a, err := f.app.CreateAuction(ctx, settlement.CreateAuctionRequest{
		Format:   models.AuctionFormatSystem,
		Subject:  models.Subject{Name: "Winger", OwnerID: &owner},
		Duration: time.Minute,
	})
	if err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}
	if a.Status != models.AuctionStatusQueued {
		t.Fatalf("status = %s, want queued", a.Status)
	}
	if _, err := f.bid(a.ID, x, 2_000_000); !errors.Is(err, rules.ErrAuctionNotActive) {
		t.Fatalf("bid on queued auction: got %v", err)
	}

	f.clock.Advance(time.Hour)
	a, err = f.app.Activate(ctx, a.ID)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if want := f.clock.Now().Add(time.Minute); !a.Deadline.Equal(want) {
		t.Fatalf("deadline = %s, want %s", a.Deadline, want)
	}

	if _, err := f.bid(a.ID, x, 2_000_000); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, err := f.app.Finalize(ctx, a.ID); !errors.Is(err, settlement.ErrAuctionNotExpired) {
		t.Fatalf("early Finalize: got %v", err)
	}

	f.clock.Advance(time.Minute)
	a, err = f.app.Finalize(ctx, a.ID)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if a.Status != models.AuctionStatusSettled {
		t.Fatalf("status = %s", a.Status)
	}
	if got := f.balance(t, x); got != 8_000_000 {
		t.Fatalf("winner balance = %d, want 8000000", got)
	}
	if got := f.balance(t, owner); got != 2_000_000 {
		t.Fatalf("owner balance = %d, want 2000000", got)
	}

	if _, err := f.app.Cancel(ctx, a.ID); !errors.Is(err, rules.ErrAuctionNotActive) {
		t.Fatalf("Cancel settled: got %v", err)
	}
}

func TestFinalizeUnfundedWinnerStaysActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	x := f.team("X", 3_000_000)
	a := f.auction(t, settlement.CreateAuctionRequest{})

	if _, err := f.bid(a.ID, x, 2_000_000); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := f.mem.AdjustBalance(ctx, x, -2_500_000); err != nil {
		t.Fatalf("AdjustBalance: %v", err)
	}

	f.clock.Advance(2 * time.Minute)
	_, err := f.app.Finalize(ctx, a.ID)
	if !errors.Is(err, settlement.ErrWinnerUnfunded) {
		t.Fatalf("Finalize: got %v, want ErrWinnerUnfunded", err)
	}
	got, _ := f.app.GetAuction(ctx, a.ID)
	if got.Status != models.AuctionStatusActive {
		t.Fatalf("status = %s, want active", got.Status)
	}
	if bal := f.balance(t, x); bal != 500_000 {
		t.Fatalf("winner balance = %d, want untouched 500000", bal)
	}

	if _, err := f.app.Cancel(ctx, a.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}

func TestCancelTheftRefundsLeader(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	eventID := uuid.New()
	target := f.team("Target", 0)
	x := f.team("X", 10_000_000)

	a := theftAuction(t, f, eventID, target)
	if _, err := f.bid(a.ID, x, 1_000_000); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if got := f.balance(t, x); got != 9_000_000 {
		t.Fatalf("balance after bid = %d", got)
	}

	cancelled, err := f.app.Cancel(ctx, a.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != models.AuctionStatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
	if got := f.balance(t, x); got != 10_000_000 {
		t.Fatalf("balance after cancel = %d, want refund", got)
	}
	for _, key := range []string{
		rules.TargetLossesKey(target),
		rules.BidderWinsKey(x),
		rules.PairWinsKey(x, target),
	} {
		if got := f.mem.Counter(eventID, key); got != 0 {
			t.Fatalf("%s = %d after cancel", key, got)
		}
	}
}

func TestPlaceBidEmitsOutboxEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	x := f.team("X", 10_000_000)
	a := f.auction(t, settlement.CreateAuctionRequest{Duration: 10 * time.Second})

	if _, err := f.bid(a.ID, x, 2_000_000); err != nil {
		t.Fatalf("bid: %v", err)
	}

	pending, err := f.mem.FetchUnsent(ctx, 0)
	if err != nil {
		t.Fatalf("FetchUnsent: %v", err)
	}
	var types []string
	for _, e := range pending {
		types = append(types, string(e.Type))
	}
	want := []string{"AuctionCreated", "BidAccepted", "DeadlineExtended"}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}
}
