package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/events"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/settlement"
	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

func seededMemory(t *testing.T) (*Memory, models.Auction, uuid.UUID) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	m := NewMemory(clock)
	a := models.Auction{
		ID:       uuid.New(),
		Format:   models.AuctionFormatSystem,
		Status:   models.AuctionStatusActive,
		Deadline: clock.Now().Add(time.Minute),
	}
	m.PutAuction(a)
	team := uuid.New()
	m.PutTeam(models.Team{ID: team, Balance: 100})
	return m, a, team
}

func TestMemoryCommitConflict(t *testing.T) {
	ctx := context.Background()
	m, a, _ := seededMemory(t)

	leader := uuid.New()
	err := m.InTx(ctx, func(tx settlement.Tx) error {
		ok, err := tx.CompareAndSwapPrice(ctx, a.ID, 0, settlement.PriceUpdate{Price: 10, LeaderID: leader, Deadline: a.Deadline})
		if err != nil || !ok {
			t.Fatalf("outer CAS: ok=%v err=%v", ok, err)
		}

		// A second transaction commits first on the same row.
		inner := m.InTx(ctx, func(tx settlement.Tx) error {
			ok, err := tx.CompareAndSwapPrice(ctx, a.ID, 0, settlement.PriceUpdate{Price: 20, LeaderID: uuid.New(), Deadline: a.Deadline})
			if err != nil || !ok {
				t.Fatalf("inner CAS: ok=%v err=%v", ok, err)
			}
			return nil
		})
		if inner != nil {
			t.Fatalf("inner commit: %v", inner)
		}
		return nil
	})
	if !errors.Is(err, settlement.ErrTxConflict) {
		t.Fatalf("got %v, want ErrTxConflict", err)
	}

	got, _ := m.GetAuction(ctx, a.ID)
	if got.CurrentPrice != 20 {
		t.Fatalf("price = %d, want the inner write", got.CurrentPrice)
	}
}

func TestMemoryCASSeesCommittedBalance(t *testing.T) {
	ctx := context.Background()
	m, _, team := seededMemory(t)

	err := m.InTx(ctx, func(tx settlement.Tx) error {
		before, err := tx.GetBalance(ctx, team)
		if err != nil {
			return err
		}
		if err := m.AdjustBalance(ctx, team, 50); err != nil {
			return err
		}
		ok, err := tx.CompareAndSwapBalance(ctx, team, before, before-10)
		if err != nil {
			return err
		}
		if ok {
			t.Fatal("CAS applied against a stale balance")
		}
		ok, err = tx.CompareAndSwapBalance(ctx, team, 150, 140)
		if err != nil || !ok {
			t.Fatalf("CAS on fresh balance: ok=%v err=%v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}

	got, _ := m.GetTeam(ctx, team)
	if got.Balance != 140 {
		t.Fatalf("balance = %d, want 140", got.Balance)
	}
}

func TestMemoryRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	m, a, team := seededMemory(t)
	boom := errors.New("boom")

	err := m.InTx(ctx, func(tx settlement.Tx) error {
		if _, err := tx.CompareAndSwapBalance(ctx, team, 100, 0); err != nil {
			return err
		}
		if err := tx.InsertBid(ctx, models.Bid{ID: uuid.New(), AuctionID: a.ID, BidderID: team, Amount: 100}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}

	got, _ := m.GetTeam(ctx, team)
	if got.Balance != 100 {
		t.Fatalf("balance = %d after rollback", got.Balance)
	}
	if has, _ := m.HasBid(ctx, a.ID, team); has {
		t.Fatal("bid survived rollback")
	}
}

func TestMemoryOutbox(t *testing.T) {
	ctx := context.Background()
	m, a, _ := seededMemory(t)

	e, err := events.New(events.TypeBidAccepted, events.AuctionChangedPayload{Auction: a}, time.Now())
	if err != nil {
		t.Fatalf("events.New: %v", err)
	}
	if err := m.InTx(ctx, func(tx settlement.Tx) error { return tx.AppendEvent(ctx, e) }); err != nil {
		t.Fatalf("InTx: %v", err)
	}

	select {
	case id := <-m.Notifications():
		if id != e.ID.String() {
			t.Fatalf("notified %s, want %s", id, e.ID)
		}
	default:
		t.Fatal("no notification after commit")
	}

	if n, _ := m.CountPending(ctx); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}
	if err := m.MarkSent(ctx, e.ID); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	if _, err := m.FetchByID(ctx, e.ID); !errors.Is(err, events.ErrEventNotFound) {
		t.Fatalf("FetchByID after send: %v", err)
	}
	if unsent, _ := m.FetchUnsent(ctx, 10); len(unsent) != 0 {
		t.Fatalf("unsent = %d, want 0", len(unsent))
	}
}
