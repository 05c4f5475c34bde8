package clocksync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rules"
)

type stubSource struct {
	mu    sync.Mutex
	clock clockwork.Clock
	skew  time.Duration
	err   error
	calls int
}

func (s *stubSource) ServerTime(context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return time.Time{}, s.err
	}
	return s.clock.Now().Add(s.skew), nil
}

func (s *stubSource) set(skew time.Duration, err error) {
	s.mu.Lock()
	s.skew, s.err = skew, err
	s.mu.Unlock()
}

func (s *stubSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestSyncComputesOffset(t *testing.T) {
	clock := clockwork.NewFakeClock()
	source := &stubSource{clock: clock, skew: 90 * time.Second}
	s := NewSynchronizer(source, clock, DefaultConfig())

	if _, synced := s.Offset(); synced {
		t.Fatal("fresh synchronizer must report unsynced")
	}
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	offset, synced := s.Offset()
	if !synced || offset != 90*time.Second {
		t.Fatalf("offset = %s synced = %v", offset, synced)
	}
	if got := s.Now(); !got.Equal(clock.Now().Add(90 * time.Second)) {
		t.Fatalf("Now() = %s", got)
	}
}

func TestSyncFailureKeepsLastOffset(t *testing.T) {
	clock := clockwork.NewFakeClock()
	source := &stubSource{clock: clock, skew: -3 * time.Second}
	s := NewSynchronizer(source, clock, DefaultConfig())

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	source.set(0, errors.New("connection refused"))
	err := s.Sync(context.Background())
	if !errors.Is(err, rules.ErrClockUnavailable) {
		t.Fatalf("expected ClockUnavailable, got %v", err)
	}
	if offset, _ := s.Offset(); offset != -3*time.Second {
		t.Fatalf("failed sync must keep previous offset, got %s", offset)
	}
}

func TestRunResyncsOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	source := &stubSource{clock: clock, skew: time.Second}
	cfg := Config{Interval: 30 * time.Second}
	s := NewSynchronizer(source, clock, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("waiting for ticker: %v", err)
	}

	source.set(5*time.Second, nil)
	clock.Advance(30 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if offset, _ := s.Offset(); offset == 5*time.Second {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("offset never refreshed, calls = %d", source.count())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
}
