package clocksync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rules"
)

// TimeSource answers the server's "current time" query.
type TimeSource interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

type Config struct {
	Interval       time.Duration
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// Synchronizer estimates server time from the local clock plus the offset
// measured at the last successful sync.
type Synchronizer struct {
	source TimeSource
	clock  clockwork.Clock
	cfg    Config

	mu       sync.RWMutex
	offset   time.Duration
	synced   bool
	lastSync time.Time
}

func NewSynchronizer(source TimeSource, clock clockwork.Clock, cfg Config) *Synchronizer {
	return &Synchronizer{
		source: source,
		clock:  clock,
		cfg:    cfg,
	}
}

// Now returns the best estimate of server time. Before the first successful
// sync the offset is zero.
func (s *Synchronizer) Now() time.Time {
	s.mu.RLock()
	offset := s.offset
	s.mu.RUnlock()
	return s.clock.Now().Add(offset)
}

// Offset returns serverTime - localTime as of the last sync and whether any
// sync has succeeded yet.
func (s *Synchronizer) Offset() (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset, s.synced
}

// Sync queries the server once. On failure the previous offset is kept and a
// ClockUnavailable rejection is returned.
func (s *Synchronizer) Sync(ctx context.Context) error {
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	local := s.clock.Now()
	server, err := s.source.ServerTime(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("clock sync failed, keeping last offset")
		return fmt.Errorf("%w: %v", rules.ErrClockUnavailable, err)
	}

	offset := server.Sub(local)
	s.mu.Lock()
	s.offset = offset
	s.synced = true
	s.lastSync = local
	s.mu.Unlock()

	log.Debug().Dur("offset", offset).Msg("clock synchronized")
	return nil
}

// Run syncs immediately and then on every interval until ctx is done. Sync
// failures never stop the loop.
func (s *Synchronizer) Run(ctx context.Context) error {
	_ = s.Sync(ctx)

	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			_ = s.Sync(ctx)
		}
	}
}
