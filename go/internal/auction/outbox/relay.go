package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/events"
	"github.com/tinti400/ligafut-new-sub000/go/internal/retry"
)

type RelayConfig struct {
	FallbackInterval time.Duration // How often to poll for missed events
	MaxRetries       int
	RetryDelay       time.Duration
	BatchSize        int // Max events to fetch per batch
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		BatchSize:        100,
	}
}

// Relay moves committed outbox events to the publisher. Notifications give
// low latency, the fallback poll catches anything a notification missed.
// Delivery is at least once; consumers dedupe by event id.
type Relay struct {
	store     Store
	publisher Publisher
	cfg       RelayConfig
	clock     clockwork.Clock
	recorder  PublishRecorder

	running   atomic.Bool
	processed atomic.Uint64

	mu        sync.Mutex
	lastEvent time.Time
}

type RelayOption func(*Relay)

func WithClock(c clockwork.Clock) RelayOption {
	return func(r *Relay) { r.clock = c }
}

func WithPublishRecorder(rec PublishRecorder) RelayOption {
	return func(r *Relay) { r.recorder = rec }
}

func NewRelay(store Store, publisher Publisher, cfg RelayConfig, opts ...RelayOption) *Relay {
	r := &Relay{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until ctx is done. A closed notify channel leaves the relay on
// polling alone.
func (r *Relay) Run(ctx context.Context, notify <-chan string) error {
	r.running.Store(true)
	defer r.running.Store(false)

	log.Info().
		Dur("fallback_interval", r.cfg.FallbackInterval).
		Int("batch_size", r.cfg.BatchSize).
		Msg("outbox relay started")

	fallback := r.clock.NewTicker(r.cfg.FallbackInterval)
	defer fallback.Stop()

	if err := r.ProcessUnsent(ctx); err != nil {
		log.Error().Err(err).Msg("failed to process unsent events")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox relay shutting down")
			return nil
		case id, ok := <-notify:
			if !ok {
				notify = nil
				continue
			}
			var err error
			if id == "" {
				// reconnected: whatever was notified meanwhile is lost
				err = r.ProcessUnsent(ctx)
			} else {
				err = r.HandleNotification(ctx, id)
			}
			if err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-fallback.Chan():
			if err := r.ProcessUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent events")
			}
		}
	}
}

// HandleNotification publishes the single event named by a notification.
// An event that is already sent is skipped.
func (r *Relay) HandleNotification(ctx context.Context, extra string) error {
	id, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid event ID in notification: %w", err)
	}

	event, err := r.store.FetchByID(ctx, id)
	if errors.Is(err, events.ErrEventNotFound) {
		log.Debug().Str("event_id", id.String()).Msg("event already relayed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch outbox event: %w", err)
	}

	if err := r.publishWithRetry(ctx, *event); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if err := r.store.MarkSent(ctx, id); err != nil {
		return fmt.Errorf("failed to mark event %s as sent: %w", id, err)
	}
	r.markProcessed(1)
	return nil
}

// ProcessUnsent publishes one batch of unsent events in creation order.
func (r *Relay) ProcessUnsent(ctx context.Context) error {
	unsent, err := r.store.FetchUnsent(ctx, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}

	var sent []uuid.UUID
	for _, event := range unsent {
		if err := r.publishWithRetry(ctx, event); err != nil {
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to publish event")
			continue
		}
		sent = append(sent, event.ID)
	}
	if len(sent) > 0 {
		if err := r.store.MarkSent(ctx, sent...); err != nil {
			return fmt.Errorf("failed to mark events as sent: %w", err)
		}
		r.markProcessed(len(sent))
		log.Info().Int("total", len(unsent)).Int("successful", len(sent)).Msg("processed outbox events")
	}

	if r.recorder != nil {
		if pending, err := r.store.CountPending(ctx); err == nil {
			r.recorder.SetPending(pending)
		}
	}
	return nil
}

func (r *Relay) publishWithRetry(ctx context.Context, event events.Event) error {
	policy := retry.Policy{
		Attempts: r.cfg.MaxRetries + 1,
		Backoff:  r.cfg.RetryDelay,
		Clock:    r.clock,
	}
	return retry.Do(ctx, policy, func(attempt int) error {
		err := r.publisher.Publish(ctx, event)
		if r.recorder != nil {
			r.recorder.RecordPublish(err == nil)
		}
		if err != nil {
			log.Warn().
				Err(err).
				Int("attempt", attempt).
				Str("event_id", event.ID.String()).
				Msg("failed to publish, retrying")
			return err
		}
		if attempt > 1 {
			log.Info().
				Int("attempt", attempt).
				Str("event_id", event.ID.String()).
				Msg("publish succeeded after retry")
		}
		return nil
	})
}

func (r *Relay) markProcessed(n int) {
	r.processed.Add(uint64(n))
	r.mu.Lock()
	r.lastEvent = r.clock.Now()
	r.mu.Unlock()
}

// Stats reports how many events were relayed and when the last one went out.
func (r *Relay) Stats() (uint64, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed.Load(), r.lastEvent
}

func (r *Relay) Running() bool {
	return r.running.Load()
}
