package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL   string // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string
	PingInterval  time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel: "auction_outbox_events",
		PingInterval:  90 * time.Second,
	}
}

// Listener turns Postgres notifications on the outbox channel into event ids.
// An empty id means the connection was re-established and notifications may
// have been lost.
type Listener struct {
	listener *pq.Listener
	cfg      ListenerConfig
	ids      chan string
}

func NewListener(cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	return &Listener{
		listener: l,
		cfg:      cfg,
		ids:      make(chan string, 256),
	}, nil
}

// Notifications is fed by Start.
func (l *Listener) Notifications() <-chan string {
	return l.ids
}

// Start forwards notifications until ctx is done, pinging the connection so a
// dead socket is noticed between bursts.
func (l *Listener) Start(ctx context.Context) error {
	pingTicker := time.NewTicker(l.cfg.PingInterval)
	defer pingTicker.Stop()
	defer close(l.ids)

	for {
		select {
		case <-ctx.Done():
			return l.listener.Close()
		case note := <-l.listener.Notify:
			extra := ""
			if note != nil {
				extra = note.Extra
			}
			select {
			case l.ids <- extra:
			case <-ctx.Done():
				return l.listener.Close()
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}
