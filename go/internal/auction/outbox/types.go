package outbox

import (
	"context"

	"github.com/google/uuid"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/events"
)

// Store is what the relay needs from the outbox table.
type Store interface {
	FetchUnsent(ctx context.Context, limit int) ([]events.Event, error)
	// FetchByID returns events.ErrEventNotFound for a row that is missing or
	// already sent.
	FetchByID(ctx context.Context, id uuid.UUID) (*events.Event, error)
	MarkSent(ctx context.Context, ids ...uuid.UUID) error
	CountPending(ctx context.Context) (int, error)
}

// Publisher hands one event to the fan-out transport.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// PublishRecorder receives publish outcomes.
type PublishRecorder interface {
	RecordPublish(success bool)
	SetPending(n int)
}
