package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/events"
	"github.com/tinti400/ligafut-new-sub000/go/internal/sqlutil"
)

// Repository reads and acknowledges auction_outbox rows through database/sql.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const outboxColumns = `id, auction_id, event_type, payload, created_at, sent_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (events.Event, error) {
	var (
		e       events.Event
		kind    string
		payload pqtype.NullRawMessage
		sentAt  sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.AuctionID, &kind, &payload, &e.CreatedAt, &sentAt); err != nil {
		return events.Event{}, err
	}
	e.Type = events.Type(kind)
	if payload.Valid {
		e.Payload = payload.RawMessage
	}
	e.SentAt = sqlutil.FromNullTime(sentAt)
	return e, nil
}

func (r *Repository) FetchUnsent(ctx context.Context, limit int) ([]events.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM auction_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) FetchByID(ctx context.Context, id uuid.UUID) (*events.Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+outboxColumns+`
		FROM auction_outbox
		WHERE id = $1 AND sent_at IS NULL`, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, events.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to fetch outbox event by ID: %w", err)
	}
	return &e, nil
}

func (r *Repository) MarkSent(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	return sqlutil.Run(ctx, r.db, sqlutil.Identity, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE auction_outbox SET sent_at = now() WHERE id = ANY($1::uuid[]) AND sent_at IS NULL`,
			pq.Array(keys)); err != nil {
			return fmt.Errorf("failed to mark outbox events as sent: %w", err)
		}
		return nil
	})
}

func (r *Repository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM auction_outbox WHERE sent_at IS NULL`).Scan(&count)
	return count, err
}
