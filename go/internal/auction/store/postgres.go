package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/events"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/settlement"
	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

// Postgres implements the settlement store on a pgx pool. Transactions run
// at READ COMMITTED; every shared write is an UPDATE guarded by the value it
// read, so a concurrent writer makes the guard miss instead of blocking the
// loser behind a row lock taken at read time.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ settlement.Store = (*Postgres)(nil)

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *Postgres) InTx(ctx context.Context, fn func(tx settlement.Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{q: tx}); err != nil {
		if isRaceError(err) {
			return settlement.ErrTxConflict
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isRaceError(err) {
			return settlement.ErrTxConflict
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *Postgres) ServerTime(ctx context.Context) (time.Time, error) {
	return serverNow(ctx, p.pool)
}

func (p *Postgres) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return getAuction(ctx, p.pool, id)
}

func (p *Postgres) ListAuctions(ctx context.Context, status models.AuctionStatus) ([]models.Auction, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+auctionColumns+`
		FROM auctions
		WHERE $1 = '' OR status = $1
		ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	defer rows.Close()

	var out []models.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	return out, nil
}

func (p *Postgres) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, auction_id, bidder_id, bidder_name, amount, created_at
		FROM bids
		WHERE auction_id = $1
		ORDER BY created_at, id`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	defer rows.Close()

	var out []models.Bid
	for rows.Next() {
		var b models.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.BidderName, &b.Amount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	return out, nil
}

func (p *Postgres) HasBid(ctx context.Context, auctionID, bidderID uuid.UUID) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM bids WHERE auction_id = $1 AND bidder_id = $2)`,
		auctionID, bidderID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check bid log: %w", err)
	}
	return exists, nil
}

func (p *Postgres) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	var t models.Team
	err := p.pool.QueryRow(ctx, `SELECT id, name, balance FROM teams WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, settlement.ErrTeamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return &t, nil
}

type pgTx struct {
	q querier
}

func (t *pgTx) Now(ctx context.Context) (time.Time, error) {
	return serverNow(ctx, t.q)
}

func (t *pgTx) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return getAuction(ctx, t.q, id)
}

func (t *pgTx) InsertAuction(ctx context.Context, a *models.Auction) error {
	subject, err := json.Marshal(a.Subject)
	if err != nil {
		return fmt.Errorf("failed to marshal subject: %w", err)
	}
	theft, err := marshalNullable(a.Theft)
	if err != nil {
		return err
	}
	dark, err := marshalNullable(a.Dark)
	if err != nil {
		return err
	}

	_, err = t.q.Exec(ctx, `
		INSERT INTO auctions (
		  id, format, subject, current_price, current_leader_id, current_leader_name,
		  deadline, duration_ms, created_at, status, theft, dark
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.ID, string(a.Format), subject, a.CurrentPrice, nullUUID(a.CurrentLeaderID), a.CurrentLeaderName,
		nullTime(a.Deadline), a.Duration.Milliseconds(), a.CreatedAt, string(a.Status), theft, dark,
	)
	return err
}

func (t *pgTx) CompareAndSwapPrice(ctx context.Context, id uuid.UUID, expectedPrice int64, upd settlement.PriceUpdate) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE auctions
		SET current_price = $3, current_leader_id = $4, current_leader_name = $5, deadline = $6
		WHERE id = $1 AND current_price = $2 AND status = 'active'`,
		id, expectedPrice, upd.Price, upd.LeaderID, upd.LeaderName, upd.Deadline,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.AuctionStatus, deadline time.Time) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE auctions
		SET status = $3, deadline = COALESCE($4, deadline)
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), nullTime(deadline),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) GetBalance(ctx context.Context, teamID uuid.UUID) (int64, error) {
	var balance int64
	err := t.q.QueryRow(ctx, `SELECT balance FROM teams WHERE id = $1`, teamID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, settlement.ErrTeamNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

func (t *pgTx) CompareAndSwapBalance(ctx context.Context, teamID uuid.UUID, expected, next int64) (bool, error) {
	tag, err := t.q.Exec(ctx,
		`UPDATE teams SET balance = $3 WHERE id = $1 AND balance = $2`,
		teamID, expected, next,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) GetCounters(ctx context.Context, eventID uuid.UUID, keys []string) (map[string]int, error) {
	out := make(map[string]int, len(keys))
	for _, k := range keys {
		out[k] = 0
	}
	rows, err := t.q.Query(ctx,
		`SELECT counter_key, value FROM theft_counters WHERE event_id = $1 AND counter_key = ANY($2)`,
		eventID, keys,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key   string
			value int
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

func (t *pgTx) CompareAndSwapCounter(ctx context.Context, eventID uuid.UUID, key string, expected, next int) (bool, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if expected == 0 {
		// A zero counter may not have a row yet.
		tag, err = t.q.Exec(ctx, `
			INSERT INTO theft_counters (event_id, counter_key, value) VALUES ($1, $2, $3)
			ON CONFLICT (event_id, counter_key) DO UPDATE SET value = EXCLUDED.value
			WHERE theft_counters.value = 0`,
			eventID, key, next,
		)
	} else {
		tag, err = t.q.Exec(ctx,
			`UPDATE theft_counters SET value = $4 WHERE event_id = $1 AND counter_key = $2 AND value = $3`,
			eventID, key, expected, next,
		)
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertBid(ctx context.Context, bid models.Bid) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO bids (id, auction_id, bidder_id, bidder_name, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		bid.ID, bid.AuctionID, bid.BidderID, bid.BidderName, bid.Amount, bid.CreatedAt,
	)
	return err
}

func (t *pgTx) AppendEvent(ctx context.Context, e events.Event) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO auction_outbox (id, auction_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.AuctionID, string(e.Type), []byte(e.Payload), e.CreatedAt,
	)
	return err
}

const auctionColumns = `id, format, subject, current_price, current_leader_id, current_leader_name,
		  deadline, duration_ms, created_at, status, theft, dark`

func getAuction(ctx context.Context, q querier, id uuid.UUID) (*models.Auction, error) {
	row := q.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, settlement.ErrAuctionNotFound
	}
	return a, err
}

func scanAuction(row pgx.Row) (*models.Auction, error) {
	var (
		a          models.Auction
		format     string
		status     string
		subject    []byte
		leader     pgtype.UUID
		deadline   pgtype.Timestamptz
		durationMs int64
		theft      []byte
		dark       []byte
	)
	err := row.Scan(&a.ID, &format, &subject, &a.CurrentPrice, &leader, &a.CurrentLeaderName,
		&deadline, &durationMs, &a.CreatedAt, &status, &theft, &dark)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan auction: %w", err)
	}

	a.Format = models.AuctionFormat(format)
	a.Status = models.AuctionStatus(status)
	a.Duration = time.Duration(durationMs) * time.Millisecond
	if leader.Valid {
		id := uuid.UUID(leader.Bytes)
		a.CurrentLeaderID = &id
	}
	if deadline.Valid {
		a.Deadline = deadline.Time
	}
	if err := json.Unmarshal(subject, &a.Subject); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subject: %w", err)
	}
	if len(theft) > 0 {
		a.Theft = &models.TheftTerms{}
		if err := json.Unmarshal(theft, a.Theft); err != nil {
			return nil, fmt.Errorf("failed to unmarshal theft terms: %w", err)
		}
	}
	if len(dark) > 0 {
		a.Dark = &models.DarkTerms{}
		if err := json.Unmarshal(dark, a.Dark); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dark terms: %w", err)
		}
	}
	return &a, nil
}

func serverNow(ctx context.Context, q querier) (time.Time, error) {
	var now time.Time
	if err := q.QueryRow(ctx, `SELECT clock_timestamp()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("failed to read server time: %w", err)
	}
	return now, nil
}

func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal terms: %w", err)
	}
	return data, nil
}

func nullUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func nullTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}
