package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/events"
	"github.com/tinti400/ligafut-new-sub000/go/internal/dbconfig"
	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

// Lot is one entry of the subjects file
type Lot struct {
	Subject    models.Subject `json:"subject"`
	StartPrice int64          `json:"start_price"`
	Duration   string         `json:"duration"`
}

func main() {
	ctx := context.Background()

	// 1) Load the lots
	path := "go/internal/assets/auction_subjects.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
		os.Exit(1)
	}
	var lots []Lot
	if err := json.Unmarshal(data, &lots); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal lots: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := cfg.NewPool(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect error: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Queue every lot plus its AuctionCreated event in one batch
	queued, skipped, err := seed(ctx, pool, lots)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed, nothing written: %v\n", err)
		os.Exit(1)
	}

	// 4) Print summary
	fmt.Printf(
		"Auctions seed complete: %d total, %d queued, %d skipped\n",
		len(lots), queued, skipped,
	)
}

func seed(ctx context.Context, pool *pgxpool.Pool, lots []Lot) (int, int, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	var now time.Time
	if err := tx.QueryRow(ctx, `SELECT clock_timestamp()`).Scan(&now); err != nil {
		return 0, 0, err
	}

	batch := &pgx.Batch{}
	queued, skipped := 0, 0
	for i, lot := range lots {
		duration, err := time.ParseDuration(lot.Duration)
		if err != nil || duration <= 0 || lot.Subject.Name == "" {
			fmt.Fprintf(os.Stderr, "skipping lot %d: needs a name and a positive duration\n", i)
			skipped++
			continue
		}

		a := models.Auction{
			ID:           uuid.New(),
			Format:       models.AuctionFormatSystem,
			Subject:      lot.Subject,
			CurrentPrice: lot.StartPrice,
			Duration:     duration,
			CreatedAt:    now,
			Status:       models.AuctionStatusQueued,
		}
		subject, err := json.Marshal(a.Subject)
		if err != nil {
			return 0, 0, err
		}
		event, err := events.New(events.TypeAuctionCreated, events.AuctionChangedPayload{Auction: a}, now)
		if err != nil {
			return 0, 0, err
		}

		batch.Queue(`
            INSERT INTO auctions (
              id, format, subject, current_price, duration_ms, created_at, status
            ) VALUES ($1,$2,$3,$4,$5,$6,$7)
        `, a.ID, string(a.Format), subject, a.CurrentPrice, duration.Milliseconds(), a.CreatedAt, string(a.Status))
		batch.Queue(`
            INSERT INTO auction_outbox (id, auction_id, event_type, payload, created_at)
            VALUES ($1,$2,$3,$4,$5)
        `, event.ID, event.AuctionID, string(event.Type), []byte(event.Payload), event.CreatedAt)
		queued++
	}

	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return 0, 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return queued, skipped, nil
}
