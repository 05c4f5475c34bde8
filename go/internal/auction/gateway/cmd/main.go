package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/gateway"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/metrics"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/outbox"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rules"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/settlement"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/store"
	"github.com/tinti400/ligafut-new-sub000/go/internal/dbconfig"
	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped")
	}
	log.Info().Msg("graceful shutdown complete")
}

func run(ctx context.Context) error {
	table, err := rules.LoadTable(os.Getenv("AUCTION_FORMATS_FILE"))
	if err != nil {
		return err
	}

	m := metrics.New(nil)
	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), m)
	broadcaster := gateway.NewBroadcaster(cm, table)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cm.Start(ctx)
		return nil
	})

	routerCfg := gateway.RouterConfig{
		Connections:    cm,
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
	}

	var st settlement.Store
	switch mode := getEnv("STORE", "postgres"); mode {
	case "postgres":
		pg, consumer, err := openPostgres(ctx, broadcaster)
		if err != nil {
			return err
		}
		defer pg.Close()
		defer consumer.Stop()

		st = store.NewPostgres(pg)
		routerCfg.Store = pg
		routerCfg.NATS = consumer.Conn()
		g.Go(func() error { return consumer.Start(ctx) })

	case "memory":
		mem := store.NewMemory(clockwork.NewRealClock())
		if err := loadTeams(mem, os.Getenv("MEMORY_TEAMS_FILE")); err != nil {
			return err
		}
		st = mem

		// the in-process outbox is relayed straight to local watchers
		relay := outbox.NewRelay(mem, broadcaster, outbox.DefaultRelayConfig(), outbox.WithPublishRecorder(m))
		g.Go(func() error { return relay.Run(ctx, mem.Notifications()) })
		log.Warn().Msg("running on the in-memory store; state is lost on restart")

	default:
		return fmt.Errorf("unknown STORE %q, want postgres or memory", mode)
	}

	app := settlement.NewApp(st, table, settlement.WithRecorder(m))
	service := gateway.NewService(app)
	routerCfg.Service = service
	routerCfg.WebSocket = gateway.NewWebSocketHandler(cm, service)
	routerCfg.Admin = gateway.NewAdminHandler(app, gateway.TokenAuthorizer(os.Getenv("ADMIN_TOKEN")))
	if os.Getenv("ADMIN_TOKEN") == "" {
		log.Warn().Msg("ADMIN_TOKEN is not set; admin routes will refuse every request")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", getEnv("PORT", "8080")),
		Handler:           gateway.NewRouter(routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("auction gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openPostgres(ctx context.Context, b *gateway.Broadcaster) (*pgxpool.Pool, *gateway.EventConsumer, error) {
	cfg := dbconfig.NewConfigFromEnv()

	db, err := cfg.OpenSQL(ctx)
	if err != nil {
		return nil, nil, err
	}
	err = store.Migrate(ctx, db)
	db.Close()
	if err != nil {
		return nil, nil, err
	}

	p, err := cfg.NewPool(ctx)
	if err != nil {
		return nil, nil, err
	}
	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to database")

	consumerCfg := gateway.DefaultJetStreamConsumerConfig()
	if url := os.Getenv("NATS_URL"); url != "" {
		consumerCfg.Stream.URL = url
	}
	consumer, err := gateway.NewEventConsumer(b, consumerCfg)
	if err != nil {
		p.Close()
		return nil, nil, err
	}
	return p, consumer, nil
}

// loadTeams seeds the in-memory store from a JSON array of teams.
func loadTeams(mem *store.Memory, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read teams file: %w", err)
	}
	var teams []models.Team
	if err := json.Unmarshal(data, &teams); err != nil {
		return fmt.Errorf("failed to parse teams file: %w", err)
	}
	for _, t := range teams {
		mem.PutTeam(t)
	}
	log.Info().Int("teams", len(teams)).Msg("loaded teams into memory store")
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
