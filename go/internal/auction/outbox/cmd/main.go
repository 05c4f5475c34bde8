package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/metrics"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/outbox"
	"github.com/tinti400/ligafut-new-sub000/go/internal/dbconfig"
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

	cfg := dbconfig.NewConfigFromEnv()
	db, err := cfg.OpenSQL(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to database")

	jsCfg := outbox.DefaultJetStreamConfig()
	if url := os.Getenv("NATS_URL"); url != "" {
		jsCfg.URL = url
	}
	publisher, err := outbox.NewJetStreamPublisher(jsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create JetStream publisher")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("close publisher")
		}
	}()

	ltCfg := outbox.DefaultListenerConfig()
	ltCfg.DatabaseURL = cfg.DSN()
	ltCfg.NotifyChannel = getEnv("OUTBOX_CHANNEL", ltCfg.NotifyChannel)
	listener, err := outbox.NewListener(ltCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create outbox listener")
	}

	relayCfg := outbox.DefaultRelayConfig()
	relayCfg.FallbackInterval = getEnvDuration("OUTBOX_FALLBACK_INTERVAL", relayCfg.FallbackInterval)
	relayCfg.BatchSize = getEnvInt("OUTBOX_BATCH_SIZE", relayCfg.BatchSize)

	m := metrics.New(nil)
	repo := outbox.NewRepository(db)
	relay := outbox.NewRelay(repo, publisher, relayCfg, outbox.WithPublishRecorder(m))
	health := outbox.NewHealthChecker(relay, repo, db, publisher.Conn(), 2*relayCfg.FallbackInterval)

	mux := http.NewServeMux()
	mux.Handle("/health", health)
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: getEnv("OUTBOX_ADDR", ":8082"), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server failed")
		}
	}()

	go func() {
		if err := listener.Start(ctx); err != nil {
			log.Error().Err(err).Msg("listener stopped")
		}
	}()

	log.Info().Msg("starting outbox relay")
	if err := relay.Run(ctx, listener.Notifications()); err != nil {
		log.Error().Err(err).Msg("relay exited unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("graceful shutdown complete")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
