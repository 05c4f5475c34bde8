package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Connected is satisfied by *nats.Conn.
type Connected interface {
	IsConnected() bool
}

// RouterConfig wires the gateway's HTTP surface. Store and NATS are optional
// health dependencies.
type RouterConfig struct {
	Service        *Service
	WebSocket      *WebSocketHandler
	Admin          *AdminHandler
	Connections    *ConnectionManager
	Store          Pinger
	NATS           Connected
	Metrics        http.Handler
	AllowedOrigins []string
}

// NewRouter builds the gateway handler: connect procedures, the websocket
// feed, admin routes, health and metrics, wrapped in CORS and h2c.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	cfg.Service.RegisterRoutes(r)
	r.Get("/ws/auction", cfg.WebSocket.HandleAuctionConnection)
	r.Get("/ws/stats", cfg.WebSocket.HandleConnectionStats)
	r.Mount("/admin", cfg.Admin.Routes())
	r.Get("/health", healthHandler(cfg))

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Handle("/metrics", metrics)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: origins,
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Auction-Reject-Reason", "Grpc-Status", "Grpc-Message"},
	})

	return h2c.NewHandler(c.Handler(r), &http2.Server{})
}

type healthStatus struct {
	Healthy          bool     `json:"healthy"`
	StoreConnected   bool     `json:"store_connected"`
	NATSConnected    *bool    `json:"nats_connected,omitempty"`
	TotalConnections int      `json:"total_connections"`
	Errors           []string `json:"errors"`
}

func healthHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := healthStatus{Healthy: true, StoreConnected: true, Errors: []string{}}
		if cfg.Store != nil {
			if err := cfg.Store.Ping(ctx); err != nil {
				status.Healthy = false
				status.StoreConnected = false
				status.Errors = append(status.Errors, "store ping failed: "+err.Error())
			}
		}
		if cfg.NATS != nil {
			connected := cfg.NATS.IsConnected()
			status.NATSConnected = &connected
			if !connected {
				status.Healthy = false
				status.Errors = append(status.Errors, "NATS disconnected")
			}
		}
		status.TotalConnections = cfg.Connections.Stats().TotalConnections

		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}
