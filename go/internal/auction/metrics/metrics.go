// Package metrics holds the Prometheus collectors shared by the auction
// services. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	BidsTotal          *prometheus.CounterVec   // format, result=accepted|<reason>|error
	SettlementDuration *prometheus.HistogramVec // format
	CASRetriesTotal    *prometheus.CounterVec   // resource=balance|counter
	OutboxPublished    *prometheus.CounterVec   // result=success|failure
	OutboxPending      prometheus.Gauge
	GatewayConnections prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		BidsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auction_bids_total",
				Help: "Bids submitted for settlement by format and result",
			},
			[]string{"format", "result"},
		),
		SettlementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auction_settlement_duration_seconds",
				Help:    "Time spent in the settlement transaction",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
			},
			[]string{"format"},
		),
		CASRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auction_settlement_cas_retries_total",
				Help: "Compare-and-swap retries inside settlement",
			},
			[]string{"resource"},
		),
		OutboxPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auction_outbox_published_total",
				Help: "Outbox events handed to the stream by result",
			},
			[]string{"result"},
		),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auction_outbox_pending",
			Help: "Outbox events not yet published",
		}),
		GatewayConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auction_gateway_connections",
			Help: "Open websocket connections on the gateway",
		}),
	}

	reg.MustRegister(
		m.BidsTotal,
		m.SettlementDuration,
		m.CASRetriesTotal,
		m.OutboxPublished,
		m.OutboxPending,
		m.GatewayConnections,
	)
	return m
}

func (m *Metrics) ObserveBid(format, result string, d time.Duration) {
	if m == nil {
		return
	}
	if format == "" {
		format = "unknown"
	}
	m.BidsTotal.WithLabelValues(format, result).Inc()
	m.SettlementDuration.WithLabelValues(format).Observe(d.Seconds())
}

func (m *Metrics) IncCASRetry(resource string) {
	if m == nil {
		return
	}
	m.CASRetriesTotal.WithLabelValues(resource).Inc()
}

func (m *Metrics) RecordPublish(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.OutboxPublished.WithLabelValues(result).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.GatewayConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.GatewayConnections.Dec()
}
