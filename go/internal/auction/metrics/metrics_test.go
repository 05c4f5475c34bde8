package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveBid("system", "accepted", 3*time.Millisecond)
	m.ObserveBid("system", "BidTooLow", time.Millisecond)
	m.ObserveBid("system", "accepted", time.Millisecond)
	m.IncCASRetry("balance")
	m.RecordPublish(false)
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	if got := testutil.ToFloat64(m.BidsTotal.WithLabelValues("system", "accepted")); got != 2 {
		t.Fatalf("accepted bids = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CASRetriesTotal.WithLabelValues("balance")); got != 1 {
		t.Fatalf("balance retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.OutboxPublished.WithLabelValues("failure")); got != 1 {
		t.Fatalf("failed publishes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.GatewayConnections); got != 1 {
		t.Fatalf("connections = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveBid("dark", "accepted", time.Second)
	m.IncCASRetry("counter")
	m.RecordPublish(true)
	m.SetPending(4)
	m.ConnectionOpened()
	m.ConnectionClosed()
}
