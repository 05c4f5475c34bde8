package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/events"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/gateway"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/metrics"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/outbox"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rpc"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/rules"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/settlement"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/store"
	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

const adminToken = "s3cret"

var epoch = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

type harness struct {
	clock *clockwork.FakeClock
	mem   *store.Memory
	app   *settlement.App
	srv   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := clockwork.NewFakeClockAt(epoch)
	mem := store.NewMemory(clock)
	table := rules.DefaultTable()
	m := metrics.New(prometheus.NewRegistry())
	app := settlement.NewApp(mem, table, settlement.WithRecorder(m))

	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), m)
	go cm.Start(ctx)

	relay := outbox.NewRelay(mem, gateway.NewBroadcaster(cm, table), outbox.DefaultRelayConfig(), outbox.WithClock(clock))
	go relay.Run(ctx, mem.Notifications())

	service := gateway.NewService(app)
	srv := httptest.NewServer(gateway.NewRouter(gateway.RouterConfig{
		Service:     service,
		WebSocket:   gateway.NewWebSocketHandler(cm, service),
		Admin:       gateway.NewAdminHandler(app, gateway.TokenAuthorizer(adminToken)),
		Connections: cm,
	}))
	t.Cleanup(srv.Close)

	return &harness{clock: clock, mem: mem, app: app, srv: srv}
}

func (h *harness) team(balance int64) uuid.UUID {
	id := uuid.New()
	h.mem.PutTeam(models.Team{ID: id, Name: "team-" + id.String()[:4], Balance: balance})
	return id
}

func (h *harness) auction(t *testing.T) *models.Auction {
	t.Helper()
	a, err := h.app.CreateAuction(context.Background(), settlement.CreateAuctionRequest{
		Format:   models.AuctionFormatSystem,
		Subject:  models.Subject{Name: "Winger", Value: 8_000_000},
		Duration: 2 * time.Minute,
		Activate: true,
	})
	if err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}
	return a
}

func placeBidClient(h *harness) *connect.Client[rpc.PlaceBidRequest, rpc.PlaceBidResponse] {
	return connect.NewClient[rpc.PlaceBidRequest, rpc.PlaceBidResponse](h.srv.Client(), h.srv.URL+rpc.PlaceBidProcedure, rpc.WithJSON())
}

func TestPlaceBidOverConnect(t *testing.T) {
	h := newHarness(t)
	a := h.auction(t)
	x, y := h.team(50_000_000), h.team(50_000_000)
	client := placeBidClient(h)
	ctx := context.Background()

	res, err := client.CallUnary(ctx, connect.NewRequest(&rpc.PlaceBidRequest{
		AuctionID: a.ID, BidderID: x, BidderName: "X", Amount: 2_000_000,
	}))
	if err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if res.Msg.Auction.CurrentPrice != 2_000_000 || !res.Msg.Auction.IsLeader(x) {
		t.Fatalf("unexpected auction after bid: %+v", res.Msg.Auction)
	}

	_, err = client.CallUnary(ctx, connect.NewRequest(&rpc.PlaceBidRequest{
		AuctionID: a.ID, BidderID: y, BidderName: "Y", Amount: 2_000_000,
	}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if !errors.Is(rpc.FromConnectError(err), rules.ErrBidTooLow) {
		t.Fatalf("expected BidTooLow after mapping, got %v", rpc.FromConnectError(err))
	}
}

func TestGetAuctionAndServerTime(t *testing.T) {
	h := newHarness(t)
	a := h.auction(t)
	ctx := context.Background()

	get := connect.NewClient[rpc.GetAuctionRequest, rpc.GetAuctionResponse](h.srv.Client(), h.srv.URL+rpc.GetAuctionProcedure, rpc.WithJSON())
	res, err := get.CallUnary(ctx, connect.NewRequest(&rpc.GetAuctionRequest{AuctionID: a.ID}))
	if err != nil {
		t.Fatalf("GetAuction: %v", err)
	}
	if res.Msg.Auction.ID != a.ID || res.Msg.ServerTime != rpc.Millis(epoch) {
		t.Fatalf("unexpected response: %+v", res.Msg)
	}

	_, err = get.CallUnary(ctx, connect.NewRequest(&rpc.GetAuctionRequest{AuctionID: uuid.New()}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}

	st := connect.NewClient[rpc.ServerTimeRequest, rpc.ServerTimeResponse](h.srv.Client(), h.srv.URL+rpc.ServerTimeProcedure, rpc.WithJSON())
	h.clock.Advance(1500 * time.Millisecond)
	tres, err := st.CallUnary(ctx, connect.NewRequest(&rpc.ServerTimeRequest{}))
	if err != nil {
		t.Fatalf("ServerTime: %v", err)
	}
	if want := rpc.Millis(epoch.Add(1500 * time.Millisecond)); tres.Msg.UnixMillis != want {
		t.Fatalf("server time %d, want %d", tres.Msg.UnixMillis, want)
	}
}

func dial(t *testing.T, h *harness, auctionID uuid.UUID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/auction?auction_id=" + auctionID.String() + "&bidder_id=tester"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) rpc.PushMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg rpc.PushMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return msg
}

func TestWebSocketSnapshotThenBroadcast(t *testing.T) {
	h := newHarness(t)
	a := h.auction(t)
	bidder := h.team(50_000_000)

	conn := dial(t, h, a.ID)
	first := readFrame(t, conn)
	if first.Type != rpc.TypeSnapshot || first.Auction.ID != a.ID {
		t.Fatalf("first frame should be the snapshot, got %+v", first)
	}

	if _, err := h.app.PlaceBid(context.Background(), settlement.PlaceBidRequest{
		AuctionID: a.ID, BidderID: bidder, BidderName: "B", Amount: 2_000_000,
	}); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}

	// AuctionCreated may still be in flight from relay startup
	for {
		msg := readFrame(t, conn)
		if msg.Type != events.TypeBidAccepted {
			continue
		}
		if msg.Auction.CurrentPrice != 2_000_000 || msg.Bid == nil || msg.Bid.BidderID != bidder {
			t.Fatalf("unexpected BidAccepted frame: %+v", msg)
		}
		return
	}
}

func TestWebSocketUnknownAuction(t *testing.T) {
	h := newHarness(t)
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/auction?auction_id=" + uuid.New().String()
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", resp)
	}
}

func adminRequest(t *testing.T, h *harness, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAdminLifecycle(t *testing.T) {
	h := newHarness(t)
	create := map[string]any{
		"format":   "system",
		"subject":  map[string]any{"name": "Keeper"},
		"duration": "1m",
	}

	if resp := adminRequest(t, h, "/admin/auctions", "", create); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without token, got %d", resp.StatusCode)
	}
	if resp := adminRequest(t, h, "/admin/auctions", "wrong", create); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong token, got %d", resp.StatusCode)
	}

	resp := adminRequest(t, h, "/admin/auctions", adminToken, create)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created models.Auction
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != models.AuctionStatusQueued {
		t.Fatalf("expected queued auction, got %s", created.Status)
	}

	base := "/admin/auctions/" + created.ID.String()
	if resp := adminRequest(t, h, base+"/activate", adminToken, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("activate: expected 200, got %d", resp.StatusCode)
	}
	if resp := adminRequest(t, h, base+"/finalize", adminToken, nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("early finalize: expected 409, got %d", resp.StatusCode)
	}

	h.clock.Advance(time.Minute)
	if resp := adminRequest(t, h, base+"/finalize", adminToken, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("finalize: expected 200, got %d", resp.StatusCode)
	}
	if resp := adminRequest(t, h, base+"/cancel", adminToken, nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("cancel settled: expected 409, got %d", resp.StatusCode)
	}
	if resp := adminRequest(t, h, "/admin/auctions/"+uuid.New().String()+"/cancel", adminToken, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel unknown: expected 404, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	resp, err := h.srv.Client().Get(h.srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Healthy bool `json:"healthy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Healthy {
		t.Fatal("expected healthy gateway")
	}
}
