package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/events"
	"github.com/tinti400/ligafut-new-sub000/go/internal/auction/settlement"
	"github.com/tinti400/ligafut-new-sub000/go/internal/models"
)

type counterID struct {
	event uuid.UUID
	key   string
}

// Memory is an in-process store with the same compare-and-swap contract as
// Postgres. Transactions buffer their writes and validate every value they
// swapped against the committed state at commit, so concurrent transactions
// interleave freely and a lost race surfaces as ErrTxConflict.
type Memory struct {
	clock clockwork.Clock

	mu       sync.Mutex
	auctions map[uuid.UUID]models.Auction
	teams    map[uuid.UUID]models.Team
	bids     map[uuid.UUID][]models.Bid
	counters map[counterID]int
	outbox   []events.Event

	notify chan string
}

var _ settlement.Store = (*Memory)(nil)

func NewMemory(clock clockwork.Clock) *Memory {
	return &Memory{
		clock:    clock,
		auctions: make(map[uuid.UUID]models.Auction),
		teams:    make(map[uuid.UUID]models.Team),
		bids:     make(map[uuid.UUID][]models.Bid),
		counters: make(map[counterID]int),
		notify:   make(chan string, 256),
	}
}

// PutTeam creates or replaces a team.
func (m *Memory) PutTeam(team models.Team) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teams[team.ID] = team
}

// PutAuction creates or replaces an auction row.
func (m *Memory) PutAuction(a models.Auction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auctions[a.ID] = a
}

// AdjustBalance applies an unrelated balance change (salaries, prizes)
// outside any settlement transaction.
func (m *Memory) AdjustBalance(_ context.Context, teamID uuid.UUID, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	team, ok := m.teams[teamID]
	if !ok {
		return settlement.ErrTeamNotFound
	}
	team.Balance += delta
	m.teams[teamID] = team
	return nil
}

// Counter returns a committed theft counter.
func (m *Memory) Counter(eventID uuid.UUID, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[counterID{eventID, key}]
}

func (m *Memory) InTx(ctx context.Context, fn func(tx settlement.Tx) error) error {
	tx := &memTx{
		m:           m,
		auctions:    make(map[uuid.UUID]models.Auction),
		inserted:    make(map[uuid.UUID]bool),
		balances:    make(map[uuid.UUID]int64),
		counters:    make(map[counterID]int),
		auctionBase: make(map[uuid.UUID]auctionVersion),
		balanceBase: make(map[uuid.UUID]int64),
		counterBase: make(map[counterID]int),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *Memory) commit(tx *memTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range tx.inserted {
		if _, exists := m.auctions[id]; exists {
			return settlement.ErrTxConflict
		}
	}
	for id, base := range tx.auctionBase {
		current, ok := m.auctions[id]
		if !ok || current.CurrentPrice != base.price || current.Status != base.status {
			return settlement.ErrTxConflict
		}
	}
	for id, base := range tx.balanceBase {
		if m.teams[id].Balance != base {
			return settlement.ErrTxConflict
		}
	}
	for id, base := range tx.counterBase {
		if m.counters[id] != base {
			return settlement.ErrTxConflict
		}
	}

	for id, a := range tx.auctions {
		m.auctions[id] = a
	}
	for id, balance := range tx.balances {
		team := m.teams[id]
		team.Balance = balance
		m.teams[id] = team
	}
	for id, v := range tx.counters {
		m.counters[id] = v
	}
	for _, b := range tx.bids {
		m.bids[b.AuctionID] = append(m.bids[b.AuctionID], b)
	}
	for _, e := range tx.events {
		m.outbox = append(m.outbox, e)
		select {
		case m.notify <- e.ID.String():
		default:
		}
	}
	return nil
}

func (m *Memory) ServerTime(context.Context) (time.Time, error) {
	return m.clock.Now(), nil
}

func (m *Memory) GetAuction(_ context.Context, id uuid.UUID) (*models.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[id]
	if !ok {
		return nil, settlement.ErrAuctionNotFound
	}
	return &a, nil
}

func (m *Memory) ListAuctions(_ context.Context, status models.AuctionStatus) ([]models.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Auction, 0, len(m.auctions))
	for _, a := range m.auctions {
		if status == "" || a.Status == status {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) ListBids(_ context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Bid(nil), m.bids[auctionID]...), nil
}

func (m *Memory) HasBid(_ context.Context, auctionID, bidderID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bids[auctionID] {
		if b.BidderID == bidderID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) GetTeam(_ context.Context, id uuid.UUID) (*models.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[id]
	if !ok {
		return nil, settlement.ErrTeamNotFound
	}
	return &t, nil
}

// Notifications delivers the id of every committed outbox event. Delivery is
// best effort; a poll of FetchUnsent catches anything dropped.
func (m *Memory) Notifications() <-chan string {
	return m.notify
}

func (m *Memory) FetchUnsent(_ context.Context, limit int) ([]events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []events.Event
	for _, e := range m.outbox {
		if e.SentAt != nil {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) FetchByID(_ context.Context, id uuid.UUID) (*events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.outbox {
		if e.ID == id && e.SentAt == nil {
			return &e, nil
		}
	}
	return nil, events.ErrEventNotFound
}

func (m *Memory) MarkSent(_ context.Context, ids ...uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	for _, id := range ids {
		for i := range m.outbox {
			if m.outbox[i].ID == id && m.outbox[i].SentAt == nil {
				m.outbox[i].SentAt = &now
			}
		}
	}
	return nil
}

func (m *Memory) CountPending(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.outbox {
		if e.SentAt == nil {
			n++
		}
	}
	return n, nil
}

type auctionVersion struct {
	price  int64
	status models.AuctionStatus
}

type memTx struct {
	m *Memory

	auctions map[uuid.UUID]models.Auction
	inserted map[uuid.UUID]bool
	balances map[uuid.UUID]int64
	counters map[counterID]int

	auctionBase map[uuid.UUID]auctionVersion
	balanceBase map[uuid.UUID]int64
	counterBase map[counterID]int

	bids   []models.Bid
	events []events.Event
}

func (tx *memTx) Now(context.Context) (time.Time, error) {
	return tx.m.clock.Now(), nil
}

// auction returns the transaction's view of a row and whether it came from
// the write buffer.
func (tx *memTx) auction(id uuid.UUID) (models.Auction, bool, error) {
	if a, ok := tx.auctions[id]; ok {
		return a, true, nil
	}
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	a, ok := tx.m.auctions[id]
	if !ok {
		return models.Auction{}, false, settlement.ErrAuctionNotFound
	}
	return a, false, nil
}

func (tx *memTx) GetAuction(_ context.Context, id uuid.UUID) (*models.Auction, error) {
	a, _, err := tx.auction(id)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (tx *memTx) InsertAuction(_ context.Context, a *models.Auction) error {
	tx.auctions[a.ID] = *a
	tx.inserted[a.ID] = true
	return nil
}

func (tx *memTx) CompareAndSwapPrice(_ context.Context, id uuid.UUID, expectedPrice int64, upd settlement.PriceUpdate) (bool, error) {
	a, buffered, err := tx.auction(id)
	if err != nil {
		return false, err
	}
	if a.Status != models.AuctionStatusActive || a.CurrentPrice != expectedPrice {
		return false, nil
	}
	if !buffered && !tx.inserted[id] {
		if _, seen := tx.auctionBase[id]; !seen {
			tx.auctionBase[id] = auctionVersion{price: expectedPrice, status: models.AuctionStatusActive}
		}
	}
	leader := upd.LeaderID
	a.CurrentPrice = upd.Price
	a.CurrentLeaderID = &leader
	a.CurrentLeaderName = upd.LeaderName
	a.Deadline = upd.Deadline
	tx.auctions[id] = a
	return true, nil
}

func (tx *memTx) TransitionStatus(_ context.Context, id uuid.UUID, from, to models.AuctionStatus, deadline time.Time) (bool, error) {
	a, buffered, err := tx.auction(id)
	if err != nil {
		return false, err
	}
	if a.Status != from {
		return false, nil
	}
	if !buffered && !tx.inserted[id] {
		if _, seen := tx.auctionBase[id]; !seen {
			tx.auctionBase[id] = auctionVersion{price: a.CurrentPrice, status: from}
		}
	}
	a.Status = to
	if !deadline.IsZero() {
		a.Deadline = deadline
	}
	tx.auctions[id] = a
	return true, nil
}

func (tx *memTx) GetBalance(_ context.Context, teamID uuid.UUID) (int64, error) {
	if b, ok := tx.balances[teamID]; ok {
		return b, nil
	}
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	team, ok := tx.m.teams[teamID]
	if !ok {
		return 0, settlement.ErrTeamNotFound
	}
	return team.Balance, nil
}

func (tx *memTx) CompareAndSwapBalance(ctx context.Context, teamID uuid.UUID, expected, next int64) (bool, error) {
	_, buffered := tx.balances[teamID]
	current, err := tx.GetBalance(ctx, teamID)
	if err != nil {
		return false, err
	}
	if current != expected {
		return false, nil
	}
	if !buffered {
		if _, seen := tx.balanceBase[teamID]; !seen {
			tx.balanceBase[teamID] = expected
		}
	}
	tx.balances[teamID] = next
	return true, nil
}

func (tx *memTx) counter(id counterID) (int, bool) {
	if v, ok := tx.counters[id]; ok {
		return v, true
	}
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	return tx.m.counters[id], false
}

func (tx *memTx) GetCounters(_ context.Context, eventID uuid.UUID, keys []string) (map[string]int, error) {
	out := make(map[string]int, len(keys))
	for _, k := range keys {
		out[k], _ = tx.counter(counterID{eventID, k})
	}
	return out, nil
}

func (tx *memTx) CompareAndSwapCounter(_ context.Context, eventID uuid.UUID, key string, expected, next int) (bool, error) {
	id := counterID{eventID, key}
	current, buffered := tx.counter(id)
	if current != expected {
		return false, nil
	}
	if !buffered {
		if _, seen := tx.counterBase[id]; !seen {
			tx.counterBase[id] = expected
		}
	}
	tx.counters[id] = next
	return true, nil
}

func (tx *memTx) InsertBid(_ context.Context, bid models.Bid) error {
	tx.bids = append(tx.bids, bid)
	return nil
}

func (tx *memTx) AppendEvent(_ context.Context, e events.Event) error {
	tx.events = append(tx.events, e)
	return nil
}
