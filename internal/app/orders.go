package app

import (
	"context"
	"sort"
	"sync"

	"gridwatch/clients/backend"
	"gridwatch/internal/kvstore"

	"go.uber.org/zap"
)

var terminalStatuses = map[string]struct{}{
	backend.StatusFilled:    {},
	backend.StatusCancelled: {},
	"REJECTED":              {},
	"EXPIRED":               {},
	"STOPPED":               {},
	"CLOSED":                {},
}

// IsActiveStatus reports whether an order in status s can still fill.
func IsActiveStatus(s string) bool {
	s = backend.NormalizeStatus(s)
	if s == "" {
		return false
	}
	_, terminal := terminalStatuses[s]
	return !terminal
}

// Transition is an observed status change for one order.
type Transition struct {
	Order backend.Order
	From  string
}

type ApplyResult struct {
	Transitions   []Transition
	ActiveChanged bool
	Unhidden      []backend.OrderID
}

// OrderBook holds the latest grid orders and the set of order ids the user
// has hidden.
type OrderBook struct {
	logger *zap.Logger
	store  *kvstore.Store
	bus    *Bus

	mu         sync.RWMutex
	orders     []backend.Order
	hidden     map[backend.OrderID]struct{}
	lastStatus map[backend.OrderID]string
	loaded     bool
}

func NewOrderBook(logger *zap.Logger, store *kvstore.Store, bus *Bus) *OrderBook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderBook{
		logger:     logger.Named("orders"),
		store:      store,
		bus:        bus,
		hidden:     make(map[backend.OrderID]struct{}),
		lastStatus: make(map[backend.OrderID]string),
	}
}

func (b *OrderBook) Load(ctx context.Context) {
	ids := kvstore.Get(ctx, b.store, kvstore.KeyHiddenOrderIDs, []backend.OrderID(nil))
	b.mu.Lock()
	for _, id := range ids {
		if id != "" {
			b.hidden[id] = struct{}{}
		}
	}
	b.mu.Unlock()
}

// Apply replaces the order list. Hidden orders reported OPEN are un-hidden,
// since the backend may reuse ids. Publishes orders.changed when the set of
// active ids changes.
func (b *OrderBook) Apply(ctx context.Context, orders []backend.Order) ApplyResult {
	next := make([]backend.Order, 0, len(orders))
	for _, o := range orders {
		if o.ID == "" {
			continue
		}
		o.Status = backend.NormalizeStatus(o.Status)
		next = append(next, o)
	}

	var res ApplyResult
	b.mu.Lock()
	before := b.activeLocked()
	status := make(map[backend.OrderID]string, len(next))
	for _, o := range next {
		if o.Status == backend.StatusOpen {
			if _, ok := b.hidden[o.ID]; ok {
				delete(b.hidden, o.ID)
				res.Unhidden = append(res.Unhidden, o.ID)
			}
		}
		prev, seen := b.lastStatus[o.ID]
		if b.loaded && seen && prev != o.Status {
			res.Transitions = append(res.Transitions, Transition{Order: o, From: prev})
		}
		status[o.ID] = o.Status
	}
	b.orders = next
	b.lastStatus = status
	b.loaded = true
	res.ActiveChanged = !sameIDs(before, b.activeLocked())
	hidden := b.hiddenLocked()
	b.mu.Unlock()

	if len(res.Unhidden) > 0 {
		b.logger.Info("un-hid reopened orders", zap.Int("count", len(res.Unhidden)))
		b.store.Put(ctx, kvstore.KeyHiddenOrderIDs, hidden)
	}
	if res.ActiveChanged && b.bus != nil {
		b.bus.Publish(Event{Type: EventOrdersChanged})
	}
	return res
}

func (b *OrderBook) Hide(ctx context.Context, id backend.OrderID) {
	if id == "" {
		return
	}
	b.mu.Lock()
	b.hidden[id] = struct{}{}
	hidden := b.hiddenLocked()
	b.mu.Unlock()
	b.store.Put(ctx, kvstore.KeyHiddenOrderIDs, hidden)
}

func (b *OrderBook) Unhide(ctx context.Context, id backend.OrderID) {
	b.mu.Lock()
	delete(b.hidden, id)
	hidden := b.hiddenLocked()
	b.mu.Unlock()
	b.store.Put(ctx, kvstore.KeyHiddenOrderIDs, hidden)
}

// Visible returns orders that are not hidden.
func (b *OrderBook) Visible() []backend.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]backend.Order, 0, len(b.orders))
	for _, o := range b.orders {
		if _, ok := b.hidden[o.ID]; !ok {
			out = append(out, o)
		}
	}
	return out
}

func (b *OrderBook) Hidden() []backend.OrderID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hiddenLocked()
}

func (b *OrderBook) HasActive() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.activeLocked()) > 0
}

func (b *OrderBook) ActiveCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.activeLocked())
}

func (b *OrderBook) activeLocked() []backend.OrderID {
	var ids []backend.OrderID
	for _, o := range b.orders {
		if IsActiveStatus(o.Status) {
			ids = append(ids, o.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (b *OrderBook) hiddenLocked() []backend.OrderID {
	ids := make([]backend.OrderID, 0, len(b.hidden))
	for id := range b.hidden {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sameIDs(a, b []backend.OrderID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
