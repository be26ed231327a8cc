package app

import (
	"sync"
	"time"
)

type EventType string

const (
	EventIdentityChanged  EventType = "identity.changed"
	EventWatchlistChanged EventType = "watchlist.changed"
	EventOrdersChanged    EventType = "orders.changed"
	EventWalletChanged    EventType = "wallet.changed"
	EventSignedOut        EventType = "auth.signed_out"
)

// Event is delivered to subscribers of its Type. Slot, Prev, Next and Known
// are set for identity changes only.
type Event struct {
	Type  EventType
	Slot  SlotName
	Prev  Identity
	Next  Identity
	Known bool
	At    time.Time
}

type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// Bus delivers events synchronously in subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[EventType][]subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]subscription)}
}

// Subscribe registers fn for events of type t and returns a function that
// removes it.
func (b *Bus) Subscribe(t EventType, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[t] = append(b.subs[t], subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[t]
		for i, s := range subs {
			if s.id == id {
				b.subs[t] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish calls every handler for ev.Type before returning. Handlers may
// publish further events.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[ev.Type]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(ev)
	}
}
