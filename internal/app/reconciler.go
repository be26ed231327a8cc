package app

import (
	"context"
	"strings"
	"sync"

	"gridwatch/internal/kvstore"

	"go.uber.org/zap"
)

type SlotName string

const (
	SlotPrimary SlotName = "primary"
	SlotCompare SlotName = "compare"
)

var slotNames = []SlotName{SlotPrimary, SlotCompare}

type SlotState int

const (
	SlotUnset SlotState = iota
	SlotKnown
	SlotRaw
)

func (s SlotState) String() string {
	switch s {
	case SlotKnown:
		return "known"
	case SlotRaw:
		return "raw"
	default:
		return "unset"
	}
}

func (s SlotState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *SlotState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "known":
		*s = SlotKnown
	case "raw":
		*s = SlotRaw
	default:
		*s = SlotUnset
	}
	return nil
}

// Slot is one selection input and what it resolved to.
type Slot struct {
	Raw         string    `json:"raw"`
	Pair        string    `json:"pair,omitempty"`
	State       SlotState `json:"state"`
	Identity    Identity  `json:"identity"`
	AcceptedKey string    `json:"acceptedKey,omitempty"`
}

type Selection struct {
	Primary Slot `json:"primary"`
	Compare Slot `json:"compare"`
}

func (s *Selection) slot(name SlotName) *Slot {
	if name == SlotCompare {
		return &s.Compare
	}
	return &s.Primary
}

// Reconciler resolves the primary and compare inputs against the watchlist.
// When the list is non-empty, an input that matches nothing is replaced by
// the first entity (primary) or the second, or first if alone (compare).
// Every accepted-key change is published as an identity.changed event.
type Reconciler struct {
	logger *zap.Logger
	store  *kvstore.Store
	bus    *Bus

	mu       sync.Mutex
	sel      Selection
	entities []Identity
}

func NewReconciler(logger *zap.Logger, store *kvstore.Store, bus *Bus) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		logger: logger.Named("reconciler"),
		store:  store,
		bus:    bus,
	}
}

// Load restores the persisted inputs and resolves them against entities.
func (r *Reconciler) Load(ctx context.Context, entities []Identity) Selection {
	stored := kvstore.Get(ctx, r.store, kvstore.KeySelection, Selection{})

	r.mu.Lock()
	r.sel.Primary.Raw, r.sel.Primary.Pair = stored.Primary.Raw, stored.Primary.Pair
	r.sel.Compare.Raw, r.sel.Compare.Pair = stored.Compare.Raw, stored.Compare.Pair
	r.entities = append([]Identity(nil), entities...)
	changes := r.recomputeLocked()
	sel := r.sel
	r.mu.Unlock()

	r.commit(ctx, sel, changes)
	return sel
}

// SetInput records raw user input for a slot.
func (r *Reconciler) SetInput(ctx context.Context, name SlotName, raw, pair string) Slot {
	r.mu.Lock()
	s := r.sel.slot(name)
	s.Raw = strings.TrimSpace(raw)
	s.Pair = strings.TrimSpace(pair)
	changes := r.recomputeLocked()
	sel := r.sel
	r.mu.Unlock()

	r.commit(ctx, sel, changes)
	return *sel.slot(name)
}

// SetEntities replaces the authoritative entity list.
func (r *Reconciler) SetEntities(ctx context.Context, entities []Identity) Selection {
	r.mu.Lock()
	r.entities = append([]Identity(nil), entities...)
	changes := r.recomputeLocked()
	sel := r.sel
	r.mu.Unlock()

	r.commit(ctx, sel, changes)
	return sel
}

func (r *Reconciler) Slot(name SlotName) Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.sel.slot(name)
}

func (r *Reconciler) Selection() Selection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sel
}

type slotChange struct {
	slot  SlotName
	prev  Identity
	next  Identity
	known bool
}

func (r *Reconciler) recomputeLocked() []slotChange {
	var changes []slotChange
	for i, name := range slotNames {
		s := r.sel.slot(name)
		prevKey := s.AcceptedKey
		prev := s.Identity
		r.resolveLocked(s, i)
		if s.AcceptedKey != prevKey {
			changes = append(changes, slotChange{slot: name, prev: prev, next: s.Identity, known: s.State == SlotKnown})
		}
	}
	return changes
}

func (r *Reconciler) resolveLocked(s *Slot, idx int) {
	norm := NormalizeSymbol(s.Raw)

	if len(r.entities) > 0 {
		target, ok := r.matchLocked(norm)
		if !ok {
			if idx >= len(r.entities) {
				idx = 0
			}
			target = r.entities[idx]
			s.Raw, s.Pair = target.ID, target.Pair
		}
		s.State = SlotKnown
		s.Identity = target
		s.AcceptedKey = target.Key()
		return
	}

	if norm == "" {
		*s = Slot{Raw: s.Raw, Pair: s.Pair}
		return
	}
	s.State = SlotRaw
	s.Identity = NewIdentity(norm, s.Pair)
	s.AcceptedKey = s.Identity.Key()
}

func (r *Reconciler) matchLocked(norm string) (Identity, bool) {
	if norm == "" {
		return Identity{}, false
	}
	for _, e := range r.entities {
		if e.ID == norm {
			return e, true
		}
	}
	return Identity{}, false
}

func (r *Reconciler) commit(ctx context.Context, sel Selection, changes []slotChange) {
	r.store.Put(ctx, kvstore.KeySelection, sel)

	for _, c := range changes {
		r.logger.Debug("identity changed",
			zap.String("slot", string(c.slot)),
			zap.String("prev", c.prev.Key()),
			zap.String("next", c.next.Key()),
			zap.Bool("known", c.known),
		)
		if r.bus != nil {
			r.bus.Publish(Event{Type: EventIdentityChanged, Slot: c.slot, Prev: c.prev, Next: c.next, Known: c.known})
		}
	}
}
