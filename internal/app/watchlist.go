package app

import (
	"context"
	"strings"
	"sync"

	"gridwatch/clients/backend"
	"gridwatch/clients/wallet"
	"gridwatch/internal/apperr"
	"gridwatch/internal/kvstore"

	"go.uber.org/zap"
)

const (
	ModeMarket = "market"
	ModeDex    = "dex"
)

// WatchItem is one watchlist entry. DEX items carry the descriptor the
// snapshot endpoint needs to resolve them.
type WatchItem struct {
	Symbol   string `json:"symbol"`
	Mode     string `json:"mode"`
	ID       string `json:"id,omitempty"`
	Chain    string `json:"chain,omitempty"`
	Contract string `json:"contract,omitempty"`
}

// Identity is the cache identity of the item. DEX items pair the symbol
// with their contract.
func (w WatchItem) Identity() Identity {
	if w.Mode == ModeDex {
		return NewIdentity(w.Symbol, w.Contract)
	}
	return NewIdentity(w.Symbol, "")
}

func (w WatchItem) snapshotItem() backend.SnapshotItem {
	return backend.SnapshotItem{
		Symbol:   w.Symbol,
		Mode:     w.Mode,
		ID:       w.ID,
		Chain:    w.Chain,
		Contract: w.Contract,
	}
}

func normalizeWatchItem(item WatchItem) (WatchItem, error) {
	const op = "watchlist add"
	item.Symbol = NormalizeSymbol(item.Symbol)
	item.Mode = strings.ToLower(strings.TrimSpace(item.Mode))
	item.ID = strings.TrimSpace(item.ID)
	item.Chain = strings.ToLower(strings.TrimSpace(item.Chain))
	item.Contract = strings.TrimSpace(item.Contract)

	if item.Symbol == "" {
		return item, apperr.Validation(op, "symbol is empty")
	}
	if item.Mode == "" {
		item.Mode = ModeMarket
	}
	if item.Mode != ModeMarket && item.Mode != ModeDex {
		return item, apperr.Validation(op, "unknown mode %q", item.Mode)
	}
	if item.Mode == ModeDex && item.ID == "" && item.Contract == "" {
		return item, apperr.Validation(op, "dex item %s needs an id or contract", item.Symbol)
	}
	if item.Contract != "" {
		if err := wallet.ValidateContract(item.Chain, item.Contract); err != nil {
			return item, err
		}
	}
	return item, nil
}

// Watchlist is the authoritative entity list. Membership changes keep the
// identity caches in step and publish watchlist.changed.
type Watchlist struct {
	logger    *zap.Logger
	store     *kvstore.Store
	bus       *Bus
	health    *HealthCache
	snapshots *SnapshotCache

	mu    sync.RWMutex
	items []WatchItem
}

func NewWatchlist(logger *zap.Logger, store *kvstore.Store, bus *Bus, health *HealthCache, snapshots *SnapshotCache) *Watchlist {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watchlist{
		logger:    logger.Named("watchlist"),
		store:     store,
		bus:       bus,
		health:    health,
		snapshots: snapshots,
	}
}

// Load restores the persisted list, falling back to seed symbols when
// nothing was stored.
func (w *Watchlist) Load(ctx context.Context, seed []string) []WatchItem {
	symbols := kvstore.Get(ctx, w.store, kvstore.KeyWatchlist, []string(nil))
	descriptors := kvstore.Get(ctx, w.store, kvstore.KeySymbolMap, map[string]WatchItem{})
	if len(symbols) == 0 {
		symbols = seed
	}

	items := make([]WatchItem, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		item, ok := descriptors[NormalizeSymbol(sym)]
		if !ok {
			item = WatchItem{Symbol: sym}
		}
		item, err := normalizeWatchItem(item)
		if err != nil {
			w.logger.Warn("dropping invalid watchlist entry", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		if _, dup := seen[item.Symbol]; dup {
			continue
		}
		seen[item.Symbol] = struct{}{}
		items = append(items, item)
	}

	w.mu.Lock()
	w.items = items
	w.mu.Unlock()

	if w.health != nil {
		w.health.HydrateAll(w.Identities())
	}
	w.logger.Info("loaded watchlist", zap.Int("count", len(items)))
	return w.Items()
}

// Add validates item locally and appends it. Invalid input never reaches the
// network.
func (w *Watchlist) Add(ctx context.Context, item WatchItem) (WatchItem, error) {
	item, err := normalizeWatchItem(item)
	if err != nil {
		return item, err
	}

	w.mu.Lock()
	for _, existing := range w.items {
		if existing.Symbol == item.Symbol {
			w.mu.Unlock()
			return item, apperr.Validation("watchlist add", "%s is already on the watchlist", item.Symbol)
		}
	}
	w.items = append(w.items, item)
	w.mu.Unlock()

	w.persist(ctx)
	if w.health != nil && w.health.Rehydrate(item.Identity()) {
		w.logger.Debug("rehydrated health", zap.String("symbol", item.Symbol))
	}
	w.publish()
	return item, nil
}

// Remove drops symbol and evicts every cached entry for its identity.
func (w *Watchlist) Remove(ctx context.Context, symbol string) error {
	sym := NormalizeSymbol(symbol)

	w.mu.Lock()
	var removed *WatchItem
	for i, existing := range w.items {
		if existing.Symbol == sym {
			item := existing
			removed = &item
			w.items = append(w.items[:i:i], w.items[i+1:]...)
			break
		}
	}
	w.mu.Unlock()

	if removed == nil {
		return apperr.Validation("watchlist remove", "%s is not on the watchlist", nz(sym, symbol))
	}

	id := removed.Identity()
	if w.health != nil {
		w.health.Evict(id)
	}
	if w.snapshots != nil {
		w.snapshots.Evict(ctx, id)
	}
	w.persist(ctx)
	w.publish()
	return nil
}

func (w *Watchlist) Items() []WatchItem {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]WatchItem(nil), w.items...)
}

// Symbols returns the watchlist symbols in order.
func (w *Watchlist) Symbols() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	symbols := make([]string, len(w.items))
	for i, item := range w.items {
		symbols[i] = item.Symbol
	}
	return symbols
}

// Identities is the entity list the reconciler resolves against.
func (w *Watchlist) Identities() []Identity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ids := make([]Identity, len(w.items))
	for i, item := range w.items {
		ids[i] = item.Identity()
	}
	return ids
}

// SymbolMap maps each symbol to its descriptor.
func (w *Watchlist) SymbolMap() map[string]WatchItem {
	w.mu.RLock()
	defer w.mu.RUnlock()
	m := make(map[string]WatchItem, len(w.items))
	for _, item := range w.items {
		m[item.Symbol] = item
	}
	return m
}

func (w *Watchlist) Lookup(symbol string) (WatchItem, bool) {
	item, ok := w.SymbolMap()[NormalizeSymbol(symbol)]
	return item, ok
}

func (w *Watchlist) persist(ctx context.Context) {
	w.store.Put(ctx, kvstore.KeyWatchlist, w.Symbols())
	w.store.Put(ctx, kvstore.KeySymbolMap, w.SymbolMap())
}

func (w *Watchlist) publish() {
	if w.bus != nil {
		w.bus.Publish(Event{Type: EventWatchlistChanged})
	}
}
