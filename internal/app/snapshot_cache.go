package app

import (
	"context"
	"sync"
	"time"

	"gridwatch/clients/backend"
	"gridwatch/internal/kvstore"

	"go.uber.org/zap"
)

// SnapshotRecord is the last-known-good market snapshot for one identity.
type SnapshotRecord struct {
	Snapshot  backend.Snapshot `json:"snapshot"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func (r *SnapshotRecord) clone() *SnapshotRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Snapshot.Price = cloneFloat(r.Snapshot.Price)
	c.Snapshot.Change24h = cloneFloat(r.Snapshot.Change24h)
	c.Snapshot.Volume24h = cloneFloat(r.Snapshot.Volume24h)
	c.Snapshot.Liquidity = cloneFloat(r.Snapshot.Liquidity)
	return &c
}

// SnapshotCache keeps the last-known-good snapshot per identity. Incoming
// fields that are present replace stored ones; absent fields keep them.
// Like HealthCache it tracks an eviction generation per identity.
type SnapshotCache struct {
	logger *zap.Logger
	store  *kvstore.Store
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]*SnapshotRecord
	gens    map[string]uint64

	persistMu sync.Mutex
}

func NewSnapshotCache(logger *zap.Logger, store *kvstore.Store) *SnapshotCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotCache{
		logger:  logger.Named("snapshot_cache"),
		store:   store,
		now:     time.Now,
		entries: make(map[string]*SnapshotRecord),
		gens:    make(map[string]uint64),
	}
}

// Load restores persisted snapshots into memory.
func (c *SnapshotCache) Load(ctx context.Context) int {
	stored := kvstore.Get(ctx, c.store, kvstore.KeyWatchlistSnapshot, map[string]*SnapshotRecord{})

	c.mu.Lock()
	for key, rec := range stored {
		if rec != nil && key != "" {
			c.entries[key] = rec
		}
	}
	n := len(c.entries)
	c.mu.Unlock()

	c.logger.Debug("loaded persisted snapshots", zap.Int("count", n))
	return n
}

func (c *SnapshotCache) Get(id Identity) *SnapshotRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[id.Key()].clone()
}

// Merge folds incoming into the stored snapshot for id. It does not persist.
func (c *SnapshotCache) Merge(id Identity, incoming backend.Snapshot) *SnapshotRecord {
	if id.IsZero() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mergeLocked(id.Key(), incoming).clone()
}

// Generation returns the eviction generation of id.
func (c *SnapshotCache) Generation(id Identity) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[id.Key()]
}

// Generations returns the eviction generation of every id.
func (c *SnapshotCache) Generations(ids []Identity) map[Identity]uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	gens := make(map[Identity]uint64, len(ids))
	for _, id := range ids {
		gens[id] = c.gens[id.Key()]
	}
	return gens
}

// MergeAt is Merge for a result fetched under generation gen. It drops the
// result when id was evicted since.
func (c *SnapshotCache) MergeAt(id Identity, gen uint64, incoming backend.Snapshot) (*SnapshotRecord, bool) {
	if id.IsZero() {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[id.Key()] != gen {
		return nil, false
	}
	return c.mergeLocked(id.Key(), incoming).clone(), true
}

// ReplaceAll merges every result and then persists the whole map.
func (c *SnapshotCache) ReplaceAll(ctx context.Context, results map[Identity]backend.Snapshot) {
	c.ReplaceCurrent(ctx, results, nil)
}

// ReplaceCurrent is ReplaceAll for results fetched under gens. Results for
// identities evicted since are dropped. It returns the identities merged.
// A nil gens merges everything.
func (c *SnapshotCache) ReplaceCurrent(ctx context.Context, results map[Identity]backend.Snapshot, gens map[Identity]uint64) []Identity {
	merged := make([]Identity, 0, len(results))
	c.mu.Lock()
	for id, snap := range results {
		if id.IsZero() {
			continue
		}
		if gens != nil {
			if gen, ok := gens[id]; !ok || c.gens[id.Key()] != gen {
				continue
			}
		}
		c.mergeLocked(id.Key(), snap)
		merged = append(merged, id)
	}
	c.mu.Unlock()

	c.Persist(ctx)
	return merged
}

// Evict deletes the snapshot for id, bumps its generation and persists the
// change.
func (c *SnapshotCache) Evict(ctx context.Context, id Identity) bool {
	key := id.Key()
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.gens[key]++
	c.mu.Unlock()

	if ok {
		c.Persist(ctx)
	}
	return ok
}

func (c *SnapshotCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Persist writes the current map through the store.
func (c *SnapshotCache) Persist(ctx context.Context) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.RLock()
	snapshot := make(map[string]*SnapshotRecord, len(c.entries))
	for key, rec := range c.entries {
		snapshot[key] = rec.clone()
	}
	c.mu.RUnlock()

	c.store.Put(ctx, kvstore.KeyWatchlistSnapshot, snapshot)
}

func (c *SnapshotCache) mergeLocked(key string, in backend.Snapshot) *SnapshotRecord {
	rec := c.entries[key]
	if rec == nil {
		rec = &SnapshotRecord{}
		c.entries[key] = rec
	}
	s := &rec.Snapshot
	if in.Symbol != "" {
		s.Symbol = in.Symbol
	}
	if in.Price != nil {
		s.Price = cloneFloat(in.Price)
	}
	if in.Change24h != nil {
		s.Change24h = cloneFloat(in.Change24h)
	}
	if in.Volume24h != nil {
		s.Volume24h = cloneFloat(in.Volume24h)
	}
	if in.Liquidity != nil {
		s.Liquidity = cloneFloat(in.Liquidity)
	}
	if in.Source != "" {
		s.Source = in.Source
	}
	if in.Mode != "" {
		s.Mode = in.Mode
	}
	rec.UpdatedAt = c.now()
	return rec
}
