package app

import (
	"context"
	"regexp"
	"sync"
	"time"

	"gridwatch/clients/backend"
	"gridwatch/internal/kvstore"

	"go.uber.org/zap"
)

// Tier is a health freshness level.
type Tier string

const (
	TierFast Tier = "fast"
	TierFull Tier = "full"
)

const defaultMaxReasons = 12

// dailyReason matches reasons about a 24-hour window.
var dailyReason = regexp.MustCompile(`(?i)(\b24\s*-?\s*h(ou)?rs?\b|\b24\s*-?\s*h\b|\b1d\b)`)

// HealthRecord is the merged health state for one identity.
type HealthRecord struct {
	Score      *float64        `json:"score,omitempty"`
	Status     string          `json:"status,omitempty"`
	Reasons    []string        `json:"reasons,omitempty"`
	Confidence *float64        `json:"confidence,omitempty"`
	Metrics    backend.Metrics `json:"metrics,omitempty"`
	Tier       Tier            `json:"tier"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	FullAt     time.Time       `json:"fullAt,omitempty"`
}

// HasFull reports whether full-tier data contributed to the record.
func (r *HealthRecord) HasFull() bool {
	return r != nil && !r.FullAt.IsZero()
}

func (r *HealthRecord) clone() *HealthRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Score = cloneFloat(r.Score)
	c.Confidence = cloneFloat(r.Confidence)
	if r.Reasons != nil {
		c.Reasons = append([]string(nil), r.Reasons...)
	}
	if r.Metrics != nil {
		c.Metrics = make(backend.Metrics, len(r.Metrics))
		for k, v := range r.Metrics {
			c.Metrics[k] = v
		}
	}
	return &c
}

// HealthCache holds one merged health record per identity. Records carrying
// full data are also kept in a durable map that is written through the store
// after every merge. Each identity has an eviction generation; results
// fetched under an older generation are dropped by MergeAt.
type HealthCache struct {
	logger     *zap.Logger
	store      *kvstore.Store
	maxAge     time.Duration
	maxReasons int
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]*HealthRecord
	durable map[string]*HealthRecord
	gens    map[string]uint64

	persistMu sync.Mutex
}

func NewHealthCache(logger *zap.Logger, store *kvstore.Store, maxAge time.Duration, maxReasons int) *HealthCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxReasons <= 0 {
		maxReasons = defaultMaxReasons
	}
	return &HealthCache{
		logger:     logger.Named("health_cache"),
		store:      store,
		maxAge:     maxAge,
		maxReasons: maxReasons,
		now:        time.Now,
		entries:    make(map[string]*HealthRecord),
		durable:    make(map[string]*HealthRecord),
		gens:       make(map[string]uint64),
	}
}

// Load restores the persisted full-record cache. Expired records are dropped.
// Nothing is placed in memory; callers Rehydrate the identities they track.
func (c *HealthCache) Load(ctx context.Context) int {
	stored := kvstore.Get(ctx, c.store, kvstore.KeyHealthFullCache, map[string]*HealthRecord{})
	now := c.now()

	c.mu.Lock()
	for key, rec := range stored {
		if rec == nil || !rec.HasFull() || now.Sub(rec.FullAt) >= c.maxAge {
			continue
		}
		c.durable[key] = rec
	}
	n := len(c.durable)
	c.mu.Unlock()

	c.logger.Info("loaded persisted health records", zap.Int("count", n))
	return n
}

// Get returns a copy of the record for id if it covers tier: any record
// serves a fast read, only a record with full data serves a full read.
func (c *HealthCache) Get(id Identity, tier Tier) *HealthRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec := c.entries[id.Key()]
	if rec == nil {
		return nil
	}
	if tier == TierFull && !rec.HasFull() {
		return nil
	}
	return rec.clone()
}

// Merge folds incoming into the record for id and returns the result.
//
// A full update replaces the record. A fast update over a record holding
// multi-day metrics, when the update carries none, keeps those metrics, the
// score and status, and swaps only the 24-hour reasons. Any other fast update
// overlays present fields.
func (c *HealthCache) Merge(ctx context.Context, id Identity, tier Tier, incoming *backend.Health) *HealthRecord {
	rec, _ := c.merge(ctx, id, tier, incoming, nil)
	return rec
}

// Generation returns the eviction generation of id. Read it before issuing
// a fetch and hand it to MergeAt with the result.
func (c *HealthCache) Generation(id Identity) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[id.Key()]
}

// MergeAt is Merge for a result fetched under generation gen. When id was
// evicted since, the result is dropped and ok is false.
func (c *HealthCache) MergeAt(ctx context.Context, id Identity, gen uint64, tier Tier, incoming *backend.Health) (rec *HealthRecord, ok bool) {
	return c.merge(ctx, id, tier, incoming, &gen)
}

func (c *HealthCache) merge(ctx context.Context, id Identity, tier Tier, incoming *backend.Health, gen *uint64) (*HealthRecord, bool) {
	if id.IsZero() {
		return nil, false
	}
	if incoming == nil {
		incoming = &backend.Health{}
	}
	key := id.Key()
	now := c.now()

	c.mu.Lock()
	if gen != nil && c.gens[key] != *gen {
		c.mu.Unlock()
		c.logger.Debug("dropping health for evicted identity", zap.String("identity", key))
		return nil, false
	}
	prev := c.entries[key]
	var next *HealthRecord

	switch {
	case tier == TierFull:
		next = recordFromHealth(incoming)
		next.Tier = TierFull
		next.FullAt = now
	case prev == nil:
		next = recordFromHealth(incoming)
		next.Tier = TierFast
	case prev.Metrics.HasMultiDay() && !incoming.Metrics.HasMultiDay():
		next = prev.clone()
		overlayMetrics(next, incoming.Metrics)
		next.Reasons = c.mergeDailyReasons(prev.Reasons, incoming.Reasons)
	default:
		next = prev.clone()
		overlayHealth(next, incoming)
		next.Reasons = capReasons(next.Reasons, c.maxReasons)
	}
	next.UpdatedAt = now

	c.entries[key] = next
	if next.HasFull() {
		c.durable[key] = next.clone()
	}
	out := next.clone()
	c.mu.Unlock()

	c.persist(ctx)
	return out, true
}

// Evict drops the in-memory record for id and bumps its generation, so
// fetches still in flight for it are discarded. The persisted full record
// stays until it ages out so a re-added identity can rehydrate.
func (c *HealthCache) Evict(id Identity) bool {
	key := id.Key()
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.gens[key]++
	return ok
}

// Rehydrate restores id from the persisted full record when it is younger
// than the max age and nothing is in memory yet.
func (c *HealthCache) Rehydrate(id Identity) bool {
	key := id.Key()
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return false
	}
	rec := c.durable[key]
	if rec == nil {
		return false
	}
	if now.Sub(rec.FullAt) >= c.maxAge {
		delete(c.durable, key)
		return false
	}
	c.entries[key] = rec.clone()
	return true
}

// HydrateAll rehydrates every id and returns how many were restored.
func (c *HealthCache) HydrateAll(ids []Identity) int {
	n := 0
	for _, id := range ids {
		if c.Rehydrate(id) {
			n++
		}
	}
	return n
}

// Len returns the number of in-memory records.
func (c *HealthCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *HealthCache) persist(ctx context.Context) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	now := c.now()
	c.mu.Lock()
	snapshot := make(map[string]*HealthRecord, len(c.durable))
	for key, rec := range c.durable {
		if now.Sub(rec.FullAt) >= c.maxAge {
			delete(c.durable, key)
			continue
		}
		snapshot[key] = rec.clone()
	}
	c.mu.Unlock()

	c.store.Put(ctx, kvstore.KeyHealthFullCache, snapshot)
}

func (c *HealthCache) mergeDailyReasons(prev, incoming []string) []string {
	merged := make([]string, 0, len(prev)+len(incoming))
	for _, r := range prev {
		if !isDailyReason(r) {
			merged = append(merged, r)
		}
	}
	for _, r := range incoming {
		if isDailyReason(r) {
			merged = append(merged, r)
		}
	}
	return capReasons(dedupe(merged), c.maxReasons)
}

func isDailyReason(s string) bool {
	return dailyReason.MatchString(s)
}

func recordFromHealth(h *backend.Health) *HealthRecord {
	rec := &HealthRecord{
		Score:      cloneFloat(h.Score),
		Status:     h.Status,
		Confidence: cloneFloat(h.Confidence),
	}
	if h.Reasons != nil {
		rec.Reasons = append([]string(nil), h.Reasons...)
	}
	if h.Metrics != nil {
		rec.Metrics = make(backend.Metrics, len(h.Metrics))
		for k, v := range h.Metrics {
			rec.Metrics[k] = v
		}
	}
	return rec
}

func overlayHealth(dst *HealthRecord, src *backend.Health) {
	if src.Score != nil {
		dst.Score = cloneFloat(src.Score)
	}
	if src.Status != "" {
		dst.Status = src.Status
	}
	if src.Reasons != nil {
		dst.Reasons = append([]string(nil), src.Reasons...)
	}
	if src.Confidence != nil {
		dst.Confidence = cloneFloat(src.Confidence)
	}
	overlayMetrics(dst, src.Metrics)
}

func overlayMetrics(dst *HealthRecord, src backend.Metrics) {
	if len(src) == 0 {
		return
	}
	if dst.Metrics == nil {
		dst.Metrics = make(backend.Metrics, len(src))
	}
	for k, v := range src {
		dst.Metrics[k] = v
	}
}

func capReasons(reasons []string, max int) []string {
	if len(reasons) > max {
		return reasons[:max]
	}
	return reasons
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, s := range items {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
