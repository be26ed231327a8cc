package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"gridwatch/clients/backend"
	"gridwatch/internal/apperr"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// maxRefreshIdentities caps manual refresh fan-out to the two slots.
const maxRefreshIdentities = 2

// BackendAPI is everything the session needs from the backend.
type BackendAPI interface {
	AuthAPI
	Health(ctx context.Context, symbol string, fast bool) (*backend.Health, error)
	WatchlistSnapshot(ctx context.Context, items []backend.SnapshotItem) ([]backend.Snapshot, error)
	GridOrders(ctx context.Context) ([]backend.Order, error)
	GridStart(ctx context.Context, params backend.GridParams) (*backend.GridResponse, error)
	GridTick(ctx context.Context) (*backend.GridResponse, error)
	GridStop(ctx context.Context) (*backend.GridResponse, error)
	GridAutorun(ctx context.Context, enabled bool) (*backend.GridResponse, error)
	GridOrderAdd(ctx context.Context, req backend.OrderRequest) (*backend.GridResponse, error)
	GridOrderStop(ctx context.Context, id backend.OrderID) (*backend.GridResponse, error)
	AI(ctx context.Context, req backend.AIRequest) (string, error)
}

var _ BackendAPI = (*backend.BackendClient)(nil)

type (
	HealthHook   func(id Identity, rec *HealthRecord)
	SnapshotHook func(id Identity, rec *SnapshotRecord)
)

// Orchestrator issues health and snapshot fetches and feeds the results into
// the identity caches. Failed fetches leave the caches untouched. Duplicate
// in-flight requests are allowed; the merge policy reconciles them.
type Orchestrator struct {
	logger    *zap.Logger
	api       BackendAPI
	health    *HealthCache
	snapshots *SnapshotCache
	watchlist *Watchlist
	metrics   *Metrics
	fullDelay time.Duration
	limiter   *rate.Limiter

	onHealth   HealthHook
	onSnapshot SnapshotHook

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type OrchestratorOptions struct {
	FullDelay    time.Duration
	ManualMinGap time.Duration
	OnHealth     HealthHook
	OnSnapshot   SnapshotHook
}

func NewOrchestrator(logger *zap.Logger, api BackendAPI, health *HealthCache, snapshots *SnapshotCache, watchlist *Watchlist, metrics *Metrics, opts OrchestratorOptions) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if opts.ManualMinGap > 0 {
		limit = rate.Every(opts.ManualMinGap)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		logger:     logger.Named("orchestrator"),
		api:        api,
		health:     health,
		snapshots:  snapshots,
		watchlist:  watchlist,
		metrics:    metrics,
		fullDelay:  opts.FullDelay,
		limiter:    rate.NewLimiter(limit, 1),
		onHealth:   opts.OnHealth,
		onSnapshot: opts.OnSnapshot,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// FetchTier fetches one health tier for id and merges it on success. A
// result for an identity evicted while the request was in flight is
// dropped, and both return values are nil.
func (o *Orchestrator) FetchTier(ctx context.Context, id Identity, tier Tier) (*HealthRecord, error) {
	return o.fetchTier(ctx, id, tier, o.health.Generation(id))
}

func (o *Orchestrator) fetchTier(ctx context.Context, id Identity, tier Tier, gen uint64) (*HealthRecord, error) {
	if id.IsZero() {
		return nil, apperr.Validation("health", "no identity")
	}
	h, err := o.api.Health(ctx, id.ID, tier == TierFast)
	o.metrics.ObserveFetch("health", tier, err)
	if err != nil {
		o.logger.Debug("health fetch failed",
			zap.String("identity", id.Key()),
			zap.String("tier", string(tier)),
			zap.Error(err),
		)
		return nil, err
	}

	rec, ok := o.health.MergeAt(ctx, id, gen, tier, h)
	if !ok {
		return nil, nil
	}
	o.metrics.SetCacheEntries("health", o.health.Len())
	if o.onHealth != nil {
		o.onHealth(id, rec)
	}
	return rec, nil
}

// FetchSnapshot resolves a single identity through the snapshot endpoint.
// Watchlist members use their stored descriptor; anything else is looked up
// as a DEX item unless it looks like a plain market symbol.
func (o *Orchestrator) FetchSnapshot(ctx context.Context, id Identity) (*SnapshotRecord, error) {
	return o.fetchSnapshot(ctx, id, o.snapshots.Generation(id))
}

func (o *Orchestrator) fetchSnapshot(ctx context.Context, id Identity, gen uint64) (*SnapshotRecord, error) {
	if id.IsZero() {
		return nil, apperr.Validation("snapshot", "no identity")
	}
	item := o.snapshotItemFor(id)
	results, err := o.api.WatchlistSnapshot(ctx, []backend.SnapshotItem{item})
	if err == nil && len(results) == 0 {
		err = apperr.New(apperr.KindParse, "snapshot", errors.New("no result for "+id.ID))
	}
	o.metrics.ObserveFetch("snapshot", "", err)
	if err != nil {
		o.logger.Debug("snapshot fetch failed", zap.String("identity", id.Key()), zap.Error(err))
		return nil, err
	}

	snap := results[0]
	for _, r := range results {
		if NormalizeSymbol(r.Symbol) == id.ID {
			snap = r
			break
		}
	}
	rec, ok := o.snapshots.MergeAt(id, gen, snap)
	if !ok {
		o.logger.Debug("dropping snapshot for evicted identity", zap.String("identity", id.Key()))
		return nil, nil
	}
	o.metrics.SetCacheEntries("snapshot", o.snapshots.Len())
	if o.onSnapshot != nil {
		o.onSnapshot(id, rec)
	}
	return rec, nil
}

func (o *Orchestrator) snapshotItemFor(id Identity) backend.SnapshotItem {
	if o.watchlist != nil {
		if item, ok := o.watchlist.Lookup(id.ID); ok && item.Identity() == id {
			return item.snapshotItem()
		}
	}
	if id.Pair == "" && LikelySymbol(id.ID) {
		return backend.SnapshotItem{Symbol: id.ID, Mode: ModeMarket}
	}
	return backend.SnapshotItem{Symbol: id.ID, Mode: ModeDex, ID: id.ID, Contract: id.Pair}
}

// OnIdentityChanged reacts to a slot switching identity: fast health now,
// full after FullDelay, and a snapshot lookup for identities outside the
// watchlist. Failures are absorbed. Generations are read here, so an
// eviction before the delayed full fetch starts still discards it.
func (o *Orchestrator) OnIdentityChanged(ev Event) {
	id := ev.Next
	if id.IsZero() {
		return
	}
	if !ev.Known {
		gen := o.snapshots.Generation(id)
		o.spawn(func(ctx context.Context) {
			o.fetchSnapshot(ctx, id, gen)
		})
	}
	if ev.Known || LikelySymbol(id.ID) {
		gen := o.health.Generation(id)
		o.spawn(func(ctx context.Context) {
			o.fetchTier(ctx, id, TierFast, gen)
		})
		o.spawn(func(ctx context.Context) {
			if sleepCtx(ctx, o.fullDelay) {
				o.fetchTier(ctx, id, TierFull, gen)
			}
		})
	}
}

// Refresh is the manual refresh for the given slots. It is rate limited and
// covers at most two distinct identities. Every failure is returned, joined,
// for the caller to surface.
func (o *Orchestrator) Refresh(ctx context.Context, slots ...Slot) error {
	if !o.limiter.Allow() {
		return apperr.New(apperr.KindThrottled, "refresh", errors.New("refresh requested too soon"))
	}

	var targets []Slot
	seen := make(map[string]struct{}, len(slots))
	for _, s := range slots {
		key := s.Identity.Key()
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		targets = append(targets, s)
		if len(targets) == maxRefreshIdentities {
			break
		}
	}
	if len(targets) == 0 {
		return apperr.Validation("refresh", "nothing selected")
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		if err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}

	var healthy []Identity
	gens := make(map[Identity]uint64, len(targets))
	for _, s := range targets {
		id := s.Identity
		known := s.State == SlotKnown
		if !known {
			g.Go(func() error {
				_, err := o.FetchSnapshot(ctx, id)
				record(err)
				return nil
			})
		}
		if known || LikelySymbol(id.ID) {
			healthy = append(healthy, id)
			gen := o.health.Generation(id)
			gens[id] = gen
			g.Go(func() error {
				_, err := o.fetchTier(ctx, id, TierFast, gen)
				record(err)
				return nil
			})
		}
	}

	if len(healthy) > 0 && sleepCtx(ctx, o.fullDelay) {
		for _, id := range healthy {
			id := id
			gen := gens[id]
			g.Go(func() error {
				_, err := o.fetchTier(ctx, id, TierFull, gen)
				record(err)
				return nil
			})
		}
	}
	g.Wait()

	if err := ctx.Err(); err != nil && len(errs) == 0 {
		return apperr.Classify("refresh", err)
	}
	return errors.Join(errs...)
}

// RefreshWatchlist fetches snapshots for the whole watchlist, merges them
// and persists the snapshot map.
func (o *Orchestrator) RefreshWatchlist(ctx context.Context) error {
	if o.watchlist == nil {
		return nil
	}
	items := o.watchlist.Items()
	if len(items) == 0 {
		return nil
	}
	req := make([]backend.SnapshotItem, len(items))
	ids := make([]Identity, len(items))
	bySymbol := make(map[string]Identity, len(items))
	for i, item := range items {
		req[i] = item.snapshotItem()
		ids[i] = item.Identity()
		bySymbol[item.Symbol] = ids[i]
	}
	gens := o.snapshots.Generations(ids)

	results, err := o.api.WatchlistSnapshot(ctx, req)
	o.metrics.ObserveFetch("snapshot", "", err)
	if err != nil {
		o.logger.Debug("watchlist refresh failed", zap.Int("items", len(items)), zap.Error(err))
		return err
	}

	merged := make(map[Identity]backend.Snapshot, len(results))
	for _, r := range results {
		id, ok := bySymbol[NormalizeSymbol(r.Symbol)]
		if !ok {
			continue
		}
		merged[id] = r
	}
	kept := o.snapshots.ReplaceCurrent(ctx, merged, gens)
	o.metrics.SetCacheEntries("snapshot", o.snapshots.Len())

	if o.onSnapshot != nil {
		for _, id := range kept {
			o.onSnapshot(id, o.snapshots.Get(id))
		}
	}
	o.logger.Debug("watchlist refreshed", zap.Int("items", len(items)), zap.Int("results", len(kept)))
	return nil
}

// Close abandons in-flight background fetches and waits for them to return.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()
	o.wg.Wait()
}

// Wait blocks until background fetches started so far have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) spawn(fn func(ctx context.Context)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn(o.ctx)
	}()
}

// sleepCtx waits d and reports whether ctx is still live.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
