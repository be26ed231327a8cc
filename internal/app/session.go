package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"gridwatch/clients/backend"
	"gridwatch/clients/notifier"
	"gridwatch/clients/wallet"
	"gridwatch/config"
	"gridwatch/internal/apperr"
	"gridwatch/internal/kvstore"

	"go.uber.org/zap"
)

// Derived holds the live price and health shown for a slot. It belongs to
// the identity key it was computed for and is never shown under another.
type Derived struct {
	Key      string
	Snapshot *SnapshotRecord
	Health   *HealthRecord
}

type SlotView struct {
	Slot
	Snapshot *backend.Snapshot `json:"snapshot,omitempty"`
	Health   *HealthRecord     `json:"health,omitempty"`
}

type WatchRow struct {
	WatchItem
	Snapshot *backend.Snapshot `json:"snapshot,omitempty"`
	Health   *HealthRecord     `json:"health,omitempty"`
}

// View is everything a client renders, read only from the caches.
type View struct {
	Primary      SlotView          `json:"primary"`
	Compare      SlotView          `json:"compare"`
	Watchlist    []WatchRow        `json:"watchlist"`
	Orders       []backend.Order   `json:"orders"`
	HiddenOrders []backend.OrderID `json:"hiddenOrders"`
	ActiveOrders int               `json:"activeOrders"`
	Auth         AuthStatus        `json:"auth"`
	Notices      []notifier.Notice `json:"notices"`
	GeneratedAt  time.Time         `json:"generatedAt"`
}

// Session owns the dashboard state. User-initiated operations surface their
// failures as notices and return them; background operations only log.
type Session struct {
	logger   *zap.Logger
	cfg      *config.Config
	api      BackendAPI
	notifier notifier.Notifier
	metrics  *Metrics

	bus        *Bus
	health     *HealthCache
	snapshots  *SnapshotCache
	watchlist  *Watchlist
	reconciler *Reconciler
	orders     *OrderBook
	auth       *AuthSession
	notices    *NoticeBoard
	orch       *Orchestrator

	mu      sync.RWMutex
	derived map[SlotName]*Derived
}

func NewSession(logger *zap.Logger, cfg *config.Config, store *kvstore.Store, api BackendAPI, signer Signer, n notifier.Notifier, metrics *Metrics) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		logger:   logger.Named("session"),
		cfg:      cfg,
		api:      api,
		notifier: n,
		metrics:  metrics,
		bus:      NewBus(),
		derived:  make(map[SlotName]*Derived),
	}
	s.health = NewHealthCache(logger, store, cfg.Cache.HealthMaxAge, cfg.Cache.MaxReasons)
	s.snapshots = NewSnapshotCache(logger, store)
	s.watchlist = NewWatchlist(logger, store, s.bus, s.health, s.snapshots)
	s.reconciler = NewReconciler(logger, store, s.bus)
	s.orders = NewOrderBook(logger, store, s.bus)
	s.auth = NewAuthSession(logger, store, s.bus, api, signer, cfg.Auth.IdleTimeout)
	s.notices = NewNoticeBoard(logger, cfg.Notices.TTL, n, metrics)
	s.orch = NewOrchestrator(logger, api, s.health, s.snapshots, s.watchlist, metrics, OrchestratorOptions{
		FullDelay:    cfg.Refresh.FullDelay,
		ManualMinGap: cfg.Refresh.ManualMinGap,
		OnHealth:     s.onHealth,
		OnSnapshot:   s.onSnapshot,
	})

	// Derived state is reset before the orchestrator starts fetching.
	s.bus.Subscribe(EventIdentityChanged, s.onIdentityChanged)
	s.bus.Subscribe(EventIdentityChanged, s.orch.OnIdentityChanged)
	s.bus.Subscribe(EventWatchlistChanged, func(Event) {
		s.reconciler.SetEntities(context.Background(), s.watchlist.Identities())
		s.updateCacheGauges()
	})
	return s
}

// Load restores persisted state and resolves the selection, which starts the
// initial fetches.
func (s *Session) Load(ctx context.Context) {
	s.orders.Load(ctx)
	s.health.Load(ctx)
	s.snapshots.Load(ctx)
	s.watchlist.Load(ctx, s.cfg.SeedWatchlist)
	s.auth.Load(ctx)
	sel := s.reconciler.Load(ctx, s.watchlist.Identities())
	s.updateCacheGauges()

	s.logger.Info("session loaded",
		zap.Int("watchlist", len(s.watchlist.Items())),
		zap.String("primary", sel.Primary.AcceptedKey),
		zap.String("compare", sel.Compare.AcceptedKey),
	)
}

func (s *Session) Bus() *Bus { return s.bus }

func (s *Session) Selection() Selection { return s.reconciler.Selection() }

// Select sets the raw input for a slot.
func (s *Session) Select(ctx context.Context, slot SlotName, raw, pair string) Slot {
	s.auth.Touch(ctx)
	return s.reconciler.SetInput(ctx, slot, raw, pair)
}

// Refresh re-fetches health for the selected identities.
func (s *Session) Refresh(ctx context.Context) error {
	sel := s.reconciler.Selection()
	return s.surface("refresh", s.orch.Refresh(ctx, sel.Primary, sel.Compare))
}

func (s *Session) AddWatch(ctx context.Context, item WatchItem) (WatchItem, error) {
	added, err := s.watchlist.Add(ctx, item)
	return added, s.surface("watchlist add", err)
}

func (s *Session) RemoveWatch(ctx context.Context, symbol string) error {
	return s.surface("watchlist remove", s.watchlist.Remove(ctx, symbol))
}

func (s *Session) Watchlist() []WatchItem { return s.watchlist.Items() }

// RefreshWatchlist is the periodic snapshot refresh. Failures are absorbed.
func (s *Session) RefreshWatchlist(ctx context.Context) {
	if err := s.orch.RefreshWatchlist(ctx); err != nil {
		s.logger.Debug("background watchlist refresh failed", zap.Error(err))
	}
}

// RefreshOrders fetches the grid orders. Failures are surfaced only when
// userInitiated.
func (s *Session) RefreshOrders(ctx context.Context, userInitiated bool) error {
	orders, err := s.api.GridOrders(ctx)
	s.metrics.ObserveFetch("grid_orders", "", err)
	if err != nil {
		if userInitiated {
			return s.surface("orders", err)
		}
		s.logger.Debug("background order poll failed", zap.Error(err))
		return err
	}
	s.applyOrders(ctx, orders)
	return nil
}

func (s *Session) HasActiveOrders() bool { return s.orders.HasActive() }

func (s *Session) GridStart(ctx context.Context, params backend.GridParams) error {
	if err := validateGridParams(params); err != nil {
		return s.surface("grid start", err)
	}
	params.Item = NormalizeSymbol(params.Item)
	return s.runGrid(ctx, "grid start", func() (*backend.GridResponse, error) {
		return s.api.GridStart(ctx, params)
	})
}

func (s *Session) GridTick(ctx context.Context) error {
	return s.runGrid(ctx, "grid tick", func() (*backend.GridResponse, error) {
		return s.api.GridTick(ctx)
	})
}

func (s *Session) GridStop(ctx context.Context) error {
	return s.runGrid(ctx, "grid stop", func() (*backend.GridResponse, error) {
		return s.api.GridStop(ctx)
	})
}

func (s *Session) GridAutorun(ctx context.Context, enabled bool) error {
	return s.runGrid(ctx, "grid autorun", func() (*backend.GridResponse, error) {
		return s.api.GridAutorun(ctx, enabled)
	})
}

// AddOrder validates the order locally before it reaches the backend.
func (s *Session) AddOrder(ctx context.Context, req backend.OrderRequest) error {
	req.Side = strings.ToUpper(strings.TrimSpace(req.Side))
	req.Item = NormalizeSymbol(req.Item)
	if err := validateOrderRequest(req); err != nil {
		return s.surface("order add", err)
	}
	return s.runGrid(ctx, "order add", func() (*backend.GridResponse, error) {
		return s.api.GridOrderAdd(ctx, req)
	})
}

func (s *Session) StopOrder(ctx context.Context, id backend.OrderID) error {
	if strings.TrimSpace(string(id)) == "" {
		return s.surface("order stop", apperr.Validation("order stop", "order id is empty"))
	}
	return s.runGrid(ctx, "order stop", func() (*backend.GridResponse, error) {
		return s.api.GridOrderStop(ctx, id)
	})
}

func (s *Session) HideOrder(ctx context.Context, id backend.OrderID) {
	s.orders.Hide(ctx, id)
}

func (s *Session) UnhideOrder(ctx context.Context, id backend.OrderID) {
	s.orders.Unhide(ctx, id)
}

// Ask sends question with the current view as context.
func (s *Session) Ask(ctx context.Context, question, mode string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", s.surface("ai", apperr.Validation("ai", "question is empty"))
	}
	view := s.View()
	view.Notices = nil
	answer, err := s.api.AI(ctx, backend.AIRequest{Question: question, Context: view, Mode: mode})
	s.metrics.ObserveFetch("ai", "", err)
	if err != nil {
		return "", s.surface("ai", err)
	}
	return answer, nil
}

func (s *Session) SignIn(ctx context.Context) error {
	return s.surface("sign in", s.auth.SignIn(ctx))
}

func (s *Session) SignOut(ctx context.Context) {
	s.auth.SignOut(ctx, "user")
}

func (s *Session) ConnectWallet(ctx context.Context) (wallet.Connection, error) {
	conn, err := s.auth.ConnectWallet(ctx)
	return conn, s.surface("wallet connect", err)
}

func (s *Session) DisconnectWallet(ctx context.Context) {
	s.auth.DisconnectWallet(ctx)
}

func (s *Session) Touch(ctx context.Context) { s.auth.Touch(ctx) }

func (s *Session) CheckIdle(ctx context.Context) bool { return s.auth.CheckIdle(ctx) }

func (s *Session) Notices() []notifier.Notice { return s.notices.List() }

func (s *Session) DismissNotice(id string) bool { return s.notices.Dismiss(id) }

// View builds the current view. Slot values appear only while the slot's
// accepted key matches the key they were fetched for.
func (s *Session) View() View {
	sel := s.reconciler.Selection()

	v := View{
		Primary:      s.slotView(SlotPrimary, sel.Primary),
		Compare:      s.slotView(SlotCompare, sel.Compare),
		Orders:       s.orders.Visible(),
		HiddenOrders: s.orders.Hidden(),
		ActiveOrders: s.orders.ActiveCount(),
		Auth:         s.auth.Status(),
		Notices:      s.notices.List(),
		GeneratedAt:  time.Now().UTC(),
	}
	for _, item := range s.watchlist.Items() {
		id := item.Identity()
		row := WatchRow{WatchItem: item, Health: s.health.Get(id, TierFast)}
		if rec := s.snapshots.Get(id); rec != nil {
			row.Snapshot = &rec.Snapshot
		}
		v.Watchlist = append(v.Watchlist, row)
	}
	return v
}

// Close abandons in-flight fetches.
func (s *Session) Close() {
	s.orch.Close()
}

func (s *Session) slotView(name SlotName, slot Slot) SlotView {
	view := SlotView{Slot: slot}
	if slot.AcceptedKey == "" {
		return view
	}
	s.mu.RLock()
	d := s.derived[name]
	s.mu.RUnlock()
	if d == nil || d.Key != slot.AcceptedKey {
		return view
	}
	view.Health = d.Health.clone()
	if d.Snapshot != nil {
		snap := d.Snapshot.clone().Snapshot
		view.Snapshot = &snap
	}
	return view
}

// onIdentityChanged resets the slot's derived values, reusing cached state
// when the new identity is a watchlist member. The caches are read under
// s.mu so a result landing for the new key is not lost.
func (s *Session) onIdentityChanged(ev Event) {
	d := &Derived{Key: ev.Next.Key()}
	s.mu.Lock()
	if ev.Known {
		d.Health = s.health.Get(ev.Next, TierFast)
		d.Snapshot = s.snapshots.Get(ev.Next)
	}
	s.derived[ev.Slot] = d
	s.mu.Unlock()

	s.evictUnused(ev.Prev)
}

// evictUnused drops cached state for an identity a slot moved away from
// when it is neither on the watchlist nor shown in either slot.
func (s *Session) evictUnused(prev Identity) {
	if prev.IsZero() {
		return
	}
	if item, ok := s.watchlist.Lookup(prev.ID); ok && item.Identity() == prev {
		return
	}
	sel := s.reconciler.Selection()
	if sel.Primary.AcceptedKey == prev.Key() || sel.Compare.AcceptedKey == prev.Key() {
		return
	}
	s.health.Evict(prev)
	s.snapshots.Evict(context.Background(), prev)
	s.updateCacheGauges()
	s.logger.Debug("evicted unused identity", zap.String("identity", prev.Key()))
}

// onHealth and onSnapshot copy the latest cached record, not the hook
// argument, into every slot showing id.
func (s *Session) onHealth(id Identity, _ *HealthRecord) {
	key := id.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.derived {
		if d.Key == key {
			d.Health = s.health.Get(id, TierFast)
		}
	}
}

func (s *Session) onSnapshot(id Identity, _ *SnapshotRecord) {
	key := id.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.derived {
		if d.Key == key {
			d.Snapshot = s.snapshots.Get(id)
		}
	}
}

func (s *Session) runGrid(ctx context.Context, op string, call func() (*backend.GridResponse, error)) error {
	s.auth.Touch(ctx)
	resp, err := call()
	s.metrics.ObserveFetch("grid", "", err)
	if err != nil {
		return s.surface(op, err)
	}
	if resp != nil && len(resp.Orders) > 0 {
		s.applyOrders(ctx, resp.Orders)
		return nil
	}
	return s.RefreshOrders(ctx, true)
}

func (s *Session) applyOrders(ctx context.Context, orders []backend.Order) {
	res := s.orders.Apply(ctx, orders)
	if s.notifier == nil {
		return
	}
	for _, tr := range res.Transitions {
		o := tr.Order
		s.notifier.SendOrderEvent(notifier.OrderEvent{
			OrderID:   string(o.ID),
			Item:      o.Item,
			Side:      o.Side,
			Price:     o.Price.String(),
			Size:      o.Size().String(),
			Status:    o.Status,
			Timestamp: time.Now().UTC(),
		})
	}
}

func (s *Session) surface(op string, err error) error {
	if err != nil {
		s.notices.Surface(op, err)
	}
	return err
}

func (s *Session) updateCacheGauges() {
	s.metrics.SetCacheEntries("health", s.health.Len())
	s.metrics.SetCacheEntries("snapshot", s.snapshots.Len())
}

func validateOrderRequest(req backend.OrderRequest) error {
	const op = "order add"
	if req.Item == "" {
		return apperr.Validation(op, "item is empty")
	}
	if req.Side != "BUY" && req.Side != "SELL" {
		return apperr.Validation(op, "side must be BUY or SELL, got %q", req.Side)
	}
	if !req.Price.IsPositive() {
		return apperr.Validation(op, "price must be positive")
	}
	if !req.Amount.IsPositive() {
		return apperr.Validation(op, "amount must be positive")
	}
	return nil
}

func validateGridParams(p backend.GridParams) error {
	const op = "grid start"
	if NormalizeSymbol(p.Item) == "" {
		return apperr.Validation(op, "item is empty")
	}
	if !p.Lower.IsPositive() || !p.Upper.GreaterThan(p.Lower) {
		return apperr.Validation(op, "range must satisfy 0 < lower < upper")
	}
	if p.Levels < 2 {
		return apperr.Validation(op, "need at least 2 levels, got %d", p.Levels)
	}
	if !p.Budget.IsPositive() {
		return apperr.Validation(op, "budget must be positive")
	}
	if p.Contract != "" {
		if err := wallet.ValidateContract("", p.Contract); err != nil {
			return err
		}
	}
	return nil
}
