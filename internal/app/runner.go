package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"gridwatch/config"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ensure Runner implements ConfigObserver
var _ config.ConfigObserver = (*Runner)(nil)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

// Runner drives the session's background work: the watchlist refresh, the
// order poll while orders are active, and the idle sign-out check.
type Runner struct {
	logger     *zap.Logger
	liveConfig *config.LiveConfig
	session    *Session
	metrics    *Metrics
	server     *http.Server
	startTime  time.Time

	watchKick chan struct{}
	orderKick chan struct{}
	idleKick  chan struct{}
}

func NewRunner(logger *zap.Logger, liveConfig *config.LiveConfig, session *Session, metrics *Metrics) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		logger:     logger.Named("runner"),
		liveConfig: liveConfig,
		session:    session,
		metrics:    metrics,
		watchKick:  make(chan struct{}, 1),
		orderKick:  make(chan struct{}, 1),
		idleKick:   make(chan struct{}, 1),
	}
}

// OnConfigUpdate restarts every loop so new intervals take effect.
func (r *Runner) OnConfigUpdate(cfg *config.Config) {
	r.logger.Info("config update received",
		zap.Duration("watchlistInterval", cfg.Refresh.WatchlistInterval),
		zap.Duration("orderPollInterval", cfg.Refresh.OrderPollInterval),
	)
	kick(r.watchKick)
	kick(r.orderKick)
	kick(r.idleKick)
}

func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	cfg := r.liveConfig.Get()
	r.liveConfig.AddObserver(r)

	r.session.Load(ctx)
	unsubWatch := r.session.Bus().Subscribe(EventWatchlistChanged, func(Event) { kick(r.watchKick) })
	unsubOrders := r.session.Bus().Subscribe(EventOrdersChanged, func(Event) { kick(r.orderKick) })
	defer unsubWatch()
	defer unsubOrders()

	if cfg.ViewServer.Enabled {
		r.startViewServer(ctx, cfg.ViewServer)
	}

	r.logger.Info("runner started",
		zap.String("commit", BuildCommit),
		zap.Int("watchlist", len(r.session.Watchlist())),
		zap.Bool("viewServer", cfg.ViewServer.Enabled),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { r.runWatchlistRefresher(gctx); return nil })
	g.Go(func() error { r.runOrderPoller(gctx); return nil })
	g.Go(func() error { r.runIdleChecker(gctx); return nil })
	g.Wait()

	r.logger.Info("shutting down")
	if r.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.server.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("view server shutdown failed", zap.Error(err))
		}
		cancel()
	}
	r.session.Close()
	return nil
}

// runWatchlistRefresher refreshes immediately, then every WatchlistInterval.
// A watchlist change restarts the interval.
func (r *Runner) runWatchlistRefresher(ctx context.Context) {
	for {
		r.session.RefreshWatchlist(ctx)
		if !r.wait(ctx, r.liveConfig.Get().Refresh.WatchlistInterval, r.watchKick) {
			return
		}
	}
}

// runOrderPoller polls once at start, then only while an order is active.
func (r *Runner) runOrderPoller(ctx context.Context) {
	for {
		r.session.RefreshOrders(ctx, false)
		drain(r.orderKick)

		interval := time.Duration(0)
		if r.session.HasActiveOrders() {
			interval = r.liveConfig.Get().Refresh.OrderPollInterval
		}
		if !r.wait(ctx, interval, r.orderKick) {
			return
		}
	}
}

func (r *Runner) runIdleChecker(ctx context.Context) {
	for {
		if !r.wait(ctx, r.liveConfig.Get().Refresh.IdleCheckInterval, r.idleKick) {
			return
		}
		if r.session.CheckIdle(ctx) {
			r.logger.Info("signed out after inactivity")
		}
	}
}

// wait blocks for d or until kicked. A zero d waits only for a kick. It
// reports false once ctx is done.
func (r *Runner) wait(ctx context.Context, d time.Duration, kicked <-chan struct{}) bool {
	var timeout <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-ctx.Done():
		return false
	case <-timeout:
	case <-kicked:
	}
	return true
}

func kick(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func drain(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}

func (r *Runner) startViewServer(ctx context.Context, cfg config.ViewServerConfig) {
	mux := http.NewServeMux()
	NewViewHandler(r.logger, r.session, r.metrics, cfg.PushInterval, r.GetStats).RegisterRoutes(mux)
	NewSettingsHandler(r.logger, r.liveConfig).RegisterRoutes(mux)

	r.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("view server error", zap.Error(err))
		}
	}()
}

// ServiceStats describes the running process.
type ServiceStats struct {
	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_sec"`

	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	Session struct {
		Watchlist    int  `json:"watchlist"`
		HealthCache  int  `json:"health_cache"`
		SnapshotSize int  `json:"snapshot_cache"`
		ActiveOrders int  `json:"active_orders"`
		Notices      int  `json:"notices"`
		SignedIn     bool `json:"signed_in"`
	} `json:"session"`

	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"`
		NumGC      uint32 `json:"num_gc"`
		NumCPU     int    `json:"num_cpu"`
	} `json:"runtime"`
}

func (r *Runner) GetStats() ServiceStats {
	var stats ServiceStats

	stats.Build.Commit = BuildCommit
	stats.Build.Time = BuildTime
	stats.Build.GoVersion = runtime.Version()

	stats.StartTime = r.startTime.UTC().Format(time.RFC3339)
	uptime := time.Since(r.startTime)
	stats.Uptime = uptime.Round(time.Second).String()
	stats.UptimeSec = int64(uptime.Seconds())

	s := r.session
	stats.Session.Watchlist = len(s.watchlist.Items())
	stats.Session.HealthCache = s.health.Len()
	stats.Session.SnapshotSize = s.snapshots.Len()
	stats.Session.ActiveOrders = s.orders.ActiveCount()
	stats.Session.Notices = s.notices.Len()
	stats.Session.SignedIn = s.auth.SignedIn()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	stats.Runtime.Goroutines = runtime.NumGoroutine()
	stats.Runtime.HeapAlloc = mem.HeapAlloc
	stats.Runtime.NumGC = mem.NumGC
	stats.Runtime.NumCPU = runtime.NumCPU()

	return stats
}
