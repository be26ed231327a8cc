package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	clts "gridwatch/clients"
	"gridwatch/config"
	"gridwatch/internal/app"
	"gridwatch/internal/kvstore"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// openTimeout bounds connecting to the storage backend.
const openTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	logger := newLogger()
	defer logger.Sync()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}
	logger.Info("starting gridwatch",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("store", cfg.Store.Backend),
	)
	liveConfig := config.NewLiveConfig(cfg)

	openCtx, openCancel := context.WithTimeout(context.Background(), openTimeout)
	storeBackend, err := kvstore.Open(openCtx, logger, cfg.Store)
	openCancel()
	if err != nil {
		logger.Warn("storage unavailable, state will not survive a restart", zap.Error(err))
		storeBackend = kvstore.NewMemoryBackend()
	}
	store := kvstore.New(logger, storeBackend)
	defer store.Close()

	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, cfg)
	defer clients.Close()

	metrics := app.NewMetrics()
	session := app.NewSession(logger, cfg, store, clients.Backend, clients.Wallet, clients.Notifier, metrics)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	go reloadOnHangup(ctx, logger, liveConfig)

	runner := app.NewRunner(logger, liveConfig, session, metrics)
	if err := runner.Run(ctx); err != nil {
		logger.Error("runner failed", zap.Error(err))
	}
}

// newLogger builds a production logger, or a development one when LOG_DEV
// is true. LOG_LEVEL overrides the level.
func newLogger() *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if strings.EqualFold(os.Getenv("LOG_DEV"), "true") {
		zcfg = zap.NewDevelopmentConfig()
	}
	if lvl := strings.TrimSpace(os.Getenv("LOG_LEVEL")); lvl != "" {
		if parsed, err := zapcore.ParseLevel(lvl); err == nil {
			zcfg.Level = zap.NewAtomicLevelAt(parsed)
		}
	}
	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

// loadConfig reads the environment, overlays CONFIG_FILE when set and
// validates the result.
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fileCfg, err := config.LoadFile(path, cfg)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	if err := cfg.Validate().Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// reloadOnHangup re-reads the config on SIGHUP and applies it.
func reloadOnHangup(ctx context.Context, logger *zap.Logger, liveConfig *config.LiveConfig) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := loadConfig()
			if err == nil {
				err = liveConfig.Update(cfg)
			}
			if err != nil {
				logger.Warn("config reload failed", zap.Error(err))
				continue
			}
			logger.Info("config reloaded")
		}
	}
}
