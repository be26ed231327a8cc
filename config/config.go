package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod" yaml:"is_prod"`

	// External backend
	Backend BackendConfig `json:"backend" yaml:"backend"`

	// Background refresh timing
	Refresh RefreshConfig `json:"refresh" yaml:"refresh"`

	// Identity-keyed caches
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Durable local storage
	Store StoreConfig `json:"store" yaml:"store"`

	// Sign-in session
	Auth AuthConfig `json:"auth" yaml:"auth"`

	// Transient notices
	Notices NoticesConfig `json:"notices" yaml:"notices"`

	// Discord
	Discord DiscordConfig `json:"discord" yaml:"discord"`

	// View server
	ViewServer ViewServerConfig `json:"view_server" yaml:"view_server"`

	// Symbols seeded into an empty watchlist on first start
	SeedWatchlist []string `json:"seed_watchlist" yaml:"seed_watchlist"`
}

// BackendConfig holds the external backend base URL and per-endpoint timeouts.
type BackendConfig struct {
	BaseURL         string        `json:"base_url" yaml:"base_url"`
	HealthTimeout   time.Duration `json:"health_timeout" yaml:"health_timeout"`
	SnapshotTimeout time.Duration `json:"snapshot_timeout" yaml:"snapshot_timeout"`
	GridTimeout     time.Duration `json:"grid_timeout" yaml:"grid_timeout"`
	AITimeout       time.Duration `json:"ai_timeout" yaml:"ai_timeout"`
	AuthTimeout     time.Duration `json:"auth_timeout" yaml:"auth_timeout"`
}

// RefreshConfig holds fetch scheduling configuration.
type RefreshConfig struct {
	FullDelay         time.Duration `json:"full_delay" yaml:"full_delay"`                   // Delay between the fast and the full health fetch
	WatchlistInterval time.Duration `json:"watchlist_interval" yaml:"watchlist_interval"`   // Periodic watchlist snapshot refresh
	OrderPollInterval time.Duration `json:"order_poll_interval" yaml:"order_poll_interval"` // Order polling while any order is active
	ManualMinGap      time.Duration `json:"manual_min_gap" yaml:"manual_min_gap"`           // Minimum gap between manual refreshes
	IdleCheckInterval time.Duration `json:"idle_check_interval" yaml:"idle_check_interval"`
}

// CacheConfig holds cache retention configuration.
type CacheConfig struct {
	HealthMaxAge time.Duration `json:"health_max_age" yaml:"health_max_age"` // Max age of a persisted full health record
	MaxReasons   int           `json:"max_reasons" yaml:"max_reasons"`
}

// StoreConfig selects and configures the durable storage backend.
type StoreConfig struct {
	Backend       string `json:"backend" yaml:"backend"` // file, sqlite, redis or memory
	Dir           string `json:"dir" yaml:"dir"`
	SQLitePath    string `json:"sqlite_path" yaml:"sqlite_path"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"-" yaml:"-"` // Excluded - env var only
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
	KeyPrefix     string `json:"key_prefix" yaml:"key_prefix"`
}

// AuthConfig holds sign-in configuration.
type AuthConfig struct {
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	WalletKey   string        `json:"-" yaml:"-"` // Excluded - env var only
}

// NoticesConfig holds notice configuration.
type NoticesConfig struct {
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-" yaml:"-"` // Excluded - env var only
	ProdChannelID string `json:"prod_channel_id" yaml:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id" yaml:"beta_channel_id"`
}

// ViewServerConfig holds view server configuration.
type ViewServerConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Port         int           `json:"port" yaml:"port"`
	PushInterval time.Duration `json:"push_interval" yaml:"push_interval"`
}

// Clone creates a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.SeedWatchlist != nil {
		clone.SeedWatchlist = make([]string, len(c.SeedWatchlist))
		copy(clone.SeedWatchlist, c.SeedWatchlist)
	}
	return &clone
}

// ToJSON serializes the config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		IsProd: false,
		Backend: BackendConfig{
			BaseURL:         "http://localhost:8787",
			HealthTimeout:   20 * time.Second,
			SnapshotTimeout: 15 * time.Second,
			GridTimeout:     15 * time.Second,
			AITimeout:       25 * time.Second,
			AuthTimeout:     15 * time.Second,
		},
		Refresh: RefreshConfig{
			FullDelay:         50 * time.Millisecond,
			WatchlistInterval: 120 * time.Second,
			OrderPollInterval: 15 * time.Second,
			ManualMinGap:      1 * time.Second,
			IdleCheckInterval: 30 * time.Second,
		},
		Cache: CacheConfig{
			HealthMaxAge: 6 * time.Hour,
			MaxReasons:   12,
		},
		Store: StoreConfig{
			Backend:    "file",
			Dir:        ".gridwatch",
			SQLitePath: "gridwatch.db",
			RedisAddr:  "localhost:6379",
			KeyPrefix:  "gridwatch:",
		},
		Auth: AuthConfig{
			IdleTimeout: 30 * time.Minute,
		},
		Notices: NoticesConfig{
			TTL: 10 * time.Second,
		},
		ViewServer: ViewServerConfig{
			Enabled:      true,
			Port:         8080,
			PushInterval: 1 * time.Second,
		},
	}
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	d := Defaults()
	return &Config{
		IsProd: envBool("STAGE", "PROD"),

		Backend: BackendConfig{
			BaseURL:         strings.TrimRight(envString("BACKEND_URL", d.Backend.BaseURL), "/"),
			HealthTimeout:   envDuration("BACKEND_HEALTH_TIMEOUT", d.Backend.HealthTimeout),
			SnapshotTimeout: envDuration("BACKEND_SNAPSHOT_TIMEOUT", d.Backend.SnapshotTimeout),
			GridTimeout:     envDuration("BACKEND_GRID_TIMEOUT", d.Backend.GridTimeout),
			AITimeout:       envDuration("BACKEND_AI_TIMEOUT", d.Backend.AITimeout),
			AuthTimeout:     envDuration("BACKEND_AUTH_TIMEOUT", d.Backend.AuthTimeout),
		},

		Refresh: RefreshConfig{
			FullDelay:         envDuration("REFRESH_FULL_DELAY", d.Refresh.FullDelay),
			WatchlistInterval: envDuration("REFRESH_WATCHLIST_INTERVAL", d.Refresh.WatchlistInterval),
			OrderPollInterval: envDuration("REFRESH_ORDER_POLL_INTERVAL", d.Refresh.OrderPollInterval),
			ManualMinGap:      envDuration("REFRESH_MANUAL_MIN_GAP", d.Refresh.ManualMinGap),
			IdleCheckInterval: envDuration("REFRESH_IDLE_CHECK_INTERVAL", d.Refresh.IdleCheckInterval),
		},

		Cache: CacheConfig{
			HealthMaxAge: envDuration("CACHE_HEALTH_MAX_AGE", d.Cache.HealthMaxAge),
			MaxReasons:   envInt("CACHE_MAX_REASONS", d.Cache.MaxReasons),
		},

		Store: StoreConfig{
			Backend:       strings.ToLower(envString("STORE_BACKEND", d.Store.Backend)),
			Dir:           envString("STORE_DIR", d.Store.Dir),
			SQLitePath:    envString("STORE_SQLITE_PATH", d.Store.SQLitePath),
			RedisAddr:     envString("STORE_REDIS_ADDR", d.Store.RedisAddr),
			RedisPassword: envString("STORE_REDIS_PASSWORD", ""),
			RedisDB:       envInt("STORE_REDIS_DB", 0),
			KeyPrefix:     envString("STORE_KEY_PREFIX", d.Store.KeyPrefix),
		},

		Auth: AuthConfig{
			IdleTimeout: envDuration("AUTH_IDLE_TIMEOUT", d.Auth.IdleTimeout),
			WalletKey:   envString("WALLET_PRIVATE_KEY", ""),
		},

		Notices: NoticesConfig{
			TTL: envDuration("NOTICE_TTL", d.Notices.TTL),
		},

		Discord: DiscordConfig{
			BotToken:      envString("DISCORD_BOT_TOKEN", ""),
			ProdChannelID: envString("DISCORD_PROD_CHANNEL_ID", ""),
			BetaChannelID: envString("DISCORD_BETA_CHANNEL_ID", ""),
		},

		ViewServer: ViewServerConfig{
			Enabled:      envBoolDefault("VIEW_SERVER_ENABLED", d.ViewServer.Enabled),
			Port:         envInt("VIEW_SERVER_PORT", d.ViewServer.Port),
			PushInterval: envDuration("VIEW_SERVER_PUSH_INTERVAL", d.ViewServer.PushInterval),
		},

		SeedWatchlist: normalizeSymbols(envStringSlice("SEED_WATCHLIST")),
	}
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}

func envStringSlice(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func normalizeSymbols(symbols []string) []string {
	if symbols == nil {
		return nil
	}
	result := make([]string, len(symbols))
	for i, s := range symbols {
		result[i] = strings.ToUpper(s)
	}
	return result
}
