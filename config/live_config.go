package config

import (
	"sync"
	"time"
)

// ConfigObserver is notified after every accepted config update.
type ConfigObserver interface {
	OnConfigUpdate(cfg *Config)
}

// LiveConfig is a thread-safe wrapper around Config that supports reloading
// the timing settings while the process runs.
type LiveConfig struct {
	mu          sync.RWMutex
	config      *Config
	lastUpdated time.Time

	obsMu     sync.RWMutex
	observers []ConfigObserver
}

func NewLiveConfig(initial *Config) *LiveConfig {
	if initial == nil {
		initial = Defaults()
	}
	return &LiveConfig{
		config:      initial.Clone(),
		lastUpdated: time.Now(),
	}
}

// Get returns a copy of the current config.
func (lc *LiveConfig) Get() *Config {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.config.Clone()
}

// Update validates next and swaps it in. Observers are called outside the
// lock, each with its own copy.
func (lc *LiveConfig) Update(next *Config) error {
	if next == nil {
		return nil
	}
	if err := next.Validate().Err(); err != nil {
		return err
	}

	cloned := next.Clone()
	lc.mu.Lock()
	lc.config = cloned
	lc.lastUpdated = time.Now()
	lc.mu.Unlock()

	lc.obsMu.RLock()
	observers := append([]ConfigObserver(nil), lc.observers...)
	lc.obsMu.RUnlock()
	for _, obs := range observers {
		obs.OnConfigUpdate(cloned.Clone())
	}
	return nil
}

func (lc *LiveConfig) AddObserver(obs ConfigObserver) {
	if obs == nil {
		return
	}
	lc.obsMu.Lock()
	defer lc.obsMu.Unlock()
	lc.observers = append(lc.observers, obs)
}

func (lc *LiveConfig) LastUpdated() time.Time {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.lastUpdated
}
