package config

import (
	"fmt"
	"net/url"
	"time"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ConfigValidationError is returned when config validation fails.
type ConfigValidationError struct {
	Errors []ValidationError
}

func (e *ConfigValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "config validation failed"
	}
	return "config validation failed: " + e.Errors[0].Field + ": " + e.Errors[0].Message
}

// Err returns nil when the result is valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &ConfigValidationError{Errors: r.Errors}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validateBackend(&c.Backend)...)
	errors = append(errors, validateRefresh(&c.Refresh)...)
	errors = append(errors, validateCache(&c.Cache)...)
	errors = append(errors, validateStore(&c.Store)...)
	errors = append(errors, validateAuth(&c.Auth)...)
	errors = append(errors, validateViewServer(&c.ViewServer)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateBackend(b *BackendConfig) []ValidationError {
	var errors []ValidationError

	u, err := url.Parse(b.BaseURL)
	if b.BaseURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "backend.base_url",
			Message: "must be an absolute http(s) URL",
		})
	}

	timeouts := map[string]time.Duration{
		"backend.health_timeout":   b.HealthTimeout,
		"backend.snapshot_timeout": b.SnapshotTimeout,
		"backend.grid_timeout":     b.GridTimeout,
		"backend.ai_timeout":       b.AITimeout,
		"backend.auth_timeout":     b.AuthTimeout,
	}
	for _, field := range []string{
		"backend.health_timeout",
		"backend.snapshot_timeout",
		"backend.grid_timeout",
		"backend.ai_timeout",
		"backend.auth_timeout",
	} {
		if timeouts[field] < 1*time.Second {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: "must be at least 1 second",
			})
		}
	}

	return errors
}

func validateRefresh(r *RefreshConfig) []ValidationError {
	var errors []ValidationError

	if r.FullDelay < 0 || r.FullDelay > 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "refresh.full_delay",
			Message: "must be between 0 and 1 second",
		})
	}

	if r.WatchlistInterval < 5*time.Second {
		errors = append(errors, ValidationError{
			Field:   "refresh.watchlist_interval",
			Message: "must be at least 5 seconds",
		})
	}

	if r.OrderPollInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "refresh.order_poll_interval",
			Message: "must be at least 1 second",
		})
	}

	if r.ManualMinGap < 0 {
		errors = append(errors, ValidationError{
			Field:   "refresh.manual_min_gap",
			Message: "must be non-negative",
		})
	}

	if r.IdleCheckInterval < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "refresh.idle_check_interval",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validateCache(c *CacheConfig) []ValidationError {
	var errors []ValidationError

	if c.HealthMaxAge < 1*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "cache.health_max_age",
			Message: "must be at least 1 minute",
		})
	}

	if c.MaxReasons < 1 {
		errors = append(errors, ValidationError{
			Field:   "cache.max_reasons",
			Message: "must be at least 1",
		})
	}

	return errors
}

func validateStore(s *StoreConfig) []ValidationError {
	var errors []ValidationError

	switch s.Backend {
	case "file":
		if s.Dir == "" {
			errors = append(errors, ValidationError{
				Field:   "store.dir",
				Message: "is required for the file backend",
			})
		}
	case "sqlite":
		if s.SQLitePath == "" {
			errors = append(errors, ValidationError{
				Field:   "store.sqlite_path",
				Message: "is required for the sqlite backend",
			})
		}
	case "redis":
		if s.RedisAddr == "" {
			errors = append(errors, ValidationError{
				Field:   "store.redis_addr",
				Message: "is required for the redis backend",
			})
		}
	case "memory":
	default:
		errors = append(errors, ValidationError{
			Field:   "store.backend",
			Message: fmt.Sprintf("must be one of file, sqlite, redis, memory, got %q", s.Backend),
		})
	}

	return errors
}

func validateAuth(a *AuthConfig) []ValidationError {
	var errors []ValidationError

	if a.IdleTimeout < 1*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "auth.idle_timeout",
			Message: "must be at least 1 minute",
		})
	}

	return errors
}

func validateViewServer(vs *ViewServerConfig) []ValidationError {
	var errors []ValidationError

	if vs.Port < 1 || vs.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "view_server.port",
			Message: fmt.Sprintf("must be between 1 and 65535, got %d", vs.Port),
		})
	}

	if vs.PushInterval < 100*time.Millisecond {
		errors = append(errors, ValidationError{
			Field:   "view_server.push_interval",
			Message: "must be at least 100 milliseconds",
		})
	}

	return errors
}
