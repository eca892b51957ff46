package truenas

import (
	"fmt"
	"os"
	"time"
)

// Config holds the configuration for a TrueNAS client.
type Config struct {
	// Address is the host (and optional port) of the TrueNAS system.
	// The WebSocket endpoint is derived as wss://<Address>/api/current.
	// An Address carrying an explicit ws:// or wss:// scheme is used
	// verbatim. Fallback: TRUENAS_ADDRESS environment variable.
	Address string

	// APIKey authenticates the session after every successful connect.
	// Fallback: TRUENAS_API_KEY environment variable.
	APIKey string

	// MaxRetries caps consecutive failed connection attempts.
	// 0 retries forever.
	MaxRetries int

	// InitialRetryDelay is the delay before the first reconnection
	// attempt. Defaults to 1s.
	InitialRetryDelay time.Duration

	// MaxRetryDelay caps the delay between reconnection attempts.
	// Defaults to 60s.
	MaxRetryDelay time.Duration

	// BackoffFactor multiplies the retry delay after each failure.
	// Defaults to 2.
	BackoffFactor float64
}

// resolveConfig fills empty fields from environment variables, applies
// backoff defaults, and validates required fields.
func resolveConfig(cfg Config) (Config, error) {
	if cfg.Address == "" {
		cfg.Address = os.Getenv("TRUENAS_ADDRESS")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("TRUENAS_API_KEY")
	}

	if cfg.Address == "" {
		return cfg, fmt.Errorf("Address is required (set in Config or TRUENAS_ADDRESS env)")
	}
	if cfg.APIKey == "" {
		return cfg, fmt.Errorf("APIKey is required (set in Config or TRUENAS_API_KEY env)")
	}
	if cfg.MaxRetries < 0 {
		return cfg, fmt.Errorf("MaxRetries must not be negative")
	}

	if cfg.InitialRetryDelay <= 0 {
		cfg.InitialRetryDelay = time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 60 * time.Second
	}
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = 2
	}

	return cfg, nil
}
