package config

import (
	"fmt"
	"strings"
)

// ValidateConfig rejects configurations the node cannot start with.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config must not be nil")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("listen address must be set")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("data dir must be set")
	}
	if _, err := cfg.GenesisSpec([20]byte{}); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if cfg.RPC.RateLimitPerMinute < 0 {
		return fmt.Errorf("rpc: rate limit must not be negative")
	}
	if cfg.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("rpc: rate limit burst must not be negative")
	}
	if cfg.RPC.RateLimitPerMinute > 0 && cfg.RPC.RateLimitBurst == 0 {
		return fmt.Errorf("rpc: rate limit burst must be positive when rate limiting is enabled")
	}
	if strings.TrimSpace(cfg.RPC.JWTSecretEnv) == "" {
		return fmt.Errorf("rpc: jwt secret env must be set")
	}
	return nil
}
