package config

import (
	"fmt"
	"strings"
)

// APIConfig contains all API server configuration.
type APIConfig struct {
	Server APIServerConfig `yaml:"server" mapstructure:"server"`
	Auth   APIAuthConfig   `yaml:"auth" mapstructure:"auth"`
}

// APIServerConfig contains HTTP server settings.
type APIServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIAuthConfig protects the write endpoints (node uploads, compile) with
// bearer tokens. TokenHashes holds bcrypt hashes of the accepted tokens.
type APIAuthConfig struct {
	Enabled     bool     `yaml:"enabled" mapstructure:"enabled"`
	TokenHashes []string `yaml:"token_hashes,omitempty" mapstructure:"token_hashes"`
}

// ValidateAPI checks the API-specific configuration.
func (c *Config) ValidateAPI() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.API.Server.Listen == "" {
		return fmt.Errorf("api.server.listen is required")
	}

	if c.API.Server.RateLimit.Enabled && c.API.Server.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("api.server.rate_limit.requests_per_minute must be positive")
	}

	if c.API.Auth.Enabled {
		if len(c.API.Auth.TokenHashes) == 0 {
			return fmt.Errorf("api.auth.token_hashes must not be empty when auth is enabled")
		}

		for i, h := range c.API.Auth.TokenHashes {
			if !strings.HasPrefix(h, "$2") {
				return fmt.Errorf("api.auth.token_hashes[%d] is not a bcrypt hash", i)
			}
		}
	}

	return nil
}
