package vault

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the configuration for the vault application.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR"`
	// RepoBackend selects the record store: "pg" for runtime; "mem" is gated
	// behind ALLOW_MEM_BACKEND_FOR_TESTS.
	RepoBackend     string `env:"REPO_BACKEND"`
	DBDSN           string `env:"DB_DSN"`
	AllowMemBackend bool   `env:"ALLOW_MEM_BACKEND_FOR_TESTS"`
	// JWTKey is the HMAC secret used to verify caller bearer tokens.
	JWTKey string `env:"JWT_KEY"`
	// CacheTTL bounds view-cache entry lifetime; 0 keeps entries until invalidated.
	CacheTTL time.Duration `env:"CACHE_TTL"`
	// ExpiryTZ is an IANA timezone name for expiration computations (e.g. "Australia/Sydney").
	ExpiryTZ string `env:"EXPIRY_TZ"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:    "localhost:9090",
		RepoBackend: "pg",
	}
}

// LoadConfig layers environment variables over the defaults.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}
