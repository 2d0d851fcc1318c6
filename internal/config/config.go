// Package config loads the service configuration from the environment and the round
// parameters from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the process configuration. Every field is read from a PRIZEPOOL_* variable.
type Config struct {
	HTTP       HTTPConfig
	Logging    LoggingConfig
	Database   DatabaseConfig
	Params     ParamsConfig
	Keeper     KeeperConfig
	Randomness RandomnessConfig
}

type HTTPConfig struct {
	Addr            string        `env:"PRIZEPOOL_HTTP_ADDR,default=:8080"`
	RateLimit       float64       `env:"PRIZEPOOL_RATE_LIMIT,default=20"` // requests per second per client, 0 disables
	RateBurst       int           `env:"PRIZEPOOL_RATE_BURST,default=40"`
	ShutdownTimeout time.Duration `env:"PRIZEPOOL_SHUTDOWN_TIMEOUT,default=10s"`
	VaultEndpoints  bool          `env:"PRIZEPOOL_VAULT_ENDPOINTS,default=true"`
}

type LoggingConfig struct {
	Level  string `env:"PRIZEPOOL_LOG_LEVEL,default=info"`
	Format string `env:"PRIZEPOOL_LOG_FORMAT,default=text"`
}

// DatabaseConfig selects the postgres store when DSN is set, memory otherwise.
type DatabaseConfig struct {
	DSN string `env:"PRIZEPOOL_DATABASE_URL"`
}

type ParamsConfig struct {
	File  string `env:"PRIZEPOOL_PARAMS_FILE,default=config/params.yaml"`
	Admin string `env:"PRIZEPOOL_ADMIN"` // overrides the file's admin
}

type KeeperConfig struct {
	Enabled  bool          `env:"PRIZEPOOL_KEEPER_ENABLED,default=true"`
	Schedule string        `env:"PRIZEPOOL_KEEPER_SCHEDULE,default=@every 1m"`
	Executor string        `env:"PRIZEPOOL_KEEPER_EXECUTOR"`
	Timeout  time.Duration `env:"PRIZEPOOL_KEEPER_TIMEOUT,default=30s"`
}

// RandomnessConfig picks the remote source when URL is set and the local phase source
// otherwise.
type RandomnessConfig struct {
	URL      string `env:"PRIZEPOOL_RANDOMNESS_URL"`
	APIKey   string `env:"PRIZEPOOL_RANDOMNESS_KEY"`
	Interval uint64 `env:"PRIZEPOOL_SEED_INTERVAL,default=10"`
	Secret   string `env:"PRIZEPOOL_RANDOMNESS_SECRET"` // hex, random when empty
}

// Load reads the optional .env files and decodes the environment. Files that do not
// exist are skipped.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields that cannot be checked by their type.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return fmt.Errorf("%w: PRIZEPOOL_HTTP_ADDR is empty", ErrInvalidConfig)
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("%w: PRIZEPOOL_RATE_LIMIT must not be negative", ErrInvalidConfig)
	}
	if c.Randomness.Interval == 0 {
		return fmt.Errorf("%w: PRIZEPOOL_SEED_INTERVAL must be positive", ErrInvalidConfig)
	}
	for _, addr := range []struct{ name, raw string }{
		{"PRIZEPOOL_ADMIN", c.Params.Admin},
		{"PRIZEPOOL_KEEPER_EXECUTOR", c.Keeper.Executor},
	} {
		if addr.raw != "" && !common.IsHexAddress(addr.raw) {
			return fmt.Errorf("%w: %s %q is not an address", ErrInvalidConfig, addr.name, addr.raw)
		}
	}
	if c.Keeper.Enabled && c.Keeper.Executor == "" {
		return fmt.Errorf("%w: PRIZEPOOL_KEEPER_EXECUTOR is required when the keeper is enabled", ErrInvalidConfig)
	}
	return nil
}
