package main

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"vitibrasil/pkg/vitis"
)

const envPrefix = "VITIBRASIL_"

// storeDrivers are the accepted STORE_DRIVER values.
var storeDrivers = []string{"memory", "sqlite", "sqlite3", "mysql", "pgx", "postgres", "redis"}

// Config is the command configuration, read from VITIBRASIL_* variables.
type Config struct {
	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	StoreDSN    string `env:"STORE_DSN" envDefault:"vitibrasil.db"`
	TablePrefix string `env:"STORE_TABLE_PREFIX" envDefault:"vitis"`

	PortalURL     string        `env:"PORTAL_URL"`
	UserAgent     string        `env:"USER_AGENT"`
	HTTPTimeout   time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	FetchTimeout  time.Duration `env:"FETCH_TIMEOUT"`
	RetryAttempts int           `env:"FETCH_RETRY_ATTEMPTS" envDefault:"3"`
	RetryDelay    time.Duration `env:"FETCH_RETRY_DELAY" envDefault:"1s"`
	RetryMaxDelay time.Duration `env:"FETCH_RETRY_MAX_DELAY" envDefault:"10s"`
	StaleAfter    time.Duration `env:"STALE_AFTER" envDefault:"30m"`
	SingleFlight  bool          `env:"SINGLE_FLIGHT" envDefault:"true"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	HTTPAddr         string `env:"HTTP_ADDR" envDefault:":8080"`
	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"vitibrasil"`

	// River needs Postgres even when the store lives elsewhere.
	DatabaseURL     string        `env:"DATABASE_URL"`
	RiverMigrate    bool          `env:"RIVER_MIGRATE" envDefault:"true"`
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL" envDefault:"30m"`
	RefreshWorkers  int           `env:"REFRESH_WORKERS" envDefault:"2"`
	RefreshOnStart  bool          `env:"REFRESH_ON_START" envDefault:"false"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// loadConfig parses the environment. A nil environ means the process
// environment.
func loadConfig(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix, Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if !slices.Contains(storeDrivers, c.StoreDriver) {
		return fmt.Errorf("%sSTORE_DRIVER %q: want one of %s", envPrefix, c.StoreDriver, strings.Join(storeDrivers, ", "))
	}
	if c.StoreDriver != "memory" && c.StoreDSN == "" {
		return fmt.Errorf("%sSTORE_DSN is required for driver %s", envPrefix, c.StoreDriver)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("%sFETCH_RETRY_ATTEMPTS must be at least 1", envPrefix)
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("%sSTALE_AFTER must be positive", envPrefix)
	}
	if _, err := c.slogLevel(); err != nil {
		return err
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("%sLOG_FORMAT %q: want json or text", envPrefix, c.LogFormat)
	}
	return nil
}

func (c Config) slogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%sLOG_LEVEL: %w", envPrefix, err)
	}
	return level, nil
}

func (c Config) fetcherConfig() vitis.FetcherConfig {
	return vitis.FetcherConfig{
		BaseURL:   c.PortalURL,
		Timeout:   c.HTTPTimeout,
		UserAgent: c.UserAgent,
	}
}

func (c Config) extractorOptions() []vitis.Option {
	return []vitis.Option{
		vitis.WithStaleAfter(c.StaleAfter),
		vitis.WithFetchTimeout(c.FetchTimeout),
		vitis.WithSingleFlight(c.SingleFlight),
		vitis.WithRetry(vitis.RetryConfig{
			MaxAttempts: c.RetryAttempts,
			Backoff: vitis.ExponentialBackoff{
				InitialDelay: c.RetryDelay,
				MaxDelay:     c.RetryMaxDelay,
				Factor:       2,
			},
		}),
	}
}
