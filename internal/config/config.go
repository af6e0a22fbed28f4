// Package config defines the top-level configuration for the connector and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CONNECTOR_* environment variables.
type Config struct {
	Connector ConnectorConfig `toml:"connector"`
	Feed      FeedConfig      `toml:"feed"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ConnectorConfig holds per-venue trading and reconciliation parameters.
type ConnectorConfig struct {
	Name              string   `toml:"name"`
	TradingPairs      []string `toml:"trading_pairs"`
	UniquePriceLevels bool     `toml:"unique_price_levels"`

	RequestTimeout      duration `toml:"request_timeout"`
	CancelAllTimeout    duration `toml:"cancel_all_timeout"`
	RuleRefreshInterval duration `toml:"rule_refresh_interval"`

	ReconcileTick     duration `toml:"reconcile_tick"`
	ShortPollInterval duration `toml:"short_poll_interval"`
	LongPollInterval  duration `toml:"long_poll_interval"`
	StreamSilence     duration `toml:"stream_silence"`
	NotFoundLimit     int      `toml:"not_found_limit"`
	UnresolvedTimeout duration `toml:"unresolved_timeout"`

	EventBuffer     int `toml:"event_buffer"`
	MarketQueueSize int `toml:"market_queue_size"`
	StreamQueueSize int `toml:"stream_queue_size"`
}

// FeedConfig holds websocket endpoints for the market and user streams.
type FeedConfig struct {
	MarketWsURL    string   `toml:"market_ws_url"`
	UserWsURL      string   `toml:"user_ws_url"`
	MarketChannels []string `toml:"market_channels"`
	UserChannels   []string `toml:"user_channels"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// Poll intervals follow the usual exchange connector cadence: fast polling
// while the user stream is silent, slow polling while it is healthy.
func Defaults() Config {
	return Config{
		Connector: ConnectorConfig{
			Name:              "paper",
			TradingPairs:      []string{"BTC-USDT"},
			UniquePriceLevels: false,

			RequestTimeout:      duration{10 * time.Second},
			CancelAllTimeout:    duration{20 * time.Second},
			RuleRefreshInterval: duration{time.Hour},

			ReconcileTick:     duration{time.Second},
			ShortPollInterval: duration{5 * time.Second},
			LongPollInterval:  duration{120 * time.Second},
			StreamSilence:     duration{30 * time.Second},
			NotFoundLimit:     3,
			UnresolvedTimeout: duration{time.Minute},

			EventBuffer:     256,
			MarketQueueSize: 1024,
			StreamQueueSize: 256,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "connector",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper": true,
	"live":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, live)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	cc := c.Connector
	if cc.Name == "" {
		errs = append(errs, "connector: name must not be empty")
	}
	if len(cc.TradingPairs) == 0 {
		errs = append(errs, "connector: trading_pairs must not be empty")
	}
	for _, pair := range cc.TradingPairs {
		if !strings.Contains(pair, "-") {
			errs = append(errs, fmt.Sprintf("connector: trading pair %q must be BASE-QUOTE", pair))
		}
	}
	if cc.RequestTimeout.Duration <= 0 {
		errs = append(errs, "connector: request_timeout must be > 0")
	}
	if cc.CancelAllTimeout.Duration <= 0 {
		errs = append(errs, "connector: cancel_all_timeout must be > 0")
	}
	if cc.ShortPollInterval.Duration <= 0 {
		errs = append(errs, "connector: short_poll_interval must be > 0")
	}
	if cc.LongPollInterval.Duration < cc.ShortPollInterval.Duration {
		errs = append(errs, "connector: long_poll_interval must be >= short_poll_interval")
	}
	if cc.StreamSilence.Duration <= 0 {
		errs = append(errs, "connector: stream_silence must be > 0")
	}
	if cc.NotFoundLimit < 1 {
		errs = append(errs, "connector: not_found_limit must be >= 1")
	}

	if strings.ToLower(c.Mode) == "live" {
		if c.Feed.MarketWsURL == "" {
			errs = append(errs, "feed: market_ws_url is required for live mode")
		}
		if c.Feed.UserWsURL == "" {
			errs = append(errs, "feed: user_ws_url is required for live mode")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
