package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CONNECTOR_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	// A missing file is not an error; defaults plus env overrides are a
	// complete configuration for paper mode.
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, err
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CONNECTOR_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Connector.Name, "CONNECTOR_NAME")
	setStringSlice(&cfg.Connector.TradingPairs, "CONNECTOR_TRADING_PAIRS")
	setBool(&cfg.Connector.UniquePriceLevels, "CONNECTOR_UNIQUE_PRICE_LEVELS")
	setDuration(&cfg.Connector.RequestTimeout, "CONNECTOR_REQUEST_TIMEOUT")
	setDuration(&cfg.Connector.CancelAllTimeout, "CONNECTOR_CANCEL_ALL_TIMEOUT")
	setDuration(&cfg.Connector.RuleRefreshInterval, "CONNECTOR_RULE_REFRESH_INTERVAL")
	setDuration(&cfg.Connector.ReconcileTick, "CONNECTOR_RECONCILE_TICK")
	setDuration(&cfg.Connector.ShortPollInterval, "CONNECTOR_SHORT_POLL_INTERVAL")
	setDuration(&cfg.Connector.LongPollInterval, "CONNECTOR_LONG_POLL_INTERVAL")
	setDuration(&cfg.Connector.StreamSilence, "CONNECTOR_STREAM_SILENCE")
	setInt(&cfg.Connector.NotFoundLimit, "CONNECTOR_NOT_FOUND_LIMIT")
	setDuration(&cfg.Connector.UnresolvedTimeout, "CONNECTOR_UNRESOLVED_TIMEOUT")
	setInt(&cfg.Connector.EventBuffer, "CONNECTOR_EVENT_BUFFER")

	setStr(&cfg.Feed.MarketWsURL, "CONNECTOR_FEED_MARKET_WS_URL")
	setStr(&cfg.Feed.UserWsURL, "CONNECTOR_FEED_USER_WS_URL")
	setStringSlice(&cfg.Feed.MarketChannels, "CONNECTOR_FEED_MARKET_CHANNELS")
	setStringSlice(&cfg.Feed.UserChannels, "CONNECTOR_FEED_USER_CHANNELS")

	setBool(&cfg.Postgres.Enabled, "CONNECTOR_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "CONNECTOR_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CONNECTOR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CONNECTOR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CONNECTOR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CONNECTOR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CONNECTOR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CONNECTOR_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CONNECTOR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CONNECTOR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CONNECTOR_POSTGRES_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "CONNECTOR_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CONNECTOR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CONNECTOR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CONNECTOR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CONNECTOR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CONNECTOR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CONNECTOR_REDIS_TLS_ENABLED")

	setStr(&cfg.Mode, "CONNECTOR_MODE")
	setStr(&cfg.LogLevel, "CONNECTOR_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
