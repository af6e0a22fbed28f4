package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/tradewell/connector/internal/cache/redis"
	"github.com/tradewell/connector/internal/config"
	"github.com/tradewell/connector/internal/domain"
	"github.com/tradewell/connector/internal/platform/paper"
	"github.com/tradewell/connector/internal/reconcile"
	"github.com/tradewell/connector/internal/service"
	"github.com/tradewell/connector/internal/store/postgres"
)

// Dependencies bundles everything the operating modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Connector *service.Connector

	Adapter domain.MessageAdapter
	Client  domain.ExchangeClient
	Auth    domain.Authenticator

	OrderStore domain.OrderStore
	BookCache  domain.BookCache
	SignalBus  domain.SignalBus
}

// Wire constructs concrete dependency implementations from the configuration
// and returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.OrderStore = postgres.NewOrderStore(pgClient.Pool())
	}

	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.BookCache = redis.NewBookCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	switch cfg.Mode {
	case "paper":
		deps.Adapter = paper.NewAdapter()
		deps.Client = paper.NewExchange(paperRules(cfg.Connector.TradingPairs), paperFees())
		deps.Auth = paper.Auth{}
	case "live":
		// Live venues plug in their own adapter, client, and authenticator;
		// none ships in this build.
		cleanup()
		return nil, nil, fmt.Errorf("wire: no live venue integration configured")
	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unsupported mode %q", cfg.Mode)
	}

	deps.Connector = service.New(connectorConfig(cfg), service.Deps{
		Adapter: deps.Adapter,
		Client:  deps.Client,
		Auth:    deps.Auth,
		Store:   deps.OrderStore,
		Cache:   deps.BookCache,
		Bus:     deps.SignalBus,
		Logger:  logger,
	})

	return deps, cleanup, nil
}

func connectorConfig(cfg *config.Config) service.Config {
	cc := cfg.Connector
	return service.Config{
		Name:              cc.Name,
		TradingPairs:      cc.TradingPairs,
		UniquePriceLevels: cc.UniquePriceLevels,

		RequestTimeout:      cc.RequestTimeout.Duration,
		CancelAllTimeout:    cc.CancelAllTimeout.Duration,
		RuleRefreshInterval: cc.RuleRefreshInterval.Duration,
		ReconcileTick:       cc.ReconcileTick.Duration,

		Reconcile: reconcile.LoopConfig{
			ShortPollInterval: cc.ShortPollInterval.Duration,
			LongPollInterval:  cc.LongPollInterval.Duration,
			StreamSilence:     cc.StreamSilence.Duration,
			NotFoundLimit:     cc.NotFoundLimit,
			UnresolvedTimeout: cc.UnresolvedTimeout.Duration,
			RequestTimeout:    cc.RequestTimeout.Duration,
		},

		EventBuffer:     cc.EventBuffer,
		MarketQueueSize: cc.MarketQueueSize,
		StreamQueueSize: cc.StreamQueueSize,
	}
}

// paperRules builds permissive trading rules for the simulated venue.
func paperRules(pairs []string) []domain.TradingRule {
	rules := make([]domain.TradingRule, 0, len(pairs))
	for _, pair := range pairs {
		rules = append(rules, domain.TradingRule{
			TradingPair:         pair,
			MinOrderSize:        decimal.RequireFromString("0.0001"),
			PriceIncrement:      decimal.RequireFromString("0.01"),
			BaseAmountIncrement: decimal.RequireFromString("0.0001"),
			MinNotional:         decimal.NewFromInt(1),
		})
	}
	return rules
}

func paperFees() domain.FeeSchedule {
	return domain.FeeSchedule{
		MakerRate: decimal.RequireFromString("0.001"),
		TakerRate: decimal.RequireFromString("0.002"),
	}
}
