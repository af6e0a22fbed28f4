package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradewell/connector/internal/domain"
)

// topTTL bounds how long a mirrored top-of-book survives without a refresh,
// so readers never act on a book whose feed has died.
const topTTL = 30 * time.Second

// BookCache implements domain.BookCache with one JSON value per trading
// pair. The in-process book stays authoritative; this mirror exists only for
// out-of-process readers.
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func topKey(tradingPair string) string { return "book:top:" + tradingPair }

// SetTop overwrites the mirrored top of book for a pair.
func (bc *BookCache) SetTop(ctx context.Context, top domain.TopOfBook) error {
	payload, err := json.Marshal(top)
	if err != nil {
		return fmt.Errorf("redis: marshal top %s: %w", top.TradingPair, err)
	}
	if err := bc.rdb.Set(ctx, topKey(top.TradingPair), payload, topTTL).Err(); err != nil {
		return fmt.Errorf("redis: set top %s: %w", top.TradingPair, err)
	}
	return nil
}

// GetTop reads the mirrored top of book for a pair. It returns
// domain.ErrNotFound when no entry exists or the entry has expired.
func (bc *BookCache) GetTop(ctx context.Context, tradingPair string) (domain.TopOfBook, error) {
	payload, err := bc.rdb.Get(ctx, topKey(tradingPair)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.TopOfBook{}, domain.ErrNotFound
		}
		return domain.TopOfBook{}, fmt.Errorf("redis: get top %s: %w", tradingPair, err)
	}

	var top domain.TopOfBook
	if err := json.Unmarshal(payload, &top); err != nil {
		return domain.TopOfBook{}, fmt.Errorf("redis: decode top %s: %w", tradingPair, err)
	}
	return top, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
