package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each instrument's quote is stored at "{prefix}:quote:{symbol}" with fields
// price, name, source, change_24h, market_cap, volume_24h and ts (Unix
// nanoseconds). Keys expire after ttl so a stopped engine does not leave
// stale quotes behind.
type PriceCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A zero ttl
// disables expiry.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), prefix: c.prefix, ttl: ttl}
}

func (pc *PriceCache) key(symbol string) string {
	return joinKey(pc.prefix, "quote", symbol)
}

// SetQuote stores the latest quote for an instrument.
func (pc *PriceCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := pc.key(q.Symbol)
	fields := map[string]interface{}{
		"price":      q.Price.String(),
		"name":       q.Name,
		"source":     q.Source,
		"change_24h": strconv.FormatFloat(q.Change24h, 'f', -1, 64),
		"market_cap": strconv.FormatFloat(q.MarketCap, 'f', -1, 64),
		"volume_24h": strconv.FormatFloat(q.Volume24h, 'f', -1, 64),
		"ts":         strconv.FormatInt(q.UpdatedAt.UnixNano(), 10),
	}

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Symbol, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for an instrument.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	vals, err := pc.rdb.HGetAll(ctx, pc.key(symbol)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	q, err := decodeQuote(symbol, vals)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	return q, nil
}

// GetQuotes retrieves the latest quotes for multiple instruments using a
// pipeline. Missing or unreadable entries are omitted from the result.
func (pc *PriceCache) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	if len(symbols) == 0 {
		return map[string]domain.Quote{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, s := range symbols {
		cmds[s] = pipe.HGetAll(ctx, pc.key(s))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[string]domain.Quote, len(symbols))
	for s, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		q, err := decodeQuote(s, vals)
		if err != nil {
			continue
		}
		result[s] = q
	}
	return result, nil
}

func decodeQuote(symbol string, vals map[string]string) (domain.Quote, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse price: %w", err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse ts: %w", err)
	}

	q := domain.Quote{
		Symbol:    symbol,
		Name:      vals["name"],
		Price:     price,
		Source:    vals["source"],
		UpdatedAt: time.Unix(0, tsNano).UTC(),
	}
	q.Change24h, _ = strconv.ParseFloat(vals["change_24h"], 64)
	q.MarketCap, _ = strconv.ParseFloat(vals["market_cap"], 64)
	q.Volume24h, _ = strconv.ParseFloat(vals["volume_24h"], 64)
	return q, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
