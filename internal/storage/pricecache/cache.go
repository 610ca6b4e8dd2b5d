package pricecache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"go.uber.org/zap"
)

const queueSize = 256

// Cache mirrors the latest AssetPriceState of every asset into a Redis hash and
// publishes each change on a channel, so other processes can read prices without
// hitting the feeds.
type Cache struct {
	rdb       *redis.Client
	ttl       time.Duration
	keyLatest string
	channel   string
	logger    *zap.Logger

	queue   chan domain.AssetPriceState
	dropped atomic.Int64
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "papertrade"
	}
	return &Cache{
		rdb:       rdb,
		ttl:       ttl,
		keyLatest: prefix + ":prices:latest",
		channel:   prefix + ":prices:pub",
		logger:    logger,
		queue:     make(chan domain.AssetPriceState, queueSize),
	}
}

// Channel is the pub/sub channel carrying every stored state as JSON.
func (c *Cache) Channel() string { return c.channel }

// Put stores st and publishes it.
func (c *Cache) Put(ctx context.Context, st domain.AssetPriceState) error {
	if st.Symbol == "" {
		return errors.New("price state without symbol")
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "marshal price state")
	}

	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, c.keyLatest, st.Symbol, payload)
	if c.ttl > 0 {
		pipe.Expire(ctx, c.keyLatest, c.ttl)
	}
	pipe.Publish(ctx, c.channel, payload)

	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "store price state")
}

// Latest returns every cached state keyed by symbol.
func (c *Cache) Latest(ctx context.Context) (map[string]domain.AssetPriceState, error) {
	raw, err := c.rdb.HGetAll(ctx, c.keyLatest).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read cached prices")
	}

	out := make(map[string]domain.AssetPriceState, len(raw))
	for symbol, payload := range raw {
		var st domain.AssetPriceState
		if err := json.Unmarshal([]byte(payload), &st); err != nil {
			c.logger.Warn("skipping malformed cached price", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		out[symbol] = st
	}
	return out, nil
}

// Observe queues st for Run without blocking. It has the signature of a state store
// listener. States arriving while the queue is full are dropped.
func (c *Cache) Observe(st domain.AssetPriceState) {
	if st.IsUpdating {
		return
	}
	select {
	case c.queue <- st:
	default:
		c.dropped.Add(1)
	}
}

// Dropped counts states lost to a full queue.
func (c *Cache) Dropped() int64 { return c.dropped.Load() }

// Run writes queued states until ctx is done. Write failures are logged and skipped.
func (c *Cache) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-c.queue:
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := c.Put(wctx, st); err != nil {
				c.logger.Warn("price cache write failed", zap.String("symbol", st.Symbol), zap.Error(err))
			}
			cancel()
		}
	}
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}
