package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/domain/ports/adapter"
	"korean-tutor-billing/internal/infra/metrics"
)

var _ adapter.OrderStatusSource = (*OrderStatusCache)(nil)

// OrderStatusCache fronts gateway order lookups so overlapping sweeps on
// several instances do not hammer the gateway for the same order.
type OrderStatusCache struct {
	inner adapter.OrderStatusSource
	cache RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewOrderStatusCache(inner adapter.OrderStatusSource, cache RedisClient, ttl time.Duration, logger *zerolog.Logger) *OrderStatusCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	l := logger.With().Str("component", "OrderStatusCache").Logger()
	return &OrderStatusCache{inner: inner, cache: cache, ttl: ttl, log: &l}
}

func orderStatusKey(orderID string) string { return "gateway:order:" + orderID }

func (c *OrderStatusCache) GetOrder(ctx context.Context, orderID string) (*adapter.GatewayOrder, error) {
	key := orderStatusKey(orderID)
	val, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		var o adapter.GatewayOrder
		if json.Unmarshal([]byte(val), &o) == nil {
			metrics.IncCacheRequest("gateway_order", "hit")
			return &o, nil
		}
	case err != redis.Nil:
		c.log.Warn().Err(err).Str("key", key).Msg("order status cache read failed")
	}

	metrics.IncCacheRequest("gateway_order", "miss")
	o, err := c.inner.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(o); err == nil {
		if err := c.cache.Set(ctx, key, b, c.ttl); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("order status cache write failed")
		}
	}
	return o, nil
}
