package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/domain/model"
	"korean-tutor-billing/internal/domain/ports/repository"
	"korean-tutor-billing/internal/infra/metrics"
	red "korean-tutor-billing/internal/infra/redis"
)

var _ repository.UserRepository = (*userRepoCacheDecorator)(nil)

type userRepoCacheDecorator struct {
	inner repository.UserRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewUserRepoCacheDecorator(inner repository.UserRepository, cache red.RedisClient, logger *zerolog.Logger) repository.UserRepository {
	return &userRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   5 * time.Minute,
		log:   logger,
	}
}

func userKey(id string) string { return fmt.Sprintf("user:id:%s", id) }

// Writes invalidate before delegating.
func (d *userRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	_ = d.cache.Del(ctx, userKey(u.ID))
	return d.inner.Save(ctx, tx, u)
}

func (d *userRepoCacheDecorator) UpdateEntitlement(ctx context.Context, tx repository.Tx, userID string, tier model.Tier, status model.SubscriptionStatus, planID string) error {
	_ = d.cache.Del(ctx, userKey(userID))
	return d.inner.UpdateEntitlement(ctx, tx, userID, tier, status, planID)
}

// FindByID serves autocommit reads from the cache. Reads inside a
// transaction go to the database so row locks are taken.
func (d *userRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if tx != nil {
		metrics.IncCacheRequest("user", "bypass")
		return d.inner.FindByID(ctx, tx, id)
	}

	key := userKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var user model.User
		if json.Unmarshal([]byte(val), &user) == nil {
			metrics.IncCacheRequest("user", "hit")
			return &user, nil
		}
	} else if err != redis.Nil && d.log != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("user cache read failed")
	}

	metrics.IncCacheRequest("user", "miss")
	user, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if user != nil {
		bytes, _ := json.Marshal(user)
		_ = d.cache.Set(ctx, key, bytes, d.ttl)
	}
	return user, nil
}
