//go:build !integration

package redis_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/domain/ports/adapter"
	red "korean-tutor-billing/internal/infra/redis"
)

// fakeRedis keeps values in a map and ignores expirations.
type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]string
	counts  map[string]int64
	expires map[string]time.Duration
	GetErr  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

var _ red.RedisClient = (*fakeRedis)(nil)

func (f *fakeRedis) Ping(ctx context.Context) error { return nil }
func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, exp time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	f.expires[key] = exp
	return nil
}
func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetErr != nil {
		return "", f.GetErr
	}
	v, ok := f.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}
func (f *fakeRedis) Incr(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key], nil
}
func (f *fakeRedis) Expire(ctx context.Context, key string, exp time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires[key] = exp
	return nil
}
func (f *fakeRedis) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.values, k)
	}
	return nil
}
func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, exp time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value.(string)
	return true, nil
}

// Eval understands only the compare-and-delete unlock script.
func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[keys[0]] == args[0].(string) {
		delete(f.values, keys[0])
		return int64(1), nil
	}
	return int64(0), nil
}
func (f *fakeRedis) Close() error { return nil }

type countingSource struct {
	calls int
	order *adapter.GatewayOrder
	err   error
}

func (s *countingSource) GetOrder(ctx context.Context, orderID string) (*adapter.GatewayOrder, error) {
	s.calls++
	return s.order, s.err
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("second holder is refused with ErrLocked", func(t *testing.T) {
		// --- Arrange ---
		locker := red.NewLocker(newFakeRedis())

		// --- Act ---
		token, err := locker.TryLock(ctx, "lock:recovery:sweep", time.Minute)
		_, err2 := locker.TryLock(ctx, "lock:recovery:sweep", time.Minute)

		// --- Assert ---
		if err != nil || token == "" {
			t.Fatalf("first lock failed: %v", err)
		}
		if !errors.Is(err2, domain.ErrLocked) {
			t.Errorf("expected ErrLocked, got %v", err2)
		}
	})

	t.Run("only the token holder unlocks", func(t *testing.T) {
		// --- Arrange ---
		cli := newFakeRedis()
		locker := red.NewLocker(cli)
		token, _ := locker.TryLock(ctx, "lock:recovery:txn:1", time.Minute)

		// --- Act ---
		_ = locker.Unlock(ctx, "lock:recovery:txn:1", "someone-else")
		_, stillHeld := locker.TryLock(ctx, "lock:recovery:txn:1", time.Minute)
		_ = locker.Unlock(ctx, "lock:recovery:txn:1", token)
		_, err := locker.TryLock(ctx, "lock:recovery:txn:1", time.Minute)

		// --- Assert ---
		if !errors.Is(stillHeld, domain.ErrLocked) {
			t.Errorf("foreign unlock must not release, got %v", stillHeld)
		}
		if err != nil {
			t.Errorf("lock should be free after owner unlock, got %v", err)
		}
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		// --- Arrange ---
		locker := red.NewLocker(newFakeRedis())
		_, _ = locker.TryLock(ctx, "k", time.Minute)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		// --- Act ---
		_, err := locker.TryLock(cctx, "k", time.Minute)

		// --- Assert ---
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	cli := newFakeRedis()
	limiter := red.NewRateLimiter(cli)
	key := "rate_limit:create_order:user-1"

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("hit %d should pass: ok=%v err=%v", i+1, ok, err)
		}
	}
	ok, err := limiter.Allow(ctx, key, 3, time.Minute)
	if err != nil || ok {
		t.Errorf("fourth hit should be limited: ok=%v err=%v", ok, err)
	}
	if cli.expires[key] != time.Minute {
		t.Errorf("window not set on first hit: %v", cli.expires[key])
	}
}

func TestOrderStatusCache(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.New(io.Discard)

	t.Run("second read is served from cache", func(t *testing.T) {
		// --- Arrange ---
		src := &countingSource{order: &adapter.GatewayOrder{ID: "order_1", Status: adapter.GatewayOrderPaid, Amount: 14900, Currency: "INR"}}
		cache := red.NewOrderStatusCache(src, newFakeRedis(), 30*time.Second, &logger)

		// --- Act ---
		first, err1 := cache.GetOrder(ctx, "order_1")
		second, err2 := cache.GetOrder(ctx, "order_1")

		// --- Assert ---
		if err1 != nil || err2 != nil {
			t.Fatalf("unexpected errors: %v %v", err1, err2)
		}
		if src.calls != 1 {
			t.Errorf("expected one gateway call, got %d", src.calls)
		}
		if *first != *second || second.Status != adapter.GatewayOrderPaid {
			t.Errorf("cached order differs: %+v vs %+v", first, second)
		}
	})

	t.Run("redis failure falls through to the gateway", func(t *testing.T) {
		// --- Arrange ---
		cli := newFakeRedis()
		cli.GetErr = errors.New("connection refused")
		src := &countingSource{order: &adapter.GatewayOrder{ID: "order_2", Status: adapter.GatewayOrderCreated}}
		cache := red.NewOrderStatusCache(src, cli, 0, &logger)

		// --- Act ---
		got, err := cache.GetOrder(ctx, "order_2")

		// --- Assert ---
		if err != nil || got.ID != "order_2" {
			t.Fatalf("expected passthrough, got %v %v", got, err)
		}
	})

	t.Run("gateway errors are not cached", func(t *testing.T) {
		// --- Arrange ---
		src := &countingSource{err: domain.ErrGateway}
		cache := red.NewOrderStatusCache(src, newFakeRedis(), time.Minute, &logger)

		// --- Act ---
		_, err1 := cache.GetOrder(ctx, "order_3")
		_, err2 := cache.GetOrder(ctx, "order_3")

		// --- Assert ---
		if !errors.Is(err1, domain.ErrGateway) || !errors.Is(err2, domain.ErrGateway) || src.calls != 2 {
			t.Errorf("errors must reach the caller uncached: %v %v calls=%d", err1, err2, src.calls)
		}
	})
}
