package adapter

import (
	"context"
	"time"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// Locker is a cross-process mutex with a lease.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// RateLimiter counts hits per key inside a fixed window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// PaymentPageClaims is what a payment link token proves.
type PaymentPageClaims struct {
	UserID    string
	OrderID   string
	ExpiresAt time.Time
}

// PaymentPageTokens mints and verifies the short-lived payment link token.
type PaymentPageTokens interface {
	Mint(userID, orderID string) (token string, expiresAt time.Time, err error)
	Verify(token string) (*PaymentPageClaims, error)
}
