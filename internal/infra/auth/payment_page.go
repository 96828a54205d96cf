package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"korean-tutor-billing/internal/domain/ports/adapter"
)

const paymentPageType = "payment_page"

var _ adapter.PaymentPageTokens = (*PaymentPageTokens)(nil)

// PaymentPageTokens signs the short-lived link to a hosted payment page. It
// uses its own secret so a leaked link never works as a session.
type PaymentPageTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewPaymentPageTokens(secret string, ttl time.Duration, now func() time.Time) *PaymentPageTokens {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &PaymentPageTokens{secret: []byte(secret), ttl: ttl, now: now}
}

type paymentPageClaims struct {
	Type    string `json:"typ"`
	OrderID string `json:"oid"`
	jwt.RegisteredClaims
}

func (p *PaymentPageTokens) Mint(userID, orderID string) (string, time.Time, error) {
	if userID == "" || orderID == "" {
		return "", time.Time{}, errors.New("user and order are required")
	}
	now := p.now()
	exp := now.Add(p.ttl)
	claims := paymentPageClaims{
		Type:    paymentPageType,
		OrderID: orderID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (p *PaymentPageTokens) Verify(token string) (*adapter.PaymentPageClaims, error) {
	claims := &paymentPageClaims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(p.now), jwt.WithExpirationRequired())
	if err != nil || !tkn.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != paymentPageType || claims.Subject == "" || claims.OrderID == "" {
		return nil, ErrInvalidToken
	}
	return &adapter.PaymentPageClaims{
		UserID:    claims.Subject,
		OrderID:   claims.OrderID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
