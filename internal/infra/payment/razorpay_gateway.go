package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/config"
	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/domain/ports/adapter"
	"korean-tutor-billing/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*RazorpayGateway)(nil)

// RazorpayGateway talks to the Razorpay orders API with basic auth.
type RazorpayGateway struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
	log       *zerolog.Logger
}

func NewRazorpayGateway(cfg config.GatewayConfig, logger *zerolog.Logger) *RazorpayGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.razorpay.com"
	}
	l := logger.With().Str("component", "RazorpayGateway").Logger()
	return &RazorpayGateway{
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		baseURL:   base,
		client:    &http.Client{Timeout: timeout},
		log:       &l,
	}
}

func (g *RazorpayGateway) KeyID() string { return g.keyID }

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type razorpayPayment struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Amount  int64  `json:"amount"`
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (g *RazorpayGateway) CreateOrder(ctx context.Context, req adapter.CreateOrderRequest) (*adapter.GatewayOrder, error) {
	body := map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}
	var out razorpayOrder
	if err := g.do(ctx, "create_order", http.MethodPost, "/v1/orders", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &domain.GatewayError{Op: "create_order", Code: "EMPTY_ORDER_ID"}
	}
	return toGatewayOrder(out), nil
}

func (g *RazorpayGateway) GetOrder(ctx context.Context, orderID string) (*adapter.GatewayOrder, error) {
	var out razorpayOrder
	if err := g.do(ctx, "get_order", http.MethodGet, "/v1/orders/"+url.PathEscape(orderID), nil, &out); err != nil {
		return nil, err
	}
	return toGatewayOrder(out), nil
}

func (g *RazorpayGateway) GetOrderPayments(ctx context.Context, orderID string) ([]adapter.GatewayPayment, error) {
	var out struct {
		Items []razorpayPayment `json:"items"`
	}
	if err := g.do(ctx, "get_order_payments", http.MethodGet, "/v1/orders/"+url.PathEscape(orderID)+"/payments", nil, &out); err != nil {
		return nil, err
	}
	payments := make([]adapter.GatewayPayment, 0, len(out.Items))
	for _, p := range out.Items {
		payments = append(payments, adapter.GatewayPayment{ID: p.ID, OrderID: p.OrderID, Status: p.Status, Amount: p.Amount})
	}
	return payments, nil
}

// VerifyPayment checks hex(HMAC-SHA256(secret, orderID|paymentID)) in constant time.
func (g *RazorpayGateway) VerifyPayment(ctx context.Context, paymentID, orderID, signature string) error {
	if paymentID == "" || orderID == "" || signature == "" {
		return domain.ErrSignatureMismatch
	}
	expected := Sign(g.keySecret, orderID, paymentID)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return domain.ErrSignatureMismatch
	}
	return nil
}

// Sign produces the checkout signature for an order/payment pair.
func Sign(secret, orderID, paymentID string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(h.Sum(nil))
}

func (g *RazorpayGateway) do(ctx context.Context, op, method, path string, in, out interface{}) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveGatewayRequest(op, err == nil, time.Since(start)) }()

	var reader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &domain.GatewayError{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return &domain.GatewayError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.SetBasicAuth(g.keyID, g.keySecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return &domain.GatewayError{Op: op, Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &domain.GatewayError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e razorpayError
		_ = json.Unmarshal(body, &e)
		g.log.Warn().Str("op", op).Int("status", resp.StatusCode).Str("code", e.Error.Code).
			Str("description", e.Error.Description).Msg("gateway request failed")
		return &domain.GatewayError{Op: op, Status: resp.StatusCode, Code: e.Error.Code}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.GatewayError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	return nil
}

func toGatewayOrder(o razorpayOrder) *adapter.GatewayOrder {
	status := adapter.GatewayOrderStatus(strings.ToLower(o.Status))
	switch status {
	case adapter.GatewayOrderCreated, adapter.GatewayOrderAttempted, adapter.GatewayOrderPaid, adapter.GatewayOrderFailed:
	default:
		status = adapter.GatewayOrderCreated
	}
	return &adapter.GatewayOrder{ID: o.ID, Status: status, Amount: o.Amount, Currency: o.Currency, Receipt: o.Receipt}
}
