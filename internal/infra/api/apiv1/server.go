package apiv1

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/domain/model"
	"korean-tutor-billing/internal/domain/ports/adapter"
	"korean-tutor-billing/internal/pricing"
	"korean-tutor-billing/internal/usecase"
)

// Deps bundles what the REST surface talks to.
type Deps struct {
	Orders        usecase.OrderUseCase
	Activation    usecase.ActivationUseCase
	Recovery      usecase.RecoveryUseCase
	Subscriptions usecase.SubscriptionUseCase
	Users         usecase.UserUseCase
	Sessions      SessionParser
	PageTokens    adapter.PaymentPageTokens
	AdminKey      string
	// SweepBatch caps recover-pending when the caller gives no batch.
	SweepBatch     int
	RequestTimeout time.Duration
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// Ready backs /healthz; nil always reports ok.
	Ready func(ctx context.Context) error
}

type Server struct {
	orders     usecase.OrderUseCase
	activation usecase.ActivationUseCase
	recovery   usecase.RecoveryUseCase
	subs       usecase.SubscriptionUseCase
	users      usecase.UserUseCase
	sessions   SessionParser
	pageTokens adapter.PaymentPageTokens
	adminKey   string
	sweepBatch int
	timeout    time.Duration
	metrics    http.Handler
	ready      func(ctx context.Context) error
	log        *zerolog.Logger
}

func NewServer(d Deps, logger *zerolog.Logger) *Server {
	if d.SweepBatch <= 0 {
		d.SweepBatch = 100
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}
	l := logger.With().Str("component", "HTTPServer").Logger()
	return &Server{
		orders:     d.Orders,
		activation: d.Activation,
		recovery:   d.Recovery,
		subs:       d.Subscriptions,
		users:      d.Users,
		sessions:   d.Sessions,
		pageTokens: d.PageTokens,
		adminKey:   d.AdminKey,
		sweepBatch: d.SweepBatch,
		timeout:    d.RequestTimeout,
		metrics:    d.Metrics,
		ready:      d.Ready,
		log:        &l,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	r.Get("/healthz", s.healthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Timeout(s.timeout))

		r.Get("/plans", s.listPlans)
		r.Get("/subscriptions/payment-page/{orderId}", s.paymentPage)
		r.Post("/subscriptions/payment-page/{orderId}/verify", s.paymentPageVerify)

		r.Group(func(r chi.Router) {
			r.Use(RequireAdminKey(s.adminKey, s.log))
			r.Post("/subscriptions/recover-pending", s.recoverPending)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireUser(s.sessions, s.log))

			r.Post("/users/register", s.registerUser)
			r.Get("/users/me", s.me)

			r.Get("/subscriptions/current", s.currentSubscription)
			r.Get("/subscriptions/history", s.subscriptionHistory)
			r.Get("/subscriptions/upgrade-preview/{planId}", s.upgradePreview)
			r.Post("/subscriptions/create-order", s.createOrder)
			r.Post("/subscriptions/verify-payment", s.verifyPayment)
			r.Get("/subscriptions/verify-payment/{orderId}", s.recoverOrder)
			r.Post("/subscriptions/cancel", s.cancel)
			r.Post("/subscriptions/reactivate", s.reactivate)
			r.Post("/subscriptions/schedule-downgrade", s.scheduleDowngrade)
		})
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.log.Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// locale reads the CDN and language headers; ?country= overrides them.
func locale(r *http.Request) model.LocaleSignal {
	sig := pricing.DetectLocale(r.Header)
	if c := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("country"))); len(c) == 2 {
		sig.Country = c
	}
	return sig
}
