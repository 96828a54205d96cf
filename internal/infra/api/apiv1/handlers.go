package apiv1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/domain/model"
	"korean-tutor-billing/internal/infra/logging"
	"korean-tutor-billing/internal/infra/metrics"
	"korean-tutor-billing/internal/usecase"
)

type createOrderRequest struct {
	PlanID string `json:"planId" validate:"required,max=64"`
}

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"gatewayOrderId" validate:"required,max=64"`
	GatewayPaymentID string `json:"gatewayPaymentId" validate:"required,max=64"`
	Signature        string `json:"signature" validate:"required,hexadecimal,max=128"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=200"`
}

type scheduleDowngradeRequest struct {
	PlanID string `json:"planId" validate:"required,max=64"`
}

type registerUserRequest struct {
	Name  string `json:"name" validate:"max=120"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,e164"`
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.orders.Plans(r.Context(), locale(r))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	items := make([]Plan, 0, len(plans))
	for _, p := range plans {
		items = append(items, planView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) upgradePreview(w http.ResponseWriter, r *http.Request) {
	p, err := s.orders.UpgradePreview(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "planId"), locale(r))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, upgradePreviewView(p))
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	res, err := s.orders.CreateOrder(r.Context(), usecase.CreateOrderInput{
		UserID:    userIDFrom(r.Context()),
		PlanID:    req.PlanID,
		Locale:    locale(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	upgrade := res.Quote != nil && res.Quote.IsUpgrade
	metrics.IncOrderCreated(res.Order.Currency, upgrade)
	if res.Activation != nil {
		recordActivation(res.Activation.Transaction, !res.Activation.AlreadyActive)
	}
	writeJSON(w, http.StatusCreated, createOrderView(res))
}

func (s *Server) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	s.verify(w, r, userIDFrom(r.Context()), req)
}

// verify runs the checkout callback for userID, from the session route or
// the payment page.
func (s *Server) verify(w http.ResponseWriter, r *http.Request, userID string, req verifyPaymentRequest) {
	res, err := s.activation.VerifyPayment(r.Context(), usecase.VerifyPaymentInput{
		UserID:           userID,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSignatureMismatch):
			metrics.IncPayment("signature_mismatch")
		case errors.Is(err, domain.ErrGateway):
			metrics.IncPayment("gateway_error")
		}
		writeError(w, r, s.log, err)
		return
	}
	recordActivation(res.Transaction, !res.AlreadyActive)
	metrics.IncPayment("verified")
	writeJSON(w, http.StatusOK, ActivationResponse{
		Subscription:  subscriptionView(res.Subscription),
		Transaction:   transactionView(res.Transaction),
		AlreadyActive: res.AlreadyActive,
	})
}

func recordActivation(t *model.PaymentTransaction, fresh bool) {
	if t == nil {
		return
	}
	metrics.IncActivation(string(t.Type), fresh)
	if fresh {
		metrics.AddPaymentRevenue(t.Currency, t.Amount)
	}
}

// recoverOrder re-checks one of the caller's orders against the gateway.
func (s *Server) recoverOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	ctx := logging.WithOrderID(r.Context(), orderID)
	res, err := s.recovery.RecoverOrder(ctx, userIDFrom(ctx), orderID)
	if err != nil {
		writeError(w, r.WithContext(ctx), s.log, err)
		return
	}
	if res.Outcome == usecase.OutcomeRecovered {
		recordActivation(res.Transaction, true)
	}
	writeJSON(w, http.StatusOK, RecoveryResponse{
		Outcome:      res.Outcome,
		Transaction:  transactionView(res.Transaction),
		Subscription: subscriptionView(res.Subscription),
	})
}

// recoverPending triggers one sweep. An overlapping sweep answers 409.
func (s *Server) recoverPending(w http.ResponseWriter, r *http.Request) {
	batch := s.sweepBatch
	if v := r.URL.Query().Get("batch"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, r, s.log, domain.ErrInvalidArgument)
			return
		}
		batch = n
	}
	res, err := s.recovery.Sweep(r.Context(), batch)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	if res.Errors == nil {
		res.Errors = []usecase.SweepError{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) currentSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subs.Current(r.Context(), userIDFrom(r.Context()))
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"subscription": nil})
		return
	}
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscription": subscriptionView(sub)})
}

func (s *Server) subscriptionHistory(w http.ResponseWriter, r *http.Request) {
	subs, err := s.subs.History(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	items := make([]*Subscription, 0, len(subs))
	for _, sub := range subs {
		items = append(items, subscriptionView(sub))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, r, s.log, err)
			return
		}
	}
	sub, err := s.subs.Cancel(r.Context(), userIDFrom(r.Context()), req.Reason)
	s.writeSubscription(w, r, sub, err)
}

func (s *Server) reactivate(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subs.Reactivate(r.Context(), userIDFrom(r.Context()))
	s.writeSubscription(w, r, sub, err)
}

func (s *Server) scheduleDowngrade(w http.ResponseWriter, r *http.Request) {
	var req scheduleDowngradeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	sub, err := s.subs.ScheduleDowngrade(r.Context(), userIDFrom(r.Context()), req.PlanID)
	s.writeSubscription(w, r, sub, err)
}

func (s *Server) writeSubscription(w http.ResponseWriter, r *http.Request, sub *model.Subscription, err error) {
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscription": subscriptionView(sub)})
}

// registerUser creates the profile for the session subject or refreshes its
// contact details.
func (s *Server) registerUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	userID := userIDFrom(r.Context())
	_, err := s.users.Get(r.Context(), userID)
	isNew := errors.Is(err, domain.ErrNotFound)
	if err != nil && !isNew {
		writeError(w, r, s.log, err)
		return
	}
	u, err := s.users.RegisterOrFetch(r.Context(), usecase.RegisterUserInput{
		ID: userID, Name: req.Name, Email: req.Email, Phone: req.Phone,
	})
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	status := http.StatusOK
	if isNew {
		metrics.IncUsersRegistered()
		status = http.StatusCreated
	}
	writeJSON(w, status, userView(u))
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	u, err := s.users.Get(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, userView(u))
}
