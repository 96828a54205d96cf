package apiv1

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/infra/logging"
)

// Machine-readable reasons returned next to the message.
const (
	reasonValidation          = "VALIDATION_FAILED"
	reasonUnauthorized        = "UNAUTHORIZED"
	reasonNotFound            = "NOT_FOUND"
	reasonNoSubscription      = "NO_ACTIVE_SUBSCRIPTION"
	reasonOrderExpired        = "ORDER_EXPIRED"
	reasonPaymentsDisabled    = "PAYMENTS_DISABLED"
	reasonDowngradeNotAllowed = "DOWNGRADE_NOT_ALLOWED"
	reasonInvalidDowngrade    = "INVALID_DOWNGRADE"
	reasonImplausiblePricing  = "IMPLAUSIBLE_PRICING"
	reasonNotCancelled        = "NOT_CANCELLED"
	reasonSignatureMismatch   = "SIGNATURE_MISMATCH"
	reasonConflict            = "CONFLICT"
	reasonInProgress          = "IN_PROGRESS"
	reasonRateLimited         = "RATE_LIMITED"
	reasonGateway             = "GATEWAY_ERROR"
	reasonInternal            = "INTERNAL_ERROR"
)

type errorBody struct {
	Error   string `json:"error"`
	Reason  string `json:"reason"`
	TraceID string `json:"traceId,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to a status and reason. Gateway and storage
// failures are logged with request context and answered with a generic
// message.
func writeError(w http.ResponseWriter, r *http.Request, logger *zerolog.Logger, err error) {
	status, reason, msg := classify(err)
	if status >= http.StatusInternalServerError {
		l := logging.With(r.Context(), logger)
		l.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Error: msg, Reason: reason, TraceID: logging.TraceID(r.Context())})
}

func classify(err error) (int, string, string) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest, reasonValidation, describeValidation(verrs)
	case errors.Is(err, domain.ErrPaymentsDisabled):
		return http.StatusServiceUnavailable, reasonPaymentsDisabled, "payments are temporarily unavailable"
	case errors.Is(err, domain.ErrOrderExpired):
		return http.StatusGone, reasonOrderExpired, "this payment link has expired, please start a new purchase"
	case errors.Is(err, domain.ErrDowngradeNotAllowedMidCycle):
		return http.StatusBadRequest, reasonDowngradeNotAllowed, err.Error()
	case errors.Is(err, domain.ErrInvalidDowngrade):
		return http.StatusBadRequest, reasonInvalidDowngrade, err.Error()
	case errors.Is(err, domain.ErrImplausiblePricing):
		return http.StatusConflict, reasonImplausiblePricing, "your current plan needs a billing review before it can be changed, support has been notified"
	case errors.Is(err, domain.ErrSignatureMismatch):
		return http.StatusBadRequest, reasonSignatureMismatch, "payment could not be verified"
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrUnknownPlan),
		errors.Is(err, domain.ErrUnsupportedCurrency):
		return http.StatusBadRequest, reasonValidation, err.Error()
	case errors.Is(err, domain.ErrInvalidToken):
		return http.StatusUnauthorized, reasonUnauthorized, "invalid or expired token"
	case errors.Is(err, domain.ErrNoActiveSubscription):
		return http.StatusNotFound, reasonNoSubscription, err.Error()
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, reasonNotFound, "not found"
	case errors.Is(err, domain.ErrNotCancelled):
		return http.StatusConflict, reasonNotCancelled, err.Error()
	case errors.Is(err, domain.ErrDuplicateActivation), errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, reasonConflict, "request conflicted with another update, please retry"
	case errors.Is(err, domain.ErrLocked):
		return http.StatusConflict, reasonInProgress, "already being processed, please retry shortly"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, reasonRateLimited, "too many requests, slow down"
	case errors.Is(err, domain.ErrGateway):
		return http.StatusBadGateway, reasonGateway, "payment provider unavailable, please try again"
	default:
		return http.StatusInternalServerError, reasonInternal, "something went wrong, please try again"
	}
}

func describeValidation(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field()[:1])+fe.Field()[1:]+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

// decode reads a JSON body into dst and validates it. An empty body is an
// invalid argument.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.ErrInvalidArgument
	}
	return validate.Struct(dst)
}
