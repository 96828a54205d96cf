package apiv1

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/infra/auth"
	"korean-tutor-billing/internal/infra/logging"
	"korean-tutor-billing/internal/infra/metrics"
)

type Middleware func(http.Handler) http.Handler

// SessionParser extracts the caller from a request.
type SessionParser interface {
	ParseFromRequest(r *http.Request) (*auth.SessionClaims, error)
}

type ctxKey struct{}

func userIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

// TraceID honours an inbound X-Request-ID and echoes the id back.
func TraceID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tid := r.Header.Get("X-Request-ID")
			if tid == "" || len(tid) > 64 {
				tid = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", tid)
			ctx := logging.WithTraceID(r.Context(), tid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequestLog(logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &respWriter{ResponseWriter: w, status: 200}
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			elapsed := time.Since(start)
			metrics.ObserveHTTP(route, r.Method, strconv.Itoa(ww.status), elapsed.Seconds())

			// ww.ctx carries ids attached further down the chain.
			ctx := r.Context()
			if ww.ctx != nil {
				ctx = ww.ctx
			}
			l := logging.With(ctx, logger)
			ev := l.Info()
			if ww.status >= 500 {
				ev = l.Warn()
			}
			ev.Str("method", r.Method).
				Str("route", route).
				Int("status", ww.status).
				Dur("duration", elapsed).
				Msg("http_request")
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
	ctx    context.Context
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func Recover(logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					l := logging.With(r.Context(), logger)
					l.Error().Interface("panic", rec).Msg("panic recovered")
					writeJSON(w, http.StatusInternalServerError, errorBody{
						Error: "internal error", Reason: reasonInternal, TraceID: logging.TraceID(r.Context()),
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects requests without a valid session and puts the user id
// on the context.
func RequireUser(sessions SessionParser, logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := sessions.ParseFromRequest(r)
			if err != nil {
				writeError(w, r, logger, domain.ErrInvalidToken)
				return
			}
			ctx := context.WithValue(r.Context(), ctxKey{}, claims.Subject)
			ctx = logging.WithUserID(ctx, claims.Subject)
			if ww, ok := w.(*respWriter); ok {
				ww.ctx = ctx
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdminKey guards operator endpoints with the X-Admin-Key header.
func RequireAdminKey(key string, logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			endpoint := r.URL.Path
			if key == "" {
				logger.Error().Msg("admin key is not configured")
				metrics.IncAdminRequest(endpoint, "forbidden")
				writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Reason: reasonUnauthorized})
				return
			}
			got := r.Header.Get("X-Admin-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				metrics.IncAdminRequest(endpoint, "unauthorized")
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Reason: reasonUnauthorized})
				return
			}
			metrics.IncAdminRequest(endpoint, "ok")
			next.ServeHTTP(w, r)
		})
	}
}
