//go:build !integration

package logging_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/infra/logging"
)

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := logging.WithTraceID(context.Background(), "trace-1")
	ctx = logging.WithUserID(ctx, "user-1")
	ctx = logging.WithOrderID(ctx, "ord_1")
	logging.With(ctx, &base).Info().Msg("hello")

	out := buf.String()
	for _, want := range []string{`"trace_id":"trace-1"`, `"user_id":"user-1"`, `"order_id":"ord_1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
	if logging.TraceID(ctx) != "trace-1" {
		t.Error("trace id not readable from context")
	}
}

func TestRedact(t *testing.T) {
	if got := logging.Redact("learner@example.com", false); got != "lear...om" {
		t.Errorf("unexpected redaction %q", got)
	}
	if got := logging.Redact("short", false); got != "***" {
		t.Errorf("unexpected redaction %q", got)
	}
	if got := logging.Redact("learner@example.com", true); got != "learner@example.com" {
		t.Errorf("dev mode must not redact, got %q", got)
	}
}
