package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelInfo, Component: ComponentReconciler, Output: &buf})
	l.Info("hello")
	if !strings.Contains(buf.String(), "component=reconciler") {
		t.Fatalf("missing component: %s", buf.String())
	}

	buf.Reset()
	l.WithComponent(ComponentWorker).Info("again")
	out := buf.String()
	if !strings.Contains(out, "component=worker") || strings.Contains(out, "component=reconciler") {
		t.Fatalf("component not replaced: %s", out)
	}
}

func TestConflictLogsAtWarn(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelWarn, Output: &buf})
	l.Conflict(context.Background(), "R1", "SUCCESSFUL", "FAILED")
	out := buf.String()
	for _, want := range []string{"level=WARN", "reference=R1", "store_status=SUCCESSFUL", "gateway_status=FAILED"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %s", want, out)
		}
	}
}

func TestFields(t *testing.T) {
	f := NewFields().WithOperation(OpReconcile).WithTopUp("R1", "PENDING").WithError(errors.New("boom"))
	if len(f.ToSlice()) != 8 {
		t.Fatalf("expected 4 pairs, got %v", f.ToSlice())
	}
	if NewFields().WithError(nil)[FieldError] != nil {
		t.Fatalf("nil error should not be recorded")
	}
}

func TestMiddlewareInjectsRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: slog.LevelInfo, Output: &buf})

	h := Middleware(base, func(*http.Request) string { return "req-42" })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info("inside")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if !strings.Contains(buf.String(), "request_id=req-42") {
		t.Fatalf("request id missing: %s", buf.String())
	}
}

func TestFromContextFallback(t *testing.T) {
	if FromContext(context.Background()).Component() != "unknown" {
		t.Fatalf("expected fallback logger")
	}
}
