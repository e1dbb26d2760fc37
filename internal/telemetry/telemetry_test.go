package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shaiso/atelier/internal/domain"
)

func testEvent(tr domain.Transition) domain.StageEvent {
	return domain.StageEvent{
		PipelineID: uuid.New(),
		OrderID:    "ORD-1",
		Stage:      domain.StageRendering,
		Transition: tr,
		Attempt:    2,
		Timestamp:  time.Now(),
	}
}

// --- Emitter Tests ---

func TestEmitter_FanOutAndSwallowErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var calls int
	failing := HookFunc(func(context.Context, domain.StageEvent) error {
		calls++
		return errors.New("broker down")
	})
	counting := HookFunc(func(context.Context, domain.StageEvent) error {
		calls++
		return nil
	})

	e := NewEmitter(logger, failing, counting)
	e.Emit(context.Background(), testEvent(domain.TransitionEntered))

	if calls != 2 {
		t.Errorf("expected both hooks called, got %d", calls)
	}
	if !strings.Contains(buf.String(), "broker down") {
		t.Error("hook error should be logged")
	}
}

func TestEmitter_NilSafe(t *testing.T) {
	var e *Emitter
	e.Emit(context.Background(), testEvent(domain.TransitionEntered))
}

// --- LogHook Tests ---

func TestLogHook_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := LogHook{Logger: logger}

	ev := testEvent(domain.TransitionTerminalFailure)
	ev.Error = "ceiling reached"
	_ = h.OnStageEvent(context.Background(), ev)

	out := buf.String()
	if !strings.Contains(out, "level=ERROR") {
		t.Errorf("terminal failure should be logged as ERROR: %s", out)
	}
	if !strings.Contains(out, "ceiling reached") {
		t.Errorf("error should be logged: %s", out)
	}
}

// --- MetricsHook Tests ---

func TestMetricsHook(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	h := MetricsHook{Metrics: m}

	_ = h.OnStageEvent(context.Background(), testEvent(domain.TransitionEntered))
	_ = h.OnStageEvent(context.Background(), testEvent(domain.TransitionTerminalFailure))

	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("RENDERING", "ENTERED")); got != 1 {
		t.Errorf("expected 1 ENTERED transition, got %v", got)
	}
	if got := testutil.ToFloat64(m.TerminalFailures.WithLabelValues("RENDERING")); got != 1 {
		t.Errorf("expected 1 terminal failure, got %v", got)
	}
}

// --- BrokerHook Tests ---

type recordingPublisher struct {
	events []domain.StageEvent
}

func (p *recordingPublisher) PublishStageEvent(_ context.Context, ev domain.StageEvent) error {
	p.events = append(p.events, ev)
	return nil
}

func TestBrokerHook(t *testing.T) {
	pub := &recordingPublisher{}
	h := BrokerHook{Publisher: pub}

	if err := h.OnStageEvent(context.Background(), testEvent(domain.TransitionDispatched)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0].Transition != domain.TransitionDispatched {
		t.Errorf("expected one DISPATCHED event, got %+v", pub.events)
	}

	// Без publisher — ничего не делает
	if err := (BrokerHook{}).OnStageEvent(context.Background(), testEvent(domain.TransitionEntered)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// --- Logging Tests ---

func TestLogLevel(t *testing.T) {
	tests := []struct {
		env  string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Setenv("LOG_LEVEL", tt.env)
		if got := LogLevel(); got != tt.want {
			t.Errorf("LogLevel(%q) = %v, want %v", tt.env, got, tt.want)
		}
	}
}

func TestFromContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)

	if FromContext(ctx) != logger {
		t.Error("expected logger from context")
	}
	if FromContext(context.Background()) == nil {
		t.Error("expected default logger")
	}
}
