package mq

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/atelier/internal/domain"
)

// --- Topology Tests ---

func TestQueueDecls_StageQueuesHaveDLQ(t *testing.T) {
	decls := queueDecls([]string{"rendering", "fulfillment"})

	byName := make(map[Queue]queueDecl)
	for _, d := range decls {
		byName[d.name] = d
	}

	for _, q := range []Queue{"jobs.rendering", "jobs.fulfillment"} {
		d, ok := byName[q]
		if !ok {
			t.Fatalf("queue %s not declared", q)
		}
		if d.args["x-dead-letter-exchange"] != string(ExchangeDLQ) {
			t.Errorf("queue %s should dead-letter into %s", q, ExchangeDLQ)
		}
	}

	// Очередь задержки ретраев возвращает сообщения в atelier.jobs/retry
	delay := byName[QueueJobsRetryDelay]
	if delay.args["x-dead-letter-exchange"] != string(ExchangeJobs) {
		t.Errorf("retry delay queue should dead-letter into %s", ExchangeJobs)
	}
	if delay.args["x-dead-letter-routing-key"] != string(RoutingKeyRetry) {
		t.Errorf("retry delay queue should use routing key %s", RoutingKeyRetry)
	}
}

func TestBindings_StageRouting(t *testing.T) {
	bs := bindings([]string{"rendering"})

	found := false
	for _, b := range bs {
		if b.queue == "jobs.rendering" {
			found = true
			if b.exchange != ExchangeJobs || b.routingKey != "rendering" {
				t.Errorf("unexpected binding %+v", b)
			}
		}
	}
	if !found {
		t.Error("jobs.rendering binding missing")
	}
}

func TestEventRoutingKey(t *testing.T) {
	if got := EventRoutingKey(string(domain.TransitionTerminalFailure)); got != "stage.terminal_failure" {
		t.Errorf("got %s", got)
	}
}

// --- Publisher Tests ---

func TestExpirationMillis(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{10 * time.Second, "10000"},
		{1500 * time.Millisecond, "1500"},
		{0, "1"},
		{-time.Second, "1"},
	}
	for _, tt := range tests {
		if got := expirationMillis(tt.in); got != tt.want {
			t.Errorf("expirationMillis(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

// --- Consumer Tests ---

func TestParsePayload(t *testing.T) {
	pid := uuid.New()
	msg := &Message{
		Type: MessageTypeStageRetry,
		Payload: map[string]any{
			"pipeline_id": pid.String(),
			"stage":       "RENDERING",
			"attempt":     2,
		},
	}

	got, err := ParsePayload[RetryPayload](msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PipelineID != pid || got.Stage != domain.StageRendering || got.Attempt != 2 {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestParsePayload_InvalidIsRejected(t *testing.T) {
	msg := &Message{
		Type:    MessageTypeStageRetry,
		Payload: map[string]any{"attempt": "two"},
	}

	_, err := ParsePayload[RetryPayload](msg)
	if !errors.Is(err, ErrReject) {
		t.Errorf("expected ErrReject, got %v", err)
	}
}

// --- Connection Tests ---

func TestReconnectDelay(t *testing.T) {
	tests := []struct {
		attempt int
		r       float64
		want    time.Duration
	}{
		{1, 0, time.Second},
		{3, 0, 4 * time.Second},
		{1, 1, 1200 * time.Millisecond},
		{10, 0, maxReconnectDelay},
	}

	for _, tt := range tests {
		if got := reconnectDelay(tt.attempt, tt.r); got != tt.want {
			t.Errorf("reconnectDelay(%d, %v) = %s, want %s", tt.attempt, tt.r, got, tt.want)
		}
	}
}
