package telemetry

import (
	"context"
	"log/slog"

	"github.com/shaiso/atelier/internal/domain"
)

// Hook получает события переходов стадий.
type Hook interface {
	OnStageEvent(ctx context.Context, ev domain.StageEvent) error
}

// HookFunc — адаптер функции к Hook.
type HookFunc func(ctx context.Context, ev domain.StageEvent) error

// OnStageEvent вызывает f.
func (f HookFunc) OnStageEvent(ctx context.Context, ev domain.StageEvent) error {
	return f(ctx, ev)
}

// Emitter рассылает события всем hooks.
//
// Ошибки hooks логируются и никогда не возвращаются вызывающему:
// наблюдаемость не должна ломать переходы стадий.
type Emitter struct {
	hooks  []Hook
	logger *slog.Logger
}

// NewEmitter создаёт Emitter.
func NewEmitter(logger *slog.Logger, hooks ...Hook) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{hooks: hooks, logger: logger}
}

// Add добавляет hook.
func (e *Emitter) Add(h Hook) {
	e.hooks = append(e.hooks, h)
}

// Emit отправляет событие во все hooks. Безопасен для nil.
func (e *Emitter) Emit(ctx context.Context, ev domain.StageEvent) {
	if e == nil {
		return
	}
	for _, h := range e.hooks {
		if err := h.OnStageEvent(ctx, ev); err != nil {
			e.logger.Warn("stage event hook failed",
				"pipeline_id", ev.PipelineID,
				"stage", ev.Stage,
				"transition", ev.Transition,
				"error", err,
			)
		}
	}
}

// LogHook пишет события в slog.
type LogHook struct {
	Logger *slog.Logger
}

// OnStageEvent логирует событие с уровнем по типу перехода.
func (h LogHook) OnStageEvent(ctx context.Context, ev domain.StageEvent) error {
	logger := h.Logger
	if logger == nil {
		logger = FromContext(ctx)
	}

	level := slog.LevelInfo
	switch ev.Transition {
	case domain.TransitionTerminalFailure:
		level = slog.LevelError
	case domain.TransitionRetryScheduled, domain.TransitionTimedOut, domain.TransitionCancelled:
		level = slog.LevelWarn
	}

	attrs := []any{
		"pipeline_id", ev.PipelineID,
		"order_id", ev.OrderID,
		"stage", ev.Stage,
		"transition", ev.Transition,
	}
	if ev.Attempt > 0 {
		attrs = append(attrs, "attempt", ev.Attempt)
	}
	if ev.Error != "" {
		attrs = append(attrs, "error", ev.Error)
	}

	logger.Log(ctx, level, "stage transition", attrs...)
	return nil
}

// MetricsHook считает события в Prometheus.
type MetricsHook struct {
	Metrics *Metrics
}

// OnStageEvent увеличивает счётчики переходов.
func (h MetricsHook) OnStageEvent(_ context.Context, ev domain.StageEvent) error {
	h.Metrics.Transitions.WithLabelValues(string(ev.Stage), string(ev.Transition)).Inc()
	if ev.Transition == domain.TransitionTerminalFailure {
		h.Metrics.TerminalFailures.WithLabelValues(string(ev.Stage)).Inc()
	}
	return nil
}

// EventPublisher публикует события во внешнюю шину (реализует mq.Publisher).
type EventPublisher interface {
	PublishStageEvent(ctx context.Context, ev domain.StageEvent) error
}

// BrokerHook публикует события для внешнего alerting.
type BrokerHook struct {
	Publisher EventPublisher
}

// OnStageEvent публикует событие.
func (h BrokerHook) OnStageEvent(ctx context.Context, ev domain.StageEvent) error {
	if h.Publisher == nil {
		return nil
	}
	return h.Publisher.PublishStageEvent(ctx, ev)
}
