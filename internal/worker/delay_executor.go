package worker

import (
	"context"
	"time"

	"github.com/shaiso/atelier/internal/domain"
	"github.com/zoobzio/clockz"
)

// SimulatedExecutor — executor для локального запуска без провайдера.
//
// Ждёт Delay и сообщает об успехе. Поддерживает отмену через context.
type SimulatedExecutor struct {
	Delay time.Duration
	Clock clockz.Clock
}

// Execute выполняет задержку.
func (e *SimulatedExecutor) Execute(ctx context.Context, job domain.Job) (*ExecutionResult, error) {
	clock := e.Clock
	if clock == nil {
		clock = clockz.RealClock
	}

	// Context-aware ожидание
	select {
	case <-clock.After(e.Delay):
		return &ExecutionResult{
			Payload: map[string]any{
				"simulated":  true,
				"dedupe_key": job.DedupeKey,
			},
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
