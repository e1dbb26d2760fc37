package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/atelier/internal/domain"
	"github.com/shaiso/atelier/internal/mq"
	"github.com/shaiso/atelier/internal/repo"
	"github.com/shaiso/atelier/internal/stages"
)

// concurrentRequeueDelay — пауза перед повторной обработкой сообщения,
// проигравшего гонку за версию pipeline.
const concurrentRequeueDelay = 250 * time.Millisecond

// handleTrigger создаёт pipeline для заказа.
func (o *Orchestrator) handleTrigger(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TriggerPayload](&delivery.Message)
	if err != nil {
		return err
	}

	p, created, err := o.executor.CreatePipeline(ctx, payload.OrderID)
	if err != nil {
		return o.settle("trigger", err)
	}

	o.logger.Debug("trigger handled",
		"order_id", payload.OrderID,
		"pipeline_id", p.ID,
		"created", created,
	)
	return nil
}

// handleJobCompleted передаёт результат job в gateway.
func (o *Orchestrator) handleJobCompleted(ctx context.Context, delivery *mq.Delivery) error {
	result, err := mq.ParsePayload[domain.JobResult](&delivery.Message)
	if err != nil {
		return err
	}

	o.logger.Debug("received job result",
		"pipeline_id", result.PipelineID,
		"stage", result.Stage,
		"attempt", result.AttemptNumber,
		"outcome", result.Outcome,
	)

	return o.settle("job.completed", o.reporter.ReportJobResult(ctx, result))
}

// handleRetry продвигает pipeline после backoff.
func (o *Orchestrator) handleRetry(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RetryPayload](&delivery.Message)
	if err != nil {
		return err
	}

	_, err = o.executor.Advance(ctx, payload.PipelineID)
	return o.settle("retry", err)
}

// settle решает судьбу сообщения по ошибке обработки.
//
//   - nil, устаревший результат, стадия уже in-flight → ack
//   - проигранная гонка CAS → requeue через concurrentRequeueDelay,
//     повторная обработка прочитает состояние победителя
//   - отсутствующий pipeline, неизвестная стадия, отказ gateway → DLQ
//   - остальное (инфраструктура) → requeue
func (o *Orchestrator) settle(op string, err error) error {
	switch {
	case err == nil:
		return nil

	case IsStale(err), errors.Is(err, ErrStageInFlight):
		o.logger.Info("message absorbed", "op", op, "reason", err)
		return nil

	case IsConcurrent(err):
		o.logger.Info("lost transition race, requeueing", "op", op, "after", concurrentRequeueDelay, "reason", err)
		return mq.RequeueAfter(concurrentRequeueDelay, fmt.Errorf("%s: %w", op, err))

	case errors.Is(err, repo.ErrNotFound),
		errors.Is(err, stages.ErrUnknownStage),
		errors.Is(err, ErrEmptyOrderID),
		errors.Is(err, ErrRejected):
		return fmt.Errorf("%w: %s: %w", mq.ErrReject, op, err)

	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
