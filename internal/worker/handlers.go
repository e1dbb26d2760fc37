package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/atelier/internal/domain"
	"github.com/shaiso/atelier/internal/mq"
)

// CodeWorkerCrashed — executor завершился инфраструктурной ошибкой.
const CodeWorkerCrashed = "worker_crashed"

// handleJob обрабатывает job из очереди стадии.
func (w *Worker) handleJob(ctx context.Context, delivery *mq.Delivery) error {
	job, err := mq.ParsePayload[domain.Job](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse stage job payload", "error", err)
		return err
	}

	w.logger.Debug("received stage job",
		"pipeline_id", job.PipelineID,
		"stage", job.Stage,
		"attempt", job.AttemptNumber,
		"dedupe_key", job.DedupeKey,
	)

	return w.Process(ctx, job)
}

// Process выполняет job и публикует результат.
//
// Ошибка executor'а не возвращается, а становится результатом FAILURE:
// решение о повторе принимает оркестратор. Возвращаются только ошибки,
// при которых job нужно доставить снова (публикация, отмена).
func (w *Worker) Process(ctx context.Context, job domain.Job) error {
	executor, err := w.registry.Get(job.Stage)
	if err != nil {
		return fmt.Errorf("%w: %w", mq.ErrReject, err)
	}

	w.logger.Info("job started",
		"pipeline_id", job.PipelineID,
		"stage", job.Stage,
		"attempt", job.AttemptNumber,
	)

	res, execErr := executor.Execute(ctx, job)
	if execErr != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("job %s interrupted: %w", job.DedupeKey, ctx.Err())
		}
		res = &ExecutionResult{ErrorCode: CodeWorkerCrashed, ErrorMessage: execErr.Error()}
	}

	result := buildResult(job, res)
	result.FinishedAt = w.clock.Now()

	if result.Outcome == domain.CallbackSuccess {
		w.logger.Info("job succeeded",
			"pipeline_id", job.PipelineID,
			"stage", job.Stage,
			"attempt", job.AttemptNumber,
		)
	} else {
		w.logger.Warn("job failed",
			"pipeline_id", job.PipelineID,
			"stage", job.Stage,
			"attempt", job.AttemptNumber,
			"error_code", result.ErrorCode,
			"error", result.ErrorMessage,
		)
	}

	if w.publisher == nil {
		return errors.New("result publisher not configured")
	}
	if err := w.publisher.PublishJobResult(ctx, result); err != nil {
		return fmt.Errorf("publish job result %s: %w", job.DedupeKey, err)
	}
	return nil
}

// buildResult формирует JobResult из результата executor'а.
func buildResult(job domain.Job, res *ExecutionResult) domain.JobResult {
	result := domain.JobResult{
		JobID:         job.ID,
		PipelineID:    job.PipelineID,
		Stage:         job.Stage,
		AttemptNumber: job.AttemptNumber,
		Outcome:       domain.CallbackSuccess,
	}
	if res == nil {
		return result
	}

	result.Payload = res.Payload
	if res.Failed() {
		result.Outcome = domain.CallbackFailure
		result.ErrorCode = res.ErrorCode
		result.ErrorMessage = res.ErrorMessage
	}
	return result
}
