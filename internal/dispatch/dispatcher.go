package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/atelier/internal/domain"
	"github.com/shaiso/atelier/internal/mq"
	"github.com/shaiso/atelier/internal/stages"
	"github.com/shaiso/atelier/internal/telemetry"
	"github.com/zoobzio/clockz"
)

// keyGrace — запас TTL dedupe ключа сверх max dwell стадии.
const keyGrace = time.Hour

// JobPublisher публикует jobs и отложенные ретраи (реализует mq.Publisher).
type JobPublisher interface {
	PublishJob(ctx context.Context, job domain.Job) error
	PublishRetry(ctx context.Context, payload mq.RetryPayload, delay time.Duration) error
}

// Config — конфигурация Dispatcher.
type Config struct {
	Registry  *stages.Registry
	Ledger    Ledger
	Publisher JobPublisher

	Clock   clockz.Clock
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Dispatcher ставит jobs стадий в очереди с дедупликацией.
type Dispatcher struct {
	registry  *stages.Registry
	ledger    Ledger
	publisher JobPublisher
	clock     clockz.Clock
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// New создаёт Dispatcher.
func New(cfg Config) *Dispatcher {
	clock := cfg.Clock
	if clock == nil {
		clock = clockz.RealClock
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:  cfg.Registry,
		ledger:    cfg.Ledger,
		publisher: cfg.Publisher,
		clock:     clock,
		metrics:   cfg.Metrics,
		logger:    logger,
	}
}

// Dispatch ставит job попытки attempt стадии stage в очередь стадии.
//
// Ошибки:
//   - ErrDuplicateJob — ключ этой попытки уже захвачен
//   - ErrEnqueueFailed — публикация не удалась, ключ освобождён
//   - ErrLedgerUnavailable — ledger недоступен, job не поставлен
func (d *Dispatcher) Dispatch(ctx context.Context, pipelineID uuid.UUID, stage domain.Stage, attempt int) (domain.Job, error) {
	def, err := d.registry.Get(stage)
	if err != nil {
		return domain.Job{}, err
	}
	if !def.RequiresWork() {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrNotDispatchable, stage)
	}

	key := domain.DedupeKey(pipelineID, stage, attempt)

	acquired, err := d.ledger.Acquire(ctx, key, def.MaxDwell+keyGrace)
	if err != nil {
		d.count(stage, "error")
		return domain.Job{}, err
	}
	if !acquired {
		d.count(stage, "duplicate")
		return domain.Job{}, fmt.Errorf("%w: %s", ErrDuplicateJob, key)
	}

	job := domain.Job{
		ID:            uuid.New(),
		PipelineID:    pipelineID,
		Stage:         stage,
		AttemptNumber: attempt,
		DedupeKey:     key,
		Queue:         def.Queue,
		EnqueuedAt:    d.clock.Now(),
	}

	if err := d.publisher.PublishJob(ctx, job); err != nil {
		if relErr := d.ledger.Release(ctx, key); relErr != nil {
			d.logger.Warn("failed to release dedupe key", "dedupe_key", key, "error", relErr)
		}
		d.count(stage, "error")
		return domain.Job{}, fmt.Errorf("%w: %s: %v", ErrEnqueueFailed, key, err)
	}

	d.count(stage, "enqueued")
	d.logger.Debug("job dispatched",
		"pipeline_id", pipelineID,
		"stage", stage,
		"attempt", attempt,
		"job_id", job.ID,
		"queue", def.Queue,
	)

	return job, nil
}

// ScheduleRetry публикует отложенный повтор стадии.
// attempt — номер попытки, которая будет поставлена после задержки.
func (d *Dispatcher) ScheduleRetry(ctx context.Context, pipelineID uuid.UUID, stage domain.Stage, attempt int, delay time.Duration) error {
	key := "retry:" + domain.DedupeKey(pipelineID, stage, attempt)

	acquired, err := d.ledger.Acquire(ctx, key, delay+keyGrace)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, key)
	}

	payload := mq.RetryPayload{PipelineID: pipelineID, Stage: stage, Attempt: attempt}
	if err := d.publisher.PublishRetry(ctx, payload, delay); err != nil {
		if relErr := d.ledger.Release(ctx, key); relErr != nil {
			d.logger.Warn("failed to release retry key", "dedupe_key", key, "error", relErr)
		}
		return fmt.Errorf("%w: %s: %v", ErrEnqueueFailed, key, err)
	}

	if d.metrics != nil {
		d.metrics.RetryDelay.WithLabelValues(string(stage)).Observe(delay.Seconds())
	}
	return nil
}

// Release освобождает dedupe key завершённой попытки.
func (d *Dispatcher) Release(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return d.ledger.Release(ctx, key)
}

// IsDuplicate сообщает, что ошибка — повторная постановка.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateJob)
}

func (d *Dispatcher) count(stage domain.Stage, result string) {
	if d.metrics != nil {
		d.metrics.Dispatches.WithLabelValues(string(stage), result).Inc()
	}
}
