package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/atelier/internal/dispatch"
	"github.com/shaiso/atelier/internal/domain"
	"github.com/shaiso/atelier/internal/repo"
	"github.com/shaiso/atelier/internal/retry"
	"github.com/shaiso/atelier/internal/stages"
	"github.com/shaiso/atelier/internal/telemetry"
	"github.com/zoobzio/clockz"
)

// Store — хранилище pipelines (repo.PipelineRepo, repo.MemoryPipelineRepo).
type Store interface {
	Create(ctx context.Context, p *domain.Pipeline) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error)
	GetLiveByOrderID(ctx context.Context, orderID string) (*domain.Pipeline, error)
	Save(ctx context.Context, p *domain.Pipeline) error
	ListExpiredInFlight(ctx context.Context, now time.Time, limit int) ([]domain.Pipeline, error)
	ListRunnable(ctx context.Context, now, idleBefore time.Time, limit int) ([]domain.Pipeline, error)
}

// Dispatcher ставит jobs и отложенные ретраи (реализует dispatch.Dispatcher).
type Dispatcher interface {
	Dispatch(ctx context.Context, pipelineID uuid.UUID, stage domain.Stage, attempt int) (domain.Job, error)
	ScheduleRetry(ctx context.Context, pipelineID uuid.UUID, stage domain.Stage, attempt int, delay time.Duration) error
	Release(ctx context.Context, key string) error
}

// Outcome — результат in-flight попытки стадии.
type Outcome struct {
	Success bool

	// Attempt — номер попытки, к которой относится результат (0 — текущая).
	Attempt int

	// Failure — описание ошибки для неуспешного результата.
	Failure domain.StageFailure

	// Payload — данные провайдера, сохраняются в истории.
	Payload map[string]any

	// Resolution — как разрешилась попытка (по умолчанию CALLBACK).
	Resolution domain.Resolution
}

// ExecutorConfig — зависимости Executor.
type ExecutorConfig struct {
	Store      Store
	Registry   *stages.Registry
	Retry      *retry.Controller
	Dispatcher Dispatcher
	Hooks      *telemetry.Emitter
	Clock      clockz.Clock
	Logger     *slog.Logger
}

// Executor — единственный компонент, изменяющий записи pipeline.
//
// Все переходы выполняются как read-modify-save с compare-and-swap
// по version. Внешняя работа (постановка job) начинается только после
// того, как in-flight маркер сохранён.
type Executor struct {
	store      Store
	registry   *stages.Registry
	retry      *retry.Controller
	dispatcher Dispatcher
	hooks      *telemetry.Emitter
	clock      clockz.Clock
	logger     *slog.Logger
}

// NewExecutor создаёт Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	clock := cfg.Clock
	if clock == nil {
		clock = clockz.RealClock
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:      cfg.Store,
		registry:   cfg.Registry,
		retry:      cfg.Retry,
		dispatcher: cfg.Dispatcher,
		hooks:      cfg.Hooks,
		clock:      clock,
		logger:     logger,
	}
}

// Registry возвращает реестр стадий.
func (e *Executor) Registry() *stages.Registry {
	return e.registry
}

// CreatePipeline создаёт pipeline для заказа и запускает первую стадию.
//
// Идемпотентна: если у заказа уже есть живой pipeline, возвращает его
// с created=false. Гонка двух создателей разрешается уникальным индексом
// хранилища в пользу победителя.
func (e *Executor) CreatePipeline(ctx context.Context, orderID string) (*domain.Pipeline, bool, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, false, ErrEmptyOrderID
	}

	existing, err := e.store.GetLiveByOrderID(ctx, orderID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup order %s: %w", orderID, err)
	}

	p := domain.NewPipeline(orderID, e.registry.Initial(), e.clock.Now())
	if err := e.store.Create(ctx, p); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			winner, getErr := e.store.GetLiveByOrderID(ctx, orderID)
			if getErr != nil {
				return nil, false, fmt.Errorf("lookup order %s after race: %w", orderID, getErr)
			}
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("create pipeline: %w", err)
	}

	e.logger.Info("pipeline created",
		"pipeline_id", p.ID,
		"order_id", orderID,
		"stage", p.CurrentStage,
	)

	if err := e.advance(ctx, p); err != nil {
		e.logFollowUp("create", p.ID, err)
	}
	return p, true, nil
}

// Advance оценивает текущую стадию pipeline и продвигает его, пока
// стадии завершаются автоматически.
//
// PAUSED, терминальный статус и незавершённый backoff — no-op.
// Если стадия уже in-flight, возвращает *ConcurrentTransitionError.
func (e *Executor) Advance(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return p, e.advance(ctx, p)
}

// advance — цикл оценки стадий. Число итераций ограничено размером реестра.
func (e *Executor) advance(ctx context.Context, p *domain.Pipeline) error {
	for range e.registry.Len() + 1 {
		if p.Status != domain.PipelineStatusActive {
			return nil
		}
		if p.InFlight != nil {
			return &ConcurrentTransitionError{
				PipelineID: p.ID,
				Op:         "advance",
				Err:        fmt.Errorf("%w: stage %s attempt %d", ErrStageInFlight, p.InFlight.Stage, p.InFlight.Attempt),
			}
		}

		now := e.clock.Now()
		if p.RetryAt != nil && p.RetryAt.After(now) {
			return nil
		}

		def, err := e.registry.Get(p.CurrentStage)
		if err != nil {
			return err
		}
		attempt := p.NextAttempt(def.Stage)

		switch def.Kind {
		case stages.KindAutoComplete:
			next, err := e.registry.Next(def.Stage)
			if err != nil {
				return err
			}
			p.AppendHistory(domain.StageRecord{
				Stage:      def.Stage,
				Attempt:    attempt,
				Epoch:      p.Epoch,
				EnteredAt:  now,
				ExitedAt:   now,
				Outcome:    domain.OutcomeSuccess,
				Resolution: domain.ResolutionAuto,
			})
			p.MoveTo(next)
			if err := e.save(ctx, p, now, "advance"); err != nil {
				return err
			}
			e.emit(ctx, p, def.Stage, domain.TransitionEntered, attempt, "")
			e.emit(ctx, p, def.Stage, domain.TransitionExited, attempt, "")

		case stages.KindAwaitEvent:
			p.MarkInFlight(def.Stage, attempt, "", now, now.Add(def.MaxDwell))
			if err := e.save(ctx, p, now, "advance"); err != nil {
				return err
			}
			e.emit(ctx, p, def.Stage, domain.TransitionEntered, attempt, "")
			return nil

		case stages.KindDispatch:
			return e.dispatch(ctx, p, def, attempt, now)

		case stages.KindTerminal:
			p.MarkCompleted(now)
			if err := e.save(ctx, p, now, "advance"); err != nil {
				return err
			}
			e.emit(ctx, p, def.Stage, domain.TransitionCompleted, 0, "")
			e.logger.Info("pipeline completed", "pipeline_id", p.ID, "order_id", p.OrderID)
			return nil

		default:
			return fmt.Errorf("%w: stage %s has kind %q", stages.ErrInvalidConfig, def.Stage, def.Kind)
		}
	}

	return fmt.Errorf("%w: pipeline %s", ErrAutoCompleteChain, p.ID)
}

// dispatch помечает стадию in-flight, сохраняет и только потом ставит job.
func (e *Executor) dispatch(ctx context.Context, p *domain.Pipeline, def stages.Definition, attempt int, now time.Time) error {
	key := domain.DedupeKey(p.ID, def.Stage, attempt)
	p.MarkInFlight(def.Stage, attempt, key, now, now.Add(def.MaxDwell))
	if err := e.save(ctx, p, now, "dispatch"); err != nil {
		return err
	}
	e.emit(ctx, p, def.Stage, domain.TransitionEntered, attempt, "")

	job, err := e.dispatcher.Dispatch(ctx, p.ID, def.Stage, attempt)
	switch {
	case err == nil:
		e.emit(ctx, p, def.Stage, domain.TransitionDispatched, attempt, "")
		e.logger.Debug("stage dispatched",
			"pipeline_id", p.ID,
			"stage", def.Stage,
			"attempt", attempt,
			"job_id", job.ID,
		)
		return nil

	case errors.Is(err, dispatch.ErrDuplicateJob):
		// Job этой попытки уже в очереди — ждём его результата.
		e.logger.Warn("duplicate dispatch refused",
			"pipeline_id", p.ID,
			"stage", def.Stage,
			"dedupe_key", key,
		)
		return nil

	default:
		e.logger.Warn("dispatch failed",
			"pipeline_id", p.ID,
			"stage", def.Stage,
			"attempt", attempt,
			"error", err,
		)
		return e.handleFailure(ctx, p, def, attemptFailure{
			attempt:   attempt,
			enteredAt: now,
			failure: domain.StageFailure{
				Class:   domain.ErrorClassTransient,
				Code:    retry.CodeDispatchFailed,
				Message: err.Error(),
			},
			resolution: domain.ResolutionDispatch,
		})
	}
}

// CompleteStage применяет результат in-flight попытки стадии.
//
// Результат для стадии, которая не in-flight, или для другой попытки
// возвращает *StaleStageError без изменений pipeline.
// На паузе результат записывается, но следующая стадия не оценивается.
func (e *Executor) CompleteStage(ctx context.Context, id uuid.UUID, stage domain.Stage, out Outcome) (*domain.Pipeline, error) {
	def, err := e.registry.Get(stage)
	if err != nil {
		return nil, err
	}

	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckInFlight(p, stage, out.Attempt); err != nil {
		return p, err
	}

	inFlight := *p.InFlight
	resolution := out.Resolution
	if resolution == "" {
		resolution = domain.ResolutionCallback
	}

	if !out.Success {
		err := e.handleFailure(ctx, p, def, attemptFailure{
			attempt:    inFlight.Attempt,
			enteredAt:  inFlight.Since,
			failure:    out.Failure,
			resolution: resolution,
			payload:    out.Payload,
		})
		return p, err
	}

	now := e.clock.Now()
	next, err := e.registry.Next(stage)
	if err != nil {
		return p, err
	}

	p.AppendHistory(domain.StageRecord{
		Stage:      stage,
		Attempt:    inFlight.Attempt,
		Epoch:      p.Epoch,
		EnteredAt:  inFlight.Since,
		ExitedAt:   now,
		Outcome:    domain.OutcomeSuccess,
		Resolution: resolution,
		Payload:    out.Payload,
	})
	p.MoveTo(next)
	if err := e.save(ctx, p, now, "complete"); err != nil {
		return p, err
	}
	e.release(ctx, inFlight.DedupeKey)
	e.emit(ctx, p, stage, domain.TransitionExited, inFlight.Attempt, "")

	e.logger.Info("stage completed",
		"pipeline_id", p.ID,
		"stage", stage,
		"attempt", inFlight.Attempt,
		"next_stage", next,
	)

	if err := e.advance(ctx, p); err != nil {
		e.logFollowUp("complete", p.ID, err)
	}
	return p, nil
}

// TimeoutStage снимает in-flight попытку, превысившую max dwell.
// Таймаут проходит через retry controller как транзиентная ошибка.
func (e *Executor) TimeoutStage(ctx context.Context, id uuid.UUID, stage domain.Stage, attempt int) (*domain.Pipeline, error) {
	def, err := e.registry.Get(stage)
	if err != nil {
		return nil, err
	}

	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckInFlight(p, stage, attempt); err != nil {
		return p, err
	}

	inFlight := *p.InFlight
	if e.clock.Now().Before(inFlight.Deadline) {
		return p, &StaleStageError{
			PipelineID:     p.ID,
			Stage:          stage,
			Attempt:        attempt,
			Current:        inFlight.Stage,
			CurrentAttempt: inFlight.Attempt,
			Reason:         "deadline not reached",
		}
	}

	err = e.handleFailure(ctx, p, def, attemptFailure{
		attempt:   inFlight.Attempt,
		enteredAt: inFlight.Since,
		failure: domain.StageFailure{
			Class:   domain.ErrorClassTransient,
			Code:    retry.CodeDwellTimeout,
			Message: fmt.Sprintf("no result within %s", def.MaxDwell),
		},
		resolution: domain.ResolutionSweep,
		timedOut:   true,
	})
	return p, err
}

// attemptFailure — неудачная попытка стадии.
type attemptFailure struct {
	attempt    int
	enteredAt  time.Time
	failure    domain.StageFailure
	resolution domain.Resolution
	payload    map[string]any
	timedOut   bool
}

// handleFailure применяет решение retry controller: ретрай или FAILED.
func (e *Executor) handleFailure(ctx context.Context, p *domain.Pipeline, def stages.Definition, f attemptFailure) error {
	now := e.clock.Now()
	d := e.retry.Decide(def, p.RetryCounts[def.Stage], f.failure)

	// Таймаут, исчерпавший попытки, в истории — FAILED_TERMINAL.
	outcome := domain.OutcomeFailedTerminal
	switch {
	case d.Retry && f.timedOut:
		outcome = domain.OutcomeTimedOut
	case d.Retry:
		outcome = domain.OutcomeFailedRetryable
	}

	var key string
	if p.InFlight != nil {
		key = p.InFlight.DedupeKey
	}
	p.InFlight = nil

	p.AppendHistory(domain.StageRecord{
		Stage:      def.Stage,
		Attempt:    f.attempt,
		Epoch:      p.Epoch,
		EnteredAt:  f.enteredAt,
		ExitedAt:   now,
		Outcome:    outcome,
		Resolution: f.resolution,
		Error:      d.Reason,
		Payload:    f.payload,
	})

	if d.Retry {
		retryAt := now.Add(d.Delay)
		p.RetryCounts[def.Stage] = d.RetryCount
		p.RetryAt = &retryAt
		p.LastError = d.Reason
		if err := e.save(ctx, p, now, "retry"); err != nil {
			return err
		}
		e.release(ctx, key)
		if f.timedOut {
			e.emit(ctx, p, def.Stage, domain.TransitionTimedOut, f.attempt, d.Reason)
		}
		e.emit(ctx, p, def.Stage, domain.TransitionRetryScheduled, f.attempt, d.Reason)

		e.logger.Warn("stage retry scheduled",
			"pipeline_id", p.ID,
			"stage", def.Stage,
			"attempt", f.attempt,
			"retry", d.RetryCount,
			"delay", d.Delay,
			"class", d.Class,
			"error", d.Reason,
		)

		next := p.NextAttempt(def.Stage)
		if err := e.dispatcher.ScheduleRetry(ctx, p.ID, def.Stage, next, d.Delay); err != nil && !dispatch.IsDuplicate(err) {
			// Sweep подхватит pipeline, когда истечёт RetryAt.
			e.logger.Warn("failed to schedule retry",
				"pipeline_id", p.ID,
				"stage", def.Stage,
				"error", err,
			)
		}
		return nil
	}

	reason := fmt.Sprintf("%v: %s", d.Cause, d.Reason)
	p.MarkFailed(reason, now)
	if err := e.save(ctx, p, now, "fail"); err != nil {
		return err
	}
	e.release(ctx, key)
	if f.timedOut {
		e.emit(ctx, p, def.Stage, domain.TransitionTimedOut, f.attempt, d.Reason)
	}
	e.emit(ctx, p, def.Stage, domain.TransitionTerminalFailure, f.attempt, reason)

	e.logger.Error("pipeline failed",
		"pipeline_id", p.ID,
		"order_id", p.OrderID,
		"stage", def.Stage,
		"attempt", f.attempt,
		"class", d.Class,
		"error", reason,
	)
	return nil
}

// Pause приостанавливает pipeline. In-flight работа продолжается.
func (e *Executor) Pause(ctx context.Context, id uuid.UUID, reason string) (*domain.Pipeline, error) {
	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case p.Status == domain.PipelineStatusPaused:
		return p, nil
	case p.Status.IsTerminal():
		return p, fmt.Errorf("%w: pause %s pipeline %s", ErrInvalidTransition, p.Status, p.ID)
	}

	now := e.clock.Now()
	p.Status = domain.PipelineStatusPaused
	p.PauseReason = reason
	if err := e.save(ctx, p, now, "pause"); err != nil {
		return p, err
	}
	e.emit(ctx, p, p.CurrentStage, domain.TransitionPaused, 0, reason)
	return p, nil
}

// Resume возобновляет pipeline и оценивает стадию, если ничего не in-flight.
func (e *Executor) Resume(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case p.Status == domain.PipelineStatusActive:
		return p, nil
	case p.Status.IsTerminal():
		return p, fmt.Errorf("%w: resume %s pipeline %s", ErrInvalidTransition, p.Status, p.ID)
	}

	now := e.clock.Now()
	p.Status = domain.PipelineStatusActive
	p.PauseReason = ""
	if err := e.save(ctx, p, now, "resume"); err != nil {
		return p, err
	}
	e.emit(ctx, p, p.CurrentStage, domain.TransitionResumed, 0, "")

	if p.InFlight == nil {
		if err := e.advance(ctx, p); err != nil {
			e.logFollowUp("resume", p.ID, err)
		}
	}
	return p, nil
}

// Restage административно перезапускает pipeline с указанной стадии.
//
// Текущая попытка закрывается записью RESTAGED, epoch увеличивается,
// поэтому поздние результаты старой попытки становятся устаревшими.
// Допустим из FAILED, PAUSED и ACTIVE. Целевая стадия — текущая или
// одна из пройденных: пропустить обязательные стадии нельзя.
func (e *Executor) Restage(ctx context.Context, id uuid.UUID, stage domain.Stage, reason string) (*domain.Pipeline, error) {
	def, err := e.registry.Get(stage)
	if err != nil {
		return nil, err
	}
	if def.Kind == stages.KindTerminal {
		return nil, fmt.Errorf("%w: cannot restage to terminal stage %s", ErrInvalidTransition, stage)
	}

	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == domain.PipelineStatusCompleted || p.IsCancelled() {
		return p, fmt.Errorf("%w: restage %s pipeline %s", ErrInvalidTransition, statusLabel(p), p.ID)
	}
	if e.registry.Ordinal(stage) > e.registry.Ordinal(p.CurrentStage) {
		return p, fmt.Errorf("%w: restage %s ahead of current stage %s", ErrInvalidTransition, stage, p.CurrentStage)
	}

	now := e.clock.Now()
	current := p.CurrentStage
	attempt, enteredAt, key := p.NextAttempt(current), now, ""
	if p.InFlight != nil {
		attempt, enteredAt, key = p.InFlight.Attempt, p.InFlight.Since, p.InFlight.DedupeKey
	}

	p.AppendHistory(domain.StageRecord{
		Stage:      current,
		Attempt:    attempt,
		Epoch:      p.Epoch,
		EnteredAt:  enteredAt,
		ExitedAt:   now,
		Outcome:    domain.OutcomeRestaged,
		Resolution: domain.ResolutionAdmin,
		Error:      reason,
	})
	p.Epoch++
	p.MoveTo(stage)
	p.Status = domain.PipelineStatusActive
	p.PauseReason = ""
	p.CompletedAt = nil
	p.ArchivedAt = nil

	if err := e.save(ctx, p, now, "restage"); err != nil {
		return p, err
	}
	e.release(ctx, key)
	e.emit(ctx, p, stage, domain.TransitionRestaged, 0, reason)

	e.logger.Info("pipeline restaged",
		"pipeline_id", p.ID,
		"from", current,
		"to", stage,
		"epoch", p.Epoch,
		"reason", reason,
	)

	if err := e.advance(ctx, p); err != nil {
		e.logFollowUp("restage", p.ID, err)
	}
	return p, nil
}

// Cancel административно отменяет pipeline.
//
// Pipeline переходит в FAILED с причиной "cancelled: <reason>", текущая
// попытка закрывается записью CANCELLED, ключ дедупликации освобождается.
// Поздние результаты отменённой попытки становятся устаревшими.
// Повторная отмена ничего не меняет; завершённый или упавший pipeline
// отменить нельзя.
func (e *Executor) Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.Pipeline, error) {
	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case p.IsCancelled():
		return p, nil
	case p.Status.IsTerminal():
		return p, fmt.Errorf("%w: cancel %s pipeline %s", ErrInvalidTransition, p.Status, p.ID)
	}

	now := e.clock.Now()
	stage := p.CurrentStage
	attempt, enteredAt, key := p.NextAttempt(stage), p.UpdatedAt, ""
	if p.InFlight != nil {
		attempt, enteredAt, key = p.InFlight.Attempt, p.InFlight.Since, p.InFlight.DedupeKey
	}

	p.AppendHistory(domain.StageRecord{
		Stage:      stage,
		Attempt:    attempt,
		Epoch:      p.Epoch,
		EnteredAt:  enteredAt,
		ExitedAt:   now,
		Outcome:    domain.OutcomeCancelled,
		Resolution: domain.ResolutionAdmin,
		Error:      reason,
	})
	p.MarkCancelled(reason, now)
	p.PauseReason = ""

	if err := e.save(ctx, p, now, "cancel"); err != nil {
		return p, err
	}
	e.release(ctx, key)
	e.emit(ctx, p, stage, domain.TransitionCancelled, attempt, reason)

	e.logger.Warn("pipeline cancelled",
		"pipeline_id", p.ID,
		"order_id", p.OrderID,
		"stage", stage,
		"reason", reason,
	)
	return p, nil
}

// statusLabel — статус для сообщений об ошибках, отмена отдельно от FAILED.
func statusLabel(p *domain.Pipeline) string {
	if p.IsCancelled() {
		return "cancelled"
	}
	return string(p.Status)
}

// CheckInFlight проверяет, что результат относится к текущей in-flight попытке.
// Несовпадение возвращается как *StaleStageError.
func CheckInFlight(p *domain.Pipeline, stage domain.Stage, attempt int) error {
	stale := &StaleStageError{PipelineID: p.ID, Stage: stage, Attempt: attempt}

	if p.InFlight == nil {
		stale.Reason = "nothing in flight"
		return stale
	}
	stale.Current = p.InFlight.Stage
	stale.CurrentAttempt = p.InFlight.Attempt

	if p.InFlight.Stage != stage {
		stale.Reason = "stage mismatch"
		return stale
	}
	if attempt > 0 && p.InFlight.Attempt != attempt {
		stale.Reason = "attempt mismatch"
		return stale
	}
	return nil
}

func (e *Executor) load(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	p, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load pipeline %s: %w", id, err)
	}
	return p, nil
}

// save сохраняет pipeline; проигрыш CAS превращается в ConcurrentTransitionError.
func (e *Executor) save(ctx context.Context, p *domain.Pipeline, now time.Time, op string) error {
	p.UpdatedAt = now
	if err := e.store.Save(ctx, p); err != nil {
		if errors.Is(err, repo.ErrVersionConflict) {
			return &ConcurrentTransitionError{PipelineID: p.ID, Op: op, Err: err}
		}
		return fmt.Errorf("save pipeline %s: %w", p.ID, err)
	}
	return nil
}

func (e *Executor) release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := e.dispatcher.Release(ctx, key); err != nil {
		e.logger.Warn("failed to release dedupe key", "dedupe_key", key, "error", err)
	}
}

func (e *Executor) emit(ctx context.Context, p *domain.Pipeline, stage domain.Stage, tr domain.Transition, attempt int, errMsg string) {
	e.hooks.Emit(ctx, domain.StageEvent{
		PipelineID: p.ID,
		OrderID:    p.OrderID,
		Stage:      stage,
		Transition: tr,
		Attempt:    attempt,
		Timestamp:  e.clock.Now(),
		Error:      errMsg,
	})
}

// logFollowUp логирует ошибку продвижения после уже сохранённого перехода.
// Такой pipeline подхватит sweep.
func (e *Executor) logFollowUp(op string, id uuid.UUID, err error) {
	if IsConcurrent(err) {
		e.logger.Debug("follow-up advance lost race", "op", op, "pipeline_id", id, "error", err)
		return
	}
	e.logger.Error("follow-up advance failed", "op", op, "pipeline_id", id, "error", err)
}
