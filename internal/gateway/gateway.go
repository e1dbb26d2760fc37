package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shaiso/atelier/internal/domain"
	"github.com/shaiso/atelier/internal/orchestrator"
	"github.com/shaiso/atelier/internal/retry"
	"github.com/shaiso/atelier/internal/stages"
	"github.com/shaiso/atelier/internal/telemetry"
)

// Result — чем закончилась обработка callback.
type Result string

const (
	ResultAccepted     Result = "accepted"
	ResultDuplicate    Result = "duplicate"
	ResultStale        Result = "stale"
	ResultConflict     Result = "conflict"
	ResultRejected     Result = "rejected"
	ResultUnauthorized Result = "unauthorized"
)

// Callback — сигнал о завершении стадии от провайдера или воркера.
type Callback struct {
	PipelineID uuid.UUID
	Stage      domain.Stage
	Outcome    domain.CallbackOutcome

	// Attempt — номер попытки (0 — текущая in-flight).
	Attempt int

	// Payload — данные провайдера (трекинг, id заказа, ссылка на рендер).
	Payload map[string]any

	ErrorCode    string
	ErrorMessage string

	// ErrorClass — класс, предложенный источником. Таблица провайдера важнее.
	ErrorClass domain.ErrorClass

	// Source — имя источника ("worker:rendering", "printco").
	Source string
}

func (cb Callback) validate() error {
	if cb.PipelineID == uuid.Nil {
		return fmt.Errorf("%w: pipeline_id is required", ErrInvalidCallback)
	}
	if cb.Stage == "" {
		return fmt.Errorf("%w: stage is required", ErrInvalidCallback)
	}
	switch cb.Outcome {
	case domain.CallbackSuccess, domain.CallbackFailure:
	default:
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidCallback, cb.Outcome)
	}
	if cb.Attempt < 0 {
		return fmt.Errorf("%w: negative attempt", ErrInvalidCallback)
	}
	return nil
}

// PipelineReader читает pipeline для предварительных проверок.
type PipelineReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error)
}

// StageCompleter применяет результат стадии (orchestrator.Executor).
type StageCompleter interface {
	CompleteStage(ctx context.Context, id uuid.UUID, stage domain.Stage, out orchestrator.Outcome) (*domain.Pipeline, error)
}

// Config — зависимости Gateway.
type Config struct {
	Registry   *stages.Registry
	Store      PipelineReader
	Executor   StageCompleter
	Classifier *retry.Classifier
	Authorizer Authorizer
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
}

// Gateway — единая точка входа для результатов стадий.
type Gateway struct {
	registry   *stages.Registry
	store      PipelineReader
	executor   StageCompleter
	classifier *retry.Classifier
	authorizer Authorizer
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

// New создаёт Gateway. Без Authorizer принимается любой источник.
func New(cfg Config) *Gateway {
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = retry.NewClassifier(nil)
	}
	authorizer := cfg.Authorizer
	if authorizer == nil {
		authorizer = AllowAll
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		registry:   cfg.Registry,
		store:      cfg.Store,
		executor:   cfg.Executor,
		classifier: classifier,
		authorizer: authorizer,
		metrics:    cfg.Metrics,
		logger:     logger,
	}
}

// Report проверяет callback и передаёт его в executor.
//
// Дубликат успеха возвращает ResultDuplicate и nil ошибку.
// Устаревший результат возвращает ResultStale и *orchestrator.StaleStageError.
// Проигранная гонка возвращает ResultConflict и *orchestrator.ConcurrentTransitionError:
// такой результат не поглощается, отправитель повторяет его.
func (g *Gateway) Report(ctx context.Context, cb Callback) (Result, error) {
	res, err := g.report(ctx, cb)
	g.observe(cb.Stage, res)

	logger := g.logger.With(
		"pipeline_id", cb.PipelineID,
		"stage", cb.Stage,
		"source", cb.Source,
		"result", res,
	)
	switch res {
	case ResultAccepted:
		logger.Debug("callback accepted", "outcome", cb.Outcome)
	case ResultDuplicate, ResultStale:
		logger.Info("callback absorbed", "reason", err)
	case ResultConflict:
		logger.Info("callback lost transition race", "reason", err)
	default:
		logger.Warn("callback refused", "error", err)
	}
	return res, err
}

func (g *Gateway) report(ctx context.Context, cb Callback) (Result, error) {
	if err := cb.validate(); err != nil {
		return ResultRejected, err
	}

	def, err := g.registry.Get(cb.Stage)
	if err != nil {
		return ResultRejected, err
	}

	if err := g.authorizer.Authorize(ctx, cb.Source, cb); err != nil {
		return ResultUnauthorized, err
	}

	p, err := g.store.GetByID(ctx, cb.PipelineID)
	if err != nil {
		return ResultRejected, err
	}
	if !p.HasEntered(cb.Stage) {
		return ResultRejected, fmt.Errorf("%w: pipeline %s stage %s", ErrStageNeverEntered, p.ID, cb.Stage)
	}
	if err := orchestrator.CheckInFlight(p, cb.Stage, cb.Attempt); err != nil {
		return absorb(p, cb, err)
	}

	out := orchestrator.Outcome{
		Success:    cb.Outcome == domain.CallbackSuccess,
		Attempt:    cb.Attempt,
		Payload:    cb.Payload,
		Resolution: domain.ResolutionCallback,
	}
	if !out.Success {
		out.Failure = g.classifier.Classify(domain.StageFailure{
			Class:    cb.ErrorClass,
			Code:     cb.ErrorCode,
			Message:  cb.ErrorMessage,
			Provider: def.Provider,
		})
	}

	latest, err := g.executor.CompleteStage(ctx, cb.PipelineID, cb.Stage, out)
	switch {
	case err == nil:
		return ResultAccepted, nil
	case orchestrator.IsStale(err) && latest != nil:
		return absorb(latest, cb, err)
	case orchestrator.IsStale(err):
		return ResultStale, err
	case orchestrator.IsConcurrent(err):
		return ResultConflict, err
	default:
		return ResultRejected, err
	}
}

// absorb разделяет дубликат успеха и устаревший сигнал.
func absorb(p *domain.Pipeline, cb Callback, stale error) (Result, error) {
	if cb.Outcome == domain.CallbackSuccess && p.SucceededVia(cb.Stage, domain.ResolutionCallback) {
		return ResultDuplicate, nil
	}
	return ResultStale, stale
}

// ReportJobResult принимает результат воркера из очереди jobs.completed.
//
// Реализует orchestrator.ResultReporter. Ошибки, которые не исправит
// повторная доставка, оборачиваются в orchestrator.ErrRejected.
func (g *Gateway) ReportJobResult(ctx context.Context, r domain.JobResult) error {
	cb := Callback{
		PipelineID:   r.PipelineID,
		Stage:        r.Stage,
		Outcome:      domain.CallbackOutcome(strings.ToUpper(string(r.Outcome))),
		Attempt:      r.AttemptNumber,
		Payload:      r.Payload,
		ErrorCode:    r.ErrorCode,
		ErrorMessage: r.ErrorMessage,
		Source:       WorkerSource(r.Stage),
	}

	_, err := g.Report(ctx, cb)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrStageNeverEntered),
		errors.Is(err, ErrInvalidCallback):
		return fmt.Errorf("%w: %w", orchestrator.ErrRejected, err)
	default:
		return err
	}
}

func (g *Gateway) observe(stage domain.Stage, res Result) {
	if g.metrics == nil {
		return
	}
	g.metrics.Callbacks.WithLabelValues(string(stage), string(res)).Inc()
}
