package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shaiso/atelier/internal/telemetry"
	"github.com/zoobzio/clockz"
)

// Значения sweep по умолчанию.
const (
	DefaultSweepSchedule = "@every 30s"
	defaultSweepBatch    = 100
	defaultIdleAfter     = time.Minute
)

// sweepParser принимает стандартные выражения и дескрипторы (@every, @hourly).
var sweepParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule проверяет выражение расписания sweep.
func ValidateSchedule(expr string) error {
	if _, err := sweepParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", expr, err)
	}
	return nil
}

// Locker — лидерство среди реплик sweeper (repo.LeaderLock).
type Locker interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// SweeperConfig — конфигурация Sweeper.
type SweeperConfig struct {
	Executor *Executor
	Store    Store

	// Schedule — cron выражение (default: "@every 30s").
	Schedule string

	// BatchSize — pipelines за один проход каждой выборки (default: 100).
	BatchSize int

	// IdleAfter — сколько активный pipeline без in-flight стадии может
	// простаивать, прежде чем sweep его продвинет (default: 1m).
	IdleAfter time.Duration

	// Lock — опциональная блокировка лидера.
	Lock Locker

	Metrics *telemetry.Metrics
	Clock   clockz.Clock
	Logger  *slog.Logger
}

// SweepResult — итог одного прохода.
type SweepResult struct {
	TimedOut int
	Advanced int
	Errors   int
}

// Sweeper периодически снимает просроченные in-flight стадии и
// продвигает pipelines, чьё сообщение о ретрае потерялось.
type Sweeper struct {
	executor  *Executor
	store     Store
	schedule  string
	batchSize int
	idleAfter time.Duration
	lock      Locker
	metrics   *telemetry.Metrics
	clock     clockz.Clock
	logger    *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper создаёт Sweeper и проверяет расписание.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	idle := cfg.IdleAfter
	if idle <= 0 {
		idle = defaultIdleAfter
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockz.RealClock
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		executor:  cfg.Executor,
		store:     cfg.Store,
		schedule:  schedule,
		batchSize: batch,
		idleAfter: idle,
		lock:      cfg.Lock,
		metrics:   cfg.Metrics,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Sweep выполняет один проход.
//
// 1. Просроченные in-flight стадии → TimeoutStage
// 2. Активные pipelines с истёкшим backoff или простаивающие → Advance
//
// Ошибка одного pipeline не останавливает проход.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	start := s.clock.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.SweepDuration.Observe(s.clock.Now().Sub(start).Seconds())
		}
	}()

	expired, err := s.store.ListExpiredInFlight(ctx, start, s.batchSize)
	if err != nil {
		return res, fmt.Errorf("list expired in-flight: %w", err)
	}

	for i := range expired {
		p := &expired[i]
		if p.InFlight == nil {
			continue
		}
		_, err := s.executor.TimeoutStage(ctx, p.ID, p.InFlight.Stage, p.InFlight.Attempt)
		switch {
		case err == nil:
			res.TimedOut++
			if s.metrics != nil {
				s.metrics.SweepTimeouts.Inc()
			}
		case IsStale(err) || IsConcurrent(err):
			// Результат пришёл между выборкой и таймаутом
			s.logger.Debug("sweep timeout skipped", "pipeline_id", p.ID, "reason", err)
		default:
			res.Errors++
			s.logger.Error("sweep timeout failed", "pipeline_id", p.ID, "error", err)
		}
	}

	runnable, err := s.store.ListRunnable(ctx, s.clock.Now(), s.clock.Now().Add(-s.idleAfter), s.batchSize)
	if err != nil {
		return res, fmt.Errorf("list runnable: %w", err)
	}

	for i := range runnable {
		p := &runnable[i]
		_, err := s.executor.Advance(ctx, p.ID)
		switch {
		case err == nil:
			res.Advanced++
		case IsConcurrent(err):
			s.logger.Debug("sweep advance skipped", "pipeline_id", p.ID, "reason", err)
		default:
			res.Errors++
			s.logger.Error("sweep advance failed", "pipeline_id", p.ID, "error", err)
		}
	}

	if res.TimedOut > 0 || res.Advanced > 0 || res.Errors > 0 {
		s.logger.Info("sweep completed",
			"timed_out", res.TimedOut,
			"advanced", res.Advanced,
			"errors", res.Errors,
		)
	}
	return res, nil
}

// Start запускает sweep по расписанию.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithParser(sweepParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := c.AddFunc(s.schedule, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("add sweep job: %w", err)
	}

	c.Start()
	s.cron = c

	s.logger.Info("sweeper started", "schedule", s.schedule, "batch_size", s.batchSize)
	return nil
}

// Stop останавливает расписание, дожидается текущего прохода и снимает лидерство.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}

	if s.lock != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.lock.Release(ctx); err != nil {
			s.logger.Warn("failed to release sweeper lock", "error", err)
		}
	}

	s.logger.Info("sweeper stopped")
}

// tick — один запуск по расписанию. Без лидерства проход пропускается.
func (s *Sweeper) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if s.lock != nil {
		leader, err := s.lock.TryAcquire(ctx)
		if err != nil {
			s.logger.Warn("sweeper lock error", "error", err)
			return
		}
		if !leader {
			s.logger.Debug("not the sweep leader, skipping tick")
			return
		}
	}

	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("sweep failed", "error", err)
	}
}

// cronLogger адаптирует slog к cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
