package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/shaiso/atelier/internal/domain"
	"github.com/shaiso/atelier/internal/mq"
)

const defaultPrefetch = 10

// ResultReporter принимает результаты jobs из очереди (gateway.Gateway).
type ResultReporter interface {
	ReportJobResult(ctx context.Context, result domain.JobResult) error
}

// Orchestrator — сервис, связывающий очереди RabbitMQ с Executor.
//
// Consumers:
//   - pipelines.trigger → CreatePipeline
//   - jobs.completed    → ResultReporter (через gateway)
//   - jobs.retry        → Advance
type Orchestrator struct {
	executor *Executor
	reporter ResultReporter
	conn     *mq.Connection
	prefetch int

	consumers []*mq.Consumer

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	Executor *Executor
	Reporter ResultReporter

	// MQ
	Conn     *mq.Connection
	Prefetch int // сообщений на consumer (default: 10)

	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		executor: cfg.Executor,
		reporter: cfg.Reporter,
		conn:     cfg.Conn,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Start запускает consumers.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.IsStopped() {
		return ErrOrchestratorStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator", "prefetch", o.prefetch)

	routes := []struct {
		queue   mq.Queue
		handler mq.Handler
	}{
		{mq.QueuePipelinesTrigger, o.handleTrigger},
		{mq.QueueJobsCompleted, o.handleJobCompleted},
		{mq.QueueJobsRetry, o.handleRetry},
	}

	for _, r := range routes {
		consumer := mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(r.queue),
			Handler:  r.handler,
			Prefetch: o.prefetch,
		})
		o.consumers = append(o.consumers, consumer)

		o.wg.Add(1)
		go func(queue mq.Queue) {
			defer o.wg.Done()
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("consumer error", "queue", queue, "error", err)
			}
		}(r.queue)
	}

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	for _, c := range o.consumers {
		c.Stop()
	}

	// Ждём завершения горутин
	o.wg.Wait()

	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}
