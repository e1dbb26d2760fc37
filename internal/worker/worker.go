package worker

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/shaiso/atelier/internal/domain"
	"github.com/shaiso/atelier/internal/mq"
	"github.com/shaiso/atelier/internal/stages"
	"github.com/zoobzio/clockz"
)

// Default configuration values.
const (
	defaultPrefetch = 5
)

// ResultPublisher публикует результат job в jobs.completed (mq.Publisher).
type ResultPublisher interface {
	PublishJobResult(ctx context.Context, result domain.JobResult) error
}

// Worker выполняет jobs стадий.
//
// Worker — stateless компонент системы, который:
//   - Получает jobs из очередей стадий jobs.<queue>
//   - Выполняет job executor'ом стадии (HTTP провайдера)
//   - Отправляет результат в очередь jobs.completed
//
// Повторы решает оркестратор: воркер сообщает об ошибке и не ретраит сам.
// Workers масштабируются горизонтально — несколько экземпляров
// могут потреблять из одной очереди.
type Worker struct {
	// MQ
	publisher ResultPublisher
	conn      *mq.Connection
	prefetch  int

	// Executor registry
	registry *Registry
	stages   *stages.Registry

	// Consumers
	consumers []*mq.Consumer

	clock clockz.Clock

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// MQ
	Publisher ResultPublisher
	Conn      *mq.Connection
	Prefetch  int // сообщений на consumer (default: 5)

	// Registry — executor'ы по стадиям. Воркер слушает очереди только этих стадий.
	Registry *Registry

	// Stages — реестр стадий для имён очередей (default: stages.NewDefault()).
	Stages *stages.Registry

	Clock  clockz.Clock
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	stageRegistry := cfg.Stages
	if stageRegistry == nil {
		stageRegistry = stages.NewDefault()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockz.RealClock
	}

	return &Worker{
		publisher: cfg.Publisher,
		conn:      cfg.Conn,
		prefetch:  prefetch,
		registry:  registry,
		stages:    stageRegistry,
		clock:     clock,
		logger:    logger,
	}
}

// Queues возвращает очереди, которые слушает воркер, в порядке стадий.
func (w *Worker) Queues() []mq.Queue {
	handled := w.registry.Stages()

	var queues []mq.Queue
	for _, def := range w.stages.Definitions() {
		if def.Kind != stages.KindDispatch || !slices.Contains(handled, def.Stage) {
			continue
		}
		queues = append(queues, mq.StageQueue(def.Queue))
	}
	return queues
}

// Start запускает consumers очередей стадий.
func (w *Worker) Start(ctx context.Context) error {
	if w.IsStopped() {
		return ErrWorkerStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	queues := w.Queues()
	w.logger.Info("starting worker",
		"queues", queues,
		"prefetch", w.prefetch,
	)

	for _, queue := range queues {
		consumer := mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    string(queue),
			Handler:  w.handleJob,
			Prefetch: w.prefetch,
		})
		w.consumers = append(w.consumers, consumer)

		w.wg.Add(1)
		go func(queue mq.Queue) {
			defer w.wg.Done()
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("job consumer error", "queue", queue, "error", err)
			}
		}(queue)
	}

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	for _, c := range w.consumers {
		c.Stop()
	}

	// Ждём завершения горутин
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}
