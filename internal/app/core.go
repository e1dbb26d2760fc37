// Package app собирает общие компоненты сервисов Atelier.
//
// atelier-api, atelier-orchestrator и atelier-sweeper работают с одним
// и тем же ядром: хранилище pipelines, dedupe ledger, Dispatcher,
// Stage Executor и Gateway. NewCore подключает инфраструктуру по
// config.Config и собирает ядро, Close освобождает соединения.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/atelier/internal/config"
	"github.com/shaiso/atelier/internal/dispatch"
	"github.com/shaiso/atelier/internal/domain"
	"github.com/shaiso/atelier/internal/gateway"
	"github.com/shaiso/atelier/internal/mq"
	"github.com/shaiso/atelier/internal/orchestrator"
	"github.com/shaiso/atelier/internal/repo"
	"github.com/shaiso/atelier/internal/retry"
	"github.com/shaiso/atelier/internal/stages"
	"github.com/shaiso/atelier/internal/telemetry"
)

// Store — хранилище pipelines со списком для API.
type Store interface {
	orchestrator.Store
	List(ctx context.Context, filter repo.PipelineFilter) ([]domain.Pipeline, error)
}

// Publisher — исходящие сообщения ядра (mq.Publisher).
type Publisher interface {
	dispatch.JobPublisher
	telemetry.EventPublisher
	PublishTrigger(ctx context.Context, orderID string) error
}

// Core — собранное ядро оркестратора.
type Core struct {
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
	Registry *stages.Registry

	Store     Store
	Publisher Publisher
	Executor  *orchestrator.Executor
	Gateway   *gateway.Gateway

	// Pool — пул PostgreSQL (nil при STORE=memory).
	Pool *pgxpool.Pool

	// Conn — соединение с RabbitMQ.
	Conn *mq.Connection

	closers []func()
}

// Deps — готовая инфраструктура для Assemble.
type Deps struct {
	Store     Store
	Ledger    dispatch.Ledger
	Publisher Publisher
	Metrics   *telemetry.Metrics
}

// NewCore подключает PostgreSQL (или память), Redis и RabbitMQ и собирает ядро.
// service — имя процесса для RabbitMQ client properties.
func NewCore(ctx context.Context, cfg *config.Config, service string, logger *slog.Logger) (*Core, error) {
	registry, err := cfg.File.Registry()
	if err != nil {
		return nil, err
	}

	core := &Core{}
	fail := func(err error) (*Core, error) {
		core.Close()
		return nil, err
	}

	var (
		store  Store
		ledger dispatch.Ledger
	)
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store, state is lost on restart")
		store = repo.NewMemoryPipelineRepo()
		ledger = dispatch.NewMemoryLedger(nil)
	default:
		pool, err := repo.NewPool(ctx, cfg.DBURL)
		if err != nil {
			return fail(fmt.Errorf("connect database: %w", err))
		}
		core.Pool = pool
		core.closers = append(core.closers, pool.Close)
		logger.Info("database connected")

		rdb, err := dispatch.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		core.closers = append(core.closers, func() { _ = rdb.Close() })
		logger.Info("redis connected", "addr", cfg.RedisAddr)

		store = repo.NewPipelineRepo(pool)
		ledger = dispatch.NewRedisLedger(rdb, "")
	}

	conn, err := mq.NewConnection(cfg.RabbitMQURL, service, logger)
	if err != nil {
		return fail(fmt.Errorf("connect rabbitmq: %w", err))
	}
	core.Conn = conn
	core.closers = append(core.closers, func() { _ = conn.Close() })
	logger.Info("rabbitmq connected")

	if err := mq.SetupTopology(ctx, conn, registry.Queues()); err != nil {
		return fail(fmt.Errorf("setup topology: %w", err))
	}

	assembled, err := Assemble(cfg, registry, Deps{
		Store:     store,
		Ledger:    ledger,
		Publisher: mq.NewPublisher(conn, logger),
		Metrics:   telemetry.NewMetrics(nil),
	}, logger)
	if err != nil {
		return fail(err)
	}

	assembled.Pool = core.Pool
	assembled.Conn = core.Conn
	assembled.closers = core.closers
	return assembled, nil
}

// Assemble собирает ядро поверх готовой инфраструктуры.
func Assemble(cfg *config.Config, registry *stages.Registry, deps Deps, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}

	retryCtl, err := retry.NewController(cfg.File.RetryConfig(), registry)
	if err != nil {
		return nil, err
	}

	classifier, err := cfg.File.Classifier()
	if err != nil {
		return nil, err
	}

	var authorizer gateway.Authorizer = gateway.AllowAll
	if len(cfg.File.SourceNames()) > 0 {
		policy, err := cfg.File.SourcePolicy()
		if err != nil {
			return nil, err
		}
		authorizer = policy
	}

	hooks := telemetry.NewEmitter(logger, telemetry.LogHook{Logger: logger})
	if deps.Metrics != nil {
		hooks.Add(telemetry.MetricsHook{Metrics: deps.Metrics})
	}
	hooks.Add(telemetry.BrokerHook{Publisher: deps.Publisher})

	dispatcher := dispatch.New(dispatch.Config{
		Registry:  registry,
		Ledger:    deps.Ledger,
		Publisher: deps.Publisher,
		Metrics:   deps.Metrics,
		Logger:    logger,
	})

	executor := orchestrator.NewExecutor(orchestrator.ExecutorConfig{
		Store:      deps.Store,
		Registry:   registry,
		Retry:      retryCtl,
		Dispatcher: dispatcher,
		Hooks:      hooks,
		Logger:     logger,
	})

	gw := gateway.New(gateway.Config{
		Registry:   registry,
		Store:      deps.Store,
		Executor:   executor,
		Classifier: classifier,
		Authorizer: authorizer,
		Metrics:    deps.Metrics,
		Logger:     logger,
	})

	return &Core{
		Config:    cfg,
		Logger:    logger,
		Metrics:   deps.Metrics,
		Registry:  registry,
		Store:     deps.Store,
		Publisher: deps.Publisher,
		Executor:  executor,
		Gateway:   gw,
	}, nil
}

// Close закрывает соединения в обратном порядке.
func (c *Core) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
