// Atelier Worker — выполняет jobs стадий.
//
// Worker:
//   - Слушает очереди стадий из WORKER_STAGES (пусто — все стадии с очередью)
//   - Вызывает провайдера стадии по PROVIDER_URL_<STAGE>
//   - Без адреса провайдера выполняет job в режиме симуляции
//   - Публикует результат в jobs.completed
package main

import (
	"context"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/shaiso/atelier/internal/app"
	"github.com/shaiso/atelier/internal/config"
	"github.com/shaiso/atelier/internal/mq"
	"github.com/shaiso/atelier/internal/stages"
	"github.com/shaiso/atelier/internal/telemetry"
	"github.com/shaiso/atelier/internal/worker"
)

// simulatedDelay — длительность job без провайдера.
const simulatedDelay = 2 * time.Second

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("atelier-worker")
	logger.Info("starting atelier-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	registry, err := cfg.File.Registry()
	if err != nil {
		logger.Error("invalid stage configuration", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// RabbitMQ
	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, "atelier-worker", logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("rabbitmq connected")

	if err := mq.SetupTopology(ctx, mqConn, registry.Queues()); err != nil {
		logger.Error("failed to setup topology", "error", err)
		mqConn.Close()
		os.Exit(1)
	}

	// Executors стадий
	executors := worker.NewRegistry()
	for _, def := range registry.Definitions() {
		if def.Kind != stages.KindDispatch {
			continue
		}
		if len(cfg.WorkerStages) > 0 && !slices.Contains(cfg.WorkerStages, def.Stage) {
			continue
		}
		if url := cfg.ProviderURLs[def.Stage]; url != "" {
			executors.Register(def.Stage, &worker.ProviderExecutor{URL: url})
			logger.Info("stage executor registered", "stage", def.Stage, "provider_url", url)
			continue
		}
		executors.Register(def.Stage, &worker.SimulatedExecutor{Delay: simulatedDelay})
		logger.Warn("no provider url, stage runs in simulation mode", "stage", def.Stage)
	}

	w := worker.New(worker.Config{
		Publisher: mq.NewPublisher(mqConn, logger),
		Conn:      mqConn,
		Registry:  executors,
		Stages:    registry,
		Logger:    logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		mqConn.Close()
		os.Exit(1)
	}

	// /healthz + /metrics
	if err := app.Serve(ctx, cfg.WorkerPort, app.NewMux(), logger); err != nil {
		logger.Error("http server error", "error", err)
	}

	w.Stop()
	logger.Info("atelier-worker stopped")
}
