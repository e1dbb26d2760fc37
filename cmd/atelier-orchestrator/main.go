// Atelier Orchestrator — потребляет очереди оркестратора.
//
// Orchestrator:
//   - Создаёт pipelines по триггерам заказов
//   - Принимает результаты jobs от воркеров через Gateway
//   - Продвигает pipelines по истечении backoff
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/atelier/internal/app"
	"github.com/shaiso/atelier/internal/config"
	"github.com/shaiso/atelier/internal/orchestrator"
	"github.com/shaiso/atelier/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("atelier-orchestrator")
	logger.Info("starting atelier-orchestrator")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	core, err := app.NewCore(ctx, cfg, "atelier-orchestrator", logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	orch := orchestrator.New(orchestrator.Config{
		Executor: core.Executor,
		Reporter: core.Gateway,
		Conn:     core.Conn,
		Logger:   logger,
	})

	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		core.Close()
		os.Exit(1)
	}

	// /healthz + /metrics
	if err := app.Serve(ctx, cfg.OrchPort, app.NewMux(), logger); err != nil {
		logger.Error("http server error", "error", err)
	}

	orch.Stop()
	logger.Info("atelier-orchestrator stopped")
}
