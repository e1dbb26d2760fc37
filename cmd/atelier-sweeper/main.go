// Atelier Sweeper — периодическая проверка pipelines.
//
// Sweeper:
//   - Снимает in-flight стадии, превысившие max dwell
//   - Продвигает pipelines, чьё сообщение о ретрае потерялось
//   - Среди реплик работает только лидер (pg advisory lock)
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/atelier/internal/app"
	"github.com/shaiso/atelier/internal/config"
	"github.com/shaiso/atelier/internal/orchestrator"
	"github.com/shaiso/atelier/internal/repo"
	"github.com/shaiso/atelier/internal/telemetry"
)

// sweeperLockKey — ключ pg_advisory_lock лидера sweep.
const sweeperLockKey int64 = 0x61746c72

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("atelier-sweeper")
	logger.Info("starting atelier-sweeper")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	core, err := app.NewCore(ctx, cfg, "atelier-sweeper", logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	var lock orchestrator.Locker
	if core.Pool != nil {
		lock = repo.NewLeaderLock(core.Pool, sweeperLockKey)
	}

	sweeper, err := orchestrator.NewSweeper(orchestrator.SweeperConfig{
		Executor:  core.Executor,
		Store:     core.Store,
		Schedule:  cfg.SweepSchedule,
		BatchSize: cfg.SweepBatch,
		IdleAfter: cfg.SweepIdle,
		Lock:      lock,
		Metrics:   core.Metrics,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("invalid sweep configuration", "error", err)
		core.Close()
		os.Exit(1)
	}

	if err := sweeper.Start(ctx); err != nil {
		logger.Error("failed to start sweeper", "error", err)
		core.Close()
		os.Exit(1)
	}

	// /healthz + /metrics
	if err := app.Serve(ctx, cfg.SweeperPort, app.NewMux(), logger); err != nil {
		logger.Error("http server error", "error", err)
	}

	sweeper.Stop()
	logger.Info("atelier-sweeper stopped")
}
