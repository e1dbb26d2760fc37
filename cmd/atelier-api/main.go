// Atelier API — HTTP API оркестратора.
//
// API:
//   - Запускает pipelines для заказов (синхронно или через очередь)
//   - Отдаёт статус pipelines с историей стадий
//   - Принимает подписанные callbacks провайдеров
//   - Административные pause, resume, restage
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/atelier/internal/api"
	"github.com/shaiso/atelier/internal/app"
	"github.com/shaiso/atelier/internal/config"
	"github.com/shaiso/atelier/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("atelier-api")
	logger.Info("starting atelier-api")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	core, err := app.NewCore(ctx, cfg, "atelier-api", logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	var admin api.AdminAuthorizer
	if cfg.AdminToken != "" {
		admin = api.BearerToken(cfg.AdminToken)
	} else {
		logger.Warn("ADMIN_TOKEN is empty, admin endpoints are unprotected")
	}

	var signer *api.Signer
	if len(cfg.CallbackSecrets) > 0 {
		signer = api.NewSigner(cfg.CallbackSecrets)
	} else {
		logger.Warn("CALLBACK_SECRETS is empty, provider callbacks are disabled")
	}

	handler := api.NewHandler(api.Config{
		Pipelines: core.Store,
		Service:   core.Executor,
		Callbacks: core.Gateway,
		Registry:  core.Registry,
		Publisher: core.Publisher,
		Admin:     admin,
		Signer:    signer,
		Logger:    logger,
	})

	mux := app.NewMux()
	handler.RegisterRoutes(mux)

	if err := app.Serve(ctx, cfg.APIPort, mux, logger); err != nil {
		logger.Error("server error", "error", err)
		core.Close()
		os.Exit(1)
	}

	logger.Info("atelier-api stopped")
}
