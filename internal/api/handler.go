package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/atelier/internal/domain"
	"github.com/shaiso/atelier/internal/gateway"
	"github.com/shaiso/atelier/internal/repo"
	"github.com/shaiso/atelier/internal/stages"
)

// PipelineReader — чтение pipelines (repo.PipelineRepo, repo.MemoryPipelineRepo).
type PipelineReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error)
	GetLiveByOrderID(ctx context.Context, orderID string) (*domain.Pipeline, error)
	List(ctx context.Context, filter repo.PipelineFilter) ([]domain.Pipeline, error)
}

// PipelineService — операции над pipelines (orchestrator.Executor).
type PipelineService interface {
	CreatePipeline(ctx context.Context, orderID string) (*domain.Pipeline, bool, error)
	Pause(ctx context.Context, id uuid.UUID, reason string) (*domain.Pipeline, error)
	Resume(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error)
	Restage(ctx context.Context, id uuid.UUID, stage domain.Stage, reason string) (*domain.Pipeline, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.Pipeline, error)
}

// CallbackReporter — приём результатов стадий (gateway.Gateway).
type CallbackReporter interface {
	Report(ctx context.Context, cb gateway.Callback) (gateway.Result, error)
}

// TriggerPublisher — асинхронный триггер заказа через очередь (mq.Publisher).
type TriggerPublisher interface {
	PublishTrigger(ctx context.Context, orderID string) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	pipelines PipelineReader
	service   PipelineService
	callbacks CallbackReporter
	publisher TriggerPublisher
	registry  *stages.Registry
	admin     AdminAuthorizer
	signer    *Signer
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Pipelines PipelineReader
	Service   PipelineService
	Callbacks CallbackReporter
	Registry  *stages.Registry

	// Publisher — опционален; без него асинхронный триггер недоступен.
	Publisher TriggerPublisher

	// Admin — проверка административных запросов (nil — без проверки).
	Admin AdminAuthorizer

	// Signer — проверка подписи callbacks (nil — callbacks отключены).
	Signer *Signer

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = stages.NewDefault()
	}

	return &Handler{
		pipelines: cfg.Pipelines,
		service:   cfg.Service,
		callbacks: cfg.Callbacks,
		publisher: cfg.Publisher,
		registry:  registry,
		admin:     cfg.Admin,
		signer:    cfg.Signer,
		logger:    logger,
	}
}
