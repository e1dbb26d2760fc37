package worker

import (
	"context"
	"fmt"

	"github.com/shaiso/atelier/internal/domain"
)

// Executor — интерфейс для выполнения работы одной стадии.
//
// Реализации: ProviderExecutor (HTTP провайдера), SimulatedExecutor.
type Executor interface {
	Execute(ctx context.Context, job domain.Job) (*ExecutionResult, error)
}

// ExecutionResult — результат выполнения job.
type ExecutionResult struct {
	// Payload — данные провайдера (трекинг, id заказа, ссылка на рендер).
	Payload map[string]any

	// ErrorCode и ErrorMessage — логическая ошибка, о которой сообщил провайдер.
	// Инфраструктурные ошибки возвращаются через error в Execute().
	ErrorCode    string
	ErrorMessage string
}

// Failed возвращает true для логической ошибки.
func (r *ExecutionResult) Failed() bool {
	return r.ErrorCode != "" || r.ErrorMessage != ""
}

// Registry — реестр executor'ов по стадии.
type Registry struct {
	executors map[domain.Stage]Executor
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[domain.Stage]Executor)}
}

// Register добавляет executor для стадии.
func (r *Registry) Register(stage domain.Stage, executor Executor) {
	r.executors[stage] = executor
}

// Get возвращает executor для стадии.
func (r *Registry) Get(stage domain.Stage) (Executor, error) {
	executor, ok := r.executors[stage]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoExecutor, stage)
	}
	return executor, nil
}

// Stages возвращает стадии с зарегистрированными executor'ами.
func (r *Registry) Stages() []domain.Stage {
	out := make([]domain.Stage, 0, len(r.executors))
	for stage := range r.executors {
		out = append(out, stage)
	}
	return out
}
