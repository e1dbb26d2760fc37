package stages

import (
	"fmt"
	"slices"
	"time"

	"github.com/shaiso/atelier/internal/domain"
)

// Kind — способ выполнения стадии.
type Kind string

const (
	// KindAutoComplete — внешняя работа не нужна, стадия завершается сразу при входе.
	KindAutoComplete Kind = "AUTO_COMPLETE"

	// KindAwaitEvent — стадия ждёт внешнего события (callback), job не ставится.
	KindAwaitEvent Kind = "AWAIT_EVENT"

	// KindDispatch — стадия требует job для воркера.
	KindDispatch Kind = "DISPATCH"

	// KindTerminal — финальная стадия, вход в неё завершает pipeline.
	KindTerminal Kind = "TERMINAL"
)

// Definition — описание стадии.
type Definition struct {
	Stage   domain.Stage
	Ordinal int
	Kind    Kind

	// RetryCeiling — сколько ретраев разрешено после первой попытки.
	RetryCeiling int

	// BackoffPolicy — идентификатор политики backoff в retry.Controller.
	BackoffPolicy string

	// MaxDwell — сколько стадия может быть in-flight до таймаута.
	MaxDwell time.Duration

	// Queue — routing key очереди воркера (для KindDispatch).
	Queue string

	// Provider — таблица классификации ошибок провайдера.
	Provider string
}

// RequiresWork возвращает true, если стадия ждёт внешнего результата.
func (d Definition) RequiresWork() bool {
	return d.Kind == KindAwaitEvent || d.Kind == KindDispatch
}

// Override — переопределение параметров стадии из конфигурации.
// Порядок и состав стадий переопределить нельзя.
type Override struct {
	RetryCeiling  *int
	BackoffPolicy string
	MaxDwell      time.Duration
	Provider      string
}

// Registry — статический упорядоченный реестр стадий.
//
// После создания не изменяется, поэтому безопасен для
// конкурентного чтения без блокировок.
type Registry struct {
	defs  []Definition
	index map[domain.Stage]int
}

// Defaults возвращает стандартный набор стадий производства.
func Defaults() []Definition {
	return []Definition{
		{
			Stage:         domain.StageValidation,
			Kind:          KindAutoComplete,
			BackoffPolicy: "default",
		},
		{
			Stage:         domain.StageDesignLock,
			Kind:          KindAwaitEvent,
			RetryCeiling:  3,
			BackoffPolicy: "default",
			MaxDwell:      72 * time.Hour,
			Provider:      "design",
		},
		{
			Stage:         domain.StageRendering,
			Kind:          KindDispatch,
			RetryCeiling:  3,
			BackoffPolicy: "render",
			MaxDwell:      30 * time.Minute,
			Queue:         "rendering",
			Provider:      "render",
		},
		{
			Stage:         domain.StageProductionSubmission,
			Kind:          KindDispatch,
			RetryCeiling:  5,
			BackoffPolicy: "provider",
			MaxDwell:      time.Hour,
			Queue:         "production_submission",
			Provider:      "manufacturing",
		},
		{
			Stage:         domain.StageFulfillment,
			Kind:          KindDispatch,
			RetryCeiling:  5,
			BackoffPolicy: "provider",
			MaxDwell:      24 * time.Hour,
			Queue:         "fulfillment",
			Provider:      "fulfillment",
		},
		{
			Stage: domain.StageCompleted,
			Kind:  KindTerminal,
		},
	}
}

// New создаёт реестр из упорядоченного списка стадий.
// Ordinal выставляется по позиции в списке.
//
// Ошибки конфигурации оборачивают ErrInvalidConfig.
func New(defs []Definition) (*Registry, error) {
	r := &Registry{
		defs:  make([]Definition, len(defs)),
		index: make(map[domain.Stage]int, len(defs)),
	}

	for i, def := range defs {
		def.Ordinal = i
		r.defs[i] = def
		if _, dup := r.index[def.Stage]; dup {
			return nil, fmt.Errorf("%w: duplicate stage %s", ErrInvalidConfig, def.Stage)
		}
		r.index[def.Stage] = i
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewDefault создаёт реестр со стандартными стадиями.
func NewDefault() *Registry {
	r, err := New(Defaults())
	if err != nil {
		panic(err)
	}
	return r
}

// Validate проверяет согласованность реестра.
func (r *Registry) Validate() error {
	if len(r.defs) < 2 {
		return fmt.Errorf("%w: at least one working stage and a terminal stage required", ErrInvalidConfig)
	}

	for i, def := range r.defs {
		if def.Stage == "" {
			return fmt.Errorf("%w: stage at position %d has no name", ErrInvalidConfig, i)
		}

		last := i == len(r.defs)-1
		if def.Kind == KindTerminal && !last {
			return fmt.Errorf("%w: terminal stage %s must be last", ErrInvalidConfig, def.Stage)
		}
		if last && def.Kind != KindTerminal {
			return fmt.Errorf("%w: last stage %s must be terminal", ErrInvalidConfig, def.Stage)
		}

		switch def.Kind {
		case KindAutoComplete, KindTerminal:
		case KindAwaitEvent, KindDispatch:
			if def.MaxDwell <= 0 {
				return fmt.Errorf("%w: stage %s needs a positive max dwell", ErrInvalidConfig, def.Stage)
			}
			if def.Kind == KindDispatch && def.Queue == "" {
				return fmt.Errorf("%w: dispatch stage %s has no queue", ErrInvalidConfig, def.Stage)
			}
		default:
			return fmt.Errorf("%w: stage %s has unknown kind %q", ErrInvalidConfig, def.Stage, def.Kind)
		}

		if def.RetryCeiling < 0 {
			return fmt.Errorf("%w: stage %s has negative retry ceiling", ErrInvalidConfig, def.Stage)
		}
		if def.Kind != KindTerminal && def.BackoffPolicy == "" {
			return fmt.Errorf("%w: stage %s has no backoff policy", ErrInvalidConfig, def.Stage)
		}
	}

	return nil
}

// Apply возвращает новый реестр с применёнными переопределениями.
func (r *Registry) Apply(overrides map[domain.Stage]Override) (*Registry, error) {
	defs := r.Definitions()

	for stage, o := range overrides {
		i, ok := r.index[stage]
		if !ok {
			return nil, fmt.Errorf("%w: %w: %s", ErrInvalidConfig, ErrUnknownStage, stage)
		}
		if defs[i].Kind == KindTerminal {
			return nil, fmt.Errorf("%w: terminal stage %s cannot be overridden", ErrInvalidConfig, stage)
		}
		if o.RetryCeiling != nil {
			defs[i].RetryCeiling = *o.RetryCeiling
		}
		if o.BackoffPolicy != "" {
			defs[i].BackoffPolicy = o.BackoffPolicy
		}
		if o.MaxDwell != 0 {
			defs[i].MaxDwell = o.MaxDwell
		}
		if o.Provider != "" {
			defs[i].Provider = o.Provider
		}
	}

	return New(defs)
}

// Get возвращает описание стадии.
func (r *Registry) Get(stage domain.Stage) (Definition, error) {
	i, ok := r.index[stage]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}
	return r.defs[i], nil
}

// MustGet возвращает описание стадии или паникует.
// Только для стадий, уже прошедших проверку Has/Get.
func (r *Registry) MustGet(stage domain.Stage) Definition {
	def, err := r.Get(stage)
	if err != nil {
		panic(err)
	}
	return def
}

// Has проверяет, есть ли стадия в реестре.
func (r *Registry) Has(stage domain.Stage) bool {
	_, ok := r.index[stage]
	return ok
}

// Next возвращает стадию, следующую за указанной.
func (r *Registry) Next(stage domain.Stage) (domain.Stage, error) {
	i, ok := r.index[stage]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}
	if i+1 >= len(r.defs) {
		return "", fmt.Errorf("%w: %s", ErrNoNextStage, stage)
	}
	return r.defs[i+1].Stage, nil
}

// Initial возвращает начальную стадию.
func (r *Registry) Initial() domain.Stage {
	return r.defs[0].Stage
}

// Ordinal возвращает позицию стадии или -1.
func (r *Registry) Ordinal(stage domain.Stage) int {
	i, ok := r.index[stage]
	if !ok {
		return -1
	}
	return i
}

// Len возвращает количество стадий.
func (r *Registry) Len() int {
	return len(r.defs)
}

// Stages возвращает стадии в порядке выполнения.
func (r *Registry) Stages() []domain.Stage {
	out := make([]domain.Stage, len(r.defs))
	for i, def := range r.defs {
		out[i] = def.Stage
	}
	return out
}

// Definitions возвращает копию описаний стадий.
func (r *Registry) Definitions() []Definition {
	return slices.Clone(r.defs)
}

// Progress возвращает прогресс pipeline в процентах.
func (r *Registry) Progress(p *domain.Pipeline) int {
	if p.Status == domain.PipelineStatusCompleted {
		return 100
	}
	i, ok := r.index[p.CurrentStage]
	if !ok || len(r.defs) < 2 {
		return 0
	}
	return i * 100 / (len(r.defs) - 1)
}

// Queues возвращает очереди воркеров для стадий KindDispatch.
func (r *Registry) Queues() []string {
	var out []string
	for _, def := range r.defs {
		if def.Kind == KindDispatch && def.Queue != "" {
			out = append(out, def.Queue)
		}
	}
	return out
}
