package retry

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shaiso/atelier/internal/domain"
	"github.com/shaiso/atelier/internal/stages"
)

// Decision — решение по неудачной попытке стадии.
//
// Ровно один из путей: Retry (запланировать повтор через Delay)
// или терминальный отказ pipeline.
type Decision struct {
	Retry bool

	// Delay — задержка перед повтором.
	Delay time.Duration

	// RetryCount — значение retryCounts[stage] после решения.
	RetryCount int

	// Class — итоговый класс ошибки.
	Class domain.ErrorClass

	// Reason — текст для lastError.
	Reason string

	// Cause — ErrRetryCeilingReached или ErrNonRetryable для терминальных решений.
	Cause error
}

// Config — конфигурация Controller.
type Config struct {
	// Policies — политики backoff по идентификатору (default: DefaultPolicies()).
	Policies map[string]Policy

	// Rand — источник случайных чисел для jitter (default: rand.Float64).
	Rand func() float64
}

// Controller принимает решение retry vs. terminal и считает backoff.
//
// Controller не изменяет pipeline и не ставит jobs:
// решение применяет orchestrator.Executor.
type Controller struct {
	policies map[string]Policy
	rand     func() float64
}

// NewController создаёт Controller и проверяет, что каждая стадия
// реестра ссылается на существующую корректную политику.
func NewController(cfg Config, registry *stages.Registry) (*Controller, error) {
	policies := cfg.Policies
	if policies == nil {
		policies = DefaultPolicies()
	}

	for id, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: policy %q: %w", stages.ErrInvalidConfig, id, err)
		}
	}

	if registry != nil {
		for _, def := range registry.Definitions() {
			if def.Kind == stages.KindTerminal {
				continue
			}
			if _, ok := policies[def.BackoffPolicy]; !ok {
				return nil, fmt.Errorf("%w: %w: stage %s references %q",
					stages.ErrInvalidConfig, ErrUnknownPolicy, def.Stage, def.BackoffPolicy)
			}
		}
	}

	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.Float64
	}

	return &Controller{
		policies: policies,
		rand:     rnd,
	}, nil
}

// Decide решает судьбу неудачной попытки.
//
// retriesUsed — текущее значение retryCounts[stage].
// failure.Class должен быть уже проставлен классификатором;
// пустой класс считается TRANSIENT.
func (c *Controller) Decide(def stages.Definition, retriesUsed int, failure domain.StageFailure) Decision {
	class := failure.Class
	if class == "" {
		class = domain.ErrorClassTransient
	}
	reason := failure.Reason()

	if !class.Retryable() {
		return Decision{
			Class:      class,
			Reason:     reason,
			RetryCount: retriesUsed,
			Cause:      ErrNonRetryable,
		}
	}

	if retriesUsed >= def.RetryCeiling {
		return Decision{
			Class:      class,
			Reason:     reason,
			RetryCount: retriesUsed,
			Cause:      ErrRetryCeilingReached,
		}
	}

	next := retriesUsed + 1
	return Decision{
		Retry:      true,
		Delay:      c.Backoff(def.BackoffPolicy, next),
		RetryCount: next,
		Class:      class,
		Reason:     reason,
	}
}

// Backoff возвращает задержку для n-го ретрая по политике.
// Неизвестная политика трактуется как "default".
func (c *Controller) Backoff(policyID string, retry int) time.Duration {
	p, ok := c.policies[policyID]
	if !ok {
		p = c.policies["default"]
	}
	if p.Base <= 0 {
		p = DefaultPolicies()["default"]
	}
	return p.Delay(retry, c.rand())
}
