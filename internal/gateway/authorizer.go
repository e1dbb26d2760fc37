package gateway

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/shaiso/atelier/internal/domain"
)

// WorkerSourcePrefix — префикс источника результатов из очереди воркеров.
const WorkerSourcePrefix = "worker:"

// WorkerSource возвращает имя источника для воркера стадии.
func WorkerSource(stage domain.Stage) string {
	return WorkerSourcePrefix + strings.ToLower(string(stage))
}

// Authorizer решает, может ли источник сообщать о стадии pipeline.
type Authorizer interface {
	Authorize(ctx context.Context, source string, cb Callback) error
}

// AuthorizerFunc — адаптер функции к Authorizer.
type AuthorizerFunc func(ctx context.Context, source string, cb Callback) error

func (f AuthorizerFunc) Authorize(ctx context.Context, source string, cb Callback) error {
	return f(ctx, source, cb)
}

// AllowAll пропускает любой источник. Только для тестов и локального запуска.
var AllowAll Authorizer = AuthorizerFunc(func(context.Context, string, Callback) error { return nil })

// SourcePolicy — разрешённые стадии для каждого источника.
//
// Воркер стадии ("worker:rendering") всегда может сообщать о своей
// стадии, даже если его нет в политике.
type SourcePolicy struct {
	allowed map[string][]domain.Stage
}

// NewSourcePolicy создаёт политику из таблицы источник → стадии.
func NewSourcePolicy(allowed map[string][]domain.Stage) *SourcePolicy {
	p := &SourcePolicy{allowed: make(map[string][]domain.Stage, len(allowed))}
	for source, list := range allowed {
		p.allowed[strings.ToLower(strings.TrimSpace(source))] = slices.Clone(list)
	}
	return p
}

// Authorize реализует Authorizer.
func (p *SourcePolicy) Authorize(_ context.Context, source string, cb Callback) error {
	source = strings.ToLower(strings.TrimSpace(source))
	if source == "" {
		return fmt.Errorf("%w: empty source", ErrUnauthorized)
	}
	if source == WorkerSource(cb.Stage) {
		return nil
	}
	if slices.Contains(p.allowed[source], cb.Stage) {
		return nil
	}
	return fmt.Errorf("%w: %s may not report %s", ErrUnauthorized, source, cb.Stage)
}

// Sources возвращает известные источники (для проверки секретов).
func (p *SourcePolicy) Sources() []string {
	out := make([]string, 0, len(p.allowed))
	for source := range p.allowed {
		out = append(out, source)
	}
	slices.Sort(out)
	return out
}
