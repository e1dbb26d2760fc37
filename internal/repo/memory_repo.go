package repo

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/atelier/internal/domain"
)

// MemoryPipelineRepo — хранилище pipelines в памяти.
//
// Семантика совпадает с PipelineRepo: compare-and-swap по version,
// один живой pipeline на заказ, только дописываемая история.
// Используется в тестах и при STORE=memory.
type MemoryPipelineRepo struct {
	mu        sync.RWMutex
	pipelines map[uuid.UUID]*domain.Pipeline
}

// NewMemoryPipelineRepo создаёт пустое хранилище.
func NewMemoryPipelineRepo() *MemoryPipelineRepo {
	return &MemoryPipelineRepo{
		pipelines: make(map[uuid.UUID]*domain.Pipeline),
	}
}

// Create создаёт pipeline.
func (r *MemoryPipelineRepo) Create(_ context.Context, p *domain.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pipelines[p.ID]; exists {
		return fmt.Errorf("%w: pipeline %s", ErrAlreadyExists, p.ID)
	}
	if p.Status != domain.PipelineStatusFailed && r.liveForOrder(p.OrderID, uuid.Nil) != nil {
		return fmt.Errorf("%w: live pipeline for order %s", ErrAlreadyExists, p.OrderID)
	}

	p.MarkHistorySaved()
	r.pipelines[p.ID] = p.Clone()
	return nil
}

// GetByID возвращает копию pipeline.
func (r *MemoryPipelineRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pipelines[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// GetLiveByOrderID возвращает живой pipeline заказа.
func (r *MemoryPipelineRepo) GetLiveByOrderID(_ context.Context, orderID string) (*domain.Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p := r.liveForOrder(orderID, uuid.Nil)
	if p == nil {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// Save сохраняет pipeline с проверкой version.
func (r *MemoryPipelineRepo) Save(_ context.Context, p *domain.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.pipelines[p.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != p.Version {
		return fmt.Errorf("%w: pipeline %s at version %d", ErrVersionConflict, p.ID, p.Version)
	}
	if len(p.StageHistory) < len(stored.StageHistory) {
		return fmt.Errorf("%w: history of %s was truncated", ErrInvalidState, p.ID)
	}
	if p.Status != domain.PipelineStatusFailed && r.liveForOrder(p.OrderID, p.ID) != nil {
		return fmt.Errorf("%w: live pipeline for order %s", ErrAlreadyExists, p.OrderID)
	}

	p.Version++
	p.MarkHistorySaved()
	r.pipelines[p.ID] = p.Clone()
	return nil
}

// ListExpiredInFlight возвращает pipelines с истёкшим in-flight deadline.
func (r *MemoryPipelineRepo) ListExpiredInFlight(_ context.Context, now time.Time, limit int) ([]domain.Pipeline, error) {
	return r.filter(limit, func(p *domain.Pipeline) bool {
		if p.InFlight == nil || p.Status.IsTerminal() {
			return false
		}
		return !p.InFlight.Deadline.After(now)
	}, func(a, b *domain.Pipeline) int {
		return a.InFlight.Deadline.Compare(b.InFlight.Deadline)
	}), nil
}

// ListRunnable возвращает активные pipelines, готовые к advance.
func (r *MemoryPipelineRepo) ListRunnable(_ context.Context, now, idleBefore time.Time, limit int) ([]domain.Pipeline, error) {
	return r.filter(limit, func(p *domain.Pipeline) bool {
		if p.Status != domain.PipelineStatusActive || p.InFlight != nil {
			return false
		}
		if p.RetryAt != nil && p.RetryAt.After(now) {
			return false
		}
		return !p.UpdatedAt.After(idleBefore)
	}, func(a, b *domain.Pipeline) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	}), nil
}

// List возвращает pipelines по фильтру, новые первыми.
func (r *MemoryPipelineRepo) List(_ context.Context, filter PipelineFilter) ([]domain.Pipeline, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	all := r.filter(0, func(p *domain.Pipeline) bool {
		if filter.Status != "" && p.Status != filter.Status {
			return false
		}
		return filter.Stage == "" || p.CurrentStage == filter.Stage
	}, func(a, b *domain.Pipeline) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if filter.Offset >= len(all) {
		return nil, nil
	}
	all = all[filter.Offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// liveForOrder ищет живой pipeline заказа, кроме exclude. Вызывается под блокировкой.
func (r *MemoryPipelineRepo) liveForOrder(orderID string, exclude uuid.UUID) *domain.Pipeline {
	for id, p := range r.pipelines {
		if id != exclude && p.OrderID == orderID && p.Status != domain.PipelineStatusFailed {
			return p
		}
	}
	return nil
}

// filter возвращает отсортированные копии подходящих pipelines.
func (r *MemoryPipelineRepo) filter(limit int, match func(*domain.Pipeline) bool, cmp func(a, b *domain.Pipeline) int) []domain.Pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*domain.Pipeline
	for _, p := range r.pipelines {
		if match(p) {
			matched = append(matched, p)
		}
	}
	slices.SortFunc(matched, cmp)

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]domain.Pipeline, len(matched))
	for i, p := range matched {
		out[i] = *p.Clone()
	}
	return out
}
