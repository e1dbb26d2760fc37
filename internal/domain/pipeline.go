package domain

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Pipeline — экземпляр производственного процесса для одного заказа.
//
// Pipeline создаётся триггером заказа и изменяется только
// через orchestrator.Executor. Конкурентные записи разрешаются
// compare-and-swap по полю Version.
type Pipeline struct {
	// ID — уникальный идентификатор pipeline.
	ID uuid.UUID `json:"id"`

	// OrderID — ссылка на внешний заказ.
	OrderID string `json:"order_id"`

	// CurrentStage — стадия, на которой находится pipeline.
	CurrentStage Stage `json:"current_stage"`

	// Status — статус pipeline.
	Status PipelineStatus `json:"status"`

	// StageHistory — история попыток стадий. Только дописывается.
	StageHistory []StageRecord `json:"stage_history"`

	// RetryCounts — число использованных ретраев по стадиям.
	RetryCounts map[Stage]int `json:"retry_counts"`

	// LastError — последняя ошибка текущей стадии.
	LastError string `json:"last_error,omitempty"`

	// InFlight — маркер стадии, ожидающей результата. nil, если ничего не ждём.
	InFlight *InFlight `json:"in_flight,omitempty"`

	// RetryAt — время, раньше которого стадию нельзя запускать повторно.
	RetryAt *time.Time `json:"retry_at,omitempty"`

	// Epoch — счётчик административных restage.
	Epoch int `json:"epoch"`

	// PauseReason — причина ручной остановки.
	PauseReason string `json:"pause_reason,omitempty"`

	// Version — версия записи для optimistic concurrency.
	Version int64 `json:"version"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`

	// savedHistory — сколько записей истории уже сохранено в хранилище.
	savedHistory int
}

// InFlight — стадия, отправленная на внешнюю работу.
type InFlight struct {
	Stage     Stage     `json:"stage"`
	Attempt   int       `json:"attempt"`
	DedupeKey string    `json:"dedupe_key,omitempty"`
	Since     time.Time `json:"since"`
	Deadline  time.Time `json:"deadline"`
}

// StageRecord — запись истории: одна разрешённая попытка стадии.
//
// Ключ записи — (pipeline, stage, attempt).
type StageRecord struct {
	Stage      Stage          `json:"stage"`
	Attempt    int            `json:"attempt"`
	Epoch      int            `json:"epoch"`
	EnteredAt  time.Time      `json:"entered_at"`
	ExitedAt   time.Time      `json:"exited_at"`
	Outcome    StageOutcome   `json:"outcome"`
	Resolution Resolution     `json:"resolution"`
	Error      string         `json:"error,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NewPipeline создаёт pipeline на начальной стадии.
func NewPipeline(orderID string, initial Stage, now time.Time) *Pipeline {
	return &Pipeline{
		ID:           uuid.New(),
		OrderID:      orderID,
		CurrentStage: initial,
		Status:       PipelineStatusActive,
		RetryCounts:  make(map[Stage]int),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsInFlight возвращает true, если какая-то стадия ожидает результата.
func (p *Pipeline) IsInFlight() bool {
	return p.InFlight != nil
}

// NextAttempt возвращает номер следующей попытки стадии.
//
// Номер считается по истории, поэтому не повторяется
// даже после restage.
func (p *Pipeline) NextAttempt(stage Stage) int {
	n := 0
	for _, rec := range p.StageHistory {
		if rec.Stage == stage {
			n++
		}
	}
	return n + 1
}

// AppendHistory дописывает запись в историю.
func (p *Pipeline) AppendHistory(rec StageRecord) {
	p.StageHistory = append(p.StageHistory, rec)
}

// UnsavedHistory возвращает записи, ещё не сохранённые в хранилище.
func (p *Pipeline) UnsavedHistory() []StageRecord {
	if p.savedHistory >= len(p.StageHistory) {
		return nil
	}
	return p.StageHistory[p.savedHistory:]
}

// MarkHistorySaved отмечает всю историю как сохранённую.
func (p *Pipeline) MarkHistorySaved() {
	p.savedHistory = len(p.StageHistory)
}

// HasEntered возвращает true, если pipeline когда-либо был на стадии.
func (p *Pipeline) HasEntered(stage Stage) bool {
	if p.CurrentStage == stage {
		return true
	}
	for _, rec := range p.StageHistory {
		if rec.Stage == stage {
			return true
		}
	}
	return false
}

// SucceededVia возвращает true, если в текущей эпохе стадия успешно
// завершилась указанным способом.
func (p *Pipeline) SucceededVia(stage Stage, resolution Resolution) bool {
	for _, rec := range p.StageHistory {
		if rec.Stage == stage && rec.Epoch == p.Epoch &&
			rec.Outcome == OutcomeSuccess && rec.Resolution == resolution {
			return true
		}
	}
	return false
}

// MarkInFlight ставит маркер ожидания результата стадии.
func (p *Pipeline) MarkInFlight(stage Stage, attempt int, dedupeKey string, now, deadline time.Time) {
	p.InFlight = &InFlight{
		Stage:     stage,
		Attempt:   attempt,
		DedupeKey: dedupeKey,
		Since:     now,
		Deadline:  deadline,
	}
	p.RetryAt = nil
}

// MoveTo переводит pipeline на стадию и сбрасывает состояние предыдущей.
func (p *Pipeline) MoveTo(stage Stage) {
	p.CurrentStage = stage
	p.InFlight = nil
	p.RetryAt = nil
	p.LastError = ""
	p.RetryCounts[stage] = 0
}

// MarkCompleted переводит pipeline в COMPLETED и архивирует его.
func (p *Pipeline) MarkCompleted(now time.Time) {
	p.Status = PipelineStatusCompleted
	p.InFlight = nil
	p.RetryAt = nil
	p.CompletedAt = &now
	p.ArchivedAt = &now
}

// CancelPrefix начинает LastError отменённого pipeline.
const CancelPrefix = "cancelled: "

// MarkCancelled переводит pipeline в FAILED с причиной отмены.
func (p *Pipeline) MarkCancelled(reason string, now time.Time) {
	p.MarkFailed(CancelPrefix+reason, now)
}

// IsCancelled возвращает true для административно отменённого pipeline.
func (p *Pipeline) IsCancelled() bool {
	return p.Status == PipelineStatusFailed && strings.HasPrefix(p.LastError, CancelPrefix)
}

// MarkFailed переводит pipeline в FAILED и архивирует его.
func (p *Pipeline) MarkFailed(reason string, now time.Time) {
	p.Status = PipelineStatusFailed
	p.LastError = reason
	p.InFlight = nil
	p.RetryAt = nil
	p.ArchivedAt = &now
}

// Clone возвращает глубокую копию pipeline.
func (p *Pipeline) Clone() *Pipeline {
	c := *p
	c.RetryCounts = maps.Clone(p.RetryCounts)
	if c.RetryCounts == nil {
		c.RetryCounts = make(map[Stage]int)
	}
	c.StageHistory = slices.Clone(p.StageHistory)
	for i := range c.StageHistory {
		c.StageHistory[i].Payload = maps.Clone(p.StageHistory[i].Payload)
	}
	if p.InFlight != nil {
		inFlight := *p.InFlight
		c.InFlight = &inFlight
	}
	c.RetryAt = cloneTime(p.RetryAt)
	c.CompletedAt = cloneTime(p.CompletedAt)
	c.ArchivedAt = cloneTime(p.ArchivedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
