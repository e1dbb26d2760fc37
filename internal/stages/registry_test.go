package stages

import (
	"errors"
	"testing"
	"time"

	"github.com/shaiso/atelier/internal/domain"
)

// --- Registry Tests ---

func TestNewDefault_Order(t *testing.T) {
	r := NewDefault()

	want := []domain.Stage{
		domain.StageValidation,
		domain.StageDesignLock,
		domain.StageRendering,
		domain.StageProductionSubmission,
		domain.StageFulfillment,
		domain.StageCompleted,
	}

	got := r.Stages()
	if len(got) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stage %d: expected %s, got %s", i, want[i], got[i])
		}
		if r.Ordinal(want[i]) != i {
			t.Errorf("ordinal of %s: expected %d, got %d", want[i], i, r.Ordinal(want[i]))
		}
	}

	if r.Initial() != domain.StageValidation {
		t.Errorf("expected initial VALIDATION, got %s", r.Initial())
	}
}

func TestRegistry_Next(t *testing.T) {
	r := NewDefault()

	next, err := r.Next(domain.StageValidation)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != domain.StageDesignLock {
		t.Errorf("expected DESIGN_LOCK, got %s", next)
	}

	if _, err := r.Next(domain.StageCompleted); !errors.Is(err, ErrNoNextStage) {
		t.Errorf("expected ErrNoNextStage, got %v", err)
	}
	if _, err := r.Next("BOGUS"); !errors.Is(err, ErrUnknownStage) {
		t.Errorf("expected ErrUnknownStage, got %v", err)
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewDefault()

	def, err := r.Get(domain.StageRendering)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Kind != KindDispatch {
		t.Errorf("expected DISPATCH, got %s", def.Kind)
	}
	if def.RetryCeiling != 3 {
		t.Errorf("expected ceiling 3, got %d", def.RetryCeiling)
	}
	if def.Queue != "rendering" {
		t.Errorf("expected queue rendering, got %s", def.Queue)
	}

	if _, err := r.Get("BOGUS"); !errors.Is(err, ErrUnknownStage) {
		t.Errorf("expected ErrUnknownStage, got %v", err)
	}
	if r.Has("BOGUS") {
		t.Error("BOGUS should not be registered")
	}
}

func TestNew_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		defs []Definition
	}{
		{
			name: "no terminal",
			defs: []Definition{
				{Stage: "A", Kind: KindAutoComplete, BackoffPolicy: "default"},
				{Stage: "B", Kind: KindAutoComplete, BackoffPolicy: "default"},
			},
		},
		{
			name: "terminal not last",
			defs: []Definition{
				{Stage: "A", Kind: KindTerminal},
				{Stage: "B", Kind: KindTerminal},
			},
		},
		{
			name: "dispatch without queue",
			defs: []Definition{
				{Stage: "A", Kind: KindDispatch, BackoffPolicy: "default", MaxDwell: time.Minute},
				{Stage: "B", Kind: KindTerminal},
			},
		},
		{
			name: "await without dwell",
			defs: []Definition{
				{Stage: "A", Kind: KindAwaitEvent, BackoffPolicy: "default"},
				{Stage: "B", Kind: KindTerminal},
			},
		},
		{
			name: "negative ceiling",
			defs: []Definition{
				{Stage: "A", Kind: KindAutoComplete, BackoffPolicy: "default", RetryCeiling: -1},
				{Stage: "B", Kind: KindTerminal},
			},
		},
		{
			name: "duplicate stage",
			defs: []Definition{
				{Stage: "A", Kind: KindAutoComplete, BackoffPolicy: "default"},
				{Stage: "A", Kind: KindTerminal},
			},
		},
		{
			name: "unknown kind",
			defs: []Definition{
				{Stage: "A", Kind: "MAGIC", BackoffPolicy: "default"},
				{Stage: "B", Kind: KindTerminal},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.defs)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestRegistry_Apply(t *testing.T) {
	r := NewDefault()
	ceiling := 7

	applied, err := r.Apply(map[domain.Stage]Override{
		domain.StageRendering: {RetryCeiling: &ceiling, MaxDwell: time.Hour, Provider: "render-v2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	def, _ := applied.Get(domain.StageRendering)
	if def.RetryCeiling != 7 {
		t.Errorf("expected ceiling 7, got %d", def.RetryCeiling)
	}
	if def.MaxDwell != time.Hour {
		t.Errorf("expected dwell 1h, got %s", def.MaxDwell)
	}
	if def.Provider != "render-v2" {
		t.Errorf("expected provider render-v2, got %s", def.Provider)
	}

	// Исходный реестр не изменился
	orig, _ := r.Get(domain.StageRendering)
	if orig.RetryCeiling != 3 {
		t.Errorf("original registry mutated: ceiling %d", orig.RetryCeiling)
	}
}

func TestRegistry_Apply_Errors(t *testing.T) {
	r := NewDefault()
	negative := -2

	if _, err := r.Apply(map[domain.Stage]Override{"BOGUS": {}}); !errors.Is(err, ErrUnknownStage) {
		t.Errorf("expected ErrUnknownStage, got %v", err)
	}
	if _, err := r.Apply(map[domain.Stage]Override{domain.StageCompleted: {}}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for terminal override, got %v", err)
	}
	if _, err := r.Apply(map[domain.Stage]Override{domain.StageRendering: {RetryCeiling: &negative}}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for negative ceiling, got %v", err)
	}
}

func TestRegistry_Progress(t *testing.T) {
	r := NewDefault()
	p := domain.NewPipeline("ORD-1", domain.StageValidation, time.Now())

	if got := r.Progress(p); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}

	p.CurrentStage = domain.StageProductionSubmission
	if got := r.Progress(p); got != 60 {
		t.Errorf("expected 60, got %d", got)
	}

	p.Status = domain.PipelineStatusCompleted
	if got := r.Progress(p); got != 100 {
		t.Errorf("expected 100, got %d", got)
	}
}

func TestRegistry_Queues(t *testing.T) {
	r := NewDefault()
	got := r.Queues()
	want := []string{"rendering", "production_submission", "fulfillment"}

	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("queue %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
