package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shaiso/atelier/internal/domain"
	"github.com/shaiso/atelier/internal/gateway"
	"github.com/shaiso/atelier/internal/retry"
	"github.com/shaiso/atelier/internal/stages"
)

const sampleFile = `
stages:
  rendering:
    retry_ceiling: 4
    backoff: gpu
    max_dwell: 45m
  FULFILLMENT:
    max_dwell: 48h
backoff:
  gpu:
    base: 15s
    factor: 2
    cap: 15m
    jitter: 0.1
providers:
  render:
    gpu_out_of_memory: transient
    invalid_artwork: transient
sources:
  designer: [DESIGN_LOCK]
  printco: [PRODUCTION_SUBMISSION, fulfillment]
`

// --- Load Tests ---

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"DB_URL", "STORE", "SWEEP_BATCH", "SWEEP_IDLE", "STAGES_CONFIG", "CALLBACK_SECRETS", "WORKER_STAGES"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBURL != DefaultDBURL {
		t.Errorf("expected default DB_URL, got %s", cfg.DBURL)
	}
	if cfg.Store != StorePostgres {
		t.Errorf("expected postgres store, got %s", cfg.Store)
	}
	if cfg.SweepBatch != DefaultSweepBatch || cfg.SweepIdle != DefaultSweepIdle {
		t.Errorf("unexpected sweep defaults: %d %s", cfg.SweepBatch, cfg.SweepIdle)
	}
	if cfg.SweepSchedule != DefaultSweepSchedule {
		t.Errorf("expected default schedule, got %s", cfg.SweepSchedule)
	}
	if len(cfg.CallbackSecrets) != 0 || len(cfg.WorkerStages) != 0 {
		t.Error("expected no secrets and no worker stages")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("STORE", "Memory")
	t.Setenv("SWEEP_BATCH", "25")
	t.Setenv("SWEEP_IDLE", "2m")
	t.Setenv("CALLBACK_SECRETS", "designer=s3cret, PrintCo=abc")
	t.Setenv("WORKER_STAGES", "rendering,FULFILLMENT")
	t.Setenv("PROVIDER_URL_RENDERING", "http://render.local/jobs")
	t.Setenv("STAGES_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != StoreMemory {
		t.Errorf("expected memory store, got %s", cfg.Store)
	}
	if cfg.SweepBatch != 25 || cfg.SweepIdle != 2*time.Minute {
		t.Errorf("unexpected sweep settings: %d %s", cfg.SweepBatch, cfg.SweepIdle)
	}
	if cfg.CallbackSecrets["printco"] != "abc" || cfg.CallbackSecrets["designer"] != "s3cret" {
		t.Errorf("unexpected secrets: %v", cfg.CallbackSecrets)
	}
	if len(cfg.WorkerStages) != 2 || cfg.WorkerStages[0] != domain.StageRendering {
		t.Errorf("unexpected worker stages: %v", cfg.WorkerStages)
	}
	if cfg.ProviderURLs[domain.StageRendering] != "http://render.local/jobs" {
		t.Errorf("unexpected provider urls: %v", cfg.ProviderURLs)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad store", map[string]string{"STORE": "mongo"}},
		{"bad batch", map[string]string{"SWEEP_BATCH": "-1"}},
		{"bad idle", map[string]string{"SWEEP_IDLE": "soon"}},
		{"bad secrets", map[string]string{"CALLBACK_SECRETS": "designer"}},
		{"unknown worker stage", map[string]string{"WORKER_STAGES": "PAINTING"}},
		{"missing file", map[string]string{"STAGES_CONFIG": "/nonexistent/atelier.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if !errors.Is(err, stages.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoad_ReadsStagesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atelier.yaml")
	if err := os.WriteFile(path, []byte(sampleFile), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("STAGES_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.File.Stages) != 2 {
		t.Errorf("expected 2 stage overrides, got %d", len(cfg.File.Stages))
	}
}

// --- File Tests ---

func TestFile_Registry(t *testing.T) {
	f, err := ParseFile([]byte(sampleFile))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}

	registry, err := f.Registry()
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}

	render := registry.MustGet(domain.StageRendering)
	if render.RetryCeiling != 4 || render.BackoffPolicy != "gpu" || render.MaxDwell != 45*time.Minute {
		t.Errorf("rendering override not applied: %+v", render)
	}
	// Незатронутые поля сохраняются
	if render.Queue != "rendering" {
		t.Errorf("expected queue rendering, got %s", render.Queue)
	}
	if got := registry.MustGet(domain.StageFulfillment).MaxDwell; got != 48*time.Hour {
		t.Errorf("expected fulfillment dwell 48h, got %s", got)
	}

	// Политика gpu есть только в файле
	if _, err := retry.NewController(f.RetryConfig(), registry); err != nil {
		t.Errorf("controller should accept file policies: %v", err)
	}
}

func TestFile_RegistryUnknownStage(t *testing.T) {
	f, err := ParseFile([]byte("stages:\n  PAINTING:\n    max_dwell: 1h\n"))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if _, err := f.Registry(); !errors.Is(err, stages.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestFile_InvalidDuration(t *testing.T) {
	_, err := ParseFile([]byte("stages:\n  RENDERING:\n    max_dwell: forever\n"))
	if !errors.Is(err, stages.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestFile_Classifier(t *testing.T) {
	f, err := ParseFile([]byte(sampleFile))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}

	classifier, err := f.Classifier()
	if err != nil {
		t.Fatalf("Classifier: %v", err)
	}

	tests := []struct {
		code string
		want domain.ErrorClass
	}{
		{"gpu_out_of_memory", domain.ErrorClassTransient},
		// файл переопределяет встроенную таблицу
		{"invalid_artwork", domain.ErrorClassTransient},
		{"resolution_too_low", domain.ErrorClassTerminal},
	}
	for _, tt := range tests {
		got := classifier.Classify(domain.StageFailure{Code: tt.code, Provider: "render"})
		if got.Class != tt.want {
			t.Errorf("Classify(%s) = %s, want %s", tt.code, got.Class, tt.want)
		}
	}
}

func TestFile_ClassifierUnknownClass(t *testing.T) {
	f, err := ParseFile([]byte("providers:\n  render:\n    gpu_melted: catastrophic\n"))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if _, err := f.Classifier(); !errors.Is(err, stages.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestFile_SourcePolicy(t *testing.T) {
	f, err := ParseFile([]byte(sampleFile))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}

	policy, err := f.SourcePolicy()
	if err != nil {
		t.Fatalf("SourcePolicy: %v", err)
	}

	ctx := context.Background()
	if err := policy.Authorize(ctx, "printco", gateway.Callback{Stage: domain.StageFulfillment}); err != nil {
		t.Errorf("printco should report fulfillment: %v", err)
	}
	if err := policy.Authorize(ctx, "designer", gateway.Callback{Stage: domain.StageFulfillment}); err == nil {
		t.Error("designer must not report fulfillment")
	}

	names := f.SourceNames()
	if len(names) != 2 || names[0] != "designer" || names[1] != "printco" {
		t.Errorf("unexpected source names: %v", names)
	}
}

func TestFile_Nil(t *testing.T) {
	var f *File

	registry, err := f.Registry()
	if err != nil || registry.Len() != 6 {
		t.Errorf("nil file should give default registry, got %v", err)
	}
	if _, err := f.Classifier(); err != nil {
		t.Errorf("nil file classifier: %v", err)
	}
	if _, err := f.SourcePolicy(); err != nil {
		t.Errorf("nil file policy: %v", err)
	}
}
