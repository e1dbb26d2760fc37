package config

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/shaiso/atelier/internal/domain"
	"github.com/shaiso/atelier/internal/gateway"
	"github.com/shaiso/atelier/internal/retry"
	"github.com/shaiso/atelier/internal/stages"
	"gopkg.in/yaml.v3"
)

// File — YAML-файл конфигурации стадий.
//
//	stages:
//	  RENDERING:
//	    retry_ceiling: 4
//	    backoff: render
//	    max_dwell: 45m
//	backoff:
//	  render: {base: 10s, factor: 2, cap: 10m, jitter: 0.2}
//	providers:
//	  render:
//	    gpu_out_of_memory: transient
//	sources:
//	  designer: [DESIGN_LOCK]
type File struct {
	Stages    map[string]StageFile         `yaml:"stages"`
	Backoff   map[string]PolicyFile        `yaml:"backoff"`
	Providers map[string]map[string]string `yaml:"providers"`
	Sources   map[string][]string          `yaml:"sources"`
}

// StageFile — переопределение параметров стадии.
type StageFile struct {
	RetryCeiling *int     `yaml:"retry_ceiling"`
	Backoff      string   `yaml:"backoff"`
	MaxDwell     Duration `yaml:"max_dwell"`
	Provider     string   `yaml:"provider"`
}

// PolicyFile — политика backoff.
type PolicyFile struct {
	Base   Duration `yaml:"base"`
	Factor float64  `yaml:"factor"`
	Cap    Duration `yaml:"cap"`
	Jitter float64  `yaml:"jitter"`
}

// Duration — time.Duration из строки YAML ("30s", "72h").
type Duration time.Duration

// UnmarshalYAML реализует yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration возвращает time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// LoadFile читает и разбирает YAML-файл.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", stages.ErrInvalidConfig, path, err)
	}
	return ParseFile(data)
}

// ParseFile разбирает YAML-конфигурацию стадий.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", stages.ErrInvalidConfig, err)
	}
	return &f, nil
}

// Registry возвращает реестр стадий с переопределениями из файла.
func (f *File) Registry() (*stages.Registry, error) {
	base := stages.NewDefault()
	if f == nil || len(f.Stages) == 0 {
		return base, nil
	}

	overrides := make(map[domain.Stage]stages.Override, len(f.Stages))
	for name, s := range f.Stages {
		overrides[domain.Stage(strings.ToUpper(name))] = stages.Override{
			RetryCeiling:  s.RetryCeiling,
			BackoffPolicy: s.Backoff,
			MaxDwell:      s.MaxDwell.Duration(),
			Provider:      s.Provider,
		}
	}
	return base.Apply(overrides)
}

// RetryConfig возвращает политики backoff: встроенные, дополненные файлом.
func (f *File) RetryConfig() retry.Config {
	policies := retry.DefaultPolicies()
	if f != nil {
		for id, p := range f.Backoff {
			policies[id] = retry.Policy{
				Base:   p.Base.Duration(),
				Factor: p.Factor,
				Cap:    p.Cap.Duration(),
				Jitter: p.Jitter,
			}
		}
	}
	return retry.Config{Policies: policies}
}

// Classifier возвращает классификатор с таблицами провайдеров из файла.
func (f *File) Classifier() (*retry.Classifier, error) {
	if f == nil {
		return retry.NewClassifier(nil), nil
	}

	tables := make(map[string]map[string]domain.ErrorClass, len(f.Providers))
	for provider, codes := range f.Providers {
		table := make(map[string]domain.ErrorClass, len(codes))
		for code, raw := range codes {
			class, ok := domain.ParseErrorClass(strings.ToUpper(raw))
			if !ok {
				return nil, fmt.Errorf("%w: provider %s code %s: unknown error class %q",
					stages.ErrInvalidConfig, provider, code, raw)
			}
			table[code] = class
		}
		tables[provider] = table
	}
	return retry.NewClassifier(tables), nil
}

// SourcePolicy возвращает права источников callbacks.
func (f *File) SourcePolicy() (*gateway.SourcePolicy, error) {
	allowed := make(map[string][]domain.Stage)
	if f == nil {
		return gateway.NewSourcePolicy(allowed), nil
	}

	registry := stages.NewDefault()
	for source, names := range f.Sources {
		list := make([]domain.Stage, 0, len(names))
		for _, name := range names {
			stage := domain.Stage(strings.ToUpper(name))
			if !registry.Has(stage) {
				return nil, fmt.Errorf("%w: source %s: %w: %s",
					stages.ErrInvalidConfig, source, stages.ErrUnknownStage, name)
			}
			list = append(list, stage)
		}
		allowed[source] = list
	}
	return gateway.NewSourcePolicy(allowed), nil
}

// SourceNames возвращает источники, объявленные в файле.
func (f *File) SourceNames() []string {
	if f == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(f.Sources))
}
