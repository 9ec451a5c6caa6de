// Package config loads executor run settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Evaluator kinds.
const (
	EvaluatorUniform = "uniform"
	EvaluatorRandom  = "random"
	EvaluatorMLP     = "mlp"
	EvaluatorOnnx    = "onnx"
)

// Run is the full configuration of a self-play run. Zero-valued fields in a
// file keep their defaults.
type Run struct {
	// Games is the number of games to play. 0 plays until interrupted.
	Games       int     `yaml:"games"`
	Workers     int     `yaml:"workers"`
	SearchSteps int     `yaml:"search_steps"`
	Cpuct       float32 `yaml:"cpuct"`

	Evaluator string `yaml:"evaluator"`
	ModelPath string `yaml:"model_path"`
	// Onnx batching.
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	Sessions     int           `yaml:"sessions"`
	DisableCUDA  bool          `yaml:"disable_cuda"`

	OutDir        string `yaml:"out_dir"`
	GamesPerFlush int    `yaml:"games_per_flush"`
	Augment       bool   `yaml:"augment"`

	LiveAddr string `yaml:"live_addr"`
	Seed     uint64 `yaml:"seed"`
	LogLevel string `yaml:"log_level"`
	Verbose  bool   `yaml:"verbose"`
}

func Default() Run {
	return Run{
		Games:         0,
		Workers:       4,
		SearchSteps:   100,
		Cpuct:         1,
		Evaluator:     EvaluatorUniform,
		BatchSize:     64,
		BatchTimeout:  2 * time.Millisecond,
		Sessions:      1,
		OutDir:        "data/generated",
		GamesPerFlush: 50,
		LogLevel:      "info",
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Run, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (r Run) Validate() error {
	var errs []error
	if r.Games < 0 {
		errs = append(errs, fmt.Errorf("games must be >= 0, got %d", r.Games))
	}
	if r.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be >= 1, got %d", r.Workers))
	}
	if r.SearchSteps < 1 {
		errs = append(errs, fmt.Errorf("search_steps must be >= 1, got %d", r.SearchSteps))
	}
	if r.Cpuct <= 0 {
		errs = append(errs, fmt.Errorf("cpuct must be > 0, got %v", r.Cpuct))
	}
	switch r.Evaluator {
	case EvaluatorUniform, EvaluatorRandom:
	case EvaluatorMLP, EvaluatorOnnx:
		if r.ModelPath == "" {
			errs = append(errs, fmt.Errorf("evaluator %q needs model_path", r.Evaluator))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown evaluator %q", r.Evaluator))
	}
	if r.Evaluator == EvaluatorOnnx {
		if r.BatchSize < 1 {
			errs = append(errs, fmt.Errorf("batch_size must be >= 1, got %d", r.BatchSize))
		}
		if r.Sessions < 1 {
			errs = append(errs, fmt.Errorf("sessions must be >= 1, got %d", r.Sessions))
		}
	}
	if r.OutDir != "" && r.GamesPerFlush < 1 {
		errs = append(errs, fmt.Errorf("games_per_flush must be >= 1, got %d", r.GamesPerFlush))
	}
	return errors.Join(errs...)
}
