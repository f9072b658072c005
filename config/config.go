// Package config defines the explicit run configuration and its YAML loader.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the full training run configuration. Every field has a default;
// a YAML file overrides only what it names.
type Config struct {
	// Data locations. TrainDir and TestDir hold one subdirectory per class.
	TrainDir  string `yaml:"train_dir"`
	TestDir   string `yaml:"test_dir"`
	OutputDir string `yaml:"output_dir"`

	// Step is the ordinal id used in output file names.
	Step int `yaml:"step"`

	// Image geometry.
	ImageSize int    `yaml:"image_size"`
	ColorMode string `yaml:"color_mode"`

	// Classes maps directory names to label indices.
	Classes map[string]int `yaml:"classes"`

	// Optimization.
	Optimizer    string  `yaml:"optimizer"`
	LearningRate float64 `yaml:"learning_rate"`
	Epochs       int     `yaml:"epochs"`
	TrainBatch   int     `yaml:"train_batch"`
	EvalBatch    int     `yaml:"eval_batch"`

	// Split and augmentation.
	TrainFraction float64 `yaml:"train_fraction"`
	Seed          int64   `yaml:"seed"`

	// Dropout head.
	HiddenUnits int     `yaml:"hidden_units"`
	DropoutRate float64 `yaml:"dropout_rate"`
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		OutputDir:     ".",
		ImageSize:     400,
		ColorMode:     "rgb",
		Optimizer:     "adam",
		LearningRate:  1e-3,
		Epochs:        100,
		TrainBatch:    32,
		EvalBatch:     128,
		TrainFraction: 0.7,
		Seed:          42,
		HiddenUnits:   256,
		DropoutRate:   0.5,
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for use by the training cycle.
func (c *Config) Validate() error {
	if c.TrainDir == "" {
		return errors.New("train_dir is required")
	}
	if c.TestDir == "" {
		return errors.New("test_dir is required")
	}
	if len(c.Classes) == 0 {
		return errors.New("classes mapping is required")
	}
	if c.ImageSize < 1 {
		return errors.Errorf("invalid image_size %d", c.ImageSize)
	}
	if c.ColorMode != "rgb" && c.ColorMode != "grayscale" {
		return errors.Errorf("unknown color_mode %q", c.ColorMode)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("invalid learning_rate %f", c.LearningRate)
	}
	if c.Epochs < 1 {
		return errors.Errorf("invalid epochs %d", c.Epochs)
	}
	if c.TrainBatch < 1 || c.EvalBatch < 1 {
		return errors.Errorf("invalid batch sizes %d/%d", c.TrainBatch, c.EvalBatch)
	}
	if c.TrainFraction <= 0 || c.TrainFraction >= 1 {
		return errors.Errorf("invalid train_fraction %f", c.TrainFraction)
	}
	if c.HiddenUnits < 1 {
		return errors.Errorf("invalid hidden_units %d", c.HiddenUnits)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return errors.Errorf("invalid dropout_rate %f", c.DropoutRate)
	}

	seen := make(map[int]string, len(c.Classes))
	for name, idx := range c.Classes {
		if idx < 0 || idx >= len(c.Classes) {
			return errors.Errorf("class %q index %d out of range [0, %d)", name, idx, len(c.Classes))
		}
		if other, dup := seen[idx]; dup {
			return errors.Errorf("classes %q and %q share index %d", name, other, idx)
		}
		seen[idx] = name
	}
	return nil
}
