package training

import (
	"fmt"

	"github.com/kilianp07/evrange/core/dataset"
	"github.com/kilianp07/evrange/core/nn"
)

// Checkpoint policies.
const (
	// CheckpointBest restores the parameters of the best validation epoch.
	CheckpointBest = "best"
	// CheckpointLast keeps the parameters of the final epoch.
	CheckpointLast = "last"
)

// Config holds every training hyperparameter.
type Config struct {
	Epochs           int     `json:"epochs"`
	BatchSize        int     `json:"batch_size"`
	LearningRate     float64 `json:"learning_rate"`
	GradClipNorm     float64 `json:"grad_clip_norm"`
	Patience         int     `json:"patience"`
	MinDelta         float64 `json:"min_delta"`
	HiddenDim        int     `json:"hidden_dim"`
	NumLayers        int     `json:"num_layers"`
	Dropout          float64 `json:"dropout"`
	TestFraction     float64 `json:"test_fraction"`
	ValFraction      float64 `json:"val_fraction"`
	SplitStrategy    string  `json:"split_strategy"`
	Seed             int64   `json:"seed"`
	CheckpointPolicy string  `json:"checkpoint_policy"`
}

// DefaultConfig returns the production hyperparameters.
func DefaultConfig() Config {
	return Config{
		Epochs:           200,
		BatchSize:        32,
		LearningRate:     0.001,
		GradClipNorm:     1.0,
		Patience:         20,
		MinDelta:         0,
		HiddenDim:        128,
		NumLayers:        3,
		Dropout:          0.2,
		TestFraction:     0.2,
		ValFraction:      0.1,
		SplitStrategy:    dataset.SplitRandom,
		Seed:             42,
		CheckpointPolicy: CheckpointBest,
	}
}

// SetDefaults fills zero-valued fields. Dropout, MinDelta and Seed are left
// alone since zero is meaningful for them; start from DefaultConfig to get the
// production values.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.Epochs == 0 {
		c.Epochs = d.Epochs
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.LearningRate == 0 {
		c.LearningRate = d.LearningRate
	}
	if c.GradClipNorm == 0 {
		c.GradClipNorm = d.GradClipNorm
	}
	if c.Patience == 0 {
		c.Patience = d.Patience
	}
	if c.HiddenDim == 0 {
		c.HiddenDim = d.HiddenDim
	}
	if c.NumLayers == 0 {
		c.NumLayers = d.NumLayers
	}
	if c.TestFraction == 0 {
		c.TestFraction = d.TestFraction
	}
	if c.ValFraction == 0 {
		c.ValFraction = d.ValFraction
	}
	if c.SplitStrategy == "" {
		c.SplitStrategy = d.SplitStrategy
	}
	if c.CheckpointPolicy == "" {
		c.CheckpointPolicy = d.CheckpointPolicy
	}
}

// Validate checks the hyperparameters.
func (c Config) Validate() error {
	switch {
	case c.Epochs < 1:
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	case c.BatchSize < 1:
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	case c.LearningRate <= 0:
		return fmt.Errorf("learning_rate must be positive, got %g", c.LearningRate)
	case c.GradClipNorm <= 0:
		return fmt.Errorf("grad_clip_norm must be positive, got %g", c.GradClipNorm)
	case c.Patience < 1:
		return fmt.Errorf("patience must be positive, got %d", c.Patience)
	case c.MinDelta < 0:
		return fmt.Errorf("min_delta must not be negative, got %g", c.MinDelta)
	}
	if c.CheckpointPolicy != CheckpointBest && c.CheckpointPolicy != CheckpointLast {
		return fmt.Errorf("unknown checkpoint_policy %q", c.CheckpointPolicy)
	}
	if err := c.SplitConfig(0).Validate(); err != nil {
		return err
	}
	return c.Architecture(1).Validate()
}

// Architecture returns the network shape for inputDim features.
func (c Config) Architecture(inputDim int) nn.Architecture {
	return nn.Architecture{
		InputDim:  inputDim,
		HiddenDim: c.HiddenDim,
		NumLayers: c.NumLayers,
		Dropout:   c.Dropout,
	}
}

// SplitConfig returns the partitioning settings. seqLen is used as the gap
// between chronological partitions.
func (c Config) SplitConfig(seqLen int) dataset.SplitConfig {
	return dataset.SplitConfig{
		TestFraction: c.TestFraction,
		ValFraction:  c.ValFraction,
		Seed:         c.Seed,
		Strategy:     c.SplitStrategy,
		Gap:          seqLen,
	}
}
