package ml

import "fmt"

// TrainConfig is the caller-supplied configuration of a training run.
type TrainConfig struct {
	Model             Kind    `json:"model" yaml:"model"`
	LearningRate      float64 `json:"learning_rate" yaml:"learningRate"`
	MaxEpochs         int     `json:"max_epochs" yaml:"maxEpochs"`
	Tolerance         float64 `json:"tolerance" yaml:"tolerance"`
	Seed              int64   `json:"seed" yaml:"seed"`
	DecisionThreshold float64 `json:"decision_threshold" yaml:"decisionThreshold"`
	TestSplitFraction float64 `json:"test_split_fraction" yaml:"testSplitFraction"`

	// RejectSingleClass makes Fit fail with ErrDegenerateLabels instead of
	// training on labels without variation.
	RejectSingleClass bool `json:"reject_single_class" yaml:"rejectSingleClass"`
}

// DefaultTrainConfig mirrors the defaults of the training CLI.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Model:             KindLogRegGD,
		LearningRate:      0.1,
		MaxEpochs:         1000,
		Tolerance:         1e-6,
		Seed:              123,
		DecisionThreshold: 0.5,
		TestSplitFraction: 0.25,
	}
}

// Validate checks every field's range.
func (c TrainConfig) Validate() error {
	if c.Model != KindLogRegGD {
		return fmt.Errorf("%w: %q", ErrUnknownModel, c.Model)
	}
	if c.LearningRate <= 0 || c.LearningRate > 10 {
		return fmt.Errorf("learning rate must be in (0, 10], got %g", c.LearningRate)
	}
	if c.MaxEpochs <= 0 || c.MaxEpochs > 1_000_000 {
		return fmt.Errorf("max epochs must be between 1 and 1000000, got %d", c.MaxEpochs)
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("tolerance must not be negative, got %g", c.Tolerance)
	}
	if c.DecisionThreshold < 0 || c.DecisionThreshold > 1 {
		return fmt.Errorf("decision threshold: %w, got %g", ErrInvalidThreshold, c.DecisionThreshold)
	}
	if c.TestSplitFraction <= 0 || c.TestSplitFraction >= 1 {
		return fmt.Errorf("test split fraction must be in (0, 1), got %g", c.TestSplitFraction)
	}
	return nil
}
