package ml

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Kind tags a classifier implementation inside a serialized pipeline.
type Kind string

// KindLogRegGD is logistic regression trained by full-batch gradient descent.
const KindLogRegGD Kind = "logreg_gd"

// Classifier is a binary classifier over a preprocessed feature matrix.
type Classifier interface {
	// Kind identifies the implementation.
	Kind() Kind

	// Fit trains on X (n×d) and labels y in {0, 1}. A refit discards earlier state.
	Fit(X *mat.Dense, y []float64) error

	// PredictProba returns p(y=1) for every row of X.
	PredictProba(X *mat.Dense) ([]float64, error)
}

// classifierState is the tagged, serialized form of a fitted classifier.
type classifierState struct {
	Kind  Kind            `json:"kind"`
	State json.RawMessage `json:"state"`
}

// NewClassifier builds an unfitted classifier of the given kind.
func NewClassifier(kind Kind, cfg TrainConfig) (Classifier, error) {
	switch kind {
	case KindLogRegGD:
		return NewLogisticGD(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, kind)
	}
}

func marshalClassifier(c Classifier) (classifierState, error) {
	switch m := c.(type) {
	case *LogisticGD:
		raw, err := json.Marshal(m.snapshot())
		if err != nil {
			return classifierState{}, fmt.Errorf("marshal %s: %w", m.Kind(), err)
		}
		return classifierState{Kind: m.Kind(), State: raw}, nil
	default:
		return classifierState{}, fmt.Errorf("%w: %T", ErrUnknownModel, c)
	}
}

func unmarshalClassifier(s classifierState, cfg TrainConfig) (Classifier, error) {
	switch s.Kind {
	case KindLogRegGD:
		var snap logisticSnapshot
		if err := json.Unmarshal(s.State, &snap); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", s.Kind, err)
		}
		m := NewLogisticGD(cfg)
		if err := m.restore(snap); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, s.Kind)
	}
}
