package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"vehicle-fraud/internal/features"

	"github.com/google/uuid"
)

// ArtifactFormat is the version written into every serialized pipeline.
const ArtifactFormat = 1

// Pipeline chains a Preprocessor and a Classifier. It is fitted as a unit and
// serialized as a single artifact.
type Pipeline struct {
	cfg   TrainConfig
	prep  *Preprocessor
	model Classifier

	id        string
	createdAt time.Time
}

type artifact struct {
	Format       int                `json:"format"`
	ID           string             `json:"id"`
	CreatedAt    time.Time          `json:"created_at"`
	Config       TrainConfig        `json:"config"`
	Preprocessor *PreprocessorState `json:"preprocessor"`
	Classifier   classifierState    `json:"classifier"`
}

// NewPipeline creates an unfitted pipeline over the default feature columns.
func NewPipeline(cfg TrainConfig) (*Pipeline, error) {
	model, err := NewClassifier(cfg.Model, cfg)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:   cfg,
		prep:  NewDefaultPreprocessor(),
		model: model,
	}, nil
}

// Fit fits a fresh preprocessor and classifier on frame and installs both
// only when both succeed; a failed fit leaves the pipeline as it was.
// Every successful fit gets a fresh artifact id.
func (p *Pipeline) Fit(frame *features.Frame, labels []bool) error {
	if frame == nil || frame.Len() == 0 {
		return fmt.Errorf("pipeline fit: %w", ErrEmptyInput)
	}
	if frame.Len() != len(labels) {
		return fmt.Errorf("pipeline fit: %w: %d rows, %d labels", ErrShapeMismatch, frame.Len(), len(labels))
	}

	prep := NewPreprocessor(p.prep.numCols, p.prep.catCols)
	X, err := prep.FitTransform(frame)
	if err != nil {
		return fmt.Errorf("pipeline fit: %w", err)
	}

	model, err := NewClassifier(p.cfg.Model, p.cfg)
	if err != nil {
		return fmt.Errorf("pipeline fit: %w", err)
	}
	y := make([]float64, len(labels))
	for i, l := range labels {
		if l {
			y[i] = 1
		}
	}
	if err := model.Fit(X, y); err != nil {
		return fmt.Errorf("pipeline fit: %w", err)
	}

	p.prep = prep
	p.model = model
	p.id = uuid.NewString()
	p.createdAt = time.Now().UTC()
	return nil
}

// PredictProba returns the fraud probability of every row of frame.
func (p *Pipeline) PredictProba(frame *features.Frame) ([]float64, error) {
	if !p.Fitted() {
		return nil, fmt.Errorf("pipeline predict: %w", ErrNotFitted)
	}
	X, err := p.prep.Transform(frame)
	if err != nil {
		return nil, fmt.Errorf("pipeline predict: %w", err)
	}
	return p.model.PredictProba(X)
}

// Flag scores frame and marks rows with probability >= threshold.
func (p *Pipeline) Flag(frame *features.Frame, threshold float64) ([]float64, []bool, error) {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return nil, nil, fmt.Errorf("pipeline flag: %w, got %g", ErrInvalidThreshold, threshold)
	}
	proba, err := p.PredictProba(frame)
	if err != nil {
		return nil, nil, err
	}
	flags := make([]bool, len(proba))
	for i, pr := range proba {
		flags[i] = pr >= threshold
	}
	return proba, flags, nil
}

// Fitted reports whether both stages are fitted.
func (p *Pipeline) Fitted() bool {
	return p.prep.Fitted() && p.id != ""
}

// ID is the artifact id assigned by the last fit, empty before.
func (p *Pipeline) ID() string { return p.id }

// CreatedAt is the time of the last fit.
func (p *Pipeline) CreatedAt() time.Time { return p.createdAt }

// Config returns the training configuration the pipeline was built with.
func (p *Pipeline) Config() TrainConfig { return p.cfg }

// Classifier exposes the fitted classifier.
func (p *Pipeline) Classifier() Classifier { return p.model }

// Preprocessor exposes the fitted preprocessor.
func (p *Pipeline) Preprocessor() *Preprocessor { return p.prep }

// MarshalBinary serializes the fitted pipeline into a JSON artifact.
func (p *Pipeline) MarshalBinary() ([]byte, error) {
	if !p.Fitted() {
		return nil, fmt.Errorf("marshal pipeline: %w", ErrNotFitted)
	}
	cs, err := marshalClassifier(p.model)
	if err != nil {
		return nil, err
	}
	return json.Marshal(artifact{
		Format:       ArtifactFormat,
		ID:           p.id,
		CreatedAt:    p.createdAt,
		Config:       p.cfg,
		Preprocessor: p.prep.State(),
		Classifier:   cs,
	})
}

// UnmarshalPipeline restores a pipeline written by MarshalBinary. The result
// produces exactly the probabilities of the pipeline that was written.
func UnmarshalPipeline(data []byte) (*Pipeline, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline: %w", err)
	}
	if a.Format != ArtifactFormat {
		return nil, fmt.Errorf("unmarshal pipeline: unsupported format %d", a.Format)
	}
	if a.ID == "" {
		return nil, errors.New("unmarshal pipeline: missing artifact id")
	}

	prep, err := restorePreprocessor(a.Preprocessor)
	if err != nil {
		return nil, fmt.Errorf("unmarshal pipeline: %w", err)
	}
	model, err := unmarshalClassifier(a.Classifier, a.Config)
	if err != nil {
		return nil, fmt.Errorf("unmarshal pipeline: %w", err)
	}
	if lr, ok := model.(*LogisticGD); ok && len(lr.weights) != prep.Width()+1 {
		return nil, fmt.Errorf("unmarshal pipeline: %w: %d weights for %d features",
			ErrShapeMismatch, len(lr.weights), prep.Width())
	}

	return &Pipeline{
		cfg:       a.Config,
		prep:      prep,
		model:     model,
		id:        a.ID,
		createdAt: a.CreatedAt,
	}, nil
}

// SaveFile writes the artifact to path through a temp file and rename.
func (p *Pipeline) SaveFile(path string) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".pipeline-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

// LoadFile reads an artifact written by SaveFile.
func LoadFile(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return UnmarshalPipeline(data)
}
