package ml

import (
	"fmt"
	"time"

	"vehicle-fraud/internal/features"

	"github.com/rs/zerolog/log"
)

// TrainResult summarizes one training run.
type TrainResult struct {
	Pipeline  *Pipeline
	Report    Report
	TrainRows int
	TestRows  int
	TrainRate float64
	TestRate  float64
	Epochs    int
	FinalLoss float64
	Duration  time.Duration
}

// Train splits frame into stratified train and validation sets, fits a fresh
// pipeline on the train split only and evaluates it on the validation split.
func Train(frame *features.Frame, labels []bool, cfg TrainConfig) (*TrainResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	if frame == nil || frame.Len() == 0 {
		return nil, fmt.Errorf("train: %w", ErrEmptyInput)
	}
	if frame.Len() != len(labels) {
		return nil, fmt.Errorf("train: %w: %d rows, %d labels", ErrShapeMismatch, frame.Len(), len(labels))
	}

	start := time.Now()
	trainIdx, testIdx, err := StratifiedSplit(labels, cfg.TestSplitFraction, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	if len(trainIdx) == 0 || len(testIdx) == 0 {
		return nil, fmt.Errorf("train: %w: split produced %d train and %d test rows", ErrEmptyInput, len(trainIdx), len(testIdx))
	}

	yTrain := SelectLabels(labels, trainIdx)
	yTest := SelectLabels(labels, testIdx)

	res := &TrainResult{
		TrainRows: len(trainIdx),
		TestRows:  len(testIdx),
		TrainRate: features.FraudRate(yTrain),
		TestRate:  features.FraudRate(yTest),
	}
	log.Info().
		Int("train_rows", res.TrainRows).
		Int("test_rows", res.TestRows).
		Float64("train_fraud_rate", res.TrainRate).
		Float64("test_fraud_rate", res.TestRate).
		Msg("Split dataset")

	pipe, err := NewPipeline(cfg)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	if err := pipe.Fit(frame.Subset(trainIdx), yTrain); err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}

	proba, err := pipe.PredictProba(frame.Subset(testIdx))
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	report, err := Evaluate(yTest, proba, cfg.DecisionThreshold)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}

	res.Pipeline = pipe
	res.Report = report
	if lr, ok := pipe.Classifier().(*LogisticGD); ok {
		res.Epochs = lr.Epochs()
		if h := lr.losses; len(h) > 0 {
			res.FinalLoss = h[len(h)-1]
		}
	}
	res.Duration = time.Since(start)

	log.Info().
		Str("model_id", pipe.ID()).
		Int("epochs", res.Epochs).
		Float64("final_loss", res.FinalLoss).
		Float64("roc_auc", report.ROCAUC).
		Float64("pr_auc", report.PRAUC).
		Dur("duration", res.Duration).
		Msg("Training complete")

	return res, nil
}
