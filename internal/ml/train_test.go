package ml

import (
	"math"
	"testing"

	"vehicle-fraud/internal/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStratifiedSplit(t *testing.T) {
	_, labels := makeRows(400, 8)

	train, test, err := StratifiedSplit(labels, 0.25, 123)
	require.NoError(t, err)
	assert.Equal(t, len(labels), len(train)+len(test))
	assert.IsIncreasing(t, train)
	assert.IsIncreasing(t, test)

	seen := make(map[int]bool, len(labels))
	for _, i := range append(append([]int(nil), train...), test...) {
		assert.False(t, seen[i], "index %d in both splits", i)
		seen[i] = true
	}

	all := features.FraudRate(labels)
	assert.InDelta(t, all, features.FraudRate(SelectLabels(labels, train)), 0.02)
	assert.InDelta(t, all, features.FraudRate(SelectLabels(labels, test)), 0.02)

	train2, test2, err := StratifiedSplit(labels, 0.25, 123)
	require.NoError(t, err)
	assert.Equal(t, train, train2)
	assert.Equal(t, test, test2)
}

func TestStratifiedSplit_SmallClassesReachBothSides(t *testing.T) {
	labels := []bool{true, true, false, false, false, false, false, false, false, false}
	train, test, err := StratifiedSplit(labels, 0.1, 1)
	require.NoError(t, err)

	assert.Contains(t, SelectLabels(labels, train), true)
	assert.Contains(t, SelectLabels(labels, test), true)
	assert.Contains(t, SelectLabels(labels, test), false)
}

func TestStratifiedSplit_Errors(t *testing.T) {
	_, _, err := StratifiedSplit(nil, 0.25, 1)
	assert.ErrorIs(t, err, ErrEmptyInput)

	for _, f := range []float64{0, 1, -0.5, 1.5} {
		_, _, err := StratifiedSplit([]bool{true, false}, f, 1)
		assert.Error(t, err, "fraction %v", f)
	}
}

func TestTrain(t *testing.T) {
	frame, labels := makeFrame(800, 42)

	res, err := Train(frame, labels, DefaultTrainConfig())
	require.NoError(t, err)

	assert.Equal(t, 800, res.TrainRows+res.TestRows)
	assert.InDelta(t, 200, res.TestRows, 2)
	assert.NotEmpty(t, res.Pipeline.ID())
	assert.Greater(t, res.Epochs, 0)
	assert.Greater(t, res.FinalLoss, 0.0)
	assert.Greater(t, res.Report.ROCAUC, 0.8)
	assert.Greater(t, res.Report.PRAUC, res.TestRate)
	assert.Equal(t, res.TestRows, res.Report.MacroAvg.Support)
}

func TestTrain_IsReproducible(t *testing.T) {
	frame, labels := makeFrame(300, 9)

	a, err := Train(frame, labels, DefaultTrainConfig())
	require.NoError(t, err)
	b, err := Train(frame, labels, DefaultTrainConfig())
	require.NoError(t, err)

	wa := a.Pipeline.Classifier().(*LogisticGD).Weights()
	wb := b.Pipeline.Classifier().(*LogisticGD).Weights()
	assert.Equal(t, wa, wb)
	assert.Equal(t, a.Report.ROCAUC, b.Report.ROCAUC)
	assert.NotEqual(t, a.Pipeline.ID(), b.Pipeline.ID())
}

func TestTrain_AllNegativeLabels(t *testing.T) {
	frame, _ := makeFrame(120, 9)
	labels := make([]bool, frame.Len())

	res, err := Train(frame, labels, DefaultTrainConfig())
	require.NoError(t, err)

	assert.True(t, math.IsNaN(res.Report.ROCAUC))
	assert.True(t, math.IsNaN(res.Report.PRAUC))
	assert.Zero(t, res.TrainRate)
	assert.Zero(t, res.TestRate)
	assert.True(t, res.Pipeline.Fitted())
}

func TestTrain_InvalidConfig(t *testing.T) {
	frame, labels := makeFrame(50, 1)

	cfg := DefaultTrainConfig()
	cfg.LearningRate = 0
	_, err := Train(frame, labels, cfg)
	assert.Error(t, err)

	_, err = Train(frame, labels[:10], DefaultTrainConfig())
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = Train(features.NewFrame(0), nil, DefaultTrainConfig())
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTrainConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *TrainConfig)
		wantErr bool
	}{
		{"defaults", func(c *TrainConfig) {}, false},
		{"unknown model", func(c *TrainConfig) { c.Model = "svm" }, true},
		{"zero learning rate", func(c *TrainConfig) { c.LearningRate = 0 }, true},
		{"zero epochs", func(c *TrainConfig) { c.MaxEpochs = 0 }, true},
		{"negative tolerance", func(c *TrainConfig) { c.Tolerance = -1 }, true},
		{"threshold above one", func(c *TrainConfig) { c.DecisionThreshold = 1.1 }, true},
		{"threshold at bounds", func(c *TrainConfig) { c.DecisionThreshold = 1 }, false},
		{"split of one", func(c *TrainConfig) { c.TestSplitFraction = 1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTrainConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
