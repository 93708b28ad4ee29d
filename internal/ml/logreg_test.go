package ml

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func encodedTrainingSet(t *testing.T, n int, seed int64) (*mat.Dense, []float64) {
	t.Helper()
	frame, labels := makeFrame(n, seed)
	X, err := NewDefaultPreprocessor().FitTransform(frame)
	require.NoError(t, err)
	return X, boolsToFloats(labels)
}

func TestLogisticGD_LossDecreases(t *testing.T) {
	X, y := encodedTrainingSet(t, 400, 1)
	m := NewLogisticGD(DefaultTrainConfig())
	require.NoError(t, m.Fit(X, y))

	losses := m.LossHistory()
	require.NotEmpty(t, losses)
	assert.Equal(t, len(losses), m.Epochs())
	assert.Less(t, losses[len(losses)-1], losses[0])
	for i := 1; i < len(losses); i++ {
		assert.LessOrEqual(t, losses[i], losses[i-1]+1e-12, "epoch %d", i)
	}
}

func TestLogisticGD_ProbabilitiesStrictlyInsideUnitInterval(t *testing.T) {
	X, y := encodedTrainingSet(t, 200, 2)
	m := NewLogisticGD(DefaultTrainConfig())
	require.NoError(t, m.Fit(X, y))

	proba, err := m.PredictProba(X)
	require.NoError(t, err)
	require.Len(t, proba, len(y))
	for i, p := range proba {
		assert.True(t, p > 0 && p < 1, "row %d: %v", i, p)
	}
}

func TestLogisticGD_Deterministic(t *testing.T) {
	X, y := encodedTrainingSet(t, 150, 3)

	a := NewLogisticGD(DefaultTrainConfig())
	b := NewLogisticGD(DefaultTrainConfig())
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))
	assert.Equal(t, a.Weights(), b.Weights())

	cfg := DefaultTrainConfig()
	cfg.Seed = 99
	cfg.MaxEpochs = 1
	c := NewLogisticGD(cfg)
	require.NoError(t, c.Fit(X, y))
	assert.NotEqual(t, a.Weights(), c.Weights())
}

func TestLogisticGD_StoppingRules(t *testing.T) {
	X, y := encodedTrainingSet(t, 100, 4)

	tests := []struct {
		name      string
		maxEpochs int
		tol       float64
		want      int
	}{
		{"epoch cap", 5, 0, 5},
		{"loose tolerance stops on second epoch", 1000, 1, 2},
		{"single epoch", 1, 1e-6, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTrainConfig()
			cfg.MaxEpochs = tt.maxEpochs
			cfg.Tolerance = tt.tol
			m := NewLogisticGD(cfg)
			require.NoError(t, m.Fit(X, y))
			assert.Equal(t, tt.want, m.Epochs())
		})
	}
}

func TestLogisticGD_Errors(t *testing.T) {
	X, y := encodedTrainingSet(t, 50, 5)

	t.Run("predict before fit", func(t *testing.T) {
		_, err := NewLogisticGD(DefaultTrainConfig()).PredictProba(X)
		assert.ErrorIs(t, err, ErrNotFitted)
	})

	t.Run("label count mismatch", func(t *testing.T) {
		err := NewLogisticGD(DefaultTrainConfig()).Fit(X, y[:10])
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})

	t.Run("feature count mismatch", func(t *testing.T) {
		m := NewLogisticGD(DefaultTrainConfig())
		require.NoError(t, m.Fit(X, y))
		_, err := m.PredictProba(mat.NewDense(2, 3, nil))
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})

	t.Run("single class rejected when configured", func(t *testing.T) {
		cfg := DefaultTrainConfig()
		cfg.RejectSingleClass = true
		err := NewLogisticGD(cfg).Fit(X, make([]float64, len(y)))
		assert.ErrorIs(t, err, ErrDegenerateLabels)
	})
}

func TestLogisticGD_SingleClassFallback(t *testing.T) {
	X, y := encodedTrainingSet(t, 80, 6)
	zeros := make([]float64, len(y))

	m := NewLogisticGD(DefaultTrainConfig())
	require.NoError(t, m.Fit(X, zeros))

	proba, err := m.PredictProba(X)
	require.NoError(t, err)
	for _, p := range proba {
		assert.Less(t, p, 0.5)
		assert.Greater(t, p, 0.0)
	}
}

func TestLogisticGD_RefitDiscardsPreviousWeights(t *testing.T) {
	X, y := encodedTrainingSet(t, 60, 7)
	m := NewLogisticGD(DefaultTrainConfig())
	require.NoError(t, m.Fit(X, y))
	_, d := X.Dims()
	assert.Len(t, m.Weights(), d+1)

	narrow := mat.DenseCopyOf(X.Slice(0, 60, 0, 3))
	require.NoError(t, m.Fit(narrow, y))
	assert.Len(t, m.Weights(), 4)

	_, err := m.PredictProba(X)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestSigmoid_Bounds(t *testing.T) {
	tests := []struct {
		z    float64
		want float64
	}{
		{0, 0.5},
		{2, 1 / (1 + math.Exp(-2))},
		{-2, 1 / (1 + math.Exp(2))},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, sigmoid(tt.z), 1e-15)
	}

	for _, z := range []float64{1e3, 1e308, math.Inf(1)} {
		assert.Less(t, sigmoid(z), 1.0)
		assert.Greater(t, sigmoid(-z), 0.0)
	}
	assert.InDelta(t, 1, sigmoid(30)+sigmoid(-30), 1e-15)
}
