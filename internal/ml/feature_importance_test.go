package ml

import (
	"strings"
	"testing"

	"vehicle-fraud/internal/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureImportance(t *testing.T) {
	p, _ := fittedPipeline(t)

	weights, err := FeatureImportance(p)
	require.NoError(t, err)
	require.Len(t, weights, len(p.Preprocessor().FeatureNames()))

	// fraud in the test data is driven mostly by the amount
	assert.Equal(t, features.ColLogAmount, weights[0].Feature)
	assert.Greater(t, weights[0].Weight, 0.0)

	var sum float64
	for i, w := range weights {
		sum += w.Importance
		if i > 0 {
			assert.GreaterOrEqual(t, weights[i-1].Importance, w.Importance)
		}
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	table := FormatImportance(weights, 3)
	assert.Contains(t, table, features.ColLogAmount)
	assert.Len(t, strings.Split(strings.TrimSpace(table), "\n"), 4)
}

func TestFeatureImportance_Unfitted(t *testing.T) {
	p, err := NewPipeline(DefaultTrainConfig())
	require.NoError(t, err)

	_, err = FeatureImportance(p)
	assert.ErrorIs(t, err, ErrNotFitted)

	_, err = FeatureImportance(nil)
	assert.ErrorIs(t, err, ErrNotFitted)
}
