package ml

import (
	"math"
	"testing"

	"vehicle-fraud/internal/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallFrame() *features.Frame {
	return features.FromRows([]features.FeatureRow{
		{LogAmount: 1, Hour: 5, Dow: 1, GeoDelta: 0.1, Channel: "web", Category: "Fuel"},
		{LogAmount: 2, Hour: 5, Dow: 2, GeoDelta: 0.2, Channel: "pos", Category: "Food"},
		{LogAmount: 3, Hour: 5, Dow: 3, GeoDelta: 0.3, Channel: "web", Category: "Fuel"},
	})
}

func TestPreprocessor_FitTransform(t *testing.T) {
	p := NewDefaultPreprocessor()
	X, err := p.FitTransform(smallFrame())
	require.NoError(t, err)

	rows, cols := X.Dims()
	assert.Equal(t, 3, rows)
	// 4 numeric + {pos, web} + {Food, Fuel}
	assert.Equal(t, 8, cols)
	assert.Equal(t, 8, p.Width())

	std := math.Sqrt(2.0 / 3.0)
	assert.InDelta(t, -1/std, X.At(0, 0), 1e-12)
	assert.InDelta(t, 0, X.At(1, 0), 1e-12)
	assert.InDelta(t, 1/std, X.At(2, 0), 1e-12)

	// constant hour column encodes to zero
	for i := 0; i < 3; i++ {
		assert.Equal(t, 0.0, X.At(i, 1))
	}

	// channel block: pos=4, web=5; category block: Food=6, Fuel=7
	assert.Equal(t, []float64{0, 1, 0, 1}, X.RawRowView(0)[4:])
	assert.Equal(t, []float64{1, 0, 1, 0}, X.RawRowView(1)[4:])

	assert.Equal(t, []string{
		"log_amount", "hour", "dow", "geo_delta",
		"channel=pos", "channel=web", "category=Food", "category=Fuel",
	}, p.FeatureNames())
}

func TestPreprocessor_StandardizedColumnsHaveZeroMeanUnitVariance(t *testing.T) {
	frame, _ := makeFrame(500, 7)
	p := NewDefaultPreprocessor()
	X, err := p.FitTransform(frame)
	require.NoError(t, err)

	n, _ := X.Dims()
	for j := range features.NumericColumns {
		var sum, sq float64
		for i := 0; i < n; i++ {
			v := X.At(i, j)
			sum += v
			sq += v * v
		}
		mean := sum / float64(n)
		assert.InDelta(t, 0, mean, 1e-9, "column %d mean", j)
		assert.InDelta(t, 1, sq/float64(n)-mean*mean, 1e-9, "column %d variance", j)
	}
}

func TestPreprocessor_UnseenCategoryEncodesAsZeros(t *testing.T) {
	p := NewDefaultPreprocessor()
	require.NoError(t, p.Fit(smallFrame()))

	unseen := features.FromRows([]features.FeatureRow{
		{LogAmount: 2, Hour: 5, Dow: 1, GeoDelta: 0.1, Channel: "kiosk", Category: "Fuel"},
	})
	X, err := p.Transform(unseen)
	require.NoError(t, err)

	_, cols := X.Dims()
	assert.Equal(t, p.Width(), cols)
	assert.Equal(t, []float64{0, 0, 0, 1}, X.RawRowView(0)[4:])
}

func TestPreprocessor_TransformIsDeterministic(t *testing.T) {
	frame, _ := makeFrame(50, 3)
	p := NewDefaultPreprocessor()
	require.NoError(t, p.Fit(frame))

	a, err := p.Transform(frame)
	require.NoError(t, err)
	b, err := p.Transform(frame)
	require.NoError(t, err)
	assert.Equal(t, a.RawMatrix().Data, b.RawMatrix().Data)

	before := p.State()
	require.NoError(t, p.Fit(frame))
	assert.Equal(t, before, p.State())
}

func TestPreprocessor_StatsComeFromFitFrameOnly(t *testing.T) {
	p := NewDefaultPreprocessor()
	require.NoError(t, p.Fit(smallFrame()))
	state := p.State()

	other, _ := makeFrame(100, 11)
	_, err := p.Transform(other)
	require.NoError(t, err)

	assert.Equal(t, state, p.State())
	assert.InDelta(t, 2.0, p.State().Numeric[0].Mean, 1e-12)
}

func TestPreprocessor_RefitReplacesState(t *testing.T) {
	p := NewDefaultPreprocessor()
	require.NoError(t, p.Fit(smallFrame()))
	assert.Equal(t, 8, p.Width())

	frame, _ := makeFrame(200, 5)
	require.NoError(t, p.Fit(frame))
	assert.Equal(t, 4+len(testChannels)+len(testCategories), p.Width())
	assert.Equal(t, testChannels, p.State().Categorical[0].Categories)
}

func TestPreprocessor_Errors(t *testing.T) {
	t.Run("transform before fit", func(t *testing.T) {
		_, err := NewDefaultPreprocessor().Transform(smallFrame())
		assert.ErrorIs(t, err, ErrNotFitted)
	})

	t.Run("fit on empty frame", func(t *testing.T) {
		err := NewDefaultPreprocessor().Fit(features.NewFrame(0))
		assert.ErrorIs(t, err, ErrEmptyInput)
	})

	t.Run("fit on nil frame", func(t *testing.T) {
		err := NewDefaultPreprocessor().Fit(nil)
		assert.ErrorIs(t, err, ErrEmptyInput)
	})

	t.Run("missing numeric column", func(t *testing.T) {
		frame := smallFrame()
		frame.Drop(features.ColGeoDelta)
		err := NewDefaultPreprocessor().Fit(frame)
		require.ErrorIs(t, err, ErrMissingColumn)
		assert.Contains(t, err.Error(), features.ColGeoDelta)
	})

	t.Run("missing categorical column at transform", func(t *testing.T) {
		p := NewDefaultPreprocessor()
		require.NoError(t, p.Fit(smallFrame()))
		frame := smallFrame()
		frame.Drop(features.ColChannel)
		_, err := p.Transform(frame)
		assert.ErrorIs(t, err, ErrMissingColumn)
	})
}

func TestRestorePreprocessor(t *testing.T) {
	p := NewDefaultPreprocessor()
	require.NoError(t, p.Fit(smallFrame()))

	restored, err := restorePreprocessor(p.State())
	require.NoError(t, err)

	want, err := p.Transform(smallFrame())
	require.NoError(t, err)
	got, err := restored.Transform(smallFrame())
	require.NoError(t, err)
	assert.Equal(t, want.RawMatrix().Data, got.RawMatrix().Data)

	_, err = restorePreprocessor(nil)
	assert.ErrorIs(t, err, ErrNotFitted)

	bad := p.State()
	bad.Numeric[0].Std = -1
	_, err = restorePreprocessor(bad)
	assert.Error(t, err)
}
