package ml

import (
	"testing"

	"vehicle-fraud/internal/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fittedPreprocessor(t *testing.T) *Preprocessor {
	t.Helper()
	frame, _ := makeFrame(1000, 1)
	prep := NewDefaultPreprocessor()
	require.NoError(t, prep.Fit(frame))
	return prep
}

func TestDetectDrift_SameDistribution(t *testing.T) {
	prep := fittedPreprocessor(t)
	batch, _ := makeFrame(1000, 2)

	report, err := DetectDrift(prep, batch, DefaultDriftThresholds())
	require.NoError(t, err)

	assert.Equal(t, 1000, report.Rows)
	assert.Empty(t, report.Drifted)
	// two statistics per numeric column, one per categorical column
	assert.Len(t, report.Features, 2*len(features.NumericColumns)+len(features.CategoricalColumns))
}

func TestDetectDrift_ShiftedBatch(t *testing.T) {
	prep := fittedPreprocessor(t)
	rows, _ := makeRows(400, 3)
	for i := range rows {
		rows[i].LogAmount += 2
		if i%2 == 0 {
			rows[i].Channel = "kiosk"
		}
	}

	report, err := DetectDrift(prep, features.FromRows(rows), DefaultDriftThresholds())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{features.ColLogAmount, features.ColChannel}, report.Drifted)
	for _, fd := range report.Features {
		if fd.Feature == features.ColChannel {
			assert.Equal(t, UnseenCategories, fd.Method)
			assert.InDelta(t, 0.5, fd.Score, 1e-12)
		}
		if fd.Feature == features.ColLogAmount && fd.Method == MeanShift {
			assert.Greater(t, fd.Score, 2.0)
		}
	}
}

func TestDetectDrift_ConstantColumnNeverDrifts(t *testing.T) {
	prep := NewDefaultPreprocessor()
	require.NoError(t, prep.Fit(smallFrame()))

	batch := features.FromRows([]features.FeatureRow{
		{LogAmount: 2, Hour: 23, Dow: 2, GeoDelta: 0.2, Channel: "web", Category: "Fuel"},
	})
	report, err := DetectDrift(prep, batch, DefaultDriftThresholds())
	require.NoError(t, err)
	assert.NotContains(t, report.Drifted, features.ColHour)
}

func TestDetectDrift_Errors(t *testing.T) {
	batch, _ := makeFrame(10, 1)

	_, err := DetectDrift(NewDefaultPreprocessor(), batch, DefaultDriftThresholds())
	assert.ErrorIs(t, err, ErrNotFitted)

	prep := fittedPreprocessor(t)
	_, err = DetectDrift(prep, features.NewFrame(0), DefaultDriftThresholds())
	assert.ErrorIs(t, err, ErrEmptyInput)

	batch.Drop(features.ColGeoDelta)
	_, err = DetectDrift(prep, batch, DefaultDriftThresholds())
	assert.ErrorIs(t, err, ErrMissingColumn)
}
