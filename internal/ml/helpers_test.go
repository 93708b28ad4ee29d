package ml

import (
	"math/rand"

	"vehicle-fraud/internal/features"
)

var (
	testChannels   = []string{"app", "pos", "web"}
	testCategories = []string{"CarWash", "Food", "Fuel", "Parking"}
)

// makeRows builds n feature rows where fraud is driven mostly by the amount
// and partly by web fuel purchases.
func makeRows(n int, seed int64) ([]features.FeatureRow, []bool) {
	rng := rand.New(rand.NewSource(seed))
	rows := make([]features.FeatureRow, n)
	labels := make([]bool, n)
	for i := range rows {
		r := features.FeatureRow{
			LogAmount: 3 + 0.7*rng.NormFloat64(),
			Hour:      float64(rng.Intn(24)),
			Dow:       float64(rng.Intn(7)),
			GeoDelta:  0.01 * rng.Float64(),
			Channel:   testChannels[rng.Intn(len(testChannels))],
			Category:  testCategories[rng.Intn(len(testCategories))],
		}
		fraud := r.LogAmount > 3.6
		if r.Channel == "web" && r.Category == "Fuel" && rng.Float64() < 0.5 {
			fraud = true
		}
		rows[i] = r
		labels[i] = fraud
	}
	return rows, labels
}

func makeFrame(n int, seed int64) (*features.Frame, []bool) {
	rows, labels := makeRows(n, seed)
	return features.FromRows(rows), labels
}

func boolsToFloats(b []bool) []float64 {
	out := make([]float64, len(b))
	for i, v := range b {
		if v {
			out[i] = 1
		}
	}
	return out
}
