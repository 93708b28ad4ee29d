package ml

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// FeatureWeight is the fitted coefficient of one encoded feature. Inputs are
// standardized or one-hot, so magnitudes are comparable across features.
type FeatureWeight struct {
	Feature    string  `json:"feature"`
	Weight     float64 `json:"weight"`
	Importance float64 `json:"importance"`
}

// FeatureImportance ranks the encoded features of a fitted pipeline by the
// absolute value of their coefficient, largest first. Importance is the share
// of the total absolute weight, so the values sum to 1. The bias is excluded.
func FeatureImportance(p *Pipeline) ([]FeatureWeight, error) {
	if p == nil || !p.Fitted() {
		return nil, fmt.Errorf("feature importance: %w", ErrNotFitted)
	}
	lr, ok := p.Classifier().(*LogisticGD)
	if !ok {
		return nil, fmt.Errorf("feature importance: %w: %s", ErrUnknownModel, p.Classifier().Kind())
	}

	names := p.Preprocessor().FeatureNames()
	weights := lr.Weights()
	if len(weights) != len(names)+1 {
		return nil, fmt.Errorf("feature importance: %w: %d weights for %d features",
			ErrShapeMismatch, len(weights), len(names))
	}

	var total float64
	for _, w := range weights[:len(names)] {
		total += math.Abs(w)
	}

	out := make([]FeatureWeight, len(names))
	for i, name := range names {
		fw := FeatureWeight{Feature: name, Weight: weights[i]}
		if total > 0 {
			fw.Importance = math.Abs(weights[i]) / total
		}
		out[i] = fw
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Weight) > math.Abs(out[j].Weight)
	})
	return out, nil
}

// FormatImportance renders the top n weights as an aligned table.
func FormatImportance(weights []FeatureWeight, n int) string {
	if n <= 0 || n > len(weights) {
		n = len(weights)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-28s %10s %10s\n", "feature", "weight", "share")
	for _, w := range weights[:n] {
		fmt.Fprintf(&b, "%-28s %10.4f %9.1f%%\n", w.Feature, w.Weight, 100*w.Importance)
	}
	return b.String()
}
