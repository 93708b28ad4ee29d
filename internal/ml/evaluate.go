package ml

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// ClassMetrics is the thresholded performance on one class.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report is the evaluation of predicted probabilities against true labels.
// ROCAUC is NaN when only one class is present; PRAUC is NaN when there are
// no positives.
type Report struct {
	ROCAUC    float64         `json:"roc_auc"`
	PRAUC     float64         `json:"pr_auc"`
	Threshold float64         `json:"threshold"`
	Classes   [2]ClassMetrics `json:"classes"`
	Accuracy  float64         `json:"accuracy"`
	MacroAvg  ClassMetrics    `json:"macro_avg"`
	Weighted  ClassMetrics    `json:"weighted_avg"`
	Predicted []int           `json:"-"`
}

// Negative returns the metrics of class 0.
func (r Report) Negative() ClassMetrics { return r.Classes[0] }

// Positive returns the metrics of class 1 (fraud).
func (r Report) Positive() ClassMetrics { return r.Classes[1] }

// Evaluate scores proba against yTrue. Predictions are positive iff
// proba >= threshold. Inputs are not modified.
func Evaluate(yTrue []bool, proba []float64, threshold float64) (Report, error) {
	if len(yTrue) == 0 {
		return Report{}, fmt.Errorf("evaluate: %w", ErrEmptyInput)
	}
	if len(yTrue) != len(proba) {
		return Report{}, fmt.Errorf("evaluate: %w: %d labels, %d scores", ErrShapeMismatch, len(yTrue), len(proba))
	}
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return Report{}, fmt.Errorf("evaluate: %w, got %g", ErrInvalidThreshold, threshold)
	}

	r := Report{
		ROCAUC:    ROCAUC(yTrue, proba),
		PRAUC:     AveragePrecision(yTrue, proba),
		Threshold: threshold,
		Predicted: Binarize(proba, threshold),
	}

	var confusion [2][2]int // [true][pred]
	for i, y := range yTrue {
		confusion[b2i(y)][r.Predicted[i]]++
	}

	n := len(yTrue)
	correct := confusion[0][0] + confusion[1][1]
	r.Accuracy = float64(correct) / float64(n)

	for c := 0; c < 2; c++ {
		tp := confusion[c][c]
		predicted := confusion[0][c] + confusion[1][c]
		support := confusion[c][0] + confusion[c][1]
		m := ClassMetrics{
			Precision: safeDiv(tp, predicted),
			Recall:    safeDiv(tp, support),
			Support:   support,
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.Classes[c] = m

		r.MacroAvg.Precision += m.Precision / 2
		r.MacroAvg.Recall += m.Recall / 2
		r.MacroAvg.F1 += m.F1 / 2
		w := float64(support) / float64(n)
		r.Weighted.Precision += m.Precision * w
		r.Weighted.Recall += m.Recall * w
		r.Weighted.F1 += m.F1 * w
	}
	r.MacroAvg.Support = n
	r.Weighted.Support = n

	return r, nil
}

// Binarize maps probabilities to 0/1 predictions at threshold.
func Binarize(proba []float64, threshold float64) []int {
	out := make([]int, len(proba))
	for i, p := range proba {
		if p >= threshold {
			out[i] = 1
		}
	}
	return out
}

// ROCAUC is the probability that a random positive is scored above a random
// negative, ties counting one half. It is computed from average ranks.
func ROCAUC(yTrue []bool, proba []float64) float64 {
	nPos, nNeg := countClasses(yTrue)
	if nPos == 0 || nNeg == 0 {
		return math.NaN()
	}

	ranks := averageRanks(proba)
	var posRankSum float64
	for i, y := range yTrue {
		if y {
			posRankSum += ranks[i]
		}
	}
	u := posRankSum - float64(nPos)*float64(nPos+1)/2
	return u / (float64(nPos) * float64(nNeg))
}

// AveragePrecision is the area under the precision-recall curve as the
// recall-weighted mean of precision over distinct score thresholds, swept high to low.
func AveragePrecision(yTrue []bool, proba []float64) float64 {
	nPos, _ := countClasses(yTrue)
	if nPos == 0 {
		return math.NaN()
	}

	order := make([]int, len(proba))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return proba[order[a]] > proba[order[b]] })

	var ap, prevRecall float64
	tp, fp := 0, 0
	for k, i := range order {
		if yTrue[i] {
			tp++
		} else {
			fp++
		}
		// Only close a step once every row sharing this score is counted.
		if k+1 < len(order) && proba[order[k+1]] == proba[i] {
			continue
		}
		recall := float64(tp) / float64(nPos)
		precision := float64(tp) / float64(tp+fp)
		ap += (recall - prevRecall) * precision
		prevRecall = recall
	}
	return ap
}

// averageRanks returns 1-based ranks of x in ascending order, ties sharing
// their mean rank.
func averageRanks(x []float64) []float64 {
	sorted := append([]float64(nil), x...)
	idx := make([]int, len(x))
	floats.Argsort(sorted, idx)

	ranks := make([]float64, len(x))
	for i := 0; i < len(sorted); {
		j := i
		for j+1 < len(sorted) && sorted[j+1] == sorted[i] {
			j++
		}
		mean := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = mean
		}
		i = j + 1
	}
	return ranks
}

// String renders the thresholded report as a classification table.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%12s %9s %9s %9s %9s\n\n", "", "precision", "recall", "f1-score", "support")
	for c, m := range r.Classes {
		fmt.Fprintf(&b, "%12d %9.3f %9.3f %9.3f %9d\n", c, m.Precision, m.Recall, m.F1, m.Support)
	}
	n := r.MacroAvg.Support
	fmt.Fprintf(&b, "\n%12s %9s %9s %9.3f %9d\n", "accuracy", "", "", r.Accuracy, n)
	fmt.Fprintf(&b, "%12s %9.3f %9.3f %9.3f %9d\n", "macro avg", r.MacroAvg.Precision, r.MacroAvg.Recall, r.MacroAvg.F1, n)
	fmt.Fprintf(&b, "%12s %9.3f %9.3f %9.3f %9d\n", "weighted avg", r.Weighted.Precision, r.Weighted.Recall, r.Weighted.F1, n)
	return b.String()
}

func countClasses(y []bool) (pos, neg int) {
	for _, v := range y {
		if v {
			pos++
		} else {
			neg++
		}
	}
	return pos, neg
}

func safeDiv(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
