package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// StratifiedSplit divides row indices into train and test sets keeping the
// class ratio of labels in both. Each class is shuffled with a seeded source
// and contributes round(fraction*count) rows to test, clamped so that a class
// with at least two rows lands in both sets. Returned indices are ascending.
func StratifiedSplit(labels []bool, fraction float64, seed int64) (train, test []int, err error) {
	if len(labels) == 0 {
		return nil, nil, fmt.Errorf("split: %w", ErrEmptyInput)
	}
	if fraction <= 0 || fraction >= 1 {
		return nil, nil, fmt.Errorf("split: test fraction must be in (0, 1), got %g", fraction)
	}

	var byClass [2][]int
	for i, l := range labels {
		byClass[b2i(l)] = append(byClass[b2i(l)], i)
	}

	rng := rand.New(rand.NewSource(seed))
	for _, idx := range byClass {
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })

		k := int(math.Round(fraction * float64(len(idx))))
		if len(idx) >= 2 {
			k = max(1, min(k, len(idx)-1))
		}
		test = append(test, idx[:k]...)
		train = append(train, idx[k:]...)
	}

	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}

// SelectLabels picks labels at idx.
func SelectLabels(labels []bool, idx []int) []bool {
	out := make([]bool, len(idx))
	for i, j := range idx {
		out[i] = labels[j]
	}
	return out
}
