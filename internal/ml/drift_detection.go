package ml

import (
	"fmt"
	"math"

	"vehicle-fraud/internal/features"

	"gonum.org/v1/gonum/stat"
)

// DriftMethod names the statistic behind a FeatureDrift.
type DriftMethod string

const (
	MeanShift        DriftMethod = "mean_shift"
	StdRatio         DriftMethod = "std_ratio"
	UnseenCategories DriftMethod = "unseen_categories"
)

// DriftThresholds bound each statistic. A column is drifted when any of its
// scores crosses the corresponding bound.
type DriftThresholds struct {
	// MeanShift is the largest tolerated |batch mean - fitted mean| in fitted
	// standard deviations.
	MeanShift float64 `json:"mean_shift"`
	// StdRatio bounds batch std / fitted std to [1/StdRatio, StdRatio].
	StdRatio float64 `json:"std_ratio"`
	// UnseenShare is the largest tolerated fraction of categories missing
	// from the fitted vocabulary.
	UnseenShare float64 `json:"unseen_share"`
}

func DefaultDriftThresholds() DriftThresholds {
	return DriftThresholds{MeanShift: 0.5, StdRatio: 2, UnseenShare: 0.05}
}

// FeatureDrift is one statistic of one input column.
type FeatureDrift struct {
	Feature   string      `json:"feature"`
	Method    DriftMethod `json:"method"`
	Score     float64     `json:"score"`
	Threshold float64     `json:"threshold"`
	Drifted   bool        `json:"drifted"`
}

// DriftReport compares a batch against the statistics the preprocessor was
// fitted on.
type DriftReport struct {
	Rows     int            `json:"rows"`
	Features []FeatureDrift `json:"features"`
	Drifted  []string       `json:"drifted"`
}

// DetectDrift scores frame against prep's fitted state. Columns with zero
// fitted spread always transform to 0, so they never report drift.
func DetectDrift(prep *Preprocessor, frame *features.Frame, th DriftThresholds) (*DriftReport, error) {
	if prep == nil || prep.state == nil {
		return nil, fmt.Errorf("detect drift: %w", ErrNotFitted)
	}
	if frame == nil || frame.Len() == 0 {
		return nil, fmt.Errorf("detect drift: %w", ErrEmptyInput)
	}

	report := &DriftReport{Rows: frame.Len(), Drifted: []string{}}
	drifted := make(map[string]bool)
	add := func(fd FeatureDrift) {
		report.Features = append(report.Features, fd)
		if fd.Drifted && !drifted[fd.Feature] {
			drifted[fd.Feature] = true
			report.Drifted = append(report.Drifted, fd.Feature)
		}
	}

	for _, ns := range prep.state.Numeric {
		col, ok := frame.Numeric(ns.Column)
		if !ok {
			return nil, fmt.Errorf("detect drift: %w: %s", ErrMissingColumn, ns.Column)
		}
		mean := stat.Mean(col, nil)
		std := math.Sqrt(stat.Moment(2, col, nil))

		shift, ratio := 0.0, 1.0
		if ns.Std > 0 {
			shift = math.Abs(mean-ns.Mean) / ns.Std
			ratio = std / ns.Std
		}
		add(FeatureDrift{
			Feature:   ns.Column,
			Method:    MeanShift,
			Score:     shift,
			Threshold: th.MeanShift,
			Drifted:   shift > th.MeanShift,
		})
		add(FeatureDrift{
			Feature:   ns.Column,
			Method:    StdRatio,
			Score:     ratio,
			Threshold: th.StdRatio,
			Drifted:   th.StdRatio > 0 && (ratio > th.StdRatio || ratio < 1/th.StdRatio),
		})
	}

	for i, voc := range prep.state.Categorical {
		col, ok := frame.Categorical(voc.Column)
		if !ok {
			return nil, fmt.Errorf("detect drift: %w: %s", ErrMissingColumn, voc.Column)
		}
		unseen := 0
		for _, v := range col {
			if _, ok := prep.index[i][v]; !ok {
				unseen++
			}
		}
		share := float64(unseen) / float64(len(col))
		add(FeatureDrift{
			Feature:   voc.Column,
			Method:    UnseenCategories,
			Score:     share,
			Threshold: th.UnseenShare,
			Drifted:   share > th.UnseenShare,
		})
	}

	return report, nil
}
