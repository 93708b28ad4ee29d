package ml

import (
	"fmt"
	"math"
	"sort"

	"vehicle-fraud/internal/features"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// NumericStat is the fitted standardization of one numeric column.
type NumericStat struct {
	Column string  `json:"column"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
}

// Vocabulary is the fitted category order of one categorical column.
type Vocabulary struct {
	Column     string   `json:"column"`
	Categories []string `json:"categories"`
}

// PreprocessorState is everything Fit learns. It is replaced wholesale by a refit.
type PreprocessorState struct {
	Numeric     []NumericStat `json:"numeric"`
	Categorical []Vocabulary  `json:"categorical"`
}

// Preprocessor standardizes numeric columns and one-hot encodes categorical
// columns into a fixed-width matrix.
type Preprocessor struct {
	numCols []string
	catCols []string

	state *PreprocessorState
	index []map[string]int // per categorical column: category -> offset in its block
	width int
}

// NewPreprocessor declares the numeric and categorical input columns, in output order.
func NewPreprocessor(numCols, catCols []string) *Preprocessor {
	return &Preprocessor{
		numCols: append([]string(nil), numCols...),
		catCols: append([]string(nil), catCols...),
	}
}

// NewDefaultPreprocessor uses the declared transaction feature columns.
func NewDefaultPreprocessor() *Preprocessor {
	return NewPreprocessor(features.NumericColumns, features.CategoricalColumns)
}

// Fit computes per-column mean and population standard deviation and the sorted
// category vocabulary of every categorical column.
func (p *Preprocessor) Fit(frame *features.Frame) error {
	if frame == nil || frame.Len() == 0 {
		return fmt.Errorf("preprocessor fit: %w", ErrEmptyInput)
	}

	state := &PreprocessorState{
		Numeric:     make([]NumericStat, 0, len(p.numCols)),
		Categorical: make([]Vocabulary, 0, len(p.catCols)),
	}

	for _, name := range p.numCols {
		col, ok := frame.Numeric(name)
		if !ok {
			return fmt.Errorf("preprocessor fit: %w: %s", ErrMissingColumn, name)
		}
		mean := stat.Mean(col, nil)
		std := math.Sqrt(stat.Moment(2, col, nil))
		state.Numeric = append(state.Numeric, NumericStat{Column: name, Mean: mean, Std: std})
	}

	for _, name := range p.catCols {
		col, ok := frame.Categorical(name)
		if !ok {
			return fmt.Errorf("preprocessor fit: %w: %s", ErrMissingColumn, name)
		}
		seen := make(map[string]struct{})
		for _, v := range col {
			seen[v] = struct{}{}
		}
		cats := make([]string, 0, len(seen))
		for v := range seen {
			cats = append(cats, v)
		}
		sort.Strings(cats)
		state.Categorical = append(state.Categorical, Vocabulary{Column: name, Categories: cats})
	}

	p.install(state)
	return nil
}

// install swaps in a fitted state and rebuilds the lookup tables.
func (p *Preprocessor) install(state *PreprocessorState) {
	index := make([]map[string]int, len(state.Categorical))
	width := len(state.Numeric)
	for i, voc := range state.Categorical {
		m := make(map[string]int, len(voc.Categories))
		for j, c := range voc.Categories {
			m[c] = j
		}
		index[i] = m
		width += len(voc.Categories)
	}
	p.state = state
	p.index = index
	p.width = width
}

// Fitted reports whether Fit (or a state import) has happened.
func (p *Preprocessor) Fitted() bool { return p.state != nil }

// Width is the number of output columns, or 0 before fitting.
func (p *Preprocessor) Width() int { return p.width }

// Transform encodes frame with the fitted state. Categories missing from the
// fitted vocabulary produce an all-zero block.
func (p *Preprocessor) Transform(frame *features.Frame) (*mat.Dense, error) {
	if p.state == nil {
		return nil, fmt.Errorf("preprocessor transform: %w", ErrNotFitted)
	}
	if frame == nil || frame.Len() == 0 {
		return nil, fmt.Errorf("preprocessor transform: %w", ErrEmptyInput)
	}

	if p.width == 0 {
		return nil, fmt.Errorf("preprocessor transform: no output columns")
	}

	n := frame.Len()
	out := mat.NewDense(n, p.width, nil)

	for j, ns := range p.state.Numeric {
		col, ok := frame.Numeric(ns.Column)
		if !ok {
			return nil, fmt.Errorf("preprocessor transform: %w: %s", ErrMissingColumn, ns.Column)
		}
		for i, x := range col {
			if ns.Std == 0 {
				// out is zero-initialised
				continue
			}
			out.Set(i, j, (x-ns.Mean)/ns.Std)
		}
	}

	offset := len(p.state.Numeric)
	for k, voc := range p.state.Categorical {
		col, ok := frame.Categorical(voc.Column)
		if !ok {
			return nil, fmt.Errorf("preprocessor transform: %w: %s", ErrMissingColumn, voc.Column)
		}
		for i, v := range col {
			if pos, known := p.index[k][v]; known {
				out.Set(i, offset+pos, 1)
			}
		}
		offset += len(voc.Categories)
	}

	return out, nil
}

// FitTransform fits on frame and encodes it.
func (p *Preprocessor) FitTransform(frame *features.Frame) (*mat.Dense, error) {
	if err := p.Fit(frame); err != nil {
		return nil, err
	}
	return p.Transform(frame)
}

// FeatureNames returns the output column names, e.g. "hour" or "channel=web".
func (p *Preprocessor) FeatureNames() []string {
	if p.state == nil {
		return nil
	}
	names := make([]string, 0, p.width)
	for _, ns := range p.state.Numeric {
		names = append(names, ns.Column)
	}
	for _, voc := range p.state.Categorical {
		for _, c := range voc.Categories {
			names = append(names, voc.Column+"="+c)
		}
	}
	return names
}

// State returns a deep copy of the fitted state, or nil before fitting.
func (p *Preprocessor) State() *PreprocessorState {
	if p.state == nil {
		return nil
	}
	cp := &PreprocessorState{
		Numeric:     append([]NumericStat(nil), p.state.Numeric...),
		Categorical: make([]Vocabulary, len(p.state.Categorical)),
	}
	for i, voc := range p.state.Categorical {
		cp.Categorical[i] = Vocabulary{
			Column:     voc.Column,
			Categories: append([]string(nil), voc.Categories...),
		}
	}
	return cp
}

// restorePreprocessor rebuilds a fitted preprocessor from a serialized state.
func restorePreprocessor(state *PreprocessorState) (*Preprocessor, error) {
	if state == nil {
		return nil, fmt.Errorf("restore preprocessor: %w", ErrNotFitted)
	}
	p := &Preprocessor{}
	for _, ns := range state.Numeric {
		if math.IsNaN(ns.Mean) || math.IsNaN(ns.Std) || ns.Std < 0 {
			return nil, fmt.Errorf("restore preprocessor: invalid stats for column %s", ns.Column)
		}
		p.numCols = append(p.numCols, ns.Column)
	}
	for _, voc := range state.Categorical {
		p.catCols = append(p.catCols, voc.Column)
	}
	p.install(state)
	return p, nil
}
