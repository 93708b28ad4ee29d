package features

import "fmt"

// Frame is a columnar batch of feature rows addressed by column name.
// All columns share the same length. A Frame may omit declared columns;
// consumers decide whether that is an error.
type Frame struct {
	n           int
	numeric     map[string][]float64
	categorical map[string][]string
}

// NewFrame creates an empty frame of n rows.
func NewFrame(n int) *Frame {
	return &Frame{
		n:           n,
		numeric:     make(map[string][]float64),
		categorical: make(map[string][]string),
	}
}

// FromRows builds a frame carrying every declared column.
func FromRows(rows []FeatureRow) *Frame {
	f := NewFrame(len(rows))
	logAmount := make([]float64, len(rows))
	hour := make([]float64, len(rows))
	dow := make([]float64, len(rows))
	geo := make([]float64, len(rows))
	channel := make([]string, len(rows))
	category := make([]string, len(rows))
	for i, r := range rows {
		logAmount[i] = r.LogAmount
		hour[i] = r.Hour
		dow[i] = r.Dow
		geo[i] = r.GeoDelta
		channel[i] = r.Channel
		category[i] = r.Category
	}
	f.numeric[ColLogAmount] = logAmount
	f.numeric[ColHour] = hour
	f.numeric[ColDow] = dow
	f.numeric[ColGeoDelta] = geo
	f.categorical[ColChannel] = channel
	f.categorical[ColCategory] = category
	return f
}

// FromTransactions derives feature rows from txns and returns them as a frame with labels.
func FromTransactions(txns []Transaction) (*Frame, []bool) {
	rows, labels := BuildRows(txns)
	return FromRows(rows), labels
}

// Len returns the number of rows.
func (f *Frame) Len() int { return f.n }

// SetNumeric adds or replaces a numeric column.
func (f *Frame) SetNumeric(name string, col []float64) error {
	if len(col) != f.n {
		return fmt.Errorf("column %s has %d values, frame has %d rows", name, len(col), f.n)
	}
	delete(f.categorical, name)
	f.numeric[name] = col
	return nil
}

// SetCategorical adds or replaces a categorical column.
func (f *Frame) SetCategorical(name string, col []string) error {
	if len(col) != f.n {
		return fmt.Errorf("column %s has %d values, frame has %d rows", name, len(col), f.n)
	}
	delete(f.numeric, name)
	f.categorical[name] = col
	return nil
}

// Numeric returns the named numeric column.
func (f *Frame) Numeric(name string) ([]float64, bool) {
	col, ok := f.numeric[name]
	return col, ok
}

// Categorical returns the named categorical column.
func (f *Frame) Categorical(name string) ([]string, bool) {
	col, ok := f.categorical[name]
	return col, ok
}

// Drop removes a column of either kind.
func (f *Frame) Drop(name string) {
	delete(f.numeric, name)
	delete(f.categorical, name)
}

// Subset returns a new frame holding the rows at idx, in idx order.
func (f *Frame) Subset(idx []int) *Frame {
	out := NewFrame(len(idx))
	for name, col := range f.numeric {
		sub := make([]float64, len(idx))
		for i, j := range idx {
			sub[i] = col[j]
		}
		out.numeric[name] = sub
	}
	for name, col := range f.categorical {
		sub := make([]string, len(idx))
		for i, j := range idx {
			sub[i] = col[j]
		}
		out.categorical[name] = sub
	}
	return out
}
