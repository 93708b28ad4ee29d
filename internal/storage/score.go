package storage

import (
	"bytes"
	"encoding/json"
	"math"
)

// Score is a metric value that may be undefined. NaN encodes as JSON null
// and null decodes back to NaN.
type Score float64

func (s Score) MarshalJSON() ([]byte, error) {
	f := float64(s)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

func (s *Score) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = Score(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = Score(f)
	return nil
}

// Defined reports whether the score has a value.
func (s Score) Defined() bool { return !math.IsNaN(float64(s)) }
