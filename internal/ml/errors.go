// Package ml implements the fraud model: a preprocessor that standardizes and
// one-hot encodes transaction features, a gradient-descent logistic regression,
// an evaluator for ranking and thresholded metrics, and a serializable pipeline
// that chains them.
package ml

import "errors"

// Contract violations are returned synchronously and never retried here.
// Unknown categories at transform time are not errors: they encode to an
// all-zero indicator block.
var (
	ErrNotFitted        = errors.New("not fitted")
	ErrShapeMismatch    = errors.New("shape mismatch")
	ErrEmptyInput       = errors.New("empty input")
	ErrMissingColumn    = errors.New("missing column")
	ErrDegenerateLabels = errors.New("labels contain a single class")
	ErrInvalidThreshold = errors.New("threshold must be within [0, 1]")
	ErrUnknownModel     = errors.New("unknown model kind")
)
