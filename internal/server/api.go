package server

import (
	"time"

	"vehicle-fraud/internal/features"
	"vehicle-fraud/internal/ml"
	"vehicle-fraud/internal/storage"
)

// PredictRequest carries either engineered feature rows or raw joined
// transactions; features are derived from the latter.
type PredictRequest struct {
	RequestID    string                 `json:"request_id,omitempty"`
	Threshold    *float64               `json:"threshold,omitempty"`
	Rows         []features.FeatureRow  `json:"rows,omitempty"`
	Transactions []features.Transaction `json:"transactions,omitempty"`
}

// ScoredRow is the result for one input row, in input order.
type ScoredRow struct {
	TxnID       string  `json:"txn_id,omitempty"`
	Probability float64 `json:"probability"`
	Flagged     bool    `json:"flagged"`
}

// PredictResponse is returned by POST /predict and each websocket reply.
type PredictResponse struct {
	RequestID string      `json:"request_id"`
	ModelID   string      `json:"model_id"`
	Threshold float64     `json:"threshold"`
	Scores    []ScoredRow `json:"scores"`
	Flagged   int         `json:"flagged"`
	LatencyMS float64     `json:"latency_ms"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthStatus is returned by GET /health.
type HealthStatus struct {
	Healthy     bool      `json:"healthy"`
	ModelLoaded bool      `json:"model_loaded"`
	ModelID     string    `json:"model_id,omitempty"`
	Database    string    `json:"database,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ModelInfo is returned by GET /model/info.
type ModelInfo struct {
	ID        string                `json:"id"`
	CreatedAt time.Time             `json:"created_at"`
	Kind      ml.Kind               `json:"kind"`
	Features  []string              `json:"features"`
	Config    ml.TrainConfig        `json:"config"`
	Threshold float64               `json:"default_threshold"`
	Version   *storage.ModelVersion `json:"version,omitempty"`

	Importance []ml.FeatureWeight `json:"importance,omitempty"`
}

// Filters lists the values the dashboard can filter on.
type Filters struct {
	Categories []string `json:"categories"`
	Channels   []string `json:"channels"`
}
