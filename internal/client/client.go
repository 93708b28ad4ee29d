// Package client is a typed HTTP client for the fraud scoring service.
package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vehicle-fraud/internal/features"
	"vehicle-fraud/internal/server"

	"github.com/go-resty/resty/v2"
)

// APIError is a non-2xx answer of the service.
type APIError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("fraud api: %d %s (request %s)", e.Status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("fraud api: %d %s", e.Status, e.Message)
}

type Client struct {
	base string
	rest *resty.Client
}

func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(10 * time.Second)
	}
	r.SetHeader("Content-Type", "application/json")
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

// Predict scores one batch.
func (c *Client) Predict(ctx context.Context, req server.PredictRequest) (*server.PredictResponse, error) {
	result := &server.PredictResponse{}
	apiErr := &server.ErrorResponse{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(result).
		SetError(apiErr).
		Post(c.base + "/predict")
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if resp.IsError() {
		return nil, toAPIError(resp, apiErr)
	}
	return result, nil
}

// ScoreTransactions scores txns in batches of batchSize and returns the rows
// in input order. A nil threshold uses the service default.
func (c *Client) ScoreTransactions(ctx context.Context, txns []features.Transaction, batchSize int, threshold *float64) ([]server.ScoredRow, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	out := make([]server.ScoredRow, 0, len(txns))
	for start := 0; start < len(txns); start += batchSize {
		end := min(start+batchSize, len(txns))
		resp, err := c.Predict(ctx, server.PredictRequest{
			Transactions: txns[start:end],
			Threshold:    threshold,
		})
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		if len(resp.Scores) != end-start {
			return nil, fmt.Errorf("batch %d-%d: expected %d scores, got %d", start, end, end-start, len(resp.Scores))
		}
		out = append(out, resp.Scores...)
	}
	return out, nil
}

// Health returns the service health. An unhealthy service is not an error;
// the status is reported in the result.
func (c *Client) Health(ctx context.Context) (*server.HealthStatus, error) {
	health := &server.HealthStatus{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(health).
		SetError(health).
		Get(c.base + "/health")
	if err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	if resp.IsError() && resp.StatusCode() != 503 {
		return nil, &APIError{Status: resp.StatusCode(), Message: resp.Status()}
	}
	return health, nil
}

// ModelInfo describes the serving model.
func (c *Client) ModelInfo(ctx context.Context) (*server.ModelInfo, error) {
	info := &server.ModelInfo{}
	apiErr := &server.ErrorResponse{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(info).
		SetError(apiErr).
		Get(c.base + "/model/info")
	if err != nil {
		return nil, fmt.Errorf("model info: %w", err)
	}
	if resp.IsError() {
		return nil, toAPIError(resp, apiErr)
	}
	return info, nil
}

// SummaryQuery holds the dashboard filters. Zero values use server defaults.
type SummaryQuery struct {
	Category  string
	Channel   string
	Threshold *float64
	Limit     int
}

func (q SummaryQuery) values() url.Values {
	v := url.Values{}
	if q.Category != "" {
		v.Set("category", q.Category)
	}
	if q.Channel != "" {
		v.Set("channel", q.Channel)
	}
	if q.Threshold != nil {
		v.Set("threshold", strconv.FormatFloat(*q.Threshold, 'f', -1, 64))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// Summary fetches the dashboard summary.
func (c *Client) Summary(ctx context.Context, q SummaryQuery) (*server.Summary, error) {
	summary := &server.Summary{}
	apiErr := &server.ErrorResponse{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParamsFromValues(q.values()).
		SetResult(summary).
		SetError(apiErr).
		Get(c.base + "/api/summary")
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	if resp.IsError() {
		return nil, toAPIError(resp, apiErr)
	}
	return summary, nil
}

func toAPIError(resp *resty.Response, body *server.ErrorResponse) error {
	msg := body.Error
	if msg == "" {
		msg = resp.Status()
	}
	return &APIError{Status: resp.StatusCode(), Message: msg, RequestID: body.RequestID}
}
