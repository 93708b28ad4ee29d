package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"vehicle-fraud/internal/features"
	"vehicle-fraud/internal/ml"
	"vehicle-fraud/internal/source"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

const maxRequestBytes = 8 << 20

// requestError is a scoring failure with the HTTP status it maps to.
type requestError struct {
	status int
	err    error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, err: fmt.Errorf(format, args...)}
}

func statusOf(err error) int {
	var re *requestError
	if errors.As(err, &re) {
		return re.status
	}
	switch {
	case errors.Is(err, ErrNoModel), errors.Is(err, ErrNoSource):
		return http.StatusServiceUnavailable
	case errors.Is(err, ml.ErrMissingColumn), errors.Is(err, ml.ErrInvalidThreshold):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// score runs one prediction request against the serving model.
func (a *App) score(req PredictRequest) (PredictResponse, error) {
	start := time.Now()
	a.opts.Recorder.ScoreRequested()

	resp, err := a.scoreRequest(req, start)
	if err != nil {
		a.opts.Recorder.ScoreFailed()
		return PredictResponse{}, err
	}
	a.opts.Recorder.ScoresObserved(probabilities(resp.Scores), resp.Flagged, time.Since(start))
	return resp, nil
}

func (a *App) scoreRequest(req PredictRequest, start time.Time) (PredictResponse, error) {
	model, _, err := a.Model()
	if err != nil {
		return PredictResponse{}, err
	}

	rows := req.Rows
	switch {
	case len(req.Rows) > 0 && len(req.Transactions) > 0:
		return PredictResponse{}, badRequest("send either rows or transactions, not both")
	case len(req.Transactions) > 0:
		rows, _ = features.BuildRows(req.Transactions)
	case len(req.Rows) == 0:
		return PredictResponse{}, badRequest("rows cannot be empty")
	}

	threshold := a.opts.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return PredictResponse{}, badRequest("threshold must be within [0, 1], got %g", threshold)
	}

	proba, flags, err := model.Flag(features.FromRows(rows), threshold)
	if err != nil {
		return PredictResponse{}, fmt.Errorf("score %d rows: %w", len(rows), err)
	}

	resp := PredictResponse{
		RequestID: req.RequestID,
		ModelID:   model.ID(),
		Threshold: threshold,
		Scores:    make([]ScoredRow, len(rows)),
		Timestamp: time.Now().UTC(),
	}
	for i := range rows {
		resp.Scores[i] = ScoredRow{TxnID: rows[i].TxnID, Probability: proba[i], Flagged: flags[i]}
		if flags[i] {
			resp.Flagged++
		}
	}
	resp.LatencyMS = float64(time.Since(start).Microseconds()) / 1000
	return resp, nil
}

func probabilities(scores []ScoredRow) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = s.Probability
	}
	return out
}

func (a *App) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err), "")
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	resp, err := a.score(req)
	if err != nil {
		status := statusOf(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("request_id", req.RequestID).Msg("Prediction failed")
		}
		writeError(w, status, err, req.RequestID)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Timestamp: time.Now().UTC()}

	if model, _, err := a.Model(); err == nil {
		health.ModelLoaded = true
		health.ModelID = model.ID()
		a.opts.Recorder.ModelAge().Set(time.Since(model.CreatedAt()).Seconds())
	}
	health.Healthy = health.ModelLoaded

	if a.opts.Source != nil {
		ctx, cancel := context.WithTimeout(r.Context(), a.opts.RequestTimeout)
		defer cancel()
		if err := a.opts.Source.Ping(ctx); err != nil {
			health.Database = "unavailable"
			health.Healthy = false
			log.Warn().Err(err).Msg("Database health check failed")
		} else {
			health.Database = "ok"
		}
	}

	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (a *App) modelInfo() (ModelInfo, error) {
	model, version, err := a.Model()
	if err != nil {
		return ModelInfo{}, err
	}
	importance, err := ml.FeatureImportance(model)
	if err != nil {
		log.Debug().Err(err).Str("model_id", model.ID()).Msg("No feature importance for model")
	}
	return ModelInfo{
		ID:         model.ID(),
		CreatedAt:  model.CreatedAt(),
		Kind:       model.Classifier().Kind(),
		Features:   model.Preprocessor().FeatureNames(),
		Config:     model.Config(),
		Threshold:  a.opts.Threshold,
		Version:    version,
		Importance: importance,
	}, nil
}

func (a *App) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.modelInfo()
	if err != nil {
		writeError(w, statusOf(err), err, "")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *App) handleReload(w http.ResponseWriter, r *http.Request) {
	if a.opts.Reload == nil {
		writeError(w, http.StatusNotImplemented, errors.New("model reload is not configured"), "")
		return
	}

	model, version, err := a.opts.Reload()
	if err == nil {
		err = a.SetModel(model, version)
	}
	if err != nil {
		log.Error().Err(err).Msg("Model reload failed")
		writeError(w, http.StatusInternalServerError, err, "")
		return
	}

	info, err := a.modelInfo()
	if err != nil {
		writeError(w, statusOf(err), err, "")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *App) handleFilters(w http.ResponseWriter, r *http.Request) {
	if a.opts.Source == nil {
		writeError(w, http.StatusServiceUnavailable, ErrNoSource, "")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.opts.RequestTimeout)
	defer cancel()

	categories, channels, err := a.opts.Source.Distincts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load filters")
		writeError(w, statusOf(err), err, "")
		return
	}
	if categories == nil {
		categories = []string{}
	}
	if channels == nil {
		channels = []string{}
	}
	writeJSON(w, http.StatusOK, Filters{Categories: categories, Channels: channels})
}

func (a *App) handleSummary(w http.ResponseWriter, r *http.Request) {
	if a.opts.Source == nil {
		writeError(w, http.StatusServiceUnavailable, ErrNoSource, "")
		return
	}
	model, _, err := a.Model()
	if err != nil {
		writeError(w, statusOf(err), err, "")
		return
	}

	filter, threshold, err := a.parseSummaryQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.opts.RequestTimeout)
	defer cancel()

	start := time.Now()
	a.opts.Recorder.ScoreRequested()

	txns, err := a.opts.Source.Transactions(ctx, filter)
	if err != nil {
		a.opts.Recorder.ScoreFailed()
		log.Error().Err(err).Msg("Failed to load transactions")
		writeError(w, statusOf(err), err, "")
		return
	}

	proba, err := a.scoreTransactions(ctx, model, txns)
	if err != nil {
		a.opts.Recorder.ScoreFailed()
		log.Error().Err(err).Msg("Failed to score transactions")
		writeError(w, statusOf(err), err, "")
		return
	}

	summary := Summarize(txns, proba, threshold)
	summary.ModelID = model.ID()
	summary.Drift = detectDrift(model, txns)
	a.opts.Recorder.ScoresObserved(proba, summary.FlaggedTotal, time.Since(start))

	writeJSON(w, http.StatusOK, summary)
}

// detectDrift compares the summarized batch with the model's fitted feature
// statistics. Failures only cost the summary its drift section.
func detectDrift(model *ml.Pipeline, txns []features.Transaction) *ml.DriftReport {
	if len(txns) == 0 {
		return nil
	}
	frame, _ := features.FromTransactions(txns)
	report, err := ml.DetectDrift(model.Preprocessor(), frame, ml.DefaultDriftThresholds())
	if err != nil {
		log.Warn().Err(err).Msg("Drift detection failed")
		return nil
	}
	if len(report.Drifted) > 0 {
		log.Warn().
			Str("model_id", model.ID()).
			Strs("features", report.Drifted).
			Int("rows", report.Rows).
			Msg("Feature drift detected")
	}
	return report
}

func (a *App) parseSummaryQuery(r *http.Request) (source.Filter, float64, error) {
	q := r.URL.Query()
	filter := source.Filter{
		Category: q.Get("category"),
		Channel:  q.Get("channel"),
		Limit:    min(source.DefaultLimit, a.opts.RowLimit),
	}
	threshold := a.opts.Threshold

	if v := q.Get("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || t < 0 || t > 1 {
			return filter, 0, fmt.Errorf("threshold must be a number within [0, 1], got %q", v)
		}
		threshold = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > a.opts.RowLimit {
			return filter, 0, fmt.Errorf("limit must be an integer within [1, %d], got %q", a.opts.RowLimit, v)
		}
		filter.Limit = n
	}
	return filter, threshold, nil
}

// scoreTransactions returns probabilities aligned with txns, serving what it
// can from the score cache. Cache failures degrade to recomputation.
func (a *App) scoreTransactions(ctx context.Context, model *ml.Pipeline, txns []features.Transaction) ([]float64, error) {
	proba := make([]float64, len(txns))
	if len(txns) == 0 {
		return proba, nil
	}

	ids := make([]string, len(txns))
	for i, t := range txns {
		ids[i] = t.TxnID
	}
	cached, err := a.opts.Cache.Get(ctx, model.ID(), ids)
	if err != nil {
		log.Warn().Err(err).Msg("Score cache lookup failed")
		cached = nil
	}

	var missing []int
	for i, id := range ids {
		if p, ok := cached[id]; ok {
			proba[i] = p
			continue
		}
		missing = append(missing, i)
	}
	a.opts.Recorder.CacheLookup(len(txns)-len(missing), len(missing))
	if len(missing) == 0 {
		return proba, nil
	}

	sub := make([]features.Transaction, len(missing))
	for j, i := range missing {
		sub[j] = txns[i]
	}
	frame, _ := features.FromTransactions(sub)
	fresh, err := model.PredictProba(frame)
	if err != nil {
		return nil, fmt.Errorf("score %d transactions: %w", len(sub), err)
	}

	toCache := make(map[string]float64, len(missing))
	for j, i := range missing {
		proba[i] = fresh[j]
		toCache[ids[i]] = fresh[j]
	}
	if err := a.opts.Cache.Set(ctx, model.ID(), toCache); err != nil {
		log.Warn().Err(err).Int("scores", len(toCache)).Msg("Failed to cache scores")
	}
	return proba, nil
}

// instrument counts requests by route template and status code.
func (a *App) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		a.opts.Recorder.HTTPRequest(route, sw.status)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (s *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error, requestID string) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), RequestID: requestID})
}
