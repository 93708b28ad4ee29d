// Package metrics provides Prometheus metrics for fraud model training and scoring.
// Serving metrics are exposed on the /metrics endpoint; batch training runs can
// write their metrics to a node-exporter textfile instead.
package metrics

import (
	"fmt"
	"math"
	"net/http"

	"vehicle-fraud/internal/ml"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the fraud service.
type Metrics struct {
	// Scoring metrics
	ScoreRequests    prometheus.Counter   // Total number of scoring requests
	RowsScored       prometheus.Counter   // Total number of rows scored
	RowsFlagged      prometheus.Counter   // Rows at or above the decision threshold
	ScoreFailures    prometheus.Counter   // Scoring requests that failed
	ScoreLatency     prometheus.Histogram // End-to-end scoring latency
	PredictionScores prometheus.Histogram // Distribution of fraud probabilities
	ModelAge         prometheus.Gauge     // Age of the loaded model in seconds

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// HTTP and websocket metrics
	HTTPRequests *prometheus.CounterVec // By route and status code
	WSClients    prometheus.Gauge       // Open /ws/score connections

	// Training metrics
	TrainingRuns     prometheus.Counter
	TrainingDuration prometheus.Histogram
	TrainingEpochs   prometheus.Gauge
	TrainingLoss     prometheus.Gauge
	TrainRows        prometheus.Gauge
	ValidationROCAUC prometheus.Gauge
	ValidationPRAUC  prometheus.Gauge

	// System metrics
	ErrorsTotal prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
// Gather-based helpers work when registerer is also a Gatherer.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	m := &Metrics{
		ScoreRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_score_requests_total",
			Help: "Total number of scoring requests",
		}),
		RowsScored: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_rows_scored_total",
			Help: "Total number of transactions scored",
		}),
		RowsFlagged: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_rows_flagged_total",
			Help: "Total number of transactions flagged as fraud",
		}),
		ScoreFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_score_failures_total",
			Help: "Total number of failed scoring requests",
		}),
		ScoreLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraud_score_latency_seconds",
			Help:    "Scoring latency in seconds (end-to-end)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		PredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraud_prediction_scores",
			Help:    "Distribution of predicted fraud probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fraud_model_age_seconds",
			Help: "Age of the loaded model in seconds",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_score_cache_hits_total",
			Help: "Scores served from the cache",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_score_cache_misses_total",
			Help: "Scores computed because the cache had no entry",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fraud_ws_clients",
			Help: "Number of open scoring websocket connections",
		}),
		TrainingRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_training_runs_total",
			Help: "Total number of completed training runs",
		}),
		TrainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraud_training_duration_seconds",
			Help:    "Training run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
		TrainingEpochs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fraud_training_epochs",
			Help: "Gradient descent epochs run by the last training",
		}),
		TrainingLoss: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fraud_training_loss",
			Help: "Final mean cross-entropy of the last training",
		}),
		TrainRows: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fraud_training_rows",
			Help: "Rows in the training split of the last training",
		}),
		ValidationROCAUC: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fraud_validation_roc_auc",
			Help: "ROC AUC on the validation split of the last training",
		}),
		ValidationPRAUC: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fraud_validation_pr_auc",
			Help: "Average precision on the validation split of the last training",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_errors_total",
			Help: "Total number of errors encountered",
		}),
	}
	if g, ok := registerer.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// ObserveTraining records the outcome of a training run. Undefined AUCs are
// exported as NaN.
func (m *Metrics) ObserveTraining(res *ml.TrainResult) {
	m.TrainingRuns.Inc()
	m.TrainingDuration.Observe(res.Duration.Seconds())
	m.TrainingEpochs.Set(float64(res.Epochs))
	m.TrainingLoss.Set(res.FinalLoss)
	m.TrainRows.Set(float64(res.TrainRows))
	m.ValidationROCAUC.Set(res.Report.ROCAUC)
	m.ValidationPRAUC.Set(res.Report.PRAUC)
}

// ObserveScores records one scored batch. Requests are counted separately.
func (m *Metrics) ObserveScores(proba []float64, flagged int) {
	m.RowsScored.Add(float64(len(proba)))
	m.RowsFlagged.Add(float64(flagged))
	for _, p := range proba {
		m.PredictionScores.Observe(p)
	}
}

// Handler serves the registry backing m in the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// WriteToTextfile writes every gathered metric to path in the text exposition
// format, for collection by node_exporter's textfile collector.
func (m *Metrics) WriteToTextfile(path string) error {
	if m.gatherer == nil {
		return fmt.Errorf("metrics registry cannot be gathered")
	}
	return prometheus.WriteToTextfile(path, m.gatherer)
}

// GetErrorRate returns failed over total scoring requests, or 0 when nothing
// has been scored yet.
func (m *Metrics) GetErrorRate() float64 {
	if m.gatherer == nil {
		return 0
	}

	var total, failures float64
	metricFamilies, err := m.gatherer.Gather()
	if err != nil {
		return 0
	}

	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "fraud_score_requests_total":
			for _, metric := range mf.Metric {
				total = metric.GetCounter().GetValue()
			}
		case "fraud_score_failures_total":
			for _, metric := range mf.Metric {
				failures = metric.GetCounter().GetValue()
			}
		}
	}

	if total == 0 {
		return 0
	}
	return math.Min(1, failures/total)
}
