package metrics

import (
	"strconv"
	"time"
)

// MetricsGauge is the gauge surface handed to callers that must not import prometheus.
type MetricsGauge interface {
	Set(float64)
	Add(float64)
}

// Wrapper adapts Metrics to the narrow recording interface the HTTP layer uses.
type Wrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

func (w *Wrapper) ScoreRequested() {
	w.m.ScoreRequests.Inc()
}

func (w *Wrapper) ScoreFailed() {
	w.m.ScoreFailures.Inc()
	w.m.ErrorsTotal.Inc()
}

func (w *Wrapper) ScoresObserved(proba []float64, flagged int, latency time.Duration) {
	w.m.ObserveScores(proba, flagged)
	w.m.ScoreLatency.Observe(latency.Seconds())
}

func (w *Wrapper) CacheLookup(hits, misses int) {
	w.m.CacheHits.Add(float64(hits))
	w.m.CacheMisses.Add(float64(misses))
}

func (w *Wrapper) HTTPRequest(route string, code int) {
	w.m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (w *Wrapper) WSClients() MetricsGauge {
	return w.m.WSClients
}

func (w *Wrapper) ModelAge() MetricsGauge {
	return w.m.ModelAge
}
