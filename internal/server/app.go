// Package server exposes the fitted fraud pipeline over HTTP: batch scoring,
// a websocket scorer, model information and the dashboard API that scores the
// latest transactions from Postgres.
//
// All request state hangs off App, which is built once per process. Handlers
// are methods on it and no package level state is kept.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"vehicle-fraud/internal/cache"
	"vehicle-fraud/internal/features"
	"vehicle-fraud/internal/metrics"
	"vehicle-fraud/internal/ml"
	"vehicle-fraud/internal/source"
	"vehicle-fraud/internal/storage"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoModel  = errors.New("no model loaded")
	ErrNoSource = errors.New("no transaction source configured")
)

// TransactionSource is the read side of the Postgres collaborator.
type TransactionSource interface {
	Transactions(ctx context.Context, f source.Filter) ([]features.Transaction, error)
	Distincts(ctx context.Context) (categories, channels []string, err error)
	Ping(ctx context.Context) error
}

// Recorder receives serving metrics. *metrics.Wrapper implements it.
type Recorder interface {
	ScoreRequested()
	ScoreFailed()
	ScoresObserved(proba []float64, flagged int, latency time.Duration)
	CacheLookup(hits, misses int)
	HTTPRequest(route string, code int)
	WSClients() metrics.MetricsGauge
	ModelAge() metrics.MetricsGauge
}

// ReloadFunc loads the model the service should switch to.
type ReloadFunc func() (*ml.Pipeline, *storage.ModelVersion, error)

// Options configures an App. Source, Cache, Recorder, MetricsHandler and
// Reload are optional.
type Options struct {
	Source         TransactionSource
	Cache          cache.ScoreCache
	Recorder       Recorder
	MetricsHandler http.Handler
	Reload         ReloadFunc

	Threshold      float64
	RowLimit       int
	RequestTimeout time.Duration
}

// App is the lifecycle-scoped context of the scoring service.
type App struct {
	opts     Options
	router   *mux.Router
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	model   *ml.Pipeline
	version *storage.ModelVersion

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]struct{}
}

// NewApp validates opts and builds the router.
func NewApp(opts Options) (*App, error) {
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, fmt.Errorf("%w: %g", ml.ErrInvalidThreshold, opts.Threshold)
	}
	if opts.RowLimit <= 0 {
		return nil, fmt.Errorf("row limit must be positive, got %d", opts.RowLimit)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Cache == nil {
		opts.Cache = cache.Nop{}
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	a := &App{
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]struct{}),
	}
	a.router = a.routes()
	return a, nil
}

func (a *App) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(a.instrument)

	r.HandleFunc("/predict", a.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/model/info", a.handleModelInfo).Methods(http.MethodGet)
	r.HandleFunc("/model/reload", a.handleReload).Methods(http.MethodPost)
	r.HandleFunc("/api/filters", a.handleFilters).Methods(http.MethodGet)
	r.HandleFunc("/api/summary", a.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/ws/score", a.handleWebSocket).Methods(http.MethodGet)
	if a.opts.MetricsHandler != nil {
		r.Handle("/metrics", a.opts.MetricsHandler).Methods(http.MethodGet)
	}
	return r
}

// Handler returns the routed handler.
func (a *App) Handler() http.Handler { return a.router }

// SetModel swaps the serving model. version may be nil when the model was
// loaded from a file rather than the registry.
func (a *App) SetModel(p *ml.Pipeline, version *storage.ModelVersion) error {
	if p == nil || !p.Fitted() {
		return fmt.Errorf("set model: %w", ml.ErrNotFitted)
	}
	a.mu.Lock()
	a.model = p
	a.version = version
	a.mu.Unlock()

	a.opts.Recorder.ModelAge().Set(time.Since(p.CreatedAt()).Seconds())
	log.Info().
		Str("model_id", p.ID()).
		Str("kind", string(p.Classifier().Kind())).
		Time("created_at", p.CreatedAt()).
		Msg("Serving model loaded")
	return nil
}

// Model returns the serving model and its registry entry, if any.
func (a *App) Model() (*ml.Pipeline, *storage.ModelVersion, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.model == nil {
		return nil, nil, ErrNoModel
	}
	return a.model, a.version, nil
}

// Close disconnects every websocket client.
func (a *App) Close() {
	a.clientsMu.Lock()
	defer a.clientsMu.Unlock()
	for conn := range a.clients {
		conn.Close()
	}
	a.opts.Recorder.WSClients().Add(-float64(len(a.clients)))
	a.clients = make(map[*websocket.Conn]struct{})
}

func (a *App) trackClient(conn *websocket.Conn) {
	a.clientsMu.Lock()
	a.clients[conn] = struct{}{}
	a.clientsMu.Unlock()
	a.opts.Recorder.WSClients().Add(1)
}

func (a *App) untrackClient(conn *websocket.Conn) {
	a.clientsMu.Lock()
	_, ok := a.clients[conn]
	delete(a.clients, conn)
	a.clientsMu.Unlock()
	if ok {
		a.opts.Recorder.WSClients().Add(-1)
	}
}

type nopGauge struct{}

func (nopGauge) Set(float64) {}
func (nopGauge) Add(float64) {}

type nopRecorder struct{}

func (nopRecorder) ScoreRequested() {}
func (nopRecorder) ScoreFailed() {}
func (nopRecorder) ScoresObserved([]float64, int, time.Duration) {}
func (nopRecorder) CacheLookup(int, int) {}
func (nopRecorder) HTTPRequest(string, int) {}
func (nopRecorder) WSClients() metrics.MetricsGauge { return nopGauge{} }
func (nopRecorder) ModelAge() metrics.MetricsGauge { return nopGauge{} }
