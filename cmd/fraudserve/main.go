package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vehicle-fraud/internal/cache"
	"vehicle-fraud/internal/cfg"
	"vehicle-fraud/internal/metrics"
	"vehicle-fraud/internal/ml"
	"vehicle-fraud/internal/server"
	"vehicle-fraud/internal/source"
	"vehicle-fraud/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	migrateDB := flag.Bool("migrate", false, "Apply schema migrations before serving")
	flag.Parse()

	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := initializeRegistry(c)
	if store != nil {
		defer store.Close()
	}
	loadModel := modelLoader(store, c.ModelPath)

	model, version, err := loadModel()
	if err != nil {
		log.Fatal().Err(err).Msg("No model to serve")
	}

	var src server.TransactionSource
	if c.DatabaseURL != "" {
		db, err := source.Open(ctx, c.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		if *migrateDB {
			if err := source.Migrate(ctx, db); err != nil {
				log.Fatal().Err(err).Msg("Failed to migrate database")
			}
		}
		src = source.New(db)
	} else {
		log.Warn().Msg("DATABASE_URL not set, dashboard endpoints are disabled")
	}

	scoreCache, err := cache.Open(ctx, c.RedisAddr, c.RedisDB, c.ScoreCacheTTL)
	if err != nil {
		log.Warn().Err(err).Msg("Score cache unavailable, continuing without it")
		scoreCache = cache.Nop{}
	}
	defer scoreCache.Close()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	app, err := server.NewApp(server.Options{
		Source:         src,
		Cache:          scoreCache,
		Recorder:       mw,
		MetricsHandler: m.Handler(),
		Reload:         loadModel,
		Threshold:      c.DefaultThreshold,
		RowLimit:       c.RowLimit,
		RequestTimeout: c.RequestTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create app")
	}
	if err := app.SetModel(model, version); err != nil {
		log.Fatal().Err(err).Msg("Failed to install model")
	}

	go trackModelAge(ctx, app, mw)

	srv := server.NewServer(app, c.ListenAddr())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

// initializeRegistry opens the model registry under DATA_PATH if possible.
func initializeRegistry(c cfg.Settings) *storage.Store {
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("registry initialization failed, serving from the model file only")
		return nil
	}
	return store
}

// modelLoader prefers the active registry version and falls back to the
// artifact file.
func modelLoader(store *storage.Store, path string) server.ReloadFunc {
	return func() (*ml.Pipeline, *storage.ModelVersion, error) {
		if store != nil {
			p, v, err := store.ActivePipeline()
			if err == nil {
				return p, &v, nil
			}
			if !errors.Is(err, storage.ErrNoActiveModel) {
				return nil, nil, err
			}
		}
		p, err := ml.LoadFile(path)
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil
	}
}

func trackModelAge(ctx context.Context, app *server.App, mw *metrics.Wrapper) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if model, _, err := app.Model(); err == nil {
				mw.ModelAge().Set(time.Since(model.CreatedAt()).Seconds())
			}
		case <-ctx.Done():
			return
		}
	}
}
