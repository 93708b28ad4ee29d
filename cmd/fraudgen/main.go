package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"vehicle-fraud/internal/cfg"
	"vehicle-fraud/internal/source"
	"vehicle-fraud/internal/synth"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	def := synth.DefaultGenConfig()
	var (
		outDir       = flag.String("out", "data/raw", "Output directory for the CSV files")
		seed         = flag.Int64("seed", def.Seed, "Random seed")
		vehicles     = flag.Int("vehicles", def.Vehicles, "Number of vehicles")
		merchants    = flag.Int("merchants", def.Merchants, "Number of merchants")
		transactions = flag.Int("transactions", def.Transactions, "Number of transactions")
		days         = flag.Int("days", 60, "Transactions start this many days ago")
		load         = flag.Bool("load", false, "Migrate Postgres and bulk load the dataset (DATABASE_URL)")
		truncate     = flag.Bool("truncate", true, "Empty the vehicle tables before loading")
		logLevel     = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ds, err := synth.Generate(synth.GenConfig{
		Seed:         *seed,
		Vehicles:     *vehicles,
		Merchants:    *merchants,
		Transactions: *transactions,
		Start:        time.Now().UTC().Add(-time.Duration(*days) * 24 * time.Hour).Truncate(time.Second),
		MeanGap:      def.MeanGap,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Generation failed")
	}

	if err := ds.WriteCSV(*outDir); err != nil {
		log.Fatal().Err(err).Msg("Failed to write CSV files")
	}
	fmt.Printf("Wrote %s (fraud rate %.2f%%)\n", *outDir, 100*ds.FraudRate())

	if !*load {
		return
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := source.Open(ctx, c.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := source.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}
	if err := source.NewLoader(db).Load(ctx, ds, *truncate); err != nil {
		log.Fatal().Err(err).Msg("Failed to load dataset")
	}
}
