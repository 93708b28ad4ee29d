package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"vehicle-fraud/internal/client"
	"vehicle-fraud/internal/features"
	"vehicle-fraud/internal/server"
	"vehicle-fraud/internal/synth"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		addr      = flag.String("addr", "http://localhost:8050", "Scoring service base URL")
		dataDir   = flag.String("data", "data/raw", "Directory with the generated CSV files")
		batchSize = flag.Int("batch", 500, "Rows per request")
		threshold = flag.Float64("threshold", -1, "Decision threshold (negative uses the service default)")
		output    = flag.String("output", "", "Write scores as CSV to this file (default stdout)")
		timeout   = flag.Duration("timeout", 30*time.Second, "Per-request timeout")
		logLevel  = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ds, err := synth.ReadCSV(*dataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read dataset")
	}
	txns := ds.Joined()

	ctx := context.Background()
	c := client.New(*addr, *timeout)

	health, err := c.Health(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Scoring service unreachable")
	}
	if !health.ModelLoaded {
		log.Fatal().Msg("Scoring service has no model loaded")
	}

	var th *float64
	if *threshold >= 0 {
		th = threshold
	}

	start := time.Now()
	scores, err := c.ScoreTransactions(ctx, txns, *batchSize, th)
	if err != nil {
		log.Fatal().Err(err).Msg("Scoring failed")
	}

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create output file")
		}
		defer f.Close()
		out = f
	}

	flagged, err := writeScores(out, txns, scores)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to write scores")
	}

	log.Info().
		Str("model_id", health.ModelID).
		Int("rows", len(scores)).
		Int("flagged", flagged).
		Float64("labelled_fraud_rate", labelledRate(txns)).
		Dur("elapsed", time.Since(start)).
		Msg("Scoring complete")
}

func writeScores(f *os.File, txns []features.Transaction, scores []server.ScoredRow) (int, error) {
	w := csv.NewWriter(f)
	if err := w.Write([]string{"txn_id", "proba", "pred", "is_fraud"}); err != nil {
		return 0, err
	}
	flagged := 0
	for i, s := range scores {
		pred := "0"
		if s.Flagged {
			pred = "1"
			flagged++
		}
		row := []string{s.TxnID, strconv.FormatFloat(s.Probability, 'f', 6, 64), pred, strconv.FormatBool(txns[i].IsFraud)}
		if err := w.Write(row); err != nil {
			return flagged, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return flagged, fmt.Errorf("flush scores: %w", err)
	}
	return flagged, nil
}

func labelledRate(txns []features.Transaction) float64 {
	labels := make([]bool, len(txns))
	for i, t := range txns {
		labels[i] = t.IsFraud
	}
	return features.FraudRate(labels)
}
