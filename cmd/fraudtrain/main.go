package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"vehicle-fraud/internal/cfg"
	"vehicle-fraud/internal/features"
	"vehicle-fraud/internal/metrics"
	"vehicle-fraud/internal/ml"
	"vehicle-fraud/internal/source"
	"vehicle-fraud/internal/storage"
	"vehicle-fraud/internal/synth"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	var (
		sourceKind  = flag.String("source", "postgres", "Training data source: postgres or csv")
		csvDir      = flag.String("csv-dir", "data/raw", "Directory with vehicles.csv, merchants.csv and transactions.csv")
		model       = flag.String("model", string(c.Training.Model), "Classifier kind")
		testSize    = flag.Float64("test-size", c.Training.TestSplitFraction, "Validation split fraction")
		threshold   = flag.Float64("threshold", c.Training.DecisionThreshold, "Decision threshold for the report")
		seed        = flag.Int64("seed", c.Training.Seed, "Random seed for the split and weight init")
		savePath    = flag.String("save", c.ModelPath, "Write the fitted pipeline to this file (empty to skip)")
		register    = flag.Bool("register", false, "Register the pipeline in the model registry and activate it")
		metricsFile = flag.String("metrics-file", "", "Write training metrics to this node_exporter textfile")
		listModels  = flag.Bool("list-models", false, "List registered model versions and recent runs, then exit")
		rollback    = flag.Bool("rollback", false, "Activate the previously registered model version, then exit")
		logLevel    = flag.String("log-level", c.LogLevel, "Log level: debug, info, warn, error")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch {
	case *listModels:
		if err := printRegistry(c.DataPath); err != nil {
			log.Fatal().Err(err).Msg("Failed to read model registry")
		}
		return
	case *rollback:
		if err := rollbackModel(c.DataPath); err != nil {
			log.Fatal().Err(err).Msg("Rollback failed")
		}
		return
	}

	tc := c.Training
	tc.Model = ml.Kind(*model)
	tc.TestSplitFraction = *testSize
	tc.DecisionThreshold = *threshold
	tc.Seed = *seed
	if err := tc.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid training configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	frame, labels, err := loadTrainingData(ctx, c, *sourceKind, *csvDir)
	if err != nil {
		log.Fatal().Err(err).Str("source", *sourceKind).Msg("Failed to load training data")
	}

	res, err := ml.Train(frame, labels, tc)
	if err != nil {
		log.Fatal().Err(err).Msg("Training failed")
	}

	fmt.Printf("Fraud rate (train): %.4f | (test): %.4f\n", res.TrainRate, res.TestRate)
	fmt.Printf("ROC AUC: %.4f\n", res.Report.ROCAUC)
	fmt.Printf("PR  AUC: %.4f\n", res.Report.PRAUC)
	fmt.Println(res.Report.String())
	if weights, err := ml.FeatureImportance(res.Pipeline); err == nil {
		fmt.Print(ml.FormatImportance(weights, 10))
	}

	if *savePath != "" {
		if err := res.Pipeline.SaveFile(*savePath); err != nil {
			log.Fatal().Err(err).Msg("Failed to save pipeline")
		}
		log.Info().Str("path", *savePath).Str("model_id", res.Pipeline.ID()).Msg("Pipeline saved")
	}

	if *register {
		if err := registerModel(c.DataPath, res, *sourceKind); err != nil {
			log.Fatal().Err(err).Msg("Failed to register pipeline")
		}
	}

	if *metricsFile != "" {
		m := metrics.NewWithRegistry(prometheus.NewRegistry())
		m.ObserveTraining(res)
		if err := m.WriteToTextfile(*metricsFile); err != nil {
			log.Fatal().Err(err).Msg("Failed to write metrics file")
		}
	}
}

func loadTrainingData(ctx context.Context, c cfg.Settings, kind, csvDir string) (*features.Frame, []bool, error) {
	switch kind {
	case "postgres":
		db, err := source.Open(ctx, c.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		defer db.Close()
		return source.New(db).LoadTrainingFrame(ctx)
	case "csv":
		ds, err := synth.ReadCSV(csvDir)
		if err != nil {
			return nil, nil, err
		}
		frame, labels := features.FromTransactions(ds.Joined())
		if frame.Len() == 0 {
			return nil, nil, fmt.Errorf("no transactions in %s", csvDir)
		}
		return frame, labels, nil
	default:
		return nil, nil, fmt.Errorf("unknown source %q, expected postgres or csv", kind)
	}
}

func registerModel(dataPath string, res *ml.TrainResult, sourceKind string) error {
	store, err := storage.New(dataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	blob, err := res.Pipeline.MarshalBinary()
	if err != nil {
		return err
	}
	version, err := store.SaveVersion(storage.NewModelVersion(res.Pipeline, res.Report, res.TrainRows), blob)
	if err != nil {
		return err
	}
	if err := store.Activate(version.ID); err != nil {
		return err
	}
	if err := store.StoreRun(storage.NewRunRecord(res, sourceKind)); err != nil {
		return err
	}

	log.Info().
		Str("model_id", version.ID).
		Str("sha256", version.SHA256).
		Int("size", version.Size).
		Msg("Pipeline registered and activated")
	return nil
}

func printRegistry(dataPath string) error {
	store, err := storage.New(dataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	versions, err := store.Versions()
	if err != nil {
		return err
	}
	fmt.Printf("%-36s %-20s %8s %8s %8s %s\n", "id", "created", "roc_auc", "pr_auc", "samples", "")
	for _, v := range versions {
		marker := ""
		if v.Active {
			marker = "active"
		}
		fmt.Printf("%-36s %-20s %8.4f %8.4f %8d %s\n",
			v.ID, v.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			float64(v.ROCAUC), float64(v.PRAUC), v.TrainingSamples, marker)
	}

	end := time.Now()
	runs, err := store.GetRuns(end.Add(-30*24*time.Hour), end)
	if err != nil {
		return err
	}
	fmt.Printf("\n%d training runs in the last 30 days\n", len(runs))
	for _, r := range runs {
		fmt.Printf("%s  %-8s model=%s rows=%d/%d epochs=%d roc_auc=%.4f\n",
			r.Timestamp.UTC().Format(time.RFC3339), r.Source, r.ModelID,
			r.TrainRows, r.TestRows, r.Epochs, float64(r.ROCAUC))
	}
	return nil
}

func rollbackModel(dataPath string) error {
	store, err := storage.New(dataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	v, err := store.Rollback()
	if err != nil {
		return err
	}
	log.Info().Str("model_id", v.ID).Time("created_at", v.CreatedAt).Msg("Rolled back model version")
	return nil
}
