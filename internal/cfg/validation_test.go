package cfg

import (
	"strings"
	"testing"
	"time"

	"vehicle-fraud/internal/ml"
)

// createValidSettings creates a valid Settings struct for testing
func createValidSettings() *Settings {
	return &Settings{
		DatabaseURL:      "postgres://localhost/fraud",
		RedisAddr:        "localhost:6379",
		RedisDB:          0,
		ScoreCacheTTL:    10 * time.Minute,
		DataPath:         "data",
		ModelPath:        "models/pipeline.json",
		ListenPort:       8050,
		LogLevel:         "info",
		RowLimit:         20000,
		DefaultThreshold: 0.5,
		RequestTimeout:   10 * time.Second,
		Training:         ml.DefaultTrainConfig(),
	}
}

func TestValidateSettings_ValidConfig(t *testing.T) {
	if err := validateSettings(createValidSettings()); err != nil {
		t.Errorf("Expected valid config to pass, got error: %v", err)
	}
}

func TestValidateSettings_Ranges(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantMsg string
	}{
		{"empty model path", func(s *Settings) { s.ModelPath = "" }, "model path"},
		{"empty data path", func(s *Settings) { s.DataPath = "" }, "data path"},
		{"listen port too low", func(s *Settings) { s.ListenPort = 443 }, "listen port"},
		{"listen port too high", func(s *Settings) { s.ListenPort = 70000 }, "listen port"},
		{"redis db negative", func(s *Settings) { s.RedisDB = -1 }, "redis db"},
		{"redis db too high", func(s *Settings) { s.RedisDB = 16 }, "redis db"},
		{"row limit zero", func(s *Settings) { s.RowLimit = 0 }, "row limit"},
		{"cache ttl too short", func(s *Settings) { s.ScoreCacheTTL = time.Millisecond }, "score cache TTL"},
		{"cache ttl too long", func(s *Settings) { s.ScoreCacheTTL = 48 * time.Hour }, "score cache TTL"},
		{"request timeout too short", func(s *Settings) { s.RequestTimeout = 0 }, "request timeout"},
		{"threshold negative", func(s *Settings) { s.DefaultThreshold = -0.1 }, "probability threshold"},
		{"unknown log level", func(s *Settings) { s.LogLevel = "verbose" }, "log level"},
		{"bad learning rate", func(s *Settings) { s.Training.LearningRate = -1 }, "training"},
		{"bad split", func(s *Settings) { s.Training.TestSplitFraction = 0 }, "training"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := createValidSettings()
			tt.mutate(s)
			err := validateSettings(s)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected error to mention %q, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestValidateSettings_BoundaryValues(t *testing.T) {
	s := createValidSettings()
	s.ListenPort = 1024
	s.RedisDB = 15
	s.ScoreCacheTTL = time.Second
	s.DefaultThreshold = 1
	s.RedisAddr = ""
	s.DatabaseURL = ""

	if err := validateSettings(s); err != nil {
		t.Errorf("expected boundary values to pass, got %v", err)
	}
}
