package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"vehicle-fraud/internal/ml"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	DatabaseURL      string
	RedisAddr        string
	RedisDB          int
	ScoreCacheTTL    time.Duration
	DataPath         string
	ModelPath        string
	ListenPort       int
	LogLevel         string
	RowLimit         int
	DefaultThreshold float64
	RequestTimeout   time.Duration
	Training         ml.TrainConfig
}

type ConfigFile struct {
	Database struct {
		URL      string `yaml:"url"`
		RowLimit int    `yaml:"rowLimit"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		DB       int    `yaml:"db"`
		ScoreTTL string `yaml:"scoreTTL"`
	} `yaml:"redis"`

	Model struct {
		Path      string  `yaml:"path"`
		Threshold float64 `yaml:"threshold"`
	} `yaml:"model"`

	Training ml.TrainConfig `yaml:"training"`

	System struct {
		DataPath       string `yaml:"dataPath"`
		ListenPort     int    `yaml:"listenPort"`
		LogLevel       string `yaml:"logLevel"`
		RequestTimeout string `yaml:"requestTimeout"`
	} `yaml:"system"`
}

// Load reads an optional .env file (DOTENV_FILE, default ".env") and then
// the YAML file named by CONFIG_FILE, falling back to environment variables.
// Environment variables override YAML values.
func Load() (Settings, error) {
	if err := loadDotenv(getEnvOrDefault("DOTENV_FILE", ".env")); err != nil {
		return Settings{}, err
	}

	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}

	return loadFromEnv()
}

func loadDotenv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Keys absent from the file keep these values; explicit zeros are kept too.
	config := ConfigFile{Training: ml.DefaultTrainConfig()}
	config.Model.Threshold = 0.5
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	scoreTTL, err := time.ParseDuration(config.Redis.ScoreTTL)
	if err != nil {
		scoreTTL = 10 * time.Minute
	}

	requestTimeout, err := time.ParseDuration(config.System.RequestTimeout)
	if err != nil {
		requestTimeout = 10 * time.Second
	}

	defaults := ml.DefaultTrainConfig()
	training := ml.TrainConfig{
		Model:             ml.Kind(getEnvOrDefault("MODEL", orString(string(config.Training.Model), string(defaults.Model)))),
		LearningRate:      getFloatOrDefault("LEARNING_RATE", config.Training.LearningRate),
		MaxEpochs:         getIntOrDefault("MAX_EPOCHS", config.Training.MaxEpochs),
		Tolerance:         getFloatOrDefault("TOLERANCE", config.Training.Tolerance),
		Seed:              int64(getIntOrDefault("SEED", int(config.Training.Seed))),
		DecisionThreshold: getFloatOrDefault("DECISION_THRESHOLD", config.Training.DecisionThreshold),
		TestSplitFraction: getFloatOrDefault("TEST_SPLIT_FRACTION", config.Training.TestSplitFraction),
		RejectSingleClass: getBoolFromEnvOrConfig("REJECT_SINGLE_CLASS", config.Training.RejectSingleClass),
	}

	settings := Settings{
		DatabaseURL:      getEnvOrDefault("DATABASE_URL", config.Database.URL),
		RedisAddr:        getEnvOrDefault("REDIS_ADDR", config.Redis.Addr),
		RedisDB:          getIntFromEnvOrConfig("REDIS_DB", config.Redis.DB, 0),
		ScoreCacheTTL:    scoreTTL,
		DataPath:         getEnvOrDefault("DATA_PATH", orString(config.System.DataPath, "data")),
		ModelPath:        getEnvOrDefault("MODEL_PATH", orString(config.Model.Path, "models/pipeline.json")),
		ListenPort:       getIntFromEnvOrConfig("LISTEN_PORT", config.System.ListenPort, 8050),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", orString(config.System.LogLevel, "info")),
		RowLimit:         getIntFromEnvOrConfig("ROW_LIMIT", config.Database.RowLimit, 20000),
		DefaultThreshold: getFloatOrDefault("PROB_THRESHOLD", config.Model.Threshold),
		RequestTimeout:   requestTimeout,
		Training:         training,
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	defaults := ml.DefaultTrainConfig()
	settings := Settings{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisAddr:        os.Getenv("REDIS_ADDR"), // optional, disables the score cache when empty
		RedisDB:          getIntOrDefault("REDIS_DB", 0),
		ScoreCacheTTL:    getDurationOrDefault("SCORE_CACHE_TTL", 10*time.Minute),
		DataPath:         getEnvOrDefault("DATA_PATH", "data"),
		ModelPath:        getEnvOrDefault("MODEL_PATH", "models/pipeline.json"),
		ListenPort:       getIntOrDefault("LISTEN_PORT", 8050),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "info"),
		RowLimit:         getIntOrDefault("ROW_LIMIT", 20000),
		DefaultThreshold: getFloatOrDefault("PROB_THRESHOLD", 0.5),
		RequestTimeout:   getDurationOrDefault("REQUEST_TIMEOUT", 10*time.Second),
		Training: ml.TrainConfig{
			Model:             ml.Kind(getEnvOrDefault("MODEL", string(defaults.Model))),
			LearningRate:      getFloatOrDefault("LEARNING_RATE", defaults.LearningRate),
			MaxEpochs:         getIntOrDefault("MAX_EPOCHS", defaults.MaxEpochs),
			Tolerance:         getFloatOrDefault("TOLERANCE", defaults.Tolerance),
			Seed:              int64(getIntOrDefault("SEED", int(defaults.Seed))),
			DecisionThreshold: getFloatOrDefault("DECISION_THRESHOLD", defaults.DecisionThreshold),
			TestSplitFraction: getFloatOrDefault("TEST_SPLIT_FRACTION", defaults.TestSplitFraction),
			RejectSingleClass: getBoolOrDefault("REJECT_SINGLE_CLASS", false),
		},
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// ListenAddr is the HTTP listen address derived from ListenPort.
func (s *Settings) ListenAddr() string {
	return fmt.Sprintf(":%d", s.ListenPort)
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

// validateSettings checks the ranges of every configuration value.
func validateSettings(settings *Settings) error {
	if settings.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}
	if settings.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}

	if settings.ListenPort < 1024 || settings.ListenPort > 65535 {
		return fmt.Errorf("listen port must be between 1024 and 65535, got %d", settings.ListenPort)
	}
	if settings.RedisDB < 0 || settings.RedisDB > 15 {
		return fmt.Errorf("redis db must be between 0 and 15, got %d", settings.RedisDB)
	}
	if settings.RowLimit <= 0 || settings.RowLimit > 1_000_000 {
		return fmt.Errorf("row limit must be between 1 and 1000000, got %d", settings.RowLimit)
	}

	if settings.ScoreCacheTTL < time.Second || settings.ScoreCacheTTL > 24*time.Hour {
		return fmt.Errorf("score cache TTL must be between 1s and 24h, got %v", settings.ScoreCacheTTL)
	}
	if settings.RequestTimeout < time.Second || settings.RequestTimeout > 5*time.Minute {
		return fmt.Errorf("request timeout must be between 1s and 5m, got %v", settings.RequestTimeout)
	}

	if settings.DefaultThreshold < 0 || settings.DefaultThreshold > 1 {
		return fmt.Errorf("probability threshold must be between 0 and 1, got %f", settings.DefaultThreshold)
	}

	switch settings.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("unknown log level %q", settings.LogLevel)
	}

	if err := settings.Training.Validate(); err != nil {
		return fmt.Errorf("training: %w", err)
	}

	return nil
}
