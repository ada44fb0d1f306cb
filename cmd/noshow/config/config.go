package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds pipeline and server configuration loaded from the environment.
type Config struct {
	RawDataPath     string
	CleanDataPath   string
	PredictionsPath string
	ModelDir        string
	RunsDir         string
	SourceQueryFile string
	DatabaseURL     string
	HTTPAddr        string
	ServerURL       string
	LogLevel        string
	ResultCacheTTL  time.Duration
	Training        TrainingConfig
}

// TrainingConfig holds the knobs of the training run.
type TrainingConfig struct {
	RandomState        int64
	TestSize           float64
	SMOTENeighbors     int
	TreeMaxDepth       int
	TreeMinSamplesLeaf int
	TreeCriterion      string
}

// LoadEnvFile loads key/value pairs from an env file. A missing file is fine;
// variables already present in the environment win.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	return Config{
		RawDataPath:     getEnv("RAW_DATA_PATH", "data/raw/Medical.csv"),
		CleanDataPath:   getEnv("CLEAN_DATA_PATH", "data/processed/noshow_clean_for_powerbi.csv"),
		PredictionsPath: getEnv("PREDICTIONS_PATH", "data/processed/test_with_predictions.csv"),
		ModelDir:        getEnv("MODEL_DIR", "data/model"),
		RunsDir:         getEnv("RUNS_DIR", "data/runs"),
		SourceQueryFile: getEnv("SOURCE_QUERY_FILE", ""),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8501"),
		ServerURL:       getEnv("SERVER_URL", "http://localhost:8501"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ResultCacheTTL:  getEnvDuration("RESULT_CACHE_TTL", 15*time.Minute),
		Training: TrainingConfig{
			RandomState:        int64(getEnvInt("RANDOM_STATE", 42)),
			TestSize:           getEnvFloat("TEST_SIZE", 0.2),
			SMOTENeighbors:     getEnvInt("SMOTE_NEIGHBORS", 5),
			TreeMaxDepth:       getEnvInt("TREE_MAX_DEPTH", 0),
			TreeMinSamplesLeaf: getEnvInt("TREE_MIN_SAMPLES_LEAF", 1),
			TreeCriterion:      getEnv("TREE_CRITERION", "gini"),
		},
	}
}

// Validate checks values that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	if c.Training.TestSize <= 0 || c.Training.TestSize >= 1 {
		return fmt.Errorf("TEST_SIZE must be between 0 and 1, got %v", c.Training.TestSize)
	}
	if c.Training.SMOTENeighbors < 1 {
		return fmt.Errorf("SMOTE_NEIGHBORS must be positive, got %d", c.Training.SMOTENeighbors)
	}
	if c.Training.TreeCriterion != "gini" && c.Training.TreeCriterion != "entropy" {
		return fmt.Errorf("TREE_CRITERION must be gini or entropy, got %q", c.Training.TreeCriterion)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
