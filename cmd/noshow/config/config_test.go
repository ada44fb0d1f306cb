package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "data/raw/Medical.csv", cfg.RawDataPath)
	assert.Equal(t, "data/processed/noshow_clean_for_powerbi.csv", cfg.CleanDataPath)
	assert.Equal(t, "data/processed/test_with_predictions.csv", cfg.PredictionsPath)
	assert.Equal(t, "data/model", cfg.ModelDir)
	assert.Equal(t, int64(42), cfg.Training.RandomState)
	assert.InDelta(t, 0.2, cfg.Training.TestSize, 1e-9)
	assert.Equal(t, 15*time.Minute, cfg.ResultCacheTTL)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MODEL_DIR", "/srv/model")
	t.Setenv("TEST_SIZE", "0.3")
	t.Setenv("TREE_MAX_DEPTH", "8")
	t.Setenv("RESULT_CACHE_TTL", "1m")
	t.Setenv("SMOTE_NEIGHBORS", "not-a-number")

	cfg := Load()
	assert.Equal(t, "/srv/model", cfg.ModelDir)
	assert.InDelta(t, 0.3, cfg.Training.TestSize, 1e-9)
	assert.Equal(t, 8, cfg.Training.TreeMaxDepth)
	assert.Equal(t, time.Minute, cfg.ResultCacheTTL)
	assert.Equal(t, 5, cfg.Training.SMOTENeighbors)
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.Training.TestSize = 1
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.Training.TreeCriterion = "mse"
	assert.Error(t, cfg.Validate())
}

func TestLoadEnvFile(t *testing.T) {
	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("NOSHOW_TEST_KEY=from-file\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("NOSHOW_TEST_KEY") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("NOSHOW_TEST_KEY"))
}
