package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputManager(t *testing.T) {
	base := t.TempDir()
	var console bytes.Buffer

	om, err := newOutputManager(base, zerolog.InfoLevel, &console)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, om.Timestamp()), om.Dir())
	assert.Equal(t, filepath.Join(om.Dir(), "metrics.json"), om.Path("metrics.json"))

	log := om.Logger()
	log.Info().Msg("training started")
	log.Debug().Msg("hidden")

	require.NoError(t, om.WriteJSON("metrics.json", map[string]float64{"accuracy": 0.7}))
	require.NoError(t, om.Close())

	data, err := os.ReadFile(om.Path("metrics.json"))
	require.NoError(t, err)
	var got map[string]float64
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 0.7, got["accuracy"])

	logData, err := os.ReadFile(filepath.Join(om.Dir(), "logs", "run.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "training started")
	assert.NotContains(t, string(logData), "hidden")
	assert.Contains(t, console.String(), "training started")
}
