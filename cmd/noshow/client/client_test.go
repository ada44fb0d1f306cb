package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitFile(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, batchEndpoint, r.URL.Path)
		assert.Equal(t, "text/csv", r.Header.Get("Accept"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, "Gender\nF\n", string(body))

		w.Header().Set("Content-Type", "text/csv")
		io.WriteString(w, "Gender,Prediction\nF,Show\n")
	}))
	defer server.Close()

	dir := t.TempDir()
	input := filepath.Join(dir, "in.csv")
	output := filepath.Join(dir, "out", "predictions.csv")
	require.NoError(t, os.WriteFile(input, []byte("Gender\nF\n"), 0o644))

	c := NewPredictionClient(server.URL, zerolog.Nop())
	require.NoError(t, c.SubmitFile(context.Background(), input, output))

	got, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "Gender,Prediction\nF,Show\n", string(got))
	assert.Equal(t, int32(1), calls.Load())
}

func TestPredictBatchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Write(append(body, []byte("ok\n")...))
	}))
	defer server.Close()

	c := NewPredictionClient(server.URL, zerolog.Nop())
	got, err := c.PredictBatch(context.Background(), []byte("a\n"))
	require.NoError(t, err)
	assert.Equal(t, "a\nok\n", string(got))
	assert.Equal(t, int32(2), calls.Load())
}

func TestPredictBatchClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"missing feature column: Age"}`, http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	c := NewPredictionClient(server.URL, zerolog.Nop())
	_, err := c.PredictBatch(context.Background(), []byte("a\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "missing feature column")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubmitFileMissingInput(t *testing.T) {
	c := NewPredictionClient("http://127.0.0.1:0", zerolog.Nop())
	err := c.SubmitFile(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), "out.csv")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
