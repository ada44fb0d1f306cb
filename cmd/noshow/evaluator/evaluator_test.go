package evaluator

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SanteonNL/noshow/cmd/noshow/artifact"
	"github.com/SanteonNL/noshow/cmd/noshow/features"
	"github.com/SanteonNL/noshow/cmd/noshow/metrics"
	"github.com/SanteonNL/noshow/cmd/noshow/model"
)

// bundle predicts NoShow exactly when SMS_received is 0.
func bundle(t *testing.T) *artifact.Bundle {
	t.Helper()
	tree := model.NewDecisionTreeClassifier()
	require.NoError(t, tree.Fit(
		[][]float64{{0, 30, 1}, {1, 40, 0}, {0, 50, 0}, {1, 60, 1}},
		[]int{0, 1, 1, 0},
	))
	return &artifact.Bundle{
		Model:    tree,
		Encoders: features.Encoders{"Gender": features.FitLabelEncoder("Gender", []string{"F", "M"})},
		Features: []string{"Gender", "Age", "SMS_received"},
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEvaluatePerfectModel(t *testing.T) {
	svc := NewEvaluatorService(bundle(t), nil, zerolog.Nop())
	path := writeFile(t, "Gender,Age,SMS_received,No-show\nF,30,1,0\nM,41,0,1\nF,52,0,1\nM,20,1,0\n")

	var stdout bytes.Buffer
	res, err := svc.Evaluate(context.Background(), path, Options{Stdout: &stdout})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Rows)
	assert.Equal(t, 1.0, res.Report.Accuracy)
	assert.Empty(t, res.Filled)
	assert.Contains(t, stdout.String(), "Classification Report:")
	assert.Contains(t, stdout.String(), "Confusion Matrix:")
}

func TestEvaluateZeroFillsMissingColumn(t *testing.T) {
	m := metrics.New()
	svc := NewEvaluatorService(bundle(t), m, zerolog.Nop())
	// label spelled with an alias and SMS_received absent
	path := writeFile(t, "Gender,Age,No_show\nF,30,0\nM,41,1\n")

	res, err := svc.Evaluate(context.Background(), path, Options{Stdout: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.Equal(t, []string{"SMS_received"}, res.Filled)
	assert.Equal(t, 2, res.Rows)

	// zero SMS_received means NoShow for every row
	assert.Equal(t, 0.0, res.Confusion.At(0, 0))
	assert.Equal(t, 1.0, res.Confusion.At(0, 1))
	assert.Equal(t, 1.0, res.Confusion.At(1, 1))

	assert.Contains(t, scrape(t, m), `noshow_missing_feature_fills_total{column="SMS_received"} 1`)
}

func TestEvaluateAcceptsRawLabels(t *testing.T) {
	svc := NewEvaluatorService(bundle(t), nil, zerolog.Nop())
	path := writeFile(t, "Gender,Age,SMS_received,No-show\nF,30,1,No\nM,41,0,Yes\nF,52,0,Maybe\n")

	res, err := svc.Evaluate(context.Background(), path, Options{Stdout: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 1, res.Unlabeled)
}

func TestEvaluateWritesPlot(t *testing.T) {
	svc := NewEvaluatorService(bundle(t), nil, zerolog.Nop())
	path := writeFile(t, "Gender,Age,SMS_received,No-show\nF,30,1,0\nM,41,0,1\n")
	plotPath := filepath.Join(t.TempDir(), "cm.png")

	_, err := svc.Evaluate(context.Background(), path, Options{Stdout: &bytes.Buffer{}, PlotPath: plotPath})
	require.NoError(t, err)
	assert.FileExists(t, plotPath)
}

func TestEvaluateErrors(t *testing.T) {
	svc := NewEvaluatorService(bundle(t), nil, zerolog.Nop())

	t.Run("no label column", func(t *testing.T) {
		_, err := svc.Evaluate(context.Background(), writeFile(t, "Gender,Age\nF,30\n"), Options{})
		assert.ErrorIs(t, err, features.ErrMissingColumn)
	})

	t.Run("unseen category", func(t *testing.T) {
		_, err := svc.Evaluate(context.Background(),
			writeFile(t, "Gender,Age,SMS_received,No-show\nX,30,1,0\n"), Options{})
		assert.ErrorIs(t, err, features.ErrUnknownCategory)
	})
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestEvaluateEncodesNumericLookingCategories(t *testing.T) {
	tree := model.NewDecisionTreeClassifier()
	require.NoError(t, tree.Fit([][]float64{{0}, {1}, {0}, {1}}, []int{0, 1, 0, 1}))
	svc := NewEvaluatorService(&artifact.Bundle{
		Model:    tree,
		Encoders: features.Encoders{"Clinic": features.FitLabelEncoder("Clinic", []string{"10", "20"})},
		Features: []string{"Clinic"},
	}, nil, zerolog.Nop())

	res, err := svc.Evaluate(context.Background(),
		writeFile(t, "Clinic,No-show\n10,0\n20,1\n20,Yes\n"), Options{Stdout: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 1.0, res.Report.Accuracy)

	_, err = svc.Evaluate(context.Background(),
		writeFile(t, "Clinic,No-show\n10,0\n30,1\n"), Options{Stdout: &bytes.Buffer{}})
	assert.ErrorIs(t, err, features.ErrUnknownCategory)
}
