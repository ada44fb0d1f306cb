package trainer

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SanteonNL/noshow/cmd/noshow/artifact"
	"github.com/SanteonNL/noshow/cmd/noshow/config"
	"github.com/SanteonNL/noshow/cmd/noshow/output"
	"github.com/SanteonNL/noshow/models/appointment"
)

var cleanedHeader = "Gender,ScheduledDay,AppointmentDay,Age,Neighbourhood,Scholarship,Hipertension,Diabetes,Alcoholism,Handcap,SMS_received,No-show,WaitingTime\n"

// cleanedCSV writes 80 valid rows where SMS_received mirrors the outcome,
// plus one row without a label and one with an unparseable date.
func cleanedCSV(t *testing.T, dir string) string {
	t.Helper()
	neighbourhoods := []string{"CENTRO", "JARDIM DA PENHA", "MATA DA PRAIA"}

	var b strings.Builder
	b.WriteString(cleanedHeader)
	for i := 0; i < 80; i++ {
		gender := "F"
		if i%2 == 1 {
			gender = "M"
		}
		noShow := 0
		if i%4 == 0 {
			noShow = 1
		}
		scheduled := time.Date(2016, 1, 1+i%5, 9, 0, 0, 0, time.UTC)
		visit := time.Date(2016, 1, 10+i%3, 0, 0, 0, 0, time.UTC)
		fmt.Fprintf(&b, "%s,%s,%s,%d,%s,0,%d,0,0,0,%d,%d,%d\n",
			gender,
			appointment.FormatTimestamp(scheduled),
			appointment.FormatTimestamp(visit),
			10+(i*7)%70,
			neighbourhoods[i%3],
			i%2,
			noShow,
			noShow,
			appointment.DaysBetween(scheduled, visit),
		)
	}
	b.WriteString("F,2016-01-01T00:00:00Z,2016-01-05T00:00:00Z,30,CENTRO,0,0,0,0,0,1,NaN,4\n")
	b.WriteString("M,garbage,2016-01-05T00:00:00Z,30,CENTRO,0,0,0,0,0,1,0,4\n")

	path := filepath.Join(dir, "processed", "clean.csv")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func defaultTraining() config.TrainingConfig {
	return config.TrainingConfig{
		RandomState:        42,
		TestSize:           0.2,
		SMOTENeighbors:     5,
		TreeMinSamplesLeaf: 1,
		TreeCriterion:      "gini",
	}
}

func TestTrainerRun(t *testing.T) {
	dir := t.TempDir()
	run, err := output.NewOutputManager(filepath.Join(dir, "runs"), zerolog.Disabled)
	require.NoError(t, err)
	defer run.Close()

	var stdout bytes.Buffer
	opts := Options{
		InputPath:       cleanedCSV(t, dir),
		ModelDir:        filepath.Join(dir, "model"),
		PredictionsPath: filepath.Join(dir, "processed", "test_with_predictions.csv"),
		Run:             run,
		Stdout:          &stdout,
	}

	report, err := NewTrainerService(defaultTraining(), zerolog.Nop()).Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 2, report.DroppedRows)
	assert.Equal(t, 64, report.TrainRows)
	assert.Equal(t, 96, report.ResampledRows)
	assert.Equal(t, 16, report.TestRows)
	assert.GreaterOrEqual(t, report.Accuracy, 0.75)
	assert.Contains(t, stdout.String(), "Accuracy:")
	assert.Contains(t, stdout.String(), "NoShow")

	t.Run("feature list matches the fitted table", func(t *testing.T) {
		want := []string{
			"Gender", "Age", "Neighbourhood", "Scholarship", "Hipertension", "Diabetes",
			"Alcoholism", "Handcap", "SMS_received", "WaitingTime",
			"Waiting_Days", "ScheduledDay_Weekday", "AppointmentDay_Weekday",
		}
		assert.Equal(t, want, report.Features)

		bundle, err := artifact.Load(opts.ModelDir)
		require.NoError(t, err)
		assert.Equal(t, want, bundle.Features)
		assert.Equal(t, len(want), bundle.Model.NFeatures)
		assert.Equal(t, []string{"Gender", "Neighbourhood"}, bundle.Encoders.Columns())
	})

	t.Run("side-by-side table", func(t *testing.T) {
		file, err := os.Open(opts.PredictionsPath)
		require.NoError(t, err)
		defer file.Close()

		records, err := csv.NewReader(file).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 1+report.TestRows)

		header := records[0]
		assert.Equal(t, appointment.PredictedNoShow, header[len(header)-2])
		assert.Equal(t, appointment.ActualNoShow, header[len(header)-1])
		assert.Equal(t, "Gender", header[0])
		for _, row := range records[1:] {
			assert.Contains(t, []string{"F", "M"}, row[0])
			assert.Contains(t, ClassNames, row[len(row)-2])
			assert.Contains(t, ClassNames, row[len(row)-1])
		}
	})

	t.Run("run directory", func(t *testing.T) {
		assert.FileExists(t, run.Path("confusion_matrix.png"))
		assert.FileExists(t, run.Path("metrics.json"))
	})
}

func TestTrainerRejectsSingleClass(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clean.csv")
	body := cleanedHeader +
		"F,2016-01-01T00:00:00Z,2016-01-05T00:00:00Z,30,CENTRO,0,0,0,0,0,1,0,4\n" +
		"M,2016-01-02T00:00:00Z,2016-01-05T00:00:00Z,40,CENTRO,0,0,0,0,0,0,0,3\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := NewTrainerService(defaultTraining(), zerolog.Nop()).Run(context.Background(), Options{
		InputPath: path,
		ModelDir:  filepath.Join(dir, "model"),
		Stdout:    &bytes.Buffer{},
	})
	assert.ErrorIs(t, err, ErrSingleClass)
}

func TestTrainerMissingLabel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clean.csv")
	require.NoError(t, os.WriteFile(path, []byte("Gender,Age\nF,30\n"), 0o644))

	_, err := NewTrainerService(defaultTraining(), zerolog.Nop()).Run(context.Background(), Options{InputPath: path})
	assert.Error(t, err)
}
