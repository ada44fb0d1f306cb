package preprocess

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/SanteonNL/noshow/cmd/noshow/datasource"
	"github.com/SanteonNL/noshow/models/appointment"
	"github.com/SanteonNL/noshow/util"
)

// ErrMissingColumn is returned when a required raw column is absent.
var ErrMissingColumn = errors.New("missing required column")

// Summary describes one preprocessing run.
type Summary struct {
	Source        string `json:"source"`
	Output        string `json:"output"`
	InputRows     int    `json:"inputRows"`
	Duplicates    int    `json:"duplicates"`
	OutputRows    int    `json:"outputRows"`
	UnknownLabels int    `json:"unknownLabels"`
}

// PreprocessService turns raw appointment exports into the cleaned table.
type PreprocessService struct {
	log zerolog.Logger
}

func NewPreprocessService(log zerolog.Logger) *PreprocessService {
	return &PreprocessService{log: log.With().Str("component", "preprocess").Logger()}
}

// Run reads src, cleans it and writes the result to outputPath. Any error
// aborts the run before the output file is touched.
func (svc *PreprocessService) Run(ctx context.Context, src datasource.Source, outputPath string) (Summary, error) {
	raw, err := src.Read(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read %s: %w", src.Describe(), err)
	}

	cleaned, summary, err := Clean(raw)
	if err != nil {
		return summary, err
	}
	summary.Source = src.Describe()
	summary.Output = outputPath

	if summary.UnknownLabels > 0 {
		svc.log.Warn().
			Int("rows", summary.UnknownLabels).
			Str("column", appointment.Label).
			Msg("Outcome values other than Yes/No were left missing")
	}

	file, err := util.CreateFile(outputPath)
	if err != nil {
		return summary, err
	}
	defer file.Close()

	if err := cleaned.WriteCSV(file); err != nil {
		return summary, fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	svc.log.Info().
		Str("source", summary.Source).
		Str("output", outputPath).
		Int("input_rows", summary.InputRows).
		Int("duplicates", summary.Duplicates).
		Int("output_rows", summary.OutputRows).
		Msg("Cleaned data saved")

	return summary, nil
}

// Clean applies the cleaning steps in order: exact-row deduplication, label
// name canonicalisation, strict date parsing, label mapping, waiting time and
// identifier removal.
func Clean(df dataframe.DataFrame) (dataframe.DataFrame, Summary, error) {
	summary := Summary{InputRows: df.Nrow()}

	df, summary.Duplicates = dropDuplicates(df)

	names := df.Names()
	label, ok := appointment.ResolveLabel(names)
	if !ok {
		return df, summary, fmt.Errorf("%w: %s", ErrMissingColumn, appointment.Label)
	}
	if label != appointment.Label {
		df = df.Rename(appointment.Label, label)
	}
	for _, col := range append(append([]string{}, appointment.DateColumns...), appointment.Identifiers...) {
		if !slices.Contains(names, col) {
			return df, summary, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	scheduled, err := parseDates(df, appointment.ScheduledDay)
	if err != nil {
		return df, summary, err
	}
	visits, err := parseDates(df, appointment.AppointmentDay)
	if err != nil {
		return df, summary, err
	}
	df = df.Mutate(series.New(formatDates(scheduled), series.String, appointment.ScheduledDay))
	df = df.Mutate(series.New(formatDates(visits), series.String, appointment.AppointmentDay))

	outcomes := df.Col(appointment.Label).Records()
	codes := make([]string, len(outcomes))
	for i, raw := range outcomes {
		codes[i] = appointment.OutcomeRecord(raw)
		if _, ok := appointment.OutcomeCode(raw); !ok {
			summary.UnknownLabels++
		}
	}
	df = df.Mutate(series.New(codes, series.Int, appointment.Label))

	waiting := make([]int, len(scheduled))
	for i := range scheduled {
		waiting[i] = appointment.DaysBetween(scheduled[i], visits[i])
	}
	df = df.Mutate(series.New(waiting, series.Int, appointment.WaitingTime))

	df = df.Drop(appointment.Identifiers)
	if df.Err != nil {
		return df, summary, fmt.Errorf("failed to clean table: %w", df.Err)
	}

	summary.OutputRows = df.Nrow()
	return df, summary, nil
}

// dropDuplicates keeps the first occurrence of every exact row.
func dropDuplicates(df dataframe.DataFrame) (dataframe.DataFrame, int) {
	records := df.Records()
	if len(records) <= 1 {
		return df, 0
	}

	seen := make(map[string]struct{}, len(records)-1)
	keep := make([]int, 0, len(records)-1)
	for i, row := range records[1:] {
		key := strings.Join(row, "\x1f")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keep = append(keep, i)
	}

	duplicates := len(records) - 1 - len(keep)
	if duplicates == 0 {
		return df, 0
	}
	return df.Subset(keep), duplicates
}

func parseDates(df dataframe.DataFrame, column string) ([]time.Time, error) {
	values := df.Col(column).Records()
	out := make([]time.Time, len(values))
	for i, v := range values {
		t, err := appointment.ParseTimestamp(v)
		if err != nil {
			return nil, fmt.Errorf("column %s, row %d: %w", column, i+1, err)
		}
		out[i] = t
	}
	return out, nil
}

func formatDates(ts []time.Time) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = appointment.FormatTimestamp(t)
	}
	return out
}
