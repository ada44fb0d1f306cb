package features

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"golang.org/x/exp/slices"

	"github.com/SanteonNL/noshow/models/appointment"
)

var (
	// ErrMissingColumn is returned when a schema column is absent and
	// zero-filling was not requested.
	ErrMissingColumn = errors.New("missing feature column")
	// ErrInvalidValue is returned for a non-numeric value in a numeric column.
	ErrInvalidValue = errors.New("invalid value")
)

// HasDateColumns reports whether df still carries the raw timestamps.
func HasDateColumns(df dataframe.DataFrame) bool {
	names := df.Names()
	for _, col := range appointment.DateColumns {
		if !slices.Contains(names, col) {
			return false
		}
	}
	return true
}

// DeriveDateFeatures replaces the two timestamps with the waiting time in
// days and the weekday of each date. WaitingTime is added too when the table
// does not carry it yet. Unparseable timestamps leave the derived
// values missing; the number of affected rows is returned. A table without
// both timestamps is returned unchanged.
func DeriveDateFeatures(df dataframe.DataFrame) (dataframe.DataFrame, int, error) {
	if !HasDateColumns(df) {
		return df, 0, nil
	}

	scheduled := df.Col(appointment.ScheduledDay).Records()
	visits := df.Col(appointment.AppointmentDay).Records()

	n := len(scheduled)
	waiting := make([]string, n)
	scheduledDay := make([]string, n)
	visitDay := make([]string, n)
	invalid := 0

	for i := 0; i < n; i++ {
		s, errS := appointment.ParseTimestamp(scheduled[i])
		v, errV := appointment.ParseTimestamp(visits[i])

		waiting[i], scheduledDay[i], visitDay[i] = "NaN", "NaN", "NaN"
		if errS == nil {
			scheduledDay[i] = strconv.Itoa(appointment.Weekday(s))
		}
		if errV == nil {
			visitDay[i] = strconv.Itoa(appointment.Weekday(v))
		}
		if errS == nil && errV == nil {
			waiting[i] = strconv.Itoa(appointment.DaysBetween(s, v))
		} else {
			invalid++
		}
	}

	// raw uploads lack the preprocessor's WaitingTime; cleaned tables keep theirs
	if !slices.Contains(df.Names(), appointment.WaitingTime) {
		df = df.Mutate(series.New(waiting, series.Int, appointment.WaitingTime))
	}
	df = df.Mutate(series.New(waiting, series.Int, appointment.WaitingDays))
	df = df.Mutate(series.New(scheduledDay, series.Int, appointment.ScheduledWeekday))
	df = df.Mutate(series.New(visitDay, series.Int, appointment.AppointmentWeekday))
	df = df.Drop(appointment.DateColumns)
	if df.Err != nil {
		return df, invalid, fmt.Errorf("failed to derive date features: %w", df.Err)
	}
	return df, invalid, nil
}

// FitEncoders fits a fresh encoder for every text-typed column of df.
func FitEncoders(df dataframe.DataFrame) Encoders {
	enc := Encoders{}
	for _, name := range df.Names() {
		col := df.Col(name)
		if col.Type() != series.String {
			continue
		}
		enc[name] = FitLabelEncoder(name, col.Records())
	}
	return enc
}

// Result is a feature matrix aligned with a schema.
type Result struct {
	X      [][]float64
	Filled []string
}

// Matrix reindexes df to schema and converts it to numbers. Columns with an
// encoder are encoded; every other column must be numeric or parse as one.
// When fill is set, absent columns are zero-filled and listed in Filled.
func Matrix(df dataframe.DataFrame, schema []string, enc Encoders, fill bool) (Result, error) {
	nrow := df.Nrow()
	names := df.Names()

	res := Result{X: make([][]float64, nrow)}
	for i := range res.X {
		res.X[i] = make([]float64, len(schema))
	}

	for j, name := range schema {
		if !slices.Contains(names, name) {
			if !fill {
				return Result{}, fmt.Errorf("%w: %s", ErrMissingColumn, name)
			}
			res.Filled = append(res.Filled, name)
			continue
		}

		values, err := columnValues(df.Col(name), enc[name])
		if err != nil {
			return Result{}, err
		}
		for i, v := range values {
			res.X[i][j] = v
		}
	}
	return res, nil
}

// missingTokens are the cell values read as a missing number.
var missingTokens = []string{"", "NA", "NaN", "<nil>"}

// columnValues converts one column to numbers. A column with an encoder is
// always encoded from its text, whatever type the reader detected, so
// numeric-looking categories map through the fitted classes.
func columnValues(col series.Series, encoder *LabelEncoder) ([]float64, error) {
	if encoder != nil {
		codes, err := encoder.Transform(cellText(col))
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(codes))
		for i, c := range codes {
			out[i] = float64(c)
		}
		return out, nil
	}

	if col.Type() != series.String {
		return col.Float(), nil
	}

	records := col.Records()
	out := make([]float64, len(records))
	for i, r := range records {
		r = strings.TrimSpace(r)
		if slices.Contains(missingTokens, r) {
			out[i] = math.NaN()
			continue
		}
		f, err := strconv.ParseFloat(r, 64)
		if err != nil {
			return nil, fmt.Errorf("%w %q in column %s, row %d", ErrInvalidValue, r, col.Name, i+1)
		}
		out[i] = f
	}
	return out, nil
}

// cellText renders a column as the text its cells were written with. Float
// columns use the shortest representation instead of gota's fixed six
// decimals.
func cellText(col series.Series) []string {
	if col.Type() != series.Float {
		return col.Records()
	}
	values := col.Float()
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return out
}
