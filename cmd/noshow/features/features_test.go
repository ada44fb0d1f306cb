package features

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SanteonNL/noshow/models/appointment"
)

func table(t *testing.T, csv string) dataframe.DataFrame {
	t.Helper()
	df := dataframe.ReadCSV(strings.NewReader(csv))
	require.NoError(t, df.Err)
	return df
}

func TestLabelEncoderRoundTrip(t *testing.T) {
	values := []string{"JARDIM DA PENHA", "CENTRO", "MATA DA PRAIA", "CENTRO"}
	enc := FitLabelEncoder(appointment.Neighbourhood, values)
	assert.Equal(t, []string{"CENTRO", "JARDIM DA PENHA", "MATA DA PRAIA"}, enc.Classes)

	codes, err := enc.Transform(values)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 2, 0}, codes)

	back, err := enc.InverseTransform(codes)
	require.NoError(t, err)
	assert.Equal(t, values, back)
}

func TestLabelEncoderRejectsUnknown(t *testing.T) {
	enc := FitLabelEncoder(appointment.Gender, []string{"F", "M"})

	_, err := enc.Transform([]string{"F", "X"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownCategory)

	var unknown *UnknownCategoryError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, appointment.Gender, unknown.Column)
	assert.Equal(t, "X", unknown.Value)

	_, err = enc.InverseTransform([]int{2})
	assert.ErrorIs(t, err, ErrUnknownCode)
}

func TestEncodersColumns(t *testing.T) {
	enc := Encoders{
		"Neighbourhood": FitLabelEncoder("Neighbourhood", []string{"CENTRO"}),
		"Gender":        FitLabelEncoder("Gender", []string{"F"}),
	}
	assert.Equal(t, []string{"Gender", "Neighbourhood"}, enc.Columns())
	assert.True(t, enc.Has("Gender"))
	assert.False(t, enc.Has("Age"))
}

func TestDeriveDateFeatures(t *testing.T) {
	df := table(t, "Gender,ScheduledDay,AppointmentDay,Age\n"+
		"F,2016-01-01T00:00:00Z,2016-01-05T00:00:00Z,62\n"+
		"M,2016-04-29T18:38:08Z,2016-04-29T00:00:00Z,56\n"+
		"M,not a date,2016-04-29T00:00:00Z,8\n")

	out, invalid, err := DeriveDateFeatures(df)
	require.NoError(t, err)
	assert.Equal(t, 1, invalid)

	assert.Equal(t, []string{"Gender", "Age", appointment.WaitingTime, appointment.WaitingDays,
		appointment.ScheduledWeekday, appointment.AppointmentWeekday}, out.Names())
	assert.Equal(t, []string{"4", "-1", "NaN"}, out.Col(appointment.WaitingDays).Records())
	assert.Equal(t, []string{"4", "-1", "NaN"}, out.Col(appointment.WaitingTime).Records())
	// 2016-01-01 was a Friday, 2016-04-29 a Friday, 2016-01-05 a Tuesday
	assert.Equal(t, []string{"4", "4", "NaN"}, out.Col(appointment.ScheduledWeekday).Records())
	assert.Equal(t, []string{"1", "4", "4"}, out.Col(appointment.AppointmentWeekday).Records())
}

func TestDeriveDateFeaturesKeepsWaitingTime(t *testing.T) {
	df := table(t, "ScheduledDay,AppointmentDay,WaitingTime\n"+
		"2016-01-01T00:00:00Z,2016-01-05T00:00:00Z,7\n")

	out, _, err := DeriveDateFeatures(df)
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, out.Col(appointment.WaitingTime).Records())
	assert.Equal(t, []string{"4"}, out.Col(appointment.WaitingDays).Records())
}

func TestDeriveDateFeaturesWithoutDates(t *testing.T) {
	df := table(t, "Gender,Age\nF,62\n")
	out, invalid, err := DeriveDateFeatures(df)
	require.NoError(t, err)
	assert.Zero(t, invalid)
	assert.Equal(t, df.Names(), out.Names())
}

func TestFitEncodersOnlyTextColumns(t *testing.T) {
	df := table(t, "Gender,Age,Neighbourhood\nF,62,CENTRO\nM,56,JABOUR\n")
	enc := FitEncoders(df)
	assert.Equal(t, []string{"Gender", "Neighbourhood"}, enc.Columns())
}

func TestMatrix(t *testing.T) {
	df := table(t, "Age,Gender,SMS_received\n62,F,0\n56,M,1\n")
	enc := Encoders{"Gender": FitLabelEncoder("Gender", []string{"F", "M"})}

	t.Run("reorders to schema", func(t *testing.T) {
		res, err := Matrix(df, []string{"Gender", "Age", "SMS_received"}, enc, false)
		require.NoError(t, err)
		assert.Equal(t, [][]float64{{0, 62, 0}, {1, 56, 1}}, res.X)
		assert.Empty(t, res.Filled)
	})

	t.Run("missing column is zero-filled", func(t *testing.T) {
		res, err := Matrix(df, []string{"Gender", "Age", "Diabetes"}, enc, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"Diabetes"}, res.Filled)
		for _, row := range res.X {
			assert.Equal(t, 0.0, row[2])
		}
	})

	t.Run("missing column without fill", func(t *testing.T) {
		_, err := Matrix(df, []string{"Diabetes"}, enc, false)
		assert.ErrorIs(t, err, ErrMissingColumn)
	})

	t.Run("unseen category", func(t *testing.T) {
		other := table(t, "Gender\nX\n")
		_, err := Matrix(other, []string{"Gender"}, enc, false)
		assert.ErrorIs(t, err, ErrUnknownCategory)
	})

	t.Run("text in unencoded column", func(t *testing.T) {
		other := table(t, "Age\nold\n")
		_, err := Matrix(other, []string{"Age"}, enc, false)
		assert.ErrorIs(t, err, ErrInvalidValue)
	})

	t.Run("missing derived value stays NaN", func(t *testing.T) {
		other := table(t, "Gender,ScheduledDay,AppointmentDay\nF,bad,2016-01-05\n")
		derived, _, err := DeriveDateFeatures(other)
		require.NoError(t, err)
		res, err := Matrix(derived, []string{appointment.WaitingDays}, enc, false)
		require.NoError(t, err)
		assert.True(t, math.IsNaN(res.X[0][0]))
	})
}

func TestMatrixEncodesNumericLookingCategories(t *testing.T) {
	enc := Encoders{"Clinic": FitLabelEncoder("Clinic", []string{"10", "20", "ZZ"})}

	t.Run("detected as int", func(t *testing.T) {
		df := table(t, "Clinic\n20\n10\n")
		require.Equal(t, series.Int, df.Col("Clinic").Type())

		res, err := Matrix(df, []string{"Clinic"}, enc, false)
		require.NoError(t, err)
		assert.Equal(t, [][]float64{{1}, {0}}, res.X)
	})

	t.Run("unseen number is rejected", func(t *testing.T) {
		df := table(t, "Clinic\n10\n20\n999\n")

		_, err := Matrix(df, []string{"Clinic"}, enc, false)
		var unknown *UnknownCategoryError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "999", unknown.Value)
		assert.Equal(t, "Clinic", unknown.Column)
	})

	t.Run("float classes keep their text", func(t *testing.T) {
		floats := Encoders{"Dose": FitLabelEncoder("Dose", []string{"0.5", "1.5"})}
		df := table(t, "Dose\n1.5\n0.5\n")

		res, err := Matrix(df, []string{"Dose"}, floats, false)
		require.NoError(t, err)
		assert.Equal(t, [][]float64{{1}, {0}}, res.X)
	})
}

func TestMatrixTextColumnsWithMissingNumbers(t *testing.T) {
	df := dataframe.ReadCSV(strings.NewReader("Age\n30\nNA\n"),
		dataframe.DetectTypes(false), dataframe.DefaultType(series.String))
	require.NoError(t, df.Err)

	res, err := Matrix(df, []string{"Age"}, Encoders{}, false)
	require.NoError(t, err)
	assert.Equal(t, 30.0, res.X[0][0])
	assert.True(t, math.IsNaN(res.X[1][0]))
}
