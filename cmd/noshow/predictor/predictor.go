package predictor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/rs/zerolog"

	"github.com/SanteonNL/noshow/cmd/noshow/artifact"
	"github.com/SanteonNL/noshow/cmd/noshow/datasource"
	"github.com/SanteonNL/noshow/cmd/noshow/features"
	"github.com/SanteonNL/noshow/cmd/noshow/metrics"
	"github.com/SanteonNL/noshow/cmd/noshow/store"
	"github.com/SanteonNL/noshow/models/appointment"
)

const (
	ModeSingle = "single"
	ModeBatch  = "batch"
)

// ErrParse marks batch input that could not be read as a delimited table.
var ErrParse = errors.New("could not parse input as CSV")

// Recorder receives every served prediction.
type Recorder interface {
	Record(ctx context.Context, records []store.Record) error
}

// Field describes the input widget for one feature.
type Field struct {
	Name        string   `json:"name"`
	Categorical bool     `json:"categorical"`
	Options     []string `json:"options,omitempty"`
	Column      int      `json:"column"`
}

type SingleRequest struct {
	Values map[string]string `json:"values"`
}

type SingleResult struct {
	Label       string  `json:"label"`
	Code        int     `json:"code"`
	Probability float64 `json:"probability"`
}

type BatchRequest struct {
	Table dataframe.DataFrame
}

// BatchResult is the input table with a Prediction column appended.
type BatchResult struct {
	Table  dataframe.DataFrame
	Labels []string
}

// Counts tallies the predicted labels.
func (r BatchResult) Counts() map[string]int {
	counts := map[string]int{}
	for _, l := range r.Labels {
		counts[l]++
	}
	return counts
}

type PredictorService struct {
	bundle   *artifact.Bundle
	metrics  *metrics.Metrics
	recorder Recorder
	log      zerolog.Logger
}

type Option func(*PredictorService)

// WithRecorder logs predictions through r.
func WithRecorder(r Recorder) Option {
	return func(s *PredictorService) { s.recorder = r }
}

func NewPredictorService(bundle *artifact.Bundle, m *metrics.Metrics, log zerolog.Logger, opts ...Option) *PredictorService {
	svc := &PredictorService{
		bundle:  bundle,
		metrics: m,
		log:     log.With().Str("component", "predictor").Logger(),
	}
	for _, o := range opts {
		o(svc)
	}
	return svc
}

// Fields lists the features in schema order, alternating between two
// display columns.
func (svc *PredictorService) Fields() []Field {
	fields := make([]Field, len(svc.bundle.Features))
	for i, name := range svc.bundle.Features {
		f := Field{Name: name, Column: i % 2}
		if enc, ok := svc.bundle.Encoders[name]; ok {
			f.Categorical = true
			f.Options = enc.Classes
		}
		fields[i] = f
	}
	return fields
}

// PredictSingle scores one record given as raw widget values.
func (svc *PredictorService) PredictSingle(ctx context.Context, req SingleRequest) (SingleResult, error) {
	row := make([]float64, len(svc.bundle.Features))
	for j, name := range svc.bundle.Features {
		raw, ok := req.Values[name]
		if !ok {
			return SingleResult{}, fmt.Errorf("%w: %s", features.ErrMissingColumn, name)
		}

		if enc, ok := svc.bundle.Encoders[name]; ok {
			code, err := enc.Code(raw)
			if err != nil {
				svc.metrics.UnknownCategory(name)
				return SingleResult{}, err
			}
			row[j] = float64(code)
			continue
		}

		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return SingleResult{}, fmt.Errorf("%w %q for %s", features.ErrInvalidValue, raw, name)
		}
		if v < 0 {
			return SingleResult{}, fmt.Errorf("%w: %s must not be negative", features.ErrInvalidValue, name)
		}
		row[j] = v
	}

	probas, err := svc.bundle.Model.PredictProba([][]float64{row})
	if err != nil {
		return SingleResult{}, err
	}
	best := 0
	for i, p := range probas[0] {
		if p > probas[0][best] {
			best = i
		}
	}
	code := svc.bundle.Model.Classes[best]
	res := SingleResult{
		Label:       appointment.OutcomeLabel(code),
		Code:        code,
		Probability: probas[0][best],
	}

	svc.metrics.Prediction(ModeSingle, res.Label)
	svc.record(ctx, ModeSingle, []map[string]string{req.Values}, []string{res.Label}, []float64{res.Probability})
	svc.log.Debug().
		Str("label", res.Label).
		Float64("probability", res.Probability).
		Msg("Predicted single record")
	return res, nil
}

// ParseBatch reads an uploaded file or pasted text. Every column stays text
// so encoded columns are looked up exactly as written.
func (svc *PredictorService) ParseBatch(r io.Reader) (dataframe.DataFrame, error) {
	df, err := datasource.ReadCSV(r, false)
	if err != nil {
		svc.metrics.BatchParseFailure()
		return df, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return df, nil
}

// Preview returns the first n rows.
func Preview(df dataframe.DataFrame, n int) dataframe.DataFrame {
	n = min(n, df.Nrow())
	if n == df.Nrow() {
		return df
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return df.Subset(idx)
}

// PredictBatch scores every row. Columns with an encoder are encoded, the
// rest must be numeric. Raw appointment dates are turned into the derived
// features first. A missing schema column fails the whole batch.
func (svc *PredictorService) PredictBatch(ctx context.Context, req BatchRequest) (BatchResult, error) {
	derived, _, err := features.DeriveDateFeatures(req.Table)
	if err != nil {
		return BatchResult{}, err
	}

	matrix, err := features.Matrix(derived, svc.bundle.Features, svc.bundle.Encoders, false)
	if err != nil {
		var unknown *features.UnknownCategoryError
		if errors.As(err, &unknown) {
			svc.metrics.UnknownCategory(unknown.Column)
		}
		return BatchResult{}, err
	}

	probas, err := svc.bundle.Model.PredictProba(matrix.X)
	if err != nil {
		return BatchResult{}, err
	}

	labels := make([]string, len(probas))
	confidence := make([]float64, len(probas))
	for i, p := range probas {
		best := 0
		for k := range p {
			if p[k] > p[best] {
				best = k
			}
		}
		labels[i] = appointment.OutcomeLabel(svc.bundle.Model.Classes[best])
		confidence[i] = p[best]
		svc.metrics.Prediction(ModeBatch, labels[i])
	}

	table := req.Table.Mutate(series.New(labels, series.String, appointment.PredictionColumn))
	if table.Err != nil {
		return BatchResult{}, fmt.Errorf("failed to append predictions: %w", table.Err)
	}

	res := BatchResult{Table: table, Labels: labels}
	svc.record(ctx, ModeBatch, rowMaps(req.Table), labels, confidence)
	svc.log.Info().
		Int("rows", len(labels)).
		Interface("counts", res.Counts()).
		Msg("Predicted batch")
	return res, nil
}

// EncodeCSV renders df as CSV.
func EncodeCSV(df dataframe.DataFrame) ([]byte, error) {
	var buf bytes.Buffer
	if err := df.WriteCSV(&buf); err != nil {
		return nil, fmt.Errorf("failed to render CSV: %w", err)
	}
	return buf.Bytes(), nil
}

func (svc *PredictorService) record(ctx context.Context, mode string, inputs []map[string]string, labels []string, probas []float64) {
	if svc.recorder == nil {
		return
	}
	records := make([]store.Record, 0, len(labels))
	for i, label := range labels {
		r, err := store.NewRecord(mode, label, probas[i], inputs[i])
		if err != nil {
			svc.log.Warn().Err(err).Msg("Skipping prediction log record")
			continue
		}
		records = append(records, r)
	}
	// the prediction has been served; a failing log only warns
	if err := svc.recorder.Record(ctx, records); err != nil {
		svc.log.Warn().Err(err).Str("mode", mode).Msg("Failed to log predictions")
	}
}

func rowMaps(df dataframe.DataFrame) []map[string]string {
	records := df.Records()
	if len(records) == 0 {
		return nil
	}
	header := records[0]
	out := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		m := make(map[string]string, len(header))
		for j, name := range header {
			m[name] = rec[j]
		}
		out = append(out, m)
	}
	return out
}
