package evaluator

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/SanteonNL/noshow/cmd/noshow/artifact"
	"github.com/SanteonNL/noshow/cmd/noshow/datasource"
	"github.com/SanteonNL/noshow/cmd/noshow/features"
	"github.com/SanteonNL/noshow/cmd/noshow/metrics"
	"github.com/SanteonNL/noshow/cmd/noshow/model"
	"github.com/SanteonNL/noshow/cmd/noshow/plot"
	"github.com/SanteonNL/noshow/models/appointment"
)

var classNames = []string{appointment.OutcomeShow, appointment.OutcomeNoShow}

// Options of one evaluation.
type Options struct {
	// PlotPath, when set, receives a confusion matrix heatmap.
	PlotPath string
	// Stdout receives the printed report; os.Stdout when nil.
	Stdout io.Writer
}

// Result of scoring a labelled file against the loaded model.
type Result struct {
	Report    model.ClassificationReport `json:"report"`
	Confusion *mat.Dense                 `json:"-"`
	Filled    []string                   `json:"filled"`
	Rows      int                        `json:"rows"`
	Unlabeled int                        `json:"unlabeled"`
}

type EvaluatorService struct {
	bundle  *artifact.Bundle
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewEvaluatorService(bundle *artifact.Bundle, m *metrics.Metrics, log zerolog.Logger) *EvaluatorService {
	return &EvaluatorService{
		bundle:  bundle,
		metrics: m,
		log:     log.With().Str("component", "evaluator").Logger(),
	}
}

// Evaluate scores the labelled CSV at path and prints the report.
func (svc *EvaluatorService) Evaluate(ctx context.Context, path string, opts Options) (Result, error) {
	df, err := datasource.ReadCSVFile(path, false)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res, err := svc.EvaluateTable(df)
	if err != nil {
		return res, err
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	fmt.Fprintln(stdout, "Classification Report:")
	fmt.Fprint(stdout, res.Report.String())
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Confusion Matrix:")
	fmt.Fprint(stdout, model.FormatConfusion(res.Confusion, classNames))

	if opts.PlotPath != "" {
		if err := plot.SaveConfusionHeatmap(res.Confusion, classNames, "Confusion Matrix", opts.PlotPath); err != nil {
			return res, err
		}
		svc.log.Info().Str("path", opts.PlotPath).Msg("Saved confusion matrix heatmap")
	}
	return res, nil
}

// EvaluateTable reindexes df to the training schema, zero-filling absent
// columns, and scores the predictions against its label column.
func (svc *EvaluatorService) EvaluateTable(df dataframe.DataFrame) (Result, error) {
	label, ok := appointment.ResolveLabel(df.Names())
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", features.ErrMissingColumn, appointment.Label)
	}

	df, _, err := features.DeriveDateFeatures(df)
	if err != nil {
		return Result{}, err
	}

	y, keep := outcomes(df.Col(label))
	unlabeled := df.Nrow() - len(keep)
	if unlabeled > 0 {
		svc.log.Warn().Int("rows", unlabeled).Msg("Skipped rows without a Yes/No or 0/1 label")
		df = df.Subset(keep)
	}
	if len(y) == 0 {
		return Result{}, datasource.ErrEmptyDataset
	}

	matrix, err := features.Matrix(df.Drop(label), svc.bundle.Features, svc.bundle.Encoders, true)
	if err != nil {
		return Result{}, err
	}
	for _, col := range matrix.Filled {
		svc.metrics.MissingFill(col)
		svc.log.Warn().
			Str("column", col).
			Int("rows", len(y)).
			Msg("Feature column missing from input, filled with zero")
	}

	pred, err := svc.bundle.Model.Predict(matrix.X)
	if err != nil {
		return Result{}, err
	}

	cm := model.ConfusionMatrix(y, pred, []int{0, 1})
	res := Result{
		Report:    model.NewClassificationReport(cm, classNames),
		Confusion: cm,
		Filled:    matrix.Filled,
		Rows:      len(y),
		Unlabeled: unlabeled,
	}
	svc.log.Info().
		Int("rows", res.Rows).
		Float64("accuracy", res.Report.Accuracy).
		Msg("Evaluated model")
	return res, nil
}

// outcomes accepts either encoded 0/1 labels or the raw Yes/No answers and
// returns the usable labels with their row positions.
func outcomes(col series.Series) ([]int, []int) {
	var y, keep []int
	if col.Type() == series.String {
		for i, raw := range col.Records() {
			code, ok := appointment.OutcomeCode(raw)
			if !ok {
				switch strings.TrimSpace(raw) {
				case "0":
					code, ok = 0, true
				case "1":
					code, ok = 1, true
				}
			}
			if ok {
				y = append(y, code)
				keep = append(keep, i)
			}
		}
		return y, keep
	}
	for i, v := range col.Float() {
		if math.IsNaN(v) || (v != 0 && v != 1) {
			continue
		}
		y = append(y, int(v))
		keep = append(keep, i)
	}
	return y, keep
}
