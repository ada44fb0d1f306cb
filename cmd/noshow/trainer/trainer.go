package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/SanteonNL/noshow/cmd/noshow/artifact"
	"github.com/SanteonNL/noshow/cmd/noshow/config"
	"github.com/SanteonNL/noshow/cmd/noshow/datasource"
	"github.com/SanteonNL/noshow/cmd/noshow/features"
	"github.com/SanteonNL/noshow/cmd/noshow/model"
	"github.com/SanteonNL/noshow/cmd/noshow/output"
	"github.com/SanteonNL/noshow/cmd/noshow/plot"
	"github.com/SanteonNL/noshow/models/appointment"
	"github.com/SanteonNL/noshow/util"
)

// ErrSingleClass is returned when the cleaned data holds only one outcome.
var ErrSingleClass = errors.New("training data contains a single class")

// ClassNames are the display names of class codes 0 and 1.
var ClassNames = []string{appointment.OutcomeShow, appointment.OutcomeNoShow}

// Options locate the input and outputs of one training run.
type Options struct {
	InputPath       string
	ModelDir        string
	PredictionsPath string
	// Run receives the heatmap and metrics.json when set.
	Run *output.OutputManager
	// Stdout receives the printed report; os.Stdout when nil.
	Stdout io.Writer
}

// Report summarises a training run.
type Report struct {
	Accuracy       float64                    `json:"accuracy"`
	Classification model.ClassificationReport `json:"classification"`
	Confusion      [][]float64                `json:"confusion"`
	Features       []string                   `json:"features"`
	DroppedRows    int                        `json:"droppedRows"`
	TrainRows      int                        `json:"trainRows"`
	ResampledRows  int                        `json:"resampledRows"`
	TestRows       int                        `json:"testRows"`
	TreeDepth      int                        `json:"treeDepth"`
	TreeLeaves     int                        `json:"treeLeaves"`
}

type TrainerService struct {
	cfg config.TrainingConfig
	log zerolog.Logger
}

func NewTrainerService(cfg config.TrainingConfig, log zerolog.Logger) *TrainerService {
	return &TrainerService{
		cfg: cfg,
		log: log.With().Str("component", "trainer").Logger(),
	}
}

// Run trains the classifier on the cleaned table and persists the bundle.
func (svc *TrainerService) Run(ctx context.Context, opts Options) (Report, error) {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	df, err := datasource.ReadCSVFile(opts.InputPath, true)
	if err != nil {
		return Report{}, err
	}
	label, ok := appointment.ResolveLabel(df.Names())
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", features.ErrMissingColumn, appointment.Label)
	}

	df, invalidDates, err := features.DeriveDateFeatures(df)
	if err != nil {
		return Report{}, err
	}
	if invalidDates > 0 {
		svc.log.Warn().Int("rows", invalidDates).Msg("Unparseable dates left derived features missing")
	}

	df, dropped := dropIncomplete(df)
	if dropped > 0 {
		svc.log.Warn().Int("rows", dropped).Msg("Dropped rows with a missing label or feature")
	}
	if df.Nrow() == 0 {
		return Report{}, datasource.ErrEmptyDataset
	}

	y, err := labels(df.Col(label))
	if err != nil {
		return Report{}, err
	}
	if len(model.ClassCounts(y)) < 2 {
		return Report{}, ErrSingleClass
	}

	featureTable := df.Drop(label)
	schema := featureTable.Names()
	encoders := features.FitEncoders(featureTable)
	matrix, err := features.Matrix(featureTable, schema, encoders, false)
	if err != nil {
		return Report{}, err
	}
	svc.log.Info().
		Int("rows", len(y)).
		Strs("features", schema).
		Strs("encoded", encoders.Columns()).
		Msg("Built feature matrix")

	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	trainIdx, testIdx, err := model.StratifiedSplit(y, svc.cfg.TestSize, svc.cfg.RandomState)
	if err != nil {
		return Report{}, err
	}
	xTrain, yTrain := model.Take(matrix.X, y, trainIdx)
	xTest, yTest := model.Take(matrix.X, y, testIdx)

	// only the training split is rebalanced
	smote := model.NewSMOTE(svc.cfg.SMOTENeighbors, svc.cfg.RandomState)
	xRes, yRes, err := smote.FitResample(xTrain, yTrain)
	if err != nil {
		return Report{}, err
	}
	svc.log.Info().
		Int("train_rows", len(yTrain)).
		Int("resampled_rows", len(yRes)).
		Int("test_rows", len(yTest)).
		Msg("Split and resampled training data")

	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	tree := model.NewDecisionTreeClassifier(
		model.WithMaxDepth(svc.cfg.TreeMaxDepth),
		model.WithMinSamplesLeaf(svc.cfg.TreeMinSamplesLeaf),
		model.WithCriterion(svc.cfg.TreeCriterion),
		model.WithRandomState(svc.cfg.RandomState),
	)
	if err := tree.Fit(xRes, yRes); err != nil {
		return Report{}, fmt.Errorf("failed to fit decision tree: %w", err)
	}

	bundle := &artifact.Bundle{Model: tree, Encoders: encoders, Features: schema}
	if err := bundle.Save(opts.ModelDir); err != nil {
		return Report{}, err
	}
	svc.log.Info().
		Str("dir", opts.ModelDir).
		Int("depth", tree.Depth()).
		Int("leaves", tree.Leaves()).
		Msg("Saved model artifacts")

	pred, err := tree.Predict(xTest)
	if err != nil {
		return Report{}, err
	}
	cm := model.ConfusionMatrix(yTest, pred, []int{0, 1})
	report := Report{
		Accuracy:       model.Accuracy(yTest, pred),
		Classification: model.NewClassificationReport(cm, ClassNames),
		Confusion:      denseRows(cm),
		Features:       schema,
		DroppedRows:    dropped,
		TrainRows:      len(yTrain),
		ResampledRows:  len(yRes),
		TestRows:       len(yTest),
		TreeDepth:      tree.Depth(),
		TreeLeaves:     tree.Leaves(),
	}

	fmt.Fprintf(stdout, "Accuracy: %.4f\n\n", report.Accuracy)
	fmt.Fprint(stdout, report.Classification.String())

	sideBySide := featureTable.Subset(testIdx)
	sideBySide = sideBySide.Mutate(outcomeSeries(pred, appointment.PredictedNoShow))
	sideBySide = sideBySide.Mutate(outcomeSeries(yTest, appointment.ActualNoShow))
	if err := writeTable(opts.PredictionsPath, sideBySide); err != nil {
		return report, err
	}
	svc.log.Info().Str("path", opts.PredictionsPath).Msg("Saved test predictions")

	if opts.Run != nil {
		if err := plot.SaveConfusionHeatmap(cm, ClassNames, "Confusion Matrix", opts.Run.Path("confusion_matrix.png")); err != nil {
			return report, err
		}
		if err := opts.Run.WriteJSON("metrics.json", report); err != nil {
			return report, err
		}
	}

	return report, nil
}

// dropIncomplete removes rows with a missing value in any numeric column,
// which covers the label and the derived date features.
func dropIncomplete(df dataframe.DataFrame) (dataframe.DataFrame, int) {
	missing := make([]bool, df.Nrow())
	for _, name := range df.Names() {
		col := df.Col(name)
		if col.Type() == series.String {
			continue
		}
		for i, v := range col.Float() {
			if math.IsNaN(v) {
				missing[i] = true
			}
		}
	}

	keep := make([]int, 0, len(missing))
	for i, m := range missing {
		if !m {
			keep = append(keep, i)
		}
	}
	if len(keep) == len(missing) {
		return df, 0
	}
	return df.Subset(keep), len(missing) - len(keep)
}

func labels(col series.Series) ([]int, error) {
	values := col.Float()
	y := make([]int, len(values))
	for i, v := range values {
		if v != 0 && v != 1 {
			return nil, fmt.Errorf("%w: label %v in row %d", features.ErrInvalidValue, v, i+1)
		}
		y[i] = int(v)
	}
	return y, nil
}

func outcomeSeries(codes []int, name string) series.Series {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = appointment.OutcomeLabel(c)
	}
	return series.New(out, series.String, name)
}

func denseRows(cm *mat.Dense) [][]float64 {
	r, c := cm.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = make([]float64, c)
		for j := range rows[i] {
			rows[i][j] = cm.At(i, j)
		}
	}
	return rows
}

func writeTable(path string, df dataframe.DataFrame) error {
	if df.Err != nil {
		return fmt.Errorf("failed to build table for %s: %w", path, df.Err)
	}
	file, err := util.CreateFile(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := df.WriteCSV(file); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
