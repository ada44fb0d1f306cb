package plot

import (
	"fmt"
	"strconv"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// confusionGrid exposes a confusion matrix as a heat map grid. Rows are
// flipped so that the first actual class is drawn at the top.
type confusionGrid struct {
	cm *mat.Dense
}

func (g confusionGrid) Dims() (c, r int) {
	r, c = g.cm.Dims()
	return c, r
}

func (g confusionGrid) Z(c, r int) float64 {
	n, _ := g.cm.Dims()
	return g.cm.At(n-1-r, c)
}

func (g confusionGrid) X(c int) float64 { return float64(c) }
func (g confusionGrid) Y(r int) float64 { return float64(r) }

// ConfusionHeatmap renders cm as an annotated heat map with predicted
// classes along X and actual classes along Y.
func ConfusionHeatmap(cm *mat.Dense, labels []string, title string) (*plot.Plot, error) {
	rows, cols := cm.Dims()
	if rows != cols || rows != len(labels) {
		return nil, fmt.Errorf("confusion matrix is %dx%d but %d labels were given", rows, cols, len(labels))
	}

	grid := confusionGrid{cm: cm}
	heat := plotter.NewHeatMap(grid, palette.Heat(12, 1))
	if heat.Min == heat.Max {
		heat.Max = heat.Min + 1
	}

	var cells plotter.XYLabels
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			cells.XYs = append(cells.XYs, plotter.XY{X: grid.X(c), Y: grid.Y(r)})
			cells.Labels = append(cells.Labels, strconv.Itoa(int(grid.Z(c, r))))
		}
	}
	annotations, err := plotter.NewLabels(cells)
	if err != nil {
		return nil, fmt.Errorf("failed to create cell labels: %w", err)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "Actual"
	p.Add(heat, annotations)

	p.NominalX(labels...)
	flipped := make([]string, len(labels))
	for i, l := range labels {
		flipped[len(labels)-1-i] = l
	}
	p.NominalY(flipped...)

	return p, nil
}

// SaveConfusionHeatmap renders cm and writes it to path. The image format
// follows the file extension.
func SaveConfusionHeatmap(cm *mat.Dense, labels []string, title, path string) error {
	p, err := ConfusionHeatmap(cm, labels, title)
	if err != nil {
		return err
	}
	if err := p.Save(5*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save heatmap %s: %w", path, err)
	}
	return nil
}
