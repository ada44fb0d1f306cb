package model

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

func Accuracy(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	c := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			c++
		}
	}
	return float64(c) / float64(len(yTrue))
}

// ConfusionMatrix counts predictions with actual classes as rows and
// predicted classes as columns, both in the order of classes.
func ConfusionMatrix(yTrue, yPred, classes []int) *mat.Dense {
	pos := make(map[int]int, len(classes))
	for i, c := range classes {
		pos[c] = i
	}
	cm := mat.NewDense(len(classes), len(classes), nil)
	for i := range yTrue {
		r, okR := pos[yTrue[i]]
		c, okC := pos[yPred[i]]
		if !okR || !okC {
			continue
		}
		cm.Set(r, c, cm.At(r, c)+1)
	}
	return cm
}

// ClassMetrics holds the per-class scores of a report.
type ClassMetrics struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// ClassificationReport summarises a confusion matrix per class with macro
// and support-weighted averages.
type ClassificationReport struct {
	Classes     []ClassMetrics `json:"classes"`
	Accuracy    float64        `json:"accuracy"`
	MacroAvg    ClassMetrics   `json:"macroAvg"`
	WeightedAvg ClassMetrics   `json:"weightedAvg"`
	Total       int            `json:"total"`
}

// NewClassificationReport scores cm, whose rows are actual classes, with
// one name per class.
func NewClassificationReport(cm *mat.Dense, names []string) ClassificationReport {
	k, _ := cm.Dims()
	report := ClassificationReport{Classes: make([]ClassMetrics, k)}

	total, correct := 0.0, 0.0
	for i := 0; i < k; i++ {
		row := mat.Sum(cm.RowView(i))
		col := mat.Sum(cm.ColView(i))
		tp := cm.At(i, i)
		total += row
		correct += tp

		m := ClassMetrics{Support: int(row)}
		if i < len(names) {
			m.Label = names[i]
		}
		if col > 0 {
			m.Precision = tp / col
		}
		if row > 0 {
			m.Recall = tp / row
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		report.Classes[i] = m
	}

	report.Total = int(total)
	if total > 0 {
		report.Accuracy = correct / total
	}

	report.MacroAvg = ClassMetrics{Label: "macro avg", Support: report.Total}
	report.WeightedAvg = ClassMetrics{Label: "weighted avg", Support: report.Total}
	for _, m := range report.Classes {
		report.MacroAvg.Precision += m.Precision / float64(k)
		report.MacroAvg.Recall += m.Recall / float64(k)
		report.MacroAvg.F1 += m.F1 / float64(k)
		if total > 0 {
			w := float64(m.Support) / total
			report.WeightedAvg.Precision += m.Precision * w
			report.WeightedAvg.Recall += m.Recall * w
			report.WeightedAvg.F1 += m.F1 * w
		}
	}
	return report
}

// String renders the report as an aligned text table.
func (r ClassificationReport) String() string {
	width := len("weighted avg")
	for _, m := range r.Classes {
		width = max(width, len(m.Label))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%*s %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	for _, m := range r.Classes {
		fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, m.Label, m.Precision, m.Recall, m.F1, m.Support)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%*s %9s %9s %9.2f %9d\n", width, "accuracy", "", "", r.Accuracy, r.Total)
	for _, m := range []ClassMetrics{r.MacroAvg, r.WeightedAvg} {
		fmt.Fprintf(&b, "%*s %9.2f %9.2f %9.2f %9d\n", width, m.Label, m.Precision, m.Recall, m.F1, m.Support)
	}
	return b.String()
}

// FormatConfusion renders cm with class names on both axes.
func FormatConfusion(cm *mat.Dense, names []string) string {
	width := len("Actual")
	for _, n := range names {
		width = max(width, len(n))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%*s", width, "")
	for _, n := range names {
		fmt.Fprintf(&b, " %*s", width, n)
	}
	b.WriteString("   (Predicted)\n")
	rows, cols := cm.Dims()
	for i := 0; i < rows; i++ {
		name := ""
		if i < len(names) {
			name = names[i]
		}
		fmt.Fprintf(&b, "%*s", width, name)
		for j := 0; j < cols; j++ {
			fmt.Fprintf(&b, " %*d", width, int(cm.At(i, j)))
		}
		b.WriteString("\n")
	}
	return b.String()
}
