package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the prediction counters. A nil *Metrics records nothing, so
// batch subcommands can run without a registry.
type Metrics struct {
	predictions        *prometheus.CounterVec
	missingFills       *prometheus.CounterVec
	unknownCategories  *prometheus.CounterVec
	batchParseFailures prometheus.Counter
	gatherer           prometheus.Gatherer
}

// New registers the counters on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "noshow_predictions_total",
			Help: "Predictions served, by mode and predicted outcome.",
		}, []string{"mode", "label"}),
		missingFills: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "noshow_missing_feature_fills_total",
			Help: "Feature columns absent from an input and filled with zero.",
		}, []string{"column"}),
		unknownCategories: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "noshow_unknown_categories_total",
			Help: "Inputs rejected because a category was not seen during training.",
		}, []string{"column"}),
		batchParseFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "noshow_batch_parse_failures_total",
			Help: "Batch uploads or pasted text that could not be parsed.",
		}),
		gatherer: reg,
	}
}

func (m *Metrics) Prediction(mode, label string) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(mode, label).Inc()
}

func (m *Metrics) MissingFill(column string) {
	if m == nil {
		return
	}
	m.missingFills.WithLabelValues(column).Inc()
}

func (m *Metrics) UnknownCategory(column string) {
	if m == nil {
		return
	}
	m.unknownCategories.WithLabelValues(column).Inc()
}

func (m *Metrics) BatchParseFailure() {
	if m == nil {
		return
	}
	m.batchParseFailures.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
