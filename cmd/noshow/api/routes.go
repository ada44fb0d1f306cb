package api

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-gota/gota/dataframe"
	"github.com/rs/zerolog"

	"github.com/SanteonNL/noshow/cmd/noshow/cache"
	"github.com/SanteonNL/noshow/cmd/noshow/datasource"
	"github.com/SanteonNL/noshow/cmd/noshow/features"
	"github.com/SanteonNL/noshow/cmd/noshow/metrics"
	"github.com/SanteonNL/noshow/cmd/noshow/predictor"
)

const (
	ModeSingle   = "single"
	ModeMultiple = "multiple"

	previewRows   = 5
	maxUploadSize = 32 << 20
)

//go:embed templates/*.html
var templateFS embed.FS

type PredictionRouter struct {
	predictor *predictor.PredictorService
	cache     *cache.ResultCache
	metrics   *metrics.Metrics
	pages     *template.Template
	log       zerolog.Logger
}

// fieldView pairs a widget with the value last submitted for it.
type fieldView struct {
	Field predictor.Field
	Value string
}

type tableView struct {
	Header []string
	Rows   [][]string
}

type pageData struct {
	Mode     string
	Error    string
	Left     []predictor.Field
	Right    []predictor.Field
	Values   map[string]string
	Single   *predictor.SingleResult
	Data     string
	Table    *tableView
	Counts   map[string]int
	Download string
}

func NewPredictionRouter(
	predictorService *predictor.PredictorService,
	resultCache *cache.ResultCache,
	m *metrics.Metrics,
	log zerolog.Logger,
) (*PredictionRouter, error) {
	pages, err := template.New("page").
		Funcs(template.FuncMap{
			"field": func(f predictor.Field, values map[string]string) fieldView {
				return fieldView{Field: f, Value: values[f.Name]}
			},
		}).
		ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse page templates: %w", err)
	}

	return &PredictionRouter{
		predictor: predictorService,
		cache:     resultCache,
		metrics:   m,
		pages:     pages,
		log:       log.With().Str("component", "api").Logger(),
	}, nil
}

func (pr *PredictionRouter) SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", pr.handleIndex)
	r.Get("/healthz", pr.handleHealth)
	if pr.metrics != nil {
		r.Method(http.MethodGet, "/metrics", pr.metrics.Handler())
	}

	r.Route("/predict", func(r chi.Router) {
		r.Post("/single", pr.handleSingleForm)
		r.Post("/batch", pr.handleBatchForm)
		r.Get("/batch/{id}/predictions.csv", pr.handleDownload)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/features", pr.handleFeatures)
		r.Post("/predict", pr.handlePredict)
		r.Post("/predict/batch", pr.handlePredictBatch)
	})

	return r
}

func (pr *PredictionRouter) handleIndex(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode != ModeMultiple {
		mode = ModeSingle
	}
	pr.render(w, http.StatusOK, pr.newPage(mode))
}

func (pr *PredictionRouter) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "ok\n")
}

func (pr *PredictionRouter) handleSingleForm(w http.ResponseWriter, r *http.Request) {
	page := pr.newPage(ModeSingle)
	if err := r.ParseForm(); err != nil {
		page.Error = "Could not read the submitted form."
		pr.render(w, http.StatusBadRequest, page)
		return
	}

	for _, f := range pr.predictor.Fields() {
		if _, ok := r.PostForm[f.Name]; ok {
			page.Values[f.Name] = r.PostForm.Get(f.Name)
		}
	}

	res, err := pr.predictor.PredictSingle(r.Context(), predictor.SingleRequest{Values: page.Values})
	if err != nil {
		status, msg := pr.errorStatus(err)
		page.Error = msg
		pr.render(w, status, page)
		return
	}

	page.Single = &res
	pr.render(w, http.StatusOK, page)
}

func (pr *PredictionRouter) handleBatchForm(w http.ResponseWriter, r *http.Request) {
	page := pr.newPage(ModeMultiple)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		page.Error = "Could not read the upload."
		pr.render(w, http.StatusBadRequest, page)
		return
	}

	input, err := batchInput(r)
	if err != nil {
		page.Error = err.Error()
		pr.render(w, http.StatusBadRequest, page)
		return
	}
	defer input.Close()
	page.Data = r.FormValue("data")

	df, err := pr.predictor.ParseBatch(input)
	if err != nil {
		status, msg := pr.errorStatus(err)
		page.Error = msg
		pr.render(w, status, page)
		return
	}

	if r.FormValue("action") == "preview" {
		page.Table = newTableView(predictor.Preview(df, previewRows))
		pr.render(w, http.StatusOK, page)
		return
	}

	res, err := pr.predictor.PredictBatch(r.Context(), predictor.BatchRequest{Table: df})
	if err != nil {
		status, msg := pr.errorStatus(err)
		page.Error = msg
		pr.render(w, status, page)
		return
	}

	page.Table = newTableView(res.Table)
	page.Counts = res.Counts()

	csv, err := predictor.EncodeCSV(res.Table)
	if err != nil {
		pr.log.Error().Err(err).Msg("Failed to render predictions")
	} else if key := pr.cache.Store(csv, len(res.Labels)); key != "" {
		page.Download = fmt.Sprintf("/predict/batch/%s/predictions.csv", key)
	}

	pr.render(w, http.StatusOK, page)
}

func (pr *PredictionRouter) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, ok := pr.cache.Get(id)
	if !ok {
		http.Error(w, "result expired or not found", http.StatusNotFound)
		return
	}

	pr.log.Debug().
		Str("key", id).
		Int("rows", entry.Rows).
		Msg("Serving predictions from cache")

	respondWithCSV(w, http.StatusOK, entry.CSV)
}

func (pr *PredictionRouter) handleFeatures(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, pr.predictor.Fields())
}

func (pr *PredictionRouter) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictor.SingleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := pr.predictor.PredictSingle(r.Context(), req)
	if err != nil {
		status, msg := pr.errorStatus(err)
		respondWithError(w, status, msg)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

// batchResponse is the JSON form of a batch prediction.
type batchResponse struct {
	Rows        int            `json:"rows"`
	Counts      map[string]int `json:"counts"`
	Predictions []string       `json:"predictions"`
}

func (pr *PredictionRouter) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	df, err := pr.predictor.ParseBatch(http.MaxBytesReader(w, r.Body, maxUploadSize))
	if err != nil {
		status, msg := pr.errorStatus(err)
		respondWithError(w, status, msg)
		return
	}

	res, err := pr.predictor.PredictBatch(r.Context(), predictor.BatchRequest{Table: df})
	if err != nil {
		status, msg := pr.errorStatus(err)
		respondWithError(w, status, msg)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/csv") {
		csv, err := predictor.EncodeCSV(res.Table)
		if err != nil {
			status, msg := pr.errorStatus(err)
			respondWithError(w, status, msg)
			return
		}
		respondWithCSV(w, http.StatusOK, csv)
		return
	}

	respondWithJSON(w, http.StatusOK, batchResponse{
		Rows:        len(res.Labels),
		Counts:      res.Counts(),
		Predictions: res.Labels,
	})
}

func (pr *PredictionRouter) newPage(mode string) *pageData {
	page := &pageData{Mode: mode, Values: map[string]string{}}
	for _, f := range pr.predictor.Fields() {
		if f.Column == 0 {
			page.Left = append(page.Left, f)
		} else {
			page.Right = append(page.Right, f)
		}
	}
	return page
}

func (pr *PredictionRouter) render(w http.ResponseWriter, status int, page *pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pr.pages.ExecuteTemplate(w, "page", page); err != nil {
		pr.log.Error().Err(err).Str("mode", page.Mode).Msg("Failed to render page")
	}
}

// errorStatus maps an error to an HTTP status and a message safe to show.
func (pr *PredictionRouter) errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, predictor.ErrParse):
		return http.StatusBadRequest, "Could not parse the input as CSV. Check the delimiter and that every row has the same number of fields."
	case errors.Is(err, datasource.ErrEmptyDataset):
		return http.StatusBadRequest, "The input has no rows."
	case errors.Is(err, features.ErrUnknownCategory),
		errors.Is(err, features.ErrMissingColumn),
		errors.Is(err, features.ErrInvalidValue):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		pr.log.Error().Err(err).Msg("Prediction failed")
		return http.StatusInternalServerError, "Prediction failed."
	}
}

// batchInput returns the uploaded file, or the pasted text when no file was
// sent.
func batchInput(r *http.Request) (io.ReadCloser, error) {
	file, _, err := r.FormFile("file")
	if err == nil {
		return file, nil
	}
	if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		return nil, errors.New("Could not read the uploaded file.")
	}

	data := r.FormValue("data")
	if strings.TrimSpace(data) == "" {
		return nil, errors.New("Upload a CSV file or paste CSV text.")
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func newTableView(df dataframe.DataFrame) *tableView {
	records := df.Records()
	if len(records) == 0 {
		return nil
	}
	return &tableView{Header: records[0], Rows: records[1:]}
}

func respondWithJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondWithError(w http.ResponseWriter, status int, msg string) {
	respondWithJSON(w, status, map[string]string{"error": msg})
}

func respondWithCSV(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="predictions.csv"`)
	w.WriteHeader(status)
	w.Write(body)
}
