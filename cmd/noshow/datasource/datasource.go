package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/SanteonNL/noshow/models/appointment"
)

// ErrEmptyDataset is returned when a source yields no rows.
var ErrEmptyDataset = errors.New("dataset has no rows")

// Source yields raw appointment records as a table of text columns.
type Source interface {
	Read(ctx context.Context) (dataframe.DataFrame, error)
	Describe() string
}

// ReadCSV parses delimited text into a table. With detectTypes false every
// column stays text so that values survive exactly as written.
func ReadCSV(r io.Reader, detectTypes bool) (dataframe.DataFrame, error) {
	opts := []dataframe.LoadOption{dataframe.HasHeader(true)}
	if detectTypes {
		opts = append(opts, dataframe.DetectTypes(true), dataframe.NaNValues([]string{"NA", "NaN", "<nil>", ""}))
	} else {
		opts = append(opts, dataframe.DetectTypes(false), dataframe.DefaultType(series.String))
	}

	df := dataframe.ReadCSV(r, opts...)
	if df.Err != nil {
		return df, fmt.Errorf("failed to parse CSV: %w", df.Err)
	}
	if df.Nrow() == 0 {
		return df, ErrEmptyDataset
	}
	return df, nil
}

// ReadCSVFile opens path and parses it with ReadCSV.
func ReadCSVFile(path string, detectTypes bool) (dataframe.DataFrame, error) {
	file, err := os.Open(path)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	df, err := ReadCSV(file, detectTypes)
	if err != nil {
		return df, fmt.Errorf("%s: %w", path, err)
	}
	return df, nil
}

// CSVSource reads records from a CSV file on disk.
type CSVSource struct {
	Path string
}

func NewCSVSource(path string) *CSVSource {
	return &CSVSource{Path: path}
}

func (s *CSVSource) Read(_ context.Context) (dataframe.DataFrame, error) {
	return ReadCSVFile(s.Path, false)
}

func (s *CSVSource) Describe() string {
	return "csv:" + s.Path
}

// SQLSource reads records with a query kept in a .sql file.
type SQLSource struct {
	db    *sqlx.DB
	query string
	file  string
	log   zerolog.Logger
}

// NewSQLSource creates a source that runs the query stored in queryFile.
func NewSQLSource(db *sqlx.DB, queryFile string, log zerolog.Logger) (*SQLSource, error) {
	src := &SQLSource{
		db:  db,
		log: log.With().Str("component", "sql_source").Logger(),
	}
	if err := src.LoadQueryFile(queryFile); err != nil {
		return nil, err
	}
	return src, nil
}

// LoadQueryFile replaces the query with the contents of filePath.
func (s *SQLSource) LoadQueryFile(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open query file %s: %w", filePath, err)
	}
	defer file.Close()

	query, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read query file %s: %w", filePath, err)
	}
	if strings.TrimSpace(string(query)) == "" {
		return fmt.Errorf("query file %s is empty", filePath)
	}

	s.query = string(query)
	s.file = filepath.Base(filePath)
	s.log.Debug().
		Str("file", filePath).
		Msg("Loaded query file")

	return nil
}

func (s *SQLSource) Describe() string {
	return "sql:" + s.file
}

// Read executes the query and returns every column as text, NULL as empty.
func (s *SQLSource) Read(ctx context.Context) (dataframe.DataFrame, error) {
	rows, err := s.db.QueryxContext(ctx, s.query)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("error reading columns: %w", err)
	}

	records := [][]string{columns}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("error scanning row: %w", err)
		}
		records = append(records, cellsToRecord(values))
	}
	if err := rows.Err(); err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("error iterating over rows: %w", err)
	}

	s.log.Info().
		Int("rows", len(records)-1).
		Int("columns", len(columns)).
		Msg("Read appointment records from database")

	if len(records) == 1 {
		return dataframe.DataFrame{}, ErrEmptyDataset
	}

	df := dataframe.LoadRecords(records,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return df, fmt.Errorf("failed to build table: %w", df.Err)
	}
	return df, nil
}

func cellsToRecord(values []interface{}) []string {
	record := make([]string, len(values))
	for i, v := range values {
		switch val := v.(type) {
		case nil:
			record[i] = ""
		case []byte:
			record[i] = string(val)
		case string:
			record[i] = val
		case time.Time:
			record[i] = appointment.FormatTimestamp(val)
		default:
			record[i] = fmt.Sprint(val)
		}
	}
	return record
}
