package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS prediction_log (
	id          BIGSERIAL PRIMARY KEY,
	created_at  TIMESTAMPTZ NOT NULL,
	mode        TEXT NOT NULL,
	label       TEXT NOT NULL,
	probability DOUBLE PRECISION NOT NULL,
	features    JSONB NOT NULL
)`

const insertRecord = `
INSERT INTO prediction_log (created_at, mode, label, probability, features)
VALUES (:created_at, :mode, :label, :probability, :features)`

// Record is one logged prediction.
type Record struct {
	ID          int64     `db:"id"`
	CreatedAt   time.Time `db:"created_at"`
	Mode        string    `db:"mode"`
	Label       string    `db:"label"`
	Probability float64   `db:"probability"`
	Features    string    `db:"features"`
}

// NewRecord builds a record with the inputs encoded as JSON.
func NewRecord(mode, label string, probability float64, inputs map[string]string) (Record, error) {
	data, err := json.Marshal(inputs)
	if err != nil {
		return Record{}, fmt.Errorf("failed to encode inputs: %w", err)
	}
	return Record{
		CreatedAt:   time.Now().UTC(),
		Mode:        mode,
		Label:       label,
		Probability: probability,
		Features:    string(data),
	}, nil
}

// PredictionStore appends served predictions to Postgres.
type PredictionStore struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// Open connects to databaseURL with the postgres driver.
func Open(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func NewPredictionStore(db *sqlx.DB, log zerolog.Logger) *PredictionStore {
	return &PredictionStore{
		db:  db,
		log: log.With().Str("component", "prediction_store").Logger(),
	}
}

// EnsureSchema creates the log table if needed.
func (s *PredictionStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create prediction_log: %w", err)
	}
	return nil
}

// Record inserts records in one transaction.
func (s *PredictionStore) Record(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, insertRecord)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r); err != nil {
			return fmt.Errorf("failed to insert prediction: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit predictions: %w", err)
	}

	s.log.Debug().
		Int("records", len(records)).
		Str("mode", records[0].Mode).
		Msg("Logged predictions")
	return nil
}

// Recent returns the latest records, newest first.
func (s *PredictionStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	var records []Record
	err := s.db.SelectContext(ctx, &records,
		`SELECT id, created_at, mode, label, probability, features::text AS features
		 FROM prediction_log ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query prediction_log: %w", err)
	}
	return records, nil
}
