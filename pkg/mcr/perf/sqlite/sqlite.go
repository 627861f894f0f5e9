// Package sqlite persists performance records in SQLite: one row per record
// with a JSON-encoded metrics map and numeric latency/cost columns.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mcr-lab/mcr/pkg/mcr/perf"
)

type sqliteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) a SQLite-backed perf store with WAL mode
// enabled.
func Open(ctx context.Context, path string) (perf.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency across appenders
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS perf_records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_hash TEXT NOT NULL,
	example_id    TEXT NOT NULL DEFAULT '',
	input_class   TEXT NOT NULL,
	model_id      TEXT NOT NULL DEFAULT '',
	metrics       TEXT NOT NULL DEFAULT '{}',
	latency_ms    INTEGER NOT NULL DEFAULT 0,
	cost_tokens   INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_perf_model_class
	ON perf_records(model_id, input_class);
CREATE INDEX IF NOT EXISTS idx_perf_strategy
	ON perf_records(strategy_hash);
`)
	return err
}

// Close closes the database connection.
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// Append inserts one record. Records are never updated or deleted.
func (s *sqliteStore) Append(ctx context.Context, r perf.Record) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO perf_records
	(strategy_hash, example_id, input_class, model_id, metrics, latency_ms, cost_tokens, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.StrategyHash, r.ExampleID, string(r.InputClass), r.ModelID,
		string(metrics), r.LatencyMs, r.CostTokens, r.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// Query returns records matching f, oldest first. Model filtering includes
// model-agnostic rows (empty model_id).
func (s *sqliteStore) Query(ctx context.Context, f perf.Filter) ([]perf.Record, error) {
	query := `
SELECT strategy_hash, example_id, input_class, model_id, metrics, latency_ms, cost_tokens, created_at
FROM perf_records WHERE 1=1`
	var args []interface{}

	if f.ModelID != "" {
		query += " AND (model_id = ? OR model_id = '')"
		args = append(args, f.ModelID)
	}
	if f.InputClass != "" {
		query += " AND input_class = ?"
		args = append(args, string(f.InputClass))
	}
	if f.StrategyHash != "" {
		query += " AND strategy_hash = ?"
		args = append(args, f.StrategyHash)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []perf.Record
	for rows.Next() {
		var (
			r       perf.Record
			class   string
			metrics string
			created string
		)
		if err := rows.Scan(&r.StrategyHash, &r.ExampleID, &class, &r.ModelID,
			&metrics, &r.LatencyMs, &r.CostTokens, &created); err != nil {
			return nil, err
		}
		r.InputClass = perf.InputClass(class)
		if err := json.Unmarshal([]byte(metrics), &r.Metrics); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
