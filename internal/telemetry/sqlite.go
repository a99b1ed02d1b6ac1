package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists usage entries in a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to usage database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize usage schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS usage_entries (
		id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL,
		tool TEXT NOT NULL,
		model TEXT NOT NULL,
		status TEXT NOT NULL,
		error_category TEXT,
		error_message TEXT,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		file_count INTEGER NOT NULL DEFAULT 0,
		file_formats TEXT NOT NULL DEFAULT '[]',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		accuracy_score INTEGER NOT NULL DEFAULT 0,
		is_alert INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_usage_entries_ts ON usage_entries(ts);
	`)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WriteEntries inserts entries in one transaction. Existing IDs are replaced.
func (s *SQLiteStore) WriteEntries(ctx context.Context, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT OR REPLACE INTO usage_entries (
		id, ts, tool, model, status, error_category, error_message,
		latency_ms, file_count, file_formats, input_tokens, output_tokens,
		accuracy_score, is_alert
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		formats := e.FileFormats
		if formats == nil {
			formats = []string{}
		}
		data, err := json.Marshal(formats)
		if err != nil {
			return fmt.Errorf("encode formats for %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Timestamp.UnixMilli(), e.Tool, e.Model, string(e.Status),
			string(e.ErrorCategory), e.ErrorMessage,
			e.LatencyMs, e.FileCount, string(data), e.InputTokens, e.OutputTokens,
			e.AccuracyScore, e.IsAlert,
		); err != nil {
			return fmt.Errorf("insert %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Recent returns the newest n entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, ts, tool, model, status, error_category, error_message,
		latency_ms, file_count, file_formats, input_tokens, output_tokens,
		accuracy_score, is_alert
	FROM usage_entries ORDER BY ts DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			ts       int64
			status   string
			category sql.NullString
			message  sql.NullString
			formats  string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Tool, &e.Model, &status, &category, &message,
			&e.LatencyMs, &e.FileCount, &formats, &e.InputTokens, &e.OutputTokens,
			&e.AccuracyScore, &e.IsAlert); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		e.Status = Status(status)
		e.ErrorCategory = ErrorCategory(category.String)
		e.ErrorMessage = message.String
		if err := json.Unmarshal([]byte(formats), &e.FileFormats); err != nil {
			e.FileFormats = []string{}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneBefore deletes entries older than t and returns how many went.
func (s *SQLiteStore) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM usage_entries WHERE ts < ?`, t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune entries: %w", err)
	}
	return res.RowsAffected()
}

// Clear deletes every entry.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM usage_entries`); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	return nil
}
