// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package usage records per-exchange token consumption in a local SQLite
// ledger so spend can be reviewed offline, independent of the server's
// billing summary.
package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/parley-tui/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrLedgerClosed  = errors.New("usage ledger is closed")
	ErrDatabaseError = errors.New("usage database error")
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS usage_records (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    recorded_at       INTEGER NOT NULL,
    model_id          TEXT NOT NULL,
    prompt_tokens     INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    total_tokens      INTEGER NOT NULL DEFAULT 0,
    cost              REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_usage_recorded_at ON usage_records(recorded_at);
CREATE INDEX IF NOT EXISTS idx_usage_model ON usage_records(model_id);
`

// =============================================================================
// LEDGER
// =============================================================================

// Ledger is the local usage database.
type Ledger struct {
	db *sql.DB

	// now is swappable for tests
	now func() time.Time
}

// Totals is an aggregated view of recorded usage.
type Totals struct {
	Exchanges        int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             float64
}

// DayTotals is one day's aggregated usage.
type DayTotals struct {
	Day string // YYYY-MM-DD, local time
	Totals
}

// ModelTotals is one model's aggregated usage.
type ModelTotals struct {
	ModelID string
	Totals
}

// Open opens (creating if needed) the ledger at the given path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Ledger{db: db, now: time.Now}, nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

// Record appends one exchange's usage.
func (l *Ledger) Record(ctx context.Context, modelID string, u model.Usage) error {
	if l.db == nil {
		return ErrLedgerClosed
	}
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO usage_records (recorded_at, model_id, prompt_tokens, completion_tokens, total_tokens, cost)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		l.now().Unix(), modelID, u.PromptTokens, u.CompletionTokens, total, u.Cost)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// Totals aggregates all recorded usage.
func (l *Ledger) Totals(ctx context.Context) (Totals, error) {
	if l.db == nil {
		return Totals{}, ErrLedgerClosed
	}
	var t Totals
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(prompt_tokens), 0),
		        COALESCE(SUM(completion_tokens), 0),
		        COALESCE(SUM(total_tokens), 0),
		        COALESCE(SUM(cost), 0)
		 FROM usage_records`).
		Scan(&t.Exchanges, &t.PromptTokens, &t.CompletionTokens, &t.TotalTokens, &t.Cost)
	if err != nil {
		return Totals{}, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return t, nil
}

// TotalsByModel aggregates usage per model, highest total first.
func (l *Ledger) TotalsByModel(ctx context.Context) ([]ModelTotals, error) {
	if l.db == nil {
		return nil, ErrLedgerClosed
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT model_id,
		        COUNT(*),
		        COALESCE(SUM(prompt_tokens), 0),
		        COALESCE(SUM(completion_tokens), 0),
		        COALESCE(SUM(total_tokens), 0),
		        COALESCE(SUM(cost), 0)
		 FROM usage_records
		 GROUP BY model_id
		 ORDER BY SUM(total_tokens) DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var out []ModelTotals
	for rows.Next() {
		var m ModelTotals
		if err := rows.Scan(&m.ModelID, &m.Exchanges, &m.PromptTokens,
			&m.CompletionTokens, &m.TotalTokens, &m.Cost); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TotalsByDay aggregates the last n days of usage, most recent first.
// Days with no usage are omitted.
func (l *Ledger) TotalsByDay(ctx context.Context, n int) ([]DayTotals, error) {
	if l.db == nil {
		return nil, ErrLedgerClosed
	}
	since := l.now().AddDate(0, 0, -n).Unix()
	rows, err := l.db.QueryContext(ctx,
		`SELECT date(recorded_at, 'unixepoch', 'localtime') AS day,
		        COUNT(*),
		        COALESCE(SUM(prompt_tokens), 0),
		        COALESCE(SUM(completion_tokens), 0),
		        COALESCE(SUM(total_tokens), 0),
		        COALESCE(SUM(cost), 0)
		 FROM usage_records
		 WHERE recorded_at >= ?
		 GROUP BY day
		 ORDER BY day DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var out []DayTotals
	for rows.Next() {
		var d DayTotals
		if err := rows.Scan(&d.Day, &d.Exchanges, &d.PromptTokens,
			&d.CompletionTokens, &d.TotalTokens, &d.Cost); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
