package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Unit outcome as recorded in the ledger. Frame units use the frame kind
// as their kind; the video stage records KindVideo.
const (
	KindVideo = "video"

	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	catalog     TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	status      TEXT NOT NULL DEFAULT 'running',
	error       TEXT
);
CREATE TABLE IF NOT EXISTS units (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	shot_idx   INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL,
	error      TEXT,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (run_id, shot_idx, kind)
);
`

// Ledger records the outcome of every generation unit per run, so a partial
// run can be inspected after the process exits.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (or creates) the SQLite ledger at path. Use ":memory:"
// for a private in-memory database.
func OpenLedger(ctx context.Context, path string) (*Ledger, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) BeginRun(ctx context.Context, runID, catalog string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, catalog, started_at) VALUES (?, ?, ?)`,
		runID, catalog, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("ledger: begin run %s: %w", runID, err)
	}
	return nil
}

// RecordUnit stores the latest outcome of one unit of a run.
func (l *Ledger) RecordUnit(ctx context.Context, runID string, shotIdx int, kind, status string, unitErr error) error {
	var msg sql.NullString
	if unitErr != nil {
		msg = sql.NullString{String: unitErr.Error(), Valid: true}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO units (run_id, shot_idx, kind, status, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, shot_idx, kind) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		runID, shotIdx, kind, status, msg, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("ledger: record shot %d %s: %w", shotIdx, kind, err)
	}
	return nil
}

func (l *Ledger) FinishRun(ctx context.Context, runID string, runErr error) error {
	status := "succeeded"
	var msg sql.NullString
	if runErr != nil {
		status = "failed"
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}

	_, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		time.Now().Unix(), status, msg, runID)
	if err != nil {
		return fmt.Errorf("ledger: finish run %s: %w", runID, err)
	}
	return nil
}

type UnitRecord struct {
	ShotIdx int
	Kind    string
	Status  string
	Error   string
}

type RunSummary struct {
	RunID     string
	Catalog   string
	Status    string
	Error     string
	StartedAt time.Time
	Units     []UnitRecord
}

// Counts returns the number of units per status.
func (s RunSummary) Counts() map[string]int {
	counts := map[string]int{}
	for _, u := range s.Units {
		counts[u.Status]++
	}
	return counts
}

// LatestRun returns the id of the most recently started run.
func (l *Ledger) LatestRun(ctx context.Context) (string, error) {
	var id string
	err := l.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("ledger: no runs recorded")
	}
	if err != nil {
		return "", fmt.Errorf("ledger: latest run: %w", err)
	}
	return id, nil
}

func (l *Ledger) Summary(ctx context.Context, runID string) (RunSummary, error) {
	sum := RunSummary{RunID: runID}

	var started int64
	var runErr sql.NullString
	err := l.db.QueryRowContext(ctx,
		`SELECT catalog, status, error, started_at FROM runs WHERE id = ?`, runID,
	).Scan(&sum.Catalog, &sum.Status, &runErr, &started)
	if err != nil {
		return sum, fmt.Errorf("ledger: run %s: %w", runID, err)
	}
	sum.Error = runErr.String
	sum.StartedAt = time.Unix(started, 0)

	rows, err := l.db.QueryContext(ctx,
		`SELECT shot_idx, kind, status, error FROM units WHERE run_id = ? ORDER BY shot_idx, kind`, runID)
	if err != nil {
		return sum, fmt.Errorf("ledger: units of %s: %w", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var u UnitRecord
		var msg sql.NullString
		if err := rows.Scan(&u.ShotIdx, &u.Kind, &u.Status, &msg); err != nil {
			return sum, err
		}
		u.Error = msg.String
		sum.Units = append(sum.Units, u)
	}
	return sum, rows.Err()
}
