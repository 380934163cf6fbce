package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/sonic-trainer/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteLedger implements Ledger using SQLite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the ledger database at dbPath.
func NewSQLite(dbPath string) (*SQLiteLedger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets health checks read while sessions write.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	l := &SQLiteLedger{db: db}
	if err := l.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return l, nil
}

func (l *SQLiteLedger) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS clients (
		client_id TEXT PRIMARY KEY,
		first_seen_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		scenario TEXT NOT NULL,
		voice TEXT NOT NULL,
		mode TEXT NOT NULL,
		state TEXT NOT NULL,
		failure TEXT,
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_client ON sessions(client_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
	`
	if _, err := l.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (l *SQLiteLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the database connection.
func (l *SQLiteLedger) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// TouchClient creates or refreshes a client row.
func (l *SQLiteLedger) TouchClient(ctx context.Context, clientID string, seen time.Time) error {
	query := `
	INSERT INTO clients (client_id, first_seen_at, last_seen_at)
	VALUES (?, ?, ?)
	ON CONFLICT(client_id) DO UPDATE SET last_seen_at = excluded.last_seen_at`

	return withRetry(ctx, "touch client", func() error {
		if _, err := l.db.ExecContext(ctx, query, clientID, seen.Unix(), seen.Unix()); err != nil {
			return fmt.Errorf("upsert client: %w", err)
		}
		return nil
	})
}

// GetClient retrieves a client by ID.
func (l *SQLiteLedger) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT client_id, first_seen_at, last_seen_at FROM clients WHERE client_id = ?`, clientID)

	var c domain.Client
	var first, last int64
	err := row.Scan(&c.ClientID, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan client row: %w", err)
	}
	c.FirstSeenAt = time.Unix(first, 0)
	c.LastSeenAt = time.Unix(last, 0)
	return &c, nil
}

// RecordCreated inserts a session row.
func (l *SQLiteLedger) RecordCreated(ctx context.Context, rec *domain.SessionRecord) error {
	query := `
	INSERT INTO sessions (session_id, client_id, scenario, voice, mode, state, started_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	state := rec.State
	if state == "" {
		state = domain.StateCreated
	}
	return withRetry(ctx, "record session", func() error {
		_, err := l.db.ExecContext(ctx, query,
			rec.SessionID, rec.ClientID, rec.Scenario, rec.Voice, rec.Mode,
			state, rec.StartedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
}

// RecordState updates the state of a non-terminal session row.
func (l *SQLiteLedger) RecordState(ctx context.Context, sessionID, state, failure string, at time.Time) error {
	var endedAt any
	switch state {
	case domain.StateEnded, domain.StateFailed, domain.StateAbandoned:
		endedAt = at.Unix()
	}
	var failureVal any
	if failure != "" {
		failureVal = failure
	}

	query := `
	UPDATE sessions
	SET state = ?, failure = COALESCE(?, failure), ended_at = COALESCE(?, ended_at)
	WHERE session_id = ? AND state NOT IN (?, ?, ?)`

	return withRetry(ctx, "record state", func() error {
		result, err := l.db.ExecContext(ctx, query,
			state, failureVal, endedAt, sessionID,
			domain.StateEnded, domain.StateFailed, domain.StateAbandoned,
		)
		if err != nil {
			return fmt.Errorf("update session state: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			slog.Debug("RecordState affected 0 rows", "session_id", sessionID, "state", state)
		}
		return nil
	})
}

const sessionColumns = `session_id, client_id, scenario, voice, mode, state, failure, started_at, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	var failure sql.NullString
	var startedAt int64
	var endedAt sql.NullInt64

	if err := row.Scan(
		&rec.SessionID, &rec.ClientID, &rec.Scenario, &rec.Voice, &rec.Mode,
		&rec.State, &failure, &startedAt, &endedAt,
	); err != nil {
		return nil, err
	}
	rec.Failure = failure.String
	rec.StartedAt = time.Unix(startedAt, 0)
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0)
		rec.EndedAt = &t
	}
	return &rec, nil
}

// GetSession retrieves one session row.
func (l *SQLiteLedger) GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return rec, nil
}

// ListByClient returns up to limit sessions for clientID, newest first.
func (l *SQLiteLedger) ListByClient(ctx context.Context, clientID string, limit int) ([]*domain.SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE client_id = ? ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query client sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close client session rows", "error", closeErr)
		}
	}()

	var out []*domain.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client session row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client sessions: %w", err)
	}
	return out, nil
}

// CountByState returns row counts keyed by state.
func (l *SQLiteLedger) CountByState(ctx context.Context) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM sessions GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close state count rows", "error", closeErr)
		}
	}()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		counts[state] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state counts: %w", err)
	}
	return counts, nil
}

// MarkAbandoned closes every created or active row. It runs at startup,
// before any session of this process exists.
func (l *SQLiteLedger) MarkAbandoned(ctx context.Context, at time.Time) (int64, error) {
	var n int64
	err := withRetry(ctx, "mark abandoned", func() error {
		result, err := l.db.ExecContext(ctx,
			`UPDATE sessions SET state = ?, ended_at = ? WHERE state IN (?, ?)`,
			domain.StateAbandoned, at.Unix(), domain.StateCreated, domain.StateActive)
		if err != nil {
			return fmt.Errorf("mark abandoned sessions: %w", err)
		}
		n, err = result.RowsAffected()
		return err
	})
	return n, err
}
