package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors
var (
	ErrNotFound = errors.New("not found")
)

// isBusyLock reports whether err indicates SQLite database lock (SQLITE_BUSY).
// Handles wrapped errors from database/sql.
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// retryOnBusy runs fn and retries on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

// LogEntry is one row of the session log. AnonIP is already anonymized by
// the session layer; raw addresses never reach this store.
type LogEntry struct {
	SessionID string     `json:"session_id"`
	URL       string     `json:"url"`
	AnonIP    string     `json:"anon_ip"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Duration  int        `json:"duration_seconds"`
	Reason    string     `json:"reason,omitempty"`
}

type Store struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS session_log (
	session_id       TEXT PRIMARY KEY,
	url              TEXT NOT NULL,
	anon_ip          TEXT NOT NULL,
	started_at       DATETIME NOT NULL,
	ended_at         DATETIME,
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	reason           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_session_log_started_at ON session_log(started_at);
CREATE INDEX IF NOT EXISTS idx_session_log_anon_ip ON session_log(anon_ip);
`

// dsnWithPragmas returns a connection string with WAL, busy_timeout, and perf
// pragmas applied to every new connection. PRAGMAs in DSN are applied
// per-connection by the driver.
func dsnWithPragmas(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=temp_store(MEMORY)"
}

func New(dbPath string) (*Store, error) {
	dsn := dsnWithPragmas(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RecordSessionStart(sessionID, url, anonIP string, startedAt time.Time) error {
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO session_log (session_id, url, anon_ip, started_at) VALUES (?, ?, ?, ?)`,
			sessionID, url, anonIP, startedAt.UTC(),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("inserting session log: %w", err)
	}
	return nil
}

func (s *Store) RecordSessionEnd(sessionID string, endedAt time.Time, durationSeconds int, reason string) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(
			`UPDATE session_log SET ended_at = ?, duration_seconds = ?, reason = ? WHERE session_id = ?`,
			endedAt.UTC(), durationSeconds, reason, sessionID,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("updating session log: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// History returns a page of the session log, newest first. A non-empty
// search matches against URL and anonymized IP (substring).
func (s *Store) History(search string, page, pageSize int) ([]*LogEntry, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	where := ""
	args := []any{}
	if search != "" {
		where = `WHERE url LIKE ? OR anon_ip LIKE ?`
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern)
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM session_log `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting session log: %w", err)
	}

	query := `SELECT session_id, url, anon_ip, started_at, ended_at, duration_seconds, reason
		 FROM session_log ` + where + ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing session log: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// CountStartedSince returns the number of sessions started at or after t.
func (s *Store) CountStartedSince(t time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM session_log WHERE started_at >= ?`, t.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return n, nil
}

// AvgDurationSince returns the mean duration of sessions that ended at or
// after t, or 0 if none have.
func (s *Store) AvgDurationSince(t time.Time) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRow(
		`SELECT AVG(duration_seconds) FROM session_log WHERE ended_at IS NOT NULL AND ended_at >= ?`,
		t.UTC(),
	).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("averaging durations: %w", err)
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

func scanEntries(rows *sql.Rows) ([]*LogEntry, error) {
	var entries []*LogEntry
	for rows.Next() {
		var e LogEntry
		var endedAt sql.NullTime
		var reason sql.NullString
		if err := rows.Scan(&e.SessionID, &e.URL, &e.AnonIP, &e.StartedAt, &endedAt, &e.Duration, &reason); err != nil {
			return nil, fmt.Errorf("scanning session log: %w", err)
		}
		if endedAt.Valid {
			t := endedAt.Time
			e.EndedAt = &t
		}
		if reason.Valid {
			e.Reason = reason.String
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session log: %w", err)
	}
	return entries, nil
}
