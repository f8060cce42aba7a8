// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session record persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			key                           TEXT PRIMARY KEY,
			platform_id                   TEXT NOT NULL,
			thread_id                     TEXT NOT NULL,
			agent_conversation_id         TEXT NOT NULL,
			started_by                    TEXT NOT NULL,
			started_at                    TEXT NOT NULL,
			last_activity_at              TEXT NOT NULL,
			session_number                INTEGER NOT NULL DEFAULT 0,
			working_dir                   TEXT NOT NULL,
			plan_approved                 INTEGER NOT NULL DEFAULT 0,
			allowed_users                 TEXT NOT NULL DEFAULT '[]',
			force_interactive_permissions INTEGER NOT NULL DEFAULT 0,
			session_start_message_id      TEXT NOT NULL DEFAULT '',
			tasks_message_id              TEXT NOT NULL DEFAULT '',
			resume_fail_count             INTEGER NOT NULL DEFAULT 0,
			cleaned_at                    TEXT,
			timeout_post_id               TEXT NOT NULL DEFAULT '',
			title                         TEXT NOT NULL DEFAULT '',
			description                   TEXT NOT NULL DEFAULT '',
			isolation_info                TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_platform_activity
			ON sessions(platform_id, last_activity_at DESC);

		CREATE INDEX IF NOT EXISTS idx_sessions_cleaned
			ON sessions(cleaned_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

const sessionColumns = `key, platform_id, thread_id, agent_conversation_id, started_by,
	started_at, last_activity_at, session_number, working_dir, plan_approved,
	allowed_users, force_interactive_permissions, session_start_message_id,
	tasks_message_id, resume_fail_count, cleaned_at, timeout_post_id,
	title, description, isolation_info`

// Save upserts a session record by its composite key and clears any
// soft-delete marker: a saved session is live again.
func (s *SQLiteStore) Save(ctx context.Context, rec *Session) error {
	users, err := json.Marshal(rec.AllowedUsers)
	if err != nil {
		return fmt.Errorf("encoding allowed users: %w", err)
	}

	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			agent_conversation_id = excluded.agent_conversation_id,
			started_by = excluded.started_by,
			started_at = excluded.started_at,
			last_activity_at = excluded.last_activity_at,
			session_number = excluded.session_number,
			working_dir = excluded.working_dir,
			plan_approved = excluded.plan_approved,
			allowed_users = excluded.allowed_users,
			force_interactive_permissions = excluded.force_interactive_permissions,
			session_start_message_id = excluded.session_start_message_id,
			tasks_message_id = excluded.tasks_message_id,
			resume_fail_count = excluded.resume_fail_count,
			cleaned_at = NULL,
			timeout_post_id = excluded.timeout_post_id,
			title = excluded.title,
			description = excluded.description,
			isolation_info = excluded.isolation_info
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.Key(),
		rec.PlatformID,
		rec.ThreadID,
		rec.AgentConversationID,
		rec.StartedBy,
		rec.StartedAt.UTC().Format(time.RFC3339),
		rec.LastActivityAt.UTC().Format(time.RFC3339),
		rec.SessionNumber,
		rec.WorkingDir,
		rec.PlanApproved,
		string(users),
		rec.ForceInteractivePermissions,
		rec.SessionStartMessageID,
		rec.TasksMessageID,
		rec.ResumeFailCount,
		rec.TimeoutPostID,
		rec.Title,
		rec.Description,
		rec.IsolationInfo,
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	s.logger.Debug("session saved", "key", rec.Key(), "resume_fail_count", rec.ResumeFailCount)
	return nil
}

// Load returns all active (not soft-deleted) records.
func (s *SQLiteStore) Load(ctx context.Context) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE cleaned_at IS NULL`
	return s.querySessions(ctx, query)
}

// Get returns one record by key, soft-deleted or not.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE key = ?`
	row := s.db.QueryRowContext(ctx, query, key)

	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return rec, nil
}

// Remove hard-deletes a record.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key); err != nil {
		return fmt.Errorf("removing session: %w", err)
	}
	s.logger.Debug("session removed", "key", key)
	return nil
}

// SoftDelete marks a record inactive. Idempotent: a record already carrying a
// cleaned_at timestamp keeps it.
func (s *SQLiteStore) SoftDelete(ctx context.Context, key string) error {
	query := `UPDATE sessions SET cleaned_at = ? WHERE key = ? AND cleaned_at IS NULL`
	res, err := s.db.ExecContext(ctx, query, time.Now().UTC().Format(time.RFC3339), key)
	if err != nil {
		return fmt.Errorf("soft-deleting session: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug("session soft-deleted", "key", key)
	}
	return nil
}

// GetHistory returns inactive records for a platform sorted by most recent
// activity. Soft-deleted records always qualify. Timed-out records that were
// never resumed (timeout_post_id set, cleaned_at unset) qualify only when the
// caller supplies the current set of active keys, so callers that don't track
// liveness keep the old soft-delete-only behavior.
func (s *SQLiteStore) GetHistory(ctx context.Context, platformID string, activeKeys []string) ([]*Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE platform_id = ? AND (cleaned_at IS NOT NULL OR timeout_post_id != '')
		ORDER BY last_activity_at DESC
	`
	recs, err := s.querySessions(ctx, query, platformID)
	if err != nil {
		return nil, err
	}

	live := make(map[string]bool, len(activeKeys))
	for _, k := range activeKeys {
		live[k] = true
	}

	out := make([]*Session, 0, len(recs))
	for _, rec := range recs {
		if rec.CleanedAt != nil {
			out = append(out, rec)
			continue
		}
		// Timed-out but never soft-deleted: only meaningful if we know it
		// is not still live.
		if activeKeys != nil && !live[rec.Key()] {
			out = append(out, rec)
		}
	}
	return out, nil
}

// CleanStale soft-deletes active records whose last activity predates maxAge
// and returns their keys.
func (s *SQLiteStore) CleanStale(ctx context.Context, maxAge time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339)

	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM sessions WHERE cleaned_at IS NULL AND last_activity_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("finding stale sessions: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning stale key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stale keys: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, key := range keys {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET cleaned_at = ? WHERE key = ? AND cleaned_at IS NULL`, now, key); err != nil {
			return nil, fmt.Errorf("soft-deleting stale session %s: %w", key, err)
		}
	}

	if len(keys) > 0 {
		s.logger.Info("stale sessions cleaned", "count", len(keys))
	}
	return keys, nil
}

// CleanHistory hard-deletes soft-deleted records older than the retention
// window and returns the count removed.
func (s *SQLiteStore) CleanHistory(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE cleaned_at IS NOT NULL AND cleaned_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning history: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting cleaned history: %w", err)
	}
	if n > 0 {
		s.logger.Info("session history cleaned", "count", n)
	}
	return int(n), nil
}

// Clear removes all records.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clearing sessions: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...any) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var recs []*Session
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return recs, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanSession.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		rec        Session
		key        string
		startedAt  string
		activityAt string
		users      string
		cleanedAt  sql.NullString
	)

	err := row.Scan(
		&key,
		&rec.PlatformID,
		&rec.ThreadID,
		&rec.AgentConversationID,
		&rec.StartedBy,
		&startedAt,
		&activityAt,
		&rec.SessionNumber,
		&rec.WorkingDir,
		&rec.PlanApproved,
		&users,
		&rec.ForceInteractivePermissions,
		&rec.SessionStartMessageID,
		&rec.TasksMessageID,
		&rec.ResumeFailCount,
		&cleanedAt,
		&rec.TimeoutPostID,
		&rec.Title,
		&rec.Description,
		&rec.IsolationInfo,
	)
	if err != nil {
		return nil, err
	}

	if rec.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if rec.LastActivityAt, err = time.Parse(time.RFC3339, activityAt); err != nil {
		return nil, fmt.Errorf("parsing last_activity_at: %w", err)
	}
	if cleanedAt.Valid {
		t, err := time.Parse(time.RFC3339, cleanedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing cleaned_at: %w", err)
		}
		rec.CleanedAt = &t
	}
	if err := json.Unmarshal([]byte(users), &rec.AllowedUsers); err != nil {
		return nil, fmt.Errorf("decoding allowed users: %w", err)
	}

	return &rec, nil
}
