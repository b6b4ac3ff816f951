// Package store provides durable persistence for the Session/Run/Event/
// Artifact/Message data model over a SQL database, using jmoiron/sqlx on
// modernc.org/sqlite (pure Go, no cgo) by default.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Status is shared by sessions and runs, which follow the same small state
// machine: pending -> running -> completed|failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ArtifactKind classifies a persisted run artifact and determines its file
// extension when written to the artifacts directory.
type ArtifactKind string

const (
	ArtifactDiff       ArtifactKind = "diff"
	ArtifactLog        ArtifactKind = "log"
	ArtifactScreenshot ArtifactKind = "screenshot"
	ArtifactReport     ArtifactKind = "report"
)

// Session is one operator-initiated unit of work against a repository.
type Session struct {
	ID              string    `db:"id"`
	RepoURL         string    `db:"repo_url"`
	Prompt          string    `db:"prompt"`
	Status          Status    `db:"status"`
	ConfigOverrides *string   `db:"config_overrides"` // JSON, nullable
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// Run is one execution of a session's orchestrator agent. A session may
// accumulate multiple runs via follow-up messages.
type Run struct {
	ID           string     `db:"id"`
	SessionID    string     `db:"session_id"`
	Status       Status     `db:"status"`
	CommandsUsed *string    `db:"commands_used"` // JSON, nullable
	PRURL        *string    `db:"pr_url"`
	PRNumber     *int       `db:"pr_number"`
	MergeSHA     *string    `db:"merge_sha"`
	MergedAt     *time.Time `db:"merged_at"`
	StartedAt    *time.Time `db:"started_at"`
	FinishedAt   *time.Time `db:"finished_at"`
}

// Event is one observable step recorded for a run, the durable counterpart
// of executor.Event.
type Event struct {
	ID        int64     `db:"id"`
	RunID     string    `db:"run_id"`
	Role      string    `db:"role"`
	Type      string    `db:"type"`
	Data      *string   `db:"data"` // JSON, nullable
	Timestamp time.Time `db:"timestamp"`
}

// Artifact is a named byproduct of a run (a diff, a log, a screenshot).
type Artifact struct {
	ID        string       `db:"id"`
	RunID     string       `db:"run_id"`
	Kind      ArtifactKind `db:"kind"`
	Name      string       `db:"name"`
	Path      string       `db:"path"`
	Metadata  *string      `db:"metadata"` // JSON, nullable
	SizeBytes *int64       `db:"size_bytes"`
	CreatedAt time.Time    `db:"created_at"`
}

// Message is one turn of the user-facing conversation attached to a
// session (as opposed to Event, which is the internal agent trace).
type Message struct {
	ID        int64     `db:"id"`
	SessionID string    `db:"session_id"`
	Role      string    `db:"role"` // "user" or "agent"
	Content   string    `db:"content"`
	Timestamp time.Time `db:"timestamp"`
}

// Store wraps a sqlx.DB with the schema and queries the session controller
// needs.
type Store struct {
	db *sqlx.DB
}

// Open connects to driverName/dsn and ensures the schema exists.
func Open(driverName, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	repo_url TEXT NOT NULL,
	prompt TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	config_overrides TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	status TEXT NOT NULL DEFAULT 'pending',
	commands_used TEXT,
	pr_url TEXT,
	pr_number INTEGER,
	merge_sha TEXT,
	merged_at TIMESTAMP,
	started_at TIMESTAMP,
	finished_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	type TEXT NOT NULL,
	data TEXT,
	timestamp TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	path TEXT NOT NULL,
	metadata TEXT,
	size_bytes INTEGER,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_session_id ON runs(session_id);
CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_run_id ON artifacts(run_id);
CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);
`

// CreateSession inserts a new pending session and returns its ID.
func (s *Store) CreateSession(ctx context.Context, repoURL, prompt string, configOverrides map[string]any) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	var overrides *string
	if len(configOverrides) > 0 {
		data, err := json.Marshal(configOverrides)
		if err != nil {
			return "", err
		}
		encoded := string(data)
		overrides = &encoded
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, repo_url, prompt, status, config_overrides, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, repoURL, prompt, StatusPending, overrides, now, now)
	if err != nil {
		return "", fmt.Errorf("store: create session: %w", err)
	}
	return id, nil
}

// GetSession loads a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	if err := s.db.GetContext(ctx, &sess, `SELECT * FROM sessions WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("store: get session %s: %w", id, err)
	}
	return &sess, nil
}

// ListSessions returns sessions ordered newest-first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := s.db.SelectContext(ctx, &sessions, `SELECT * FROM sessions ORDER BY created_at DESC`); err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionStatus transitions a session's status and bumps updated_at.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID string, status Status) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), sessionID)
	return err
}

// CreateRun inserts a new pending run for sessionID.
func (s *Store) CreateRun(ctx context.Context, sessionID string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, session_id, status) VALUES (?, ?, ?)`,
		id, sessionID, StatusPending)
	if err != nil {
		return "", fmt.Errorf("store: create run: %w", err)
	}
	return id, nil
}

// GetRun loads a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := s.db.GetContext(ctx, &run, `SELECT * FROM runs WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("store: get run %s: %w", id, err)
	}
	return &run, nil
}

// GetLatestRun returns the most recently started run for sessionID, used to
// resume a follow-up conversation against the right orchestrator state.
func (s *Store) GetLatestRun(ctx context.Context, sessionID string) (*Run, error) {
	var run Run
	err := s.db.GetContext(ctx, &run,
		`SELECT * FROM runs WHERE session_id = ? ORDER BY started_at DESC LIMIT 1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: get latest run for session %s: %w", sessionID, err)
	}
	return &run, nil
}

// UpdateRunStatus transitions status, stamping started_at when the run
// enters running and finished_at when it reaches a terminal status.
func (s *Store) UpdateRunStatus(ctx context.Context, runID string, status Status) error {
	now := time.Now().UTC()
	switch status {
	case StatusRunning:
		_, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ?, started_at = ? WHERE id = ?`, status, now, runID)
		return err
	case StatusCompleted, StatusFailed:
		_, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`, status, now, runID)
		return err
	default:
		_, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ? WHERE id = ?`, status, runID)
		return err
	}
}

// SetRunPullRequest records the PR opened by a run's orchestrator.
func (s *Store) SetRunPullRequest(ctx context.Context, runID, prURL string, prNumber int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET pr_url = ?, pr_number = ? WHERE id = ?`, prURL, prNumber, runID)
	return err
}

// SetRunMergeResult records a subsequent merge of the run's PR.
func (s *Store) SetRunMergeResult(ctx context.Context, runID, sha string, mergedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET merge_sha = ?, merged_at = ? WHERE id = ?`, sha, mergedAt, runID)
	return err
}

// AppendEvent persists one executor event for runID.
func (s *Store) AppendEvent(ctx context.Context, runID, role, eventType string, data map[string]any) error {
	var encoded *string
	if len(data) > 0 {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		s := string(raw)
		encoded = &s
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (run_id, role, type, data, timestamp) VALUES (?, ?, ?, ?, ?)`,
		runID, role, eventType, encoded, time.Now().UTC())
	return err
}

// ListEvents returns every event recorded for runID in emission order.
func (s *Store) ListEvents(ctx context.Context, runID string) ([]Event, error) {
	var events []Event
	if err := s.db.SelectContext(ctx, &events, `SELECT * FROM events WHERE run_id = ? ORDER BY id ASC`, runID); err != nil {
		return nil, fmt.Errorf("store: list events for run %s: %w", runID, err)
	}
	return events, nil
}

// extensionForKind maps an artifact kind to the file extension used when it
// is written beneath the artifacts root directory.
func extensionForKind(kind ArtifactKind) string {
	switch kind {
	case ArtifactDiff:
		return ".patch"
	case ArtifactLog:
		return ".log"
	case ArtifactReport:
		return ".md"
	case ArtifactScreenshot:
		return ".png"
	default:
		return ".txt"
	}
}

// ExtensionForKind exposes extensionForKind for callers outside this
// package that need to compute an artifact's on-disk path before it has
// been persisted (e.g. the session controller writing the file itself).
func ExtensionForKind(kind ArtifactKind) string {
	return extensionForKind(kind)
}

// CreateArtifact inserts a new artifact record for runID.
func (s *Store) CreateArtifact(ctx context.Context, runID string, kind ArtifactKind, name, path string, sizeBytes int64, metadata map[string]any) (string, error) {
	id := uuid.NewString()
	var encoded *string
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return "", err
		}
		s := string(raw)
		encoded = &s
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, run_id, kind, name, path, metadata, size_bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, runID, kind, name, path, encoded, sizeBytes, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("store: create artifact: %w", err)
	}
	return id, nil
}

// ListArtifacts returns every artifact recorded for runID.
func (s *Store) ListArtifacts(ctx context.Context, runID string) ([]Artifact, error) {
	var artifacts []Artifact
	if err := s.db.SelectContext(ctx, &artifacts, `SELECT * FROM artifacts WHERE run_id = ? ORDER BY created_at ASC`, runID); err != nil {
		return nil, fmt.Errorf("store: list artifacts for run %s: %w", runID, err)
	}
	return artifacts, nil
}

// SaveMessage appends a user- or agent-authored turn to a session's
// user-facing conversation.
func (s *Store) SaveMessage(ctx context.Context, sessionID, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		sessionID, role, content, time.Now().UTC())
	return err
}

// ListMessages returns a session's user-facing conversation in order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var messages []Message
	if err := s.db.SelectContext(ctx, &messages, `SELECT * FROM messages WHERE session_id = ? ORDER BY id ASC`, sessionID); err != nil {
		return nil, fmt.Errorf("store: list messages for session %s: %w", sessionID, err)
	}
	return messages, nil
}

// DeleteSession removes a session and, via cascading foreign keys, every
// run/event/artifact/message attached to it.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	return err
}
