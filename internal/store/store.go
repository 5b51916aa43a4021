// Package store provides SQLite-backed persistence for toolhost:
// session transcripts, invocation records, and dispatch decision audit
// entries.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Invocation stream states.
const (
	InvocationPending   = "pending"
	InvocationStreaming = "streaming"
	InvocationCompleted = "completed"
	InvocationFailed    = "failed"
)

// Message is one persisted conversation turn.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Invocation is one persisted tool call.
type Invocation struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	Tool      string     `json:"tool"`
	Arguments string     `json:"arguments"`
	Status    string     `json:"status"`
	Error     string     `json:"error,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Decision is one persisted dispatch decision record.
type Decision struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store provides access to the toolhost SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		connected_at DATETIME NOT NULL,
		disconnected_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE TABLE IF NOT EXISTS invocations (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		tool TEXT NOT NULL,
		arguments TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
	CREATE INDEX IF NOT EXISTS idx_invocations_session ON invocations(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- Sessions ---

// CreateSession records a client connect.
func (s *Store) CreateSession(id string) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, connected_at) VALUES (?, ?)`,
		id, time.Now().UTC(),
	)
	return err
}

// CloseSession records a client disconnect.
func (s *Store) CloseSession(id string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET disconnected_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	return err
}

// --- Messages ---

// AppendMessage persists one conversation turn.
func (s *Store) AppendMessage(sessionID, role, content string) (*Message, error) {
	msg := &Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// MessagesForSession returns a session's transcript in creation order.
func (s *Store) MessagesForSession(sessionID string) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- Invocations ---

// CreateInvocation records a resolved tool call in pending state.
func (s *Store) CreateInvocation(id, sessionID, tool string, arguments map[string]any) (*Invocation, error) {
	argsJSON, err := json.Marshal(arguments)
	if err != nil {
		return nil, fmt.Errorf("marshal arguments: %w", err)
	}

	inv := &Invocation{
		ID:        id,
		SessionID: sessionID,
		Tool:      tool,
		Arguments: string(argsJSON),
		Status:    InvocationPending,
		StartedAt: time.Now().UTC(),
	}
	_, err = s.db.Exec(
		`INSERT INTO invocations (id, session_id, tool, arguments, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.SessionID, inv.Tool, inv.Arguments, inv.Status, inv.StartedAt,
	)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// MarkInvocationStreaming transitions an invocation to streaming.
func (s *Store) MarkInvocationStreaming(id string) error {
	_, err := s.db.Exec(
		`UPDATE invocations SET status = ? WHERE id = ?`,
		InvocationStreaming, id,
	)
	return err
}

// FinishInvocation records the terminal state of an invocation.
func (s *Store) FinishInvocation(id, status, errMsg string) error {
	if status != InvocationCompleted && status != InvocationFailed {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	_, err := s.db.Exec(
		`UPDATE invocations SET status = ?, error = ?, ended_at = ? WHERE id = ?`,
		status, errMsg, time.Now().UTC(), id,
	)
	return err
}

// GetInvocation returns one invocation by id, or nil if absent.
func (s *Store) GetInvocation(id string) (*Invocation, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, tool, arguments, status, COALESCE(error, ''), started_at, ended_at FROM invocations WHERE id = ?`,
		id,
	)
	var inv Invocation
	var endedAt sql.NullTime
	if err := row.Scan(&inv.ID, &inv.SessionID, &inv.Tool, &inv.Arguments, &inv.Status, &inv.Error, &inv.StartedAt, &endedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if endedAt.Valid {
		inv.EndedAt = &endedAt.Time
	}
	return &inv, nil
}

// InvocationsForSession returns a session's tool calls, newest first.
func (s *Store) InvocationsForSession(sessionID string) ([]Invocation, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, tool, arguments, status, COALESCE(error, ''), started_at, ended_at FROM invocations WHERE session_id = ? ORDER BY started_at DESC, id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invs []Invocation
	for rows.Next() {
		var inv Invocation
		var endedAt sql.NullTime
		if err := rows.Scan(&inv.ID, &inv.SessionID, &inv.Tool, &inv.Arguments, &inv.Status, &inv.Error, &inv.StartedAt, &endedAt); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			inv.EndedAt = &endedAt.Time
		}
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

// --- Decisions ---

// WriteDecision records one dispatch decision audit entry.
func (s *Store) WriteDecision(sessionID, action, inputsHash, outcome, details string) (*Decision, error) {
	d := &Decision{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO decisions (id, session_id, action, inputs_hash, outcome, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SessionID, d.Action, d.InputsHash, d.Outcome, d.Details, d.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// DecisionsForSession returns a session's dispatch audit trail, newest
// first.
func (s *Store) DecisionsForSession(sessionID string) ([]Decision, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, action, inputs_hash, outcome, COALESCE(details, ''), timestamp FROM decisions WHERE session_id = ? ORDER BY timestamp DESC, id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ds []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.ID, &d.SessionID, &d.Action, &d.InputsHash, &d.Outcome, &d.Details, &d.Timestamp); err != nil {
			return nil, err
		}
		ds = append(ds, d)
	}
	return ds, rows.Err()
}
