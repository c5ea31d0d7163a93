// Package store persists deliberation state in SQLite. It implements
// core.SessionRepository and core.ChunkStore on a single database file
// with separate read and write connections.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/magi-sh/magi/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteStore implements core.SessionRepository and core.ChunkStore.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB // Write connection
	readDB *sql.DB // Read-only connection
	mu     sync.RWMutex

	maxRetries    int
	baseRetryWait time.Duration
}

// Option configures the store.
type Option func(*SQLiteStore)

// WithRetry overrides the busy-retry policy.
func WithRetry(maxRetries int, baseWait time.Duration) Option {
	return func(s *SQLiteStore) {
		s.maxRetries = maxRetries
		s.baseRetryWait = baseWait
	}
}

// New creates a SQLite-backed store at dbPath, running migrations and
// seeding the fixed agent set.
func New(dbPath string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		dbPath:        dbPath,
		maxRetries:    5,
		baseRetryWait: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening write database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	s.db = db

	readDB, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(1000)")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening read database: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	s.readDB = readDB

	if err := s.migrate(); err != nil {
		_ = db.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	migrations := []string{migrationV1}
	for i, migration := range migrations {
		version := i + 1
		if version <= currentVersion {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration transaction: %w", err)
		}

		for _, stmt := range splitStatements(migration) {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("executing migration v%d: %w", version, err)
			}
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", version, err)
		}
	}

	return nil
}

// splitStatements splits a SQL script into individual statements. Line
// comments are stripped before splitting so a semicolon inside a comment
// never cuts a statement in half.
func splitStatements(script string) []string {
	var sqlLines []string
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		sqlLines = append(sqlLines, line)
	}

	var statements []string
	for _, stmt := range strings.Split(strings.Join(sqlLines, "\n"), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

// retryWrite executes a write operation with retry on SQLITE_BUSY.
func (s *SQLiteStore) retryWrite(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := fn(); err != nil {
			if isSQLiteBusy(err) {
				lastErr = err
				wait := s.baseRetryWait * time.Duration(1<<attempt)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
					continue
				}
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("%s failed after %d retries: %w", operation, s.maxRetries, lastErr)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

func storageErr(op string, err error) error {
	return core.ErrStorage(op).WithCause(err)
}

// UpdateAgentModels applies per-agent model overrides by slug. Empty
// models are skipped; unknown slugs match no rows and are ignored.
func (s *SQLiteStore) UpdateAgentModels(ctx context.Context, models map[string]string) error {
	for slug, model := range models {
		if model == "" {
			continue
		}
		err := s.retryWrite(ctx, "UpdateAgentModels", func() error {
			_, err := s.db.ExecContext(ctx,
				`UPDATE agents SET model = ? WHERE slug = ?`, model, slug)
			return err
		})
		if err != nil {
			return storageErr("updating agent model", err)
		}
	}
	return nil
}

// CreateSession inserts a new pending session.
func (s *SQLiteStore) CreateSession(ctx context.Context, userID, question, artifactID, liveURL string) (*core.Session, error) {
	session := &core.Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		Question:   question,
		ArtifactID: artifactID,
		LiveURL:    liveURL,
		Status:     core.SessionStatusPending,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	err := s.retryWrite(ctx, "CreateSession", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (id, user_id, question, artifact_id, live_url, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			session.ID, session.UserID, session.Question,
			nullable(session.ArtifactID), nullable(session.LiveURL),
			string(session.Status),
			session.CreatedAt.Format(time.RFC3339Nano),
			session.UpdatedAt.Format(time.RFC3339Nano),
		)
		return err
	})
	if err != nil {
		return nil, storageErr("creating session", err)
	}
	return session, nil
}

// AddMessage appends a message and returns it with its assigned ID.
func (s *SQLiteStore) AddMessage(ctx context.Context, msg *core.Message) (*core.Message, error) {
	metaJSON, err := json.Marshal(msg.Meta)
	if err != nil {
		return nil, storageErr("marshaling message meta", err)
	}

	stored := *msg
	stored.CreatedAt = time.Now().UTC()

	err = s.retryWrite(ctx, "AddMessage", func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO messages (session_id, agent_id, role, content, model, meta, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			stored.SessionID, nullable(stored.AgentID), string(stored.Role),
			stored.Content, nullable(stored.Model), string(metaJSON),
			stored.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		stored.ID = id

		_, err = s.db.ExecContext(ctx,
			"UPDATE sessions SET updated_at = ? WHERE id = ?",
			stored.CreatedAt.Format(time.RFC3339Nano), stored.SessionID,
		)
		return err
	})
	if err != nil {
		return nil, storageErr("adding message", err)
	}
	return &stored, nil
}

// AddVote inserts a vote row.
func (s *SQLiteStore) AddVote(ctx context.Context, vote *core.Vote) (*core.Vote, error) {
	stored := *vote
	stored.ID = uuid.NewString()
	stored.CreatedAt = time.Now().UTC()

	err := s.retryWrite(ctx, "AddVote", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO votes (id, session_id, agent_id, target_message_id, score, rationale, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			stored.ID, stored.SessionID, stored.AgentID, stored.TargetMessageID,
			stored.Score, nullable(stored.Rationale),
			stored.CreatedAt.Format(time.RFC3339Nano),
		)
		return err
	})
	if err != nil {
		return nil, storageErr("adding vote", err)
	}
	return &stored, nil
}

// SetSessionStatus updates the advisory session status and error text.
func (s *SQLiteStore) SetSessionStatus(ctx context.Context, sessionID string, status core.SessionStatus, errMsg string) error {
	err := s.retryWrite(ctx, "SetSessionStatus", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE sessions SET status = ?, error = ?, updated_at = ? WHERE id = ?
		`,
			string(status), nullable(errMsg),
			time.Now().UTC().Format(time.RFC3339Nano), sessionID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err == sql.ErrNoRows {
		return core.ErrNotFound("session", sessionID)
	}
	if err != nil {
		return storageErr("setting session status", err)
	}
	return nil
}

// UpsertConsensus writes or replaces the consensus record for a session.
func (s *SQLiteStore) UpsertConsensus(ctx context.Context, consensus *core.Consensus) (*core.Consensus, error) {
	stored := *consensus
	stored.UpdatedAt = time.Now().UTC()

	err := s.retryWrite(ctx, "UpsertConsensus", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO consensus (session_id, final_message_id, summary, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				final_message_id = excluded.final_message_id,
				summary = excluded.summary,
				updated_at = excluded.updated_at
		`,
			stored.SessionID, nullableInt(stored.FinalMessageID),
			nullable(stored.Summary),
			stored.UpdatedAt.Format(time.RFC3339Nano),
		)
		return err
	})
	if err != nil {
		return nil, storageErr("upserting consensus", err)
	}
	return &stored, nil
}

// GetSessionFull retrieves the fully materialized session view.
func (s *SQLiteStore) GetSessionFull(ctx context.Context, sessionID string) (*core.SessionFull, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, core.ErrNotFound("session", sessionID)
	}

	messages, err := s.listMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	votes, err := s.listVotes(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	consensus, err := s.getConsensus(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	agents, err := s.listAgents(ctx)
	if err != nil {
		return nil, err
	}

	return &core.SessionFull{
		Session:   session,
		Messages:  messages,
		Votes:     votes,
		Consensus: consensus,
		Agents:    agents,
	}, nil
}

// ListAgents returns the fixed agent set in seed order.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listAgents(ctx)
}

func (s *SQLiteStore) getSession(ctx context.Context, id string) (*core.Session, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, user_id, question, artifact_id, live_url, status, error, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id)

	var session core.Session
	var artifactID, liveURL, errText sql.NullString
	var status, createdAt, updatedAt string

	err := row.Scan(&session.ID, &session.UserID, &session.Question,
		&artifactID, &liveURL, &status, &errText, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("scanning session", err)
	}

	session.ArtifactID = artifactID.String
	session.LiveURL = liveURL.String
	session.Status = core.SessionStatus(status)
	session.Error = errText.String
	session.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	session.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &session, nil
}

func (s *SQLiteStore) listMessages(ctx context.Context, sessionID string) ([]*core.Message, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, session_id, agent_id, role, content, model, meta, created_at
		FROM messages WHERE session_id = ? ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, storageErr("querying messages", err)
	}
	defer rows.Close()

	var messages []*core.Message
	for rows.Next() {
		var msg core.Message
		var agentID, model sql.NullString
		var role, meta, createdAt string

		if err := rows.Scan(&msg.ID, &msg.SessionID, &agentID, &role, &msg.Content, &model, &meta, &createdAt); err != nil {
			return nil, storageErr("scanning message", err)
		}
		msg.AgentID = agentID.String
		msg.Role = core.MessageRole(role)
		msg.Model = model.String
		if err := json.Unmarshal([]byte(meta), &msg.Meta); err != nil {
			return nil, storageErr("unmarshaling message meta", err)
		}
		msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterating messages", err)
	}
	return messages, nil
}

func (s *SQLiteStore) listVotes(ctx context.Context, sessionID string) ([]*core.Vote, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, session_id, agent_id, target_message_id, score, rationale, created_at
		FROM votes WHERE session_id = ? ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, storageErr("querying votes", err)
	}
	defer rows.Close()

	var votes []*core.Vote
	for rows.Next() {
		var vote core.Vote
		var rationale sql.NullString
		var createdAt string

		if err := rows.Scan(&vote.ID, &vote.SessionID, &vote.AgentID, &vote.TargetMessageID, &vote.Score, &rationale, &createdAt); err != nil {
			return nil, storageErr("scanning vote", err)
		}
		vote.Rationale = rationale.String
		vote.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		votes = append(votes, &vote)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterating votes", err)
	}
	return votes, nil
}

func (s *SQLiteStore) getConsensus(ctx context.Context, sessionID string) (*core.Consensus, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT session_id, final_message_id, summary, updated_at
		FROM consensus WHERE session_id = ?
	`, sessionID)

	var consensus core.Consensus
	var finalID sql.NullInt64
	var summary sql.NullString
	var updatedAt string

	err := row.Scan(&consensus.SessionID, &finalID, &summary, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("scanning consensus", err)
	}

	consensus.FinalMessageID = finalID.Int64
	consensus.Summary = summary.String
	consensus.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &consensus, nil
}

func (s *SQLiteStore) listAgents(ctx context.Context) ([]*core.Agent, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, slug, name, provider, model, color FROM agents ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, storageErr("querying agents", err)
	}
	defer rows.Close()

	var agents []*core.Agent
	for rows.Next() {
		var agent core.Agent
		var provider string
		if err := rows.Scan(&agent.ID, &agent.Slug, &agent.Name, &provider, &agent.Model, &agent.Color); err != nil {
			return nil, storageErr("scanning agent", err)
		}
		agent.Provider = core.Provider(provider)
		agents = append(agents, &agent)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterating agents", err)
	}
	return agents, nil
}

// Close closes both database connections.
func (s *SQLiteStore) Close() error {
	var errs []error
	if s.readDB != nil {
		if err := s.readDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing read connection: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing write connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int64) interface{} {
	if n == 0 {
		return nil
	}
	return n
}
