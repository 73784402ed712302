// Package sqlite persists sessions and transcripts in a SQLite database via
// database/sql. Sessions live in one row; transcript entries are append-only
// rows ordered by sequence number.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crowdthink/brainstorm/internal/domain"
	"github.com/crowdthink/brainstorm/internal/storage"
)

// Store is a SQLite implementation of SessionStore.
type Store struct {
	db *sql.DB
}

var _ storage.SessionStore = (*Store)(nil)

// New opens (or creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			principal TEXT NOT NULL DEFAULT '',
			topic TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			participants TEXT NOT NULL,
			speaker_order TEXT NOT NULL,
			current_turn INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			settings TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transcript_entries (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			speaker TEXT NOT NULL,
			content TEXT NOT NULL,
			artifacts TEXT,
			tokens TEXT,
			error_detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_principal ON sessions(principal)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_session ON transcript_entries(session_id, seq)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) Create(ctx context.Context, sess *domain.Session) error {
	sess.Version = 1
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	sess.UpdatedAt = sess.CreatedAt

	participants, err := json.Marshal(sess.Participants)
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}
	order, err := json.Marshal(sess.Order)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	settings, err := json.Marshal(sess.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO sessions (id, principal, topic, description, participants, speaker_order,
	          current_turn, status, settings, version, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.ExecContext(ctx, query,
		sess.ID, sess.Principal, sess.Topic, sess.Description,
		string(participants), string(order),
		sess.CurrentTurn, string(sess.Status), string(settings),
		sess.Version, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	if err := s.insertEntries(ctx, tx, sess.ID, 0, sess.Messages); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT id, principal, topic, description, participants, speaker_order,
	          current_turn, status, settings, version, created_at, updated_at
	          FROM sessions WHERE id = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrSessionNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	entries, err := s.getEntries(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Messages = entries

	return sess, nil
}

// Save writes the session row guarded by its version and appends any
// transcript entries not yet persisted. A version mismatch returns
// ErrVersionConflict without touching the stored row.
func (s *Store) Save(ctx context.Context, sess *domain.Session) error {
	participants, err := json.Marshal(sess.Participants)
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}
	order, err := json.Marshal(sess.Order)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	settings, err := json.Marshal(sess.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `UPDATE sessions
	          SET topic = ?, description = ?, participants = ?, speaker_order = ?,
	              current_turn = ?, status = ?, settings = ?, version = version + 1, updated_at = ?
	          WHERE id = ? AND version = ?`

	result, err := tx.ExecContext(ctx, query,
		sess.Topic, sess.Description, string(participants), string(order),
		sess.CurrentTurn, string(sess.Status), string(settings), now,
		sess.ID, sess.Version)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sess.ID).Scan(&exists); err == sql.ErrNoRows {
			return domain.ErrSessionNotFound(sess.ID)
		}
		return storage.ErrVersionConflict
	}

	var persisted int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcript_entries WHERE session_id = ?`, sess.ID).Scan(&persisted); err != nil {
		return fmt.Errorf("failed to count entries: %w", err)
	}
	if persisted < len(sess.Messages) {
		if err := s.insertEntries(ctx, tx, sess.ID, persisted, sess.Messages[persisted:]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	sess.Version++
	sess.UpdatedAt = now
	return nil
}

func (s *Store) insertEntries(ctx context.Context, tx *sql.Tx, sessionID string, startSeq int, entries []domain.TranscriptEntry) error {
	query := `INSERT INTO transcript_entries (id, session_id, seq, speaker, content, artifacts, tokens, error_detail, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for i, entry := range entries {
		var artifacts, tokens sql.NullString
		if len(entry.Artifacts) > 0 {
			data, err := json.Marshal(entry.Artifacts)
			if err != nil {
				return fmt.Errorf("failed to marshal artifacts: %w", err)
			}
			artifacts = sql.NullString{String: string(data), Valid: true}
		}
		if entry.Tokens != nil {
			data, err := json.Marshal(entry.Tokens)
			if err != nil {
				return fmt.Errorf("failed to marshal tokens: %w", err)
			}
			tokens = sql.NullString{String: string(data), Valid: true}
		}

		_, err := tx.ExecContext(ctx, query,
			entry.ID, sessionID, startSeq+i, entry.Speaker, entry.Content,
			artifacts, tokens, entry.ErrorDetail, entry.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert entry: %w", err)
		}
	}

	return nil
}

func (s *Store) getEntries(ctx context.Context, sessionID string) ([]domain.TranscriptEntry, error) {
	query := `SELECT id, speaker, content, artifacts, tokens, error_detail, created_at
	          FROM transcript_entries WHERE session_id = ?
	          ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.TranscriptEntry{}
	for rows.Next() {
		var entry domain.TranscriptEntry
		var artifacts, tokens sql.NullString

		if err := rows.Scan(&entry.ID, &entry.Speaker, &entry.Content,
			&artifacts, &tokens, &entry.ErrorDetail, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}

		if artifacts.Valid && artifacts.String != "" {
			if err := json.Unmarshal([]byte(artifacts.String), &entry.Artifacts); err != nil {
				return nil, fmt.Errorf("failed to unmarshal artifacts: %w", err)
			}
		}
		if tokens.Valid && tokens.String != "" {
			var usage domain.TokenUsage
			if err := json.Unmarshal([]byte(tokens.String), &usage); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tokens: %w", err)
			}
			entry.Tokens = &usage
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (s *Store) List(ctx context.Context, opts storage.ListOptions) ([]*domain.Session, error) {
	query := `SELECT id, principal, topic, description, participants, speaker_order,
	          current_turn, status, settings, version, created_at, updated_at
	          FROM sessions`
	args := []any{}
	if opts.Principal != "" {
		query += ` WHERE principal = ?`
		args = append(args, opts.Principal)
	}
	query += ` ORDER BY updated_at DESC LIMIT ? OFFSET ?`

	limit := opts.Limit
	if limit == 0 {
		limit = 100
	}
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, sess := range sessions {
		entries, err := s.getEntries(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		sess.Messages = entries
	}

	return sessions, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrSessionNotFound(id)
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var sess domain.Session
	var participants, order, settings, status string

	err := row.Scan(&sess.ID, &sess.Principal, &sess.Topic, &sess.Description,
		&participants, &order, &sess.CurrentTurn, &status, &settings,
		&sess.Version, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}

	sess.Status = domain.Status(status)
	if err := json.Unmarshal([]byte(participants), &sess.Participants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
	}
	if err := json.Unmarshal([]byte(order), &sess.Order); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	if err := json.Unmarshal([]byte(settings), &sess.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	return &sess, nil
}
