// Package store persists chat sessions and their messages in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"anvil/internal/domain"
)

const titleLimit = 60

// SQLiteStore implements session persistence on a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs the
// schema migration. The parent directory is created if needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("create session db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// One writer; also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL DEFAULT '',
			model      TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS messages (
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq        INTEGER NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			display    TEXT NOT NULL DEFAULT '',
			reasoning  TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			PRIMARY KEY (session_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create inserts an empty session.
func (s *SQLiteStore) Create(ctx context.Context, id, model string) (domain.SessionInfo, error) {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, model, created_at, updated_at) VALUES (?, ?, ?, ?)",
		id, model, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return domain.SessionInfo{}, fmt.Errorf("%w: session %s", domain.ErrDuplicate, id)
		}
		return domain.SessionInfo{}, fmt.Errorf("create session: %w", err)
	}
	return domain.SessionInfo{ID: id, Model: model, CreatedAt: now, UpdatedAt: now}, nil
}

const sessionColumns = `s.id, s.title, s.model, s.created_at, s.updated_at,
	(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)`

// Get returns one session with its message count.
func (s *SQLiteStore) Get(ctx context.Context, id string) (domain.SessionInfo, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions s WHERE s.id = ?", id)
	info, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionInfo{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return info, err
}

// List returns sessions, most recently updated first. limit <= 0 means all.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]domain.SessionInfo, error) {
	q := "SELECT " + sessionColumns + " FROM sessions s ORDER BY s.updated_at DESC, s.id DESC"
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionInfo
	for rows.Next() {
		info, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// AppendMessage adds msg at the end of the session's history. The first user
// message becomes the session title.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg domain.ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var title string
	if err := tx.QueryRowContext(ctx, "SELECT title FROM sessions WHERE id = ?", sessionID).Scan(&title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
		}
		return fmt.Errorf("load session: %w", err)
	}

	at := msg.At
	if at.IsZero() {
		at = s.now()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, seq, role, content, display, reasoning, created_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?), ?, ?, ?, ?, ?)`,
		sessionID, sessionID, msg.Role, msg.Content, msg.DisplayContent, msg.Reasoning, at.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if title == "" && msg.Role == domain.RoleUser {
		title = makeTitle(msg.Text())
	}
	if _, err := tx.ExecContext(ctx, "UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?",
		title, s.now().UTC().UnixNano(), sessionID); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return tx.Commit()
}

// Messages returns a session's history in insertion order.
func (s *SQLiteStore) Messages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, role, content, display, reasoning, created_at FROM messages WHERE session_id = ? ORDER BY seq",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var out []domain.ChatMessage
	for rows.Next() {
		var (
			seq int
			m   domain.ChatMessage
			at  int64
		)
		if err := rows.Scan(&seq, &m.Role, &m.Content, &m.DisplayContent, &m.Reasoning, &at); err != nil {
			return nil, err
		}
		m.ID = fmt.Sprintf("%s-%d", sessionID, seq)
		m.At = time.Unix(0, at).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// Touch records the session's model and bumps its update time.
func (s *SQLiteStore) Touch(ctx context.Context, id, model string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET model = ?, updated_at = ? WHERE id = ?",
		model, s.now().UTC().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return nil
}

// PruneEmpty deletes sessions without messages that were last updated more
// than olderThan ago, except keep. It returns the number removed.
func (s *SQLiteStore) PruneEmpty(ctx context.Context, olderThan time.Duration, keep string) (int, error) {
	cutoff := s.now().Add(-olderThan).UTC().UnixNano()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE updated_at < ? AND id != ?
		  AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.session_id = sessions.id)`,
		cutoff, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (domain.SessionInfo, error) {
	var (
		info             domain.SessionInfo
		created, updated int64
	)
	if err := row.Scan(&info.ID, &info.Title, &info.Model, &created, &updated, &info.MessageCount); err != nil {
		return domain.SessionInfo{}, err
	}
	info.CreatedAt = time.Unix(0, created).UTC()
	info.UpdatedAt = time.Unix(0, updated).UTC()
	return info, nil
}

func makeTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > titleLimit {
		return string(r[:titleLimit]) + "..."
	}
	return text
}
