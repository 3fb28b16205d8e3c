package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Session is a persisted conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StoredMessage is a persisted conversation turn.
type StoredMessage struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ModelUsed string    `json:"model_used,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, id, title string) (*Session, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)",
		id, title, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &Session{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// GetSession loads a session, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, created_at, updated_at FROM sessions WHERE id = ?", id).
		Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns sessions ordered by most recent activity.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, created_at, updated_at FROM sessions ORDER BY updated_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SetSessionTitle updates the session title.
func (s *Store) SetSessionTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?",
		title, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update session title: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session and its messages.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// AppendMessage records a conversation turn and bumps the session's
// updated_at. The session is created on first write.
func (s *Store) AppendMessage(ctx context.Context, msg *StoredMessage) error {
	now := time.Now().UTC()
	msg.CreatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, '', ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		msg.SessionID, now, now)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (session_id, role, content, model_used, created_at) VALUES (?, ?, ?, ?, ?)",
		msg.SessionID, msg.Role, msg.Content, msg.ModelUsed, now)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	msg.ID, _ = res.LastInsertId()
	return nil
}

// GetMessages returns the most recent limit messages for a session in
// chronological order. limit <= 0 returns everything.
func (s *Store) GetMessages(ctx context.Context, sessionID string, limit int) ([]StoredMessage, error) {
	query := `
		SELECT id, session_id, role, content, model_used, created_at
		FROM messages WHERE session_id = ? ORDER BY id`
	args := []any{sessionID}

	if limit > 0 {
		query = `
			SELECT id, session_id, role, content, model_used, created_at FROM (
				SELECT id, session_id, role, content, model_used, created_at
				FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?
			) ORDER BY id`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []StoredMessage
	for rows.Next() {
		var m StoredMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.ModelUsed, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ClearMessages drops all messages for a session, keeping the session row.
func (s *Store) ClearMessages(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}
