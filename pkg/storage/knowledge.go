package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Knowledge namespaces used by the rest of the system.
const (
	NamespaceSessionSummaries = "session_summaries"
	NamespaceFacts            = "facts"
)

// KnowledgeRecord is a long-term memory entry: a fact, preference, or
// session summary that knowledge searches can surface later.
type KnowledgeRecord struct {
	ID        int64     `json:"id"`
	Namespace string    `json:"namespace"`
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PutKnowledge stores a record, replacing any existing content under the
// same namespace and key.
func (s *Store) PutKnowledge(ctx context.Context, namespace, key, content string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge (namespace, key, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at`,
		namespace, key, content, now, now)
	if err != nil {
		return fmt.Errorf("upsert knowledge: %w", err)
	}
	return nil
}

// GetKnowledge loads a single record, or ErrNotFound.
func (s *Store) GetKnowledge(ctx context.Context, namespace, key string) (*KnowledgeRecord, error) {
	var rec KnowledgeRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, namespace, key, content, created_at, updated_at
		FROM knowledge WHERE namespace = ? AND key = ?`,
		namespace, key).
		Scan(&rec.ID, &rec.Namespace, &rec.Key, &rec.Content, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query knowledge: %w", err)
	}
	return &rec, nil
}

// SearchKnowledge matches records whose key or content contains the
// query, case-insensitive, most recently updated first. An empty result
// is not an error. limit <= 0 defaults to 10.
func (s *Store) SearchKnowledge(ctx context.Context, query string, limit int) ([]KnowledgeRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + query + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, key, content, created_at, updated_at
		FROM knowledge
		WHERE key LIKE ? COLLATE NOCASE OR content LIKE ? COLLATE NOCASE
		ORDER BY updated_at DESC LIMIT ?`,
		pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()

	var records []KnowledgeRecord
	for rows.Next() {
		var rec KnowledgeRecord
		if err := rows.Scan(&rec.ID, &rec.Namespace, &rec.Key, &rec.Content, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteKnowledge removes a record if it exists.
func (s *Store) DeleteKnowledge(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM knowledge WHERE namespace = ? AND key = ?", namespace, key)
	if err != nil {
		return fmt.Errorf("delete knowledge: %w", err)
	}
	return nil
}
