// Copyright 2026 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	createKnowledgeBasesTableSQL = `
CREATE TABLE IF NOT EXISTS knowledge_bases (
    id VARCHAR(36) PRIMARY KEY,
    user_id VARCHAR(36) NOT NULL,
    name VARCHAR(100) NOT NULL,
    description TEXT,
    visibility VARCHAR(20) NOT NULL,
    embedding_model VARCHAR(100) NOT NULL,
    chunk_size INTEGER NOT NULL,
    chunk_overlap INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

	createDocumentsTableSQL = `
CREATE TABLE IF NOT EXISTS kb_documents (
    id VARCHAR(36) PRIMARY KEY,
    kb_id VARCHAR(36) NOT NULL,
    title VARCHAR(255) NOT NULL,
    file_key VARCHAR(500) NOT NULL,
    file_type VARCHAR(50) NOT NULL,
    file_size BIGINT NOT NULL,
    status VARCHAR(20) NOT NULL,
    error_msg TEXT,
    chunk_count INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`
)

// Store persists knowledge bases and documents in a relational database.
type Store struct {
	db      *sql.DB
	dialect string
}

// NewStore creates the store and its tables if they do not exist.
func NewStore(db *sql.DB, dialect string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite":

	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &Store{db: db, dialect: dialect}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createKnowledgeBasesTableSQL); err != nil {
		return fmt.Errorf("failed to create knowledge_bases table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, createDocumentsTableSQL); err != nil {
		return fmt.Errorf("failed to create kb_documents table: %w", err)
	}

	return nil
}

// placeholder returns the bind marker for the n-th argument (1-based).
func (s *Store) placeholder(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// CreateKB inserts a knowledge base, stamping both timestamps.
func (s *Store) CreateKB(ctx context.Context, kb *KnowledgeBase) error {
	query := `
INSERT INTO knowledge_bases (id, user_id, name, description, visibility, embedding_model, chunk_size, chunk_overlap, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	if s.dialect == "postgres" {
		query = `
INSERT INTO knowledge_bases (id, user_id, name, description, visibility, embedding_model, chunk_size, chunk_overlap, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
	}

	now := time.Now()
	kb.CreatedAt = now
	kb.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		kb.ID, kb.UserID, kb.Name, kb.Description, string(kb.Visibility),
		kb.EmbeddingModel, kb.ChunkSize, kb.ChunkOverlap, kb.CreatedAt, kb.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert knowledge base: %w", err)
	}

	return nil
}

// GetKB returns a knowledge base by ID, or nil when it does not exist.
func (s *Store) GetKB(ctx context.Context, id string) (*KnowledgeBase, error) {
	query := `
SELECT id, user_id, name, description, visibility, embedding_model, chunk_size, chunk_overlap, created_at, updated_at
FROM knowledge_bases WHERE id = ?
`
	if s.dialect == "postgres" {
		query = `
SELECT id, user_id, name, description, visibility, embedding_model, chunk_size, chunk_overlap, created_at, updated_at
FROM knowledge_bases WHERE id = $1
`
	}

	kb, err := scanKB(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge base: %w", err)
	}

	return kb, nil
}

// ListKBs returns one page of a user's knowledge bases, newest first, and
// the total count.
func (s *Store) ListKBs(ctx context.Context, userID string, skip, limit int) ([]*KnowledgeBase, int, error) {
	countQuery := `SELECT COUNT(*) FROM knowledge_bases WHERE user_id = ?`
	if s.dialect == "postgres" {
		countQuery = `SELECT COUNT(*) FROM knowledge_bases WHERE user_id = $1`
	}

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count knowledge bases: %w", err)
	}

	query := `
SELECT id, user_id, name, description, visibility, embedding_model, chunk_size, chunk_overlap, created_at, updated_at
FROM knowledge_bases WHERE user_id = ?
ORDER BY created_at DESC, id ASC
LIMIT ? OFFSET ?
`
	if s.dialect == "postgres" {
		query = `
SELECT id, user_id, name, description, visibility, embedding_model, chunk_size, chunk_overlap, created_at, updated_at
FROM knowledge_bases WHERE user_id = $1
ORDER BY created_at DESC, id ASC
LIMIT $2 OFFSET $3
`
	}

	rows, err := s.db.QueryContext(ctx, query, userID, limit, skip)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list knowledge bases: %w", err)
	}
	defer rows.Close()

	var kbs []*KnowledgeBase
	for rows.Next() {
		kb, err := scanKB(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan knowledge base: %w", err)
		}
		kbs = append(kbs, kb)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate knowledge bases: %w", err)
	}

	return kbs, total, nil
}

// UpdateKB saves the mutable columns (name, description, visibility) and
// refreshes updated_at.
func (s *Store) UpdateKB(ctx context.Context, kb *KnowledgeBase) error {
	query := `UPDATE knowledge_bases SET name = ?, description = ?, visibility = ?, updated_at = ? WHERE id = ?`
	if s.dialect == "postgres" {
		query = `UPDATE knowledge_bases SET name = $1, description = $2, visibility = $3, updated_at = $4 WHERE id = $5`
	}

	kb.UpdatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, query, kb.Name, kb.Description, string(kb.Visibility), kb.UpdatedAt, kb.ID)
	if err != nil {
		return fmt.Errorf("failed to update knowledge base: %w", err)
	}

	return nil
}

// DeleteKB removes the knowledge base row. Documents and vectors are the
// service's responsibility and must go first.
func (s *Store) DeleteKB(ctx context.Context, id string) error {
	query := `DELETE FROM knowledge_bases WHERE id = ?`
	if s.dialect == "postgres" {
		query = `DELETE FROM knowledge_bases WHERE id = $1`
	}

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete knowledge base: %w", err)
	}

	return nil
}

// AccessibleKBIDs returns the IDs a user may retrieve from: every knowledge
// base they own plus every public one. The row set is a union, so IDs come
// back deduplicated.
func (s *Store) AccessibleKBIDs(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT id FROM knowledge_bases WHERE user_id = ? OR visibility = ? ORDER BY created_at DESC, id ASC`
	if s.dialect == "postgres" {
		query = `SELECT id FROM knowledge_bases WHERE user_id = $1 OR visibility = $2 ORDER BY created_at DESC, id ASC`
	}

	rows, err := s.db.QueryContext(ctx, query, userID, string(VisibilityPublic))
	if err != nil {
		return nil, fmt.Errorf("failed to query accessible knowledge bases: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge base id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate knowledge base ids: %w", err)
	}

	return ids, nil
}

// KBScope pairs a retrievable knowledge base with the embedding model
// that indexed it.
type KBScope struct {
	ID             string
	EmbeddingModel string
}

// AccessibleKBScopes returns the retrieval scope for a user (owned plus
// public knowledge bases) together with each one's embedding model, so
// the caller can search every base through the embedder that indexed it.
func (s *Store) AccessibleKBScopes(ctx context.Context, userID string) ([]KBScope, error) {
	query := `SELECT id, embedding_model FROM knowledge_bases WHERE user_id = ? OR visibility = ? ORDER BY created_at DESC, id ASC`
	if s.dialect == "postgres" {
		query = `SELECT id, embedding_model FROM knowledge_bases WHERE user_id = $1 OR visibility = $2 ORDER BY created_at DESC, id ASC`
	}

	rows, err := s.db.QueryContext(ctx, query, userID, string(VisibilityPublic))
	if err != nil {
		return nil, fmt.Errorf("failed to query accessible knowledge bases: %w", err)
	}
	defer rows.Close()

	var scopes []KBScope
	for rows.Next() {
		var scope KBScope
		if err := rows.Scan(&scope.ID, &scope.EmbeddingModel); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge base scope: %w", err)
		}
		scopes = append(scopes, scope)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate knowledge base scopes: %w", err)
	}

	return scopes, nil
}

// CreateDocument inserts a document row, stamping both timestamps.
func (s *Store) CreateDocument(ctx context.Context, doc *Document) error {
	query := `
INSERT INTO kb_documents (id, kb_id, title, file_key, file_type, file_size, status, error_msg, chunk_count, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	if s.dialect == "postgres" {
		query = `
INSERT INTO kb_documents (id, kb_id, title, file_key, file_type, file_size, status, error_msg, chunk_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`
	}

	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		doc.ID, doc.KBID, doc.Title, doc.FileKey, doc.FileType, doc.FileSize,
		string(doc.Status), doc.ErrorMsg, doc.ChunkCount, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	return nil
}

// GetDocument returns a document by ID, or nil when it does not exist.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	query := `
SELECT id, kb_id, title, file_key, file_type, file_size, status, error_msg, chunk_count, created_at, updated_at
FROM kb_documents WHERE id = ?
`
	if s.dialect == "postgres" {
		query = `
SELECT id, kb_id, title, file_key, file_type, file_size, status, error_msg, chunk_count, created_at, updated_at
FROM kb_documents WHERE id = $1
`
	}

	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}

	return doc, nil
}

// ListDocuments returns one page of a knowledge base's documents, newest
// first, and the total count. An empty status lists all documents.
func (s *Store) ListDocuments(ctx context.Context, kbID string, status DocumentStatus, skip, limit int) ([]*Document, int, error) {
	where := "WHERE kb_id = " + s.placeholder(1)
	args := []any{kbID}
	if status != "" {
		where += " AND status = " + s.placeholder(2)
		args = append(args, string(status))
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM kb_documents " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	query := fmt.Sprintf(`
SELECT id, kb_id, title, file_key, file_type, file_size, status, error_msg, chunk_count, created_at, updated_at
FROM kb_documents %s
ORDER BY created_at DESC, id ASC
LIMIT %s OFFSET %s
`, where, s.placeholder(len(args)+1), s.placeholder(len(args)+2))
	args = append(args, limit, skip)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return docs, total, nil
}

// UpdateDocumentStatus sets a document's status and refreshes updated_at.
// error_msg and chunk_count change only when non-nil, so a status flip
// never clobbers an earlier error message or count.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status DocumentStatus, errorMsg *string, chunkCount *int) error {
	cols := []string{"status", "updated_at"}
	args := []any{string(status), time.Now()}

	if errorMsg != nil {
		cols = append(cols, "error_msg")
		args = append(args, *errorMsg)
	}
	if chunkCount != nil {
		cols = append(cols, "chunk_count")
		args = append(args, *chunkCount)
	}

	var b strings.Builder
	b.WriteString("UPDATE kb_documents SET ")
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(col)
		b.WriteString(" = ")
		b.WriteString(s.placeholder(i + 1))
	}
	b.WriteString(" WHERE id = ")
	b.WriteString(s.placeholder(len(cols) + 1))
	args = append(args, id)

	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}

	return nil
}

// DeleteDocument removes a single document row.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	query := `DELETE FROM kb_documents WHERE id = ?`
	if s.dialect == "postgres" {
		query = `DELETE FROM kb_documents WHERE id = $1`
	}

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	return nil
}

// DeleteKBDocuments removes every document row of a knowledge base.
func (s *Store) DeleteKBDocuments(ctx context.Context, kbID string) error {
	query := `DELETE FROM kb_documents WHERE kb_id = ?`
	if s.dialect == "postgres" {
		query = `DELETE FROM kb_documents WHERE kb_id = $1`
	}

	if _, err := s.db.ExecContext(ctx, query, kbID); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKB(row rowScanner) (*KnowledgeBase, error) {
	var (
		kb          KnowledgeBase
		description sql.NullString
		visibility  string
	)
	err := row.Scan(&kb.ID, &kb.UserID, &kb.Name, &description, &visibility,
		&kb.EmbeddingModel, &kb.ChunkSize, &kb.ChunkOverlap, &kb.CreatedAt, &kb.UpdatedAt)
	if err != nil {
		return nil, err
	}
	kb.Description = description.String
	kb.Visibility = Visibility(visibility)
	return &kb, nil
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc      Document
		errorMsg sql.NullString
		status   string
	)
	err := row.Scan(&doc.ID, &doc.KBID, &doc.Title, &doc.FileKey, &doc.FileType,
		&doc.FileSize, &status, &errorMsg, &doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.ErrorMsg = errorMsg.String
	doc.Status = DocumentStatus(status)
	return &doc, nil
}
