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

// Package memory persists long-term user memories as namespaced key/value
// records. Agents read them into prompts and write new ones through the
// upsert_memory tool.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const createMemoriesTableSQL = `
CREATE TABLE IF NOT EXISTS memories (
    namespace VARCHAR(255) NOT NULL,
    key VARCHAR(255) NOT NULL,
    value_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (namespace, key)
);
`

// mysql reserves "key" as a keyword, so the column needs quoting there.
const createMemoriesTableMySQL = "\nCREATE TABLE IF NOT EXISTS memories (\n    namespace VARCHAR(255) NOT NULL,\n    `key` VARCHAR(255) NOT NULL,\n    value_json TEXT NOT NULL,\n    created_at TIMESTAMP NOT NULL,\n    updated_at TIMESTAMP NOT NULL,\n    PRIMARY KEY (namespace, `key`)\n);\n"

// Memory is one stored record. Value is arbitrary JSON; the QA agent
// stores {"content": ...} objects.
type Memory struct {
	Namespace string         `json:"namespace"`
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Content returns the "content" field of the value, for prompt rendering.
func (m Memory) Content() string {
	if c, ok := m.Value["content"].(string); ok {
		return c
	}
	return ""
}

// Namespace builds the per-user namespace memories are stored under.
func Namespace(userID string) string {
	return "memories/" + userID
}

// Store is the persistence interface agents and tools depend on.
type Store interface {
	Get(ctx context.Context, namespace, key string) (*Memory, error)
	Put(ctx context.Context, namespace, key string, value map[string]any) error
	Search(ctx context.Context, namespace string, limit int) ([]Memory, error)
	Delete(ctx context.Context, namespace, key string) error
}

// SQLStore stores memories in a relational database.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore creates the store and its schema.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := createMemoriesTableSQL
	if s.dialect == "mysql" {
		schema = createMemoriesTableMySQL
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create memories table: %w", err)
	}
	return nil
}

// Get returns the memory at (namespace, key), or nil when absent.
func (s *SQLStore) Get(ctx context.Context, namespace, key string) (*Memory, error) {
	if namespace == "" || key == "" {
		return nil, fmt.Errorf("namespace and key are required")
	}

	query := `SELECT namespace, key, value_json, created_at, updated_at FROM memories WHERE namespace = ? AND key = ?`
	switch s.dialect {
	case "postgres":
		query = `SELECT namespace, key, value_json, created_at, updated_at FROM memories WHERE namespace = $1 AND key = $2`
	case "mysql":
		query = "SELECT namespace, `key`, value_json, created_at, updated_at FROM memories WHERE namespace = ? AND `key` = ?"
	}

	m, err := scanMemory(s.db.QueryRowContext(ctx, query, namespace, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query memory: %w", err)
	}
	return m, nil
}

// Put inserts or overwrites the memory at (namespace, key). Last writer
// wins.
func (s *SQLStore) Put(ctx context.Context, namespace, key string, value map[string]any) error {
	if namespace == "" || key == "" {
		return fmt.Errorf("namespace and key are required")
	}

	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	now := time.Now()

	var query string
	switch s.dialect {
	case "postgres":
		query = `
INSERT INTO memories (namespace, key, value_json, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (namespace, key)
DO UPDATE SET value_json = EXCLUDED.value_json, updated_at = EXCLUDED.updated_at
`
	case "mysql":
		query = "INSERT INTO memories (namespace, `key`, value_json, created_at, updated_at)\n" +
			"VALUES (?, ?, ?, ?, ?)\n" +
			"ON DUPLICATE KEY UPDATE value_json = VALUES(value_json), updated_at = VALUES(updated_at)"
	default:
		query = `
INSERT INTO memories (namespace, key, value_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (namespace, key)
DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at
`
	}

	if _, err := s.db.ExecContext(ctx, query, namespace, key, string(valueJSON), now, now); err != nil {
		return fmt.Errorf("failed to upsert memory: %w", err)
	}
	return nil
}

// Search returns the namespace's memories, most recently updated first.
// A positive limit caps the result.
func (s *SQLStore) Search(ctx context.Context, namespace string, limit int) ([]Memory, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}

	query := `SELECT namespace, key, value_json, created_at, updated_at FROM memories WHERE namespace = ? ORDER BY updated_at DESC, key ASC`
	switch s.dialect {
	case "postgres":
		query = `SELECT namespace, key, value_json, created_at, updated_at FROM memories WHERE namespace = $1 ORDER BY updated_at DESC, key ASC`
	case "mysql":
		query = "SELECT namespace, `key`, value_json, created_at, updated_at FROM memories WHERE namespace = ? ORDER BY updated_at DESC, `key` ASC"
	}

	args := []any{namespace}
	if limit > 0 {
		switch s.dialect {
		case "postgres":
			query += ` LIMIT $2`
		default:
			query += ` LIMIT ?`
		}
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var memories []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memories: %w", err)
	}

	return memories, nil
}

// Delete removes the memory at (namespace, key). Missing rows are ignored.
func (s *SQLStore) Delete(ctx context.Context, namespace, key string) error {
	if namespace == "" || key == "" {
		return fmt.Errorf("namespace and key are required")
	}

	query := `DELETE FROM memories WHERE namespace = ? AND key = ?`
	switch s.dialect {
	case "postgres":
		query = `DELETE FROM memories WHERE namespace = $1 AND key = $2`
	case "mysql":
		query = "DELETE FROM memories WHERE namespace = ? AND `key` = ?"
	}

	if _, err := s.db.ExecContext(ctx, query, namespace, key); err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var m Memory
	var valueJSON string
	if err := row.Scan(&m.Namespace, &m.Key, &valueJSON, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(valueJSON), &m.Value); err != nil {
		return nil, fmt.Errorf("failed to unmarshal memory value: %w", err)
	}
	return &m, nil
}

var _ Store = (*SQLStore)(nil)
