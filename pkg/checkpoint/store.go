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

// Package checkpoint persists graph state snapshots per conversation
// thread. Every save appends a new version, so a thread's history can be
// replayed and the latest snapshot resumed.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const createCheckpointsTableSQL = `
CREATE TABLE IF NOT EXISTS checkpoints (
    thread_id VARCHAR(255) NOT NULL,
    version BIGINT NOT NULL,
    state_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (thread_id, version)
);
`

// Checkpoint is one stored snapshot. State is opaque JSON owned by the
// graph engine.
type Checkpoint struct {
	ThreadID  string          `json:"thread_id"`
	Version   int64           `json:"version"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
}

// SQLStore stores checkpoints in a relational database.
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

	if _, err := s.db.ExecContext(ctx, createCheckpointsTableSQL); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	return nil
}

// Put appends a snapshot for the thread and returns its assigned version.
// Versions are allocated as max+1 inside a transaction.
func (s *SQLStore) Put(ctx context.Context, threadID string, state json.RawMessage) (int64, error) {
	if threadID == "" {
		return 0, fmt.Errorf("threadID cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	versionQuery := `SELECT COALESCE(MAX(version), 0) + 1 FROM checkpoints WHERE thread_id = ?`
	if s.dialect == "postgres" {
		versionQuery = `SELECT COALESCE(MAX(version), 0) + 1 FROM checkpoints WHERE thread_id = $1`
	}

	var version int64
	if err = tx.QueryRowContext(ctx, versionQuery, threadID).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to allocate version: %w", err)
	}

	insertQuery := `INSERT INTO checkpoints (thread_id, version, state_json, created_at) VALUES (?, ?, ?, ?)`
	if s.dialect == "postgres" {
		insertQuery = `INSERT INTO checkpoints (thread_id, version, state_json, created_at) VALUES ($1, $2, $3, $4)`
	}

	if _, err = tx.ExecContext(ctx, insertQuery, threadID, version, string(state), time.Now()); err != nil {
		return 0, fmt.Errorf("failed to insert checkpoint: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return version, nil
}

// GetLatest returns the highest-versioned snapshot for the thread, or nil
// when the thread has none.
func (s *SQLStore) GetLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	if threadID == "" {
		return nil, fmt.Errorf("threadID cannot be empty")
	}

	query := `
SELECT thread_id, version, state_json, created_at
FROM checkpoints
WHERE thread_id = ?
ORDER BY version DESC
LIMIT 1
`
	if s.dialect == "postgres" {
		query = `
SELECT thread_id, version, state_json, created_at
FROM checkpoints
WHERE thread_id = $1
ORDER BY version DESC
LIMIT 1
`
	}

	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, threadID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest checkpoint: %w", err)
	}
	return cp, nil
}

// List returns every snapshot for the thread in ascending version order.
func (s *SQLStore) List(ctx context.Context, threadID string) ([]Checkpoint, error) {
	if threadID == "" {
		return nil, fmt.Errorf("threadID cannot be empty")
	}

	query := `
SELECT thread_id, version, state_json, created_at
FROM checkpoints
WHERE thread_id = ?
ORDER BY version ASC
`
	if s.dialect == "postgres" {
		query = `
SELECT thread_id, version, state_json, created_at
FROM checkpoints
WHERE thread_id = $1
ORDER BY version ASC
`
	}

	rows, err := s.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, *cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}

	return checkpoints, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var cp Checkpoint
	var stateJSON string
	if err := row.Scan(&cp.ThreadID, &cp.Version, &stateJSON, &cp.CreatedAt); err != nil {
		return nil, err
	}
	cp.State = json.RawMessage(stateJSON)
	return &cp, nil
}
