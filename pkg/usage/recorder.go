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

package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const createUsageTableSQL = `
CREATE TABLE IF NOT EXISTS llm_usage (
    id VARCHAR(36) PRIMARY KEY,
    user_id VARCHAR(36) NOT NULL,
    model_name VARCHAR(255) NOT NULL,
    prompt_tokens INTEGER,
    completion_tokens INTEGER,
    total_tokens INTEGER,
    request_id VARCHAR(255),
    trace_id VARCHAR(255),
    meta TEXT,
    created_at TIMESTAMP NOT NULL
);
`

const defaultListLimit = 100

// Query filters List and Summary. Zero values mean "no filter".
type Query struct {
	UserID string
	Start  time.Time
	End    time.Time
	Model  string
	Skip   int
	Limit  int
}

// SummaryRow is one aggregated group: a calendar day or a model name.
type SummaryRow struct {
	Group            string `json:"group"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
	Requests         int64  `json:"requests"`
}

// Recorder persists usage rows in a relational database.
type Recorder struct {
	db      *sql.DB
	dialect string
}

// NewRecorder creates the recorder and its schema.
func NewRecorder(db *sql.DB, dialect string) (*Recorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	r := &Recorder{db: db, dialect: dialect}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return r, nil
}

func (r *Recorder) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, createUsageTableSQL); err != nil {
		return fmt.Errorf("failed to create llm_usage table: %w", err)
	}
	return nil
}

// Record persists one usage row. A missing id is generated; request_id
// falls back to meta request_id or id. A malformed user id is logged and
// skipped rather than failing the chat turn that produced it.
func (r *Recorder) Record(ctx context.Context, rec Record) error {
	if _, err := uuid.Parse(rec.UserID); err != nil {
		slog.Warn("skipping usage record with invalid user id",
			"user_id", rec.UserID, "model", rec.ModelName)
		return nil
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.RequestID == "" && rec.Meta != nil {
		if id, ok := rec.Meta["request_id"].(string); ok {
			rec.RequestID = id
		} else if id, ok := rec.Meta["id"].(string); ok {
			rec.RequestID = id
		}
	}

	metaJSON := "{}"
	if rec.Meta != nil {
		raw, err := json.Marshal(rec.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal meta: %w", err)
		}
		metaJSON = string(raw)
	}

	query := `
INSERT INTO llm_usage (id, user_id, model_name, prompt_tokens, completion_tokens, total_tokens, request_id, trace_id, meta, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	if r.dialect == "postgres" {
		query = `
INSERT INTO llm_usage (id, user_id, model_name, prompt_tokens, completion_tokens, total_tokens, request_id, trace_id, meta, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
	}

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.ModelName,
		nullableInt(rec.PromptTokens), nullableInt(rec.CompletionTokens), nullableInt(rec.TotalTokens),
		rec.RequestID, rec.TraceID, metaJSON, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// List returns matching rows newest-first plus the unpaginated total.
func (r *Recorder) List(ctx context.Context, q Query) ([]Record, int, error) {
	where, args := r.buildWhere(q)

	var total int
	countQuery := `SELECT COUNT(*) FROM llm_usage` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count usage records: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT id, user_id, model_name, prompt_tokens, completion_tokens, total_tokens, request_id, trace_id, meta, created_at FROM llm_usage` +
		where + ` ORDER BY created_at DESC, id ASC`

	listArgs := append(append([]any{}, args...), limit, q.Skip)
	if r.dialect == "postgres" {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	} else {
		query += ` LIMIT ? OFFSET ?`
	}

	rows, err := r.db.QueryContext(ctx, query, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var prompt, completion, totalTokens sql.NullInt64
		var requestID, traceID, metaJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ModelName,
			&prompt, &completion, &totalTokens,
			&requestID, &traceID, &metaJSON, &rec.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan usage record: %w", err)
		}
		rec.PromptTokens = fromNullable(prompt)
		rec.CompletionTokens = fromNullable(completion)
		rec.TotalTokens = fromNullable(totalTokens)
		rec.RequestID = requestID.String
		rec.TraceID = traceID.String
		if metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &rec.Meta); err != nil {
				return nil, 0, fmt.Errorf("failed to unmarshal meta: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating usage records: %w", err)
	}

	return records, total, nil
}

// Summary aggregates token sums grouped by "day" or "model".
func (r *Recorder) Summary(ctx context.Context, q Query, groupBy string) ([]SummaryRow, error) {
	var groupExpr string
	switch groupBy {
	case "model":
		groupExpr = "model_name"
	case "day":
		switch r.dialect {
		case "postgres":
			groupExpr = "TO_CHAR(created_at, 'YYYY-MM-DD')"
		case "mysql":
			groupExpr = "DATE_FORMAT(created_at, '%Y-%m-%d')"
		default:
			groupExpr = "DATE(created_at)"
		}
	default:
		return nil, fmt.Errorf("invalid group_by %q (valid: day, model)", groupBy)
	}

	where, args := r.buildWhere(q)

	query := fmt.Sprintf(`
SELECT %s AS grp,
       COALESCE(SUM(prompt_tokens), 0),
       COALESCE(SUM(completion_tokens), 0),
       COALESCE(SUM(total_tokens), 0),
       COUNT(*)
FROM llm_usage%s
GROUP BY grp
ORDER BY grp ASC
`, groupExpr, where)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summary: %w", err)
	}
	defer rows.Close()

	var summary []SummaryRow
	for rows.Next() {
		var row SummaryRow
		if err := rows.Scan(&row.Group, &row.PromptTokens, &row.CompletionTokens, &row.TotalTokens, &row.Requests); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summary = append(summary, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summary rows: %w", err)
	}

	return summary, nil
}

func (r *Recorder) buildWhere(q Query) (string, []any) {
	var conditions []string
	var args []any

	add := func(expr string, value any) {
		args = append(args, value)
		if r.dialect == "postgres" {
			conditions = append(conditions, fmt.Sprintf("%s $%d", expr, len(args)))
		} else {
			conditions = append(conditions, expr+" ?")
		}
	}

	if q.UserID != "" {
		add("user_id =", q.UserID)
	}
	if !q.Start.IsZero() {
		add("created_at >=", q.Start)
	}
	if !q.End.IsZero() {
		add("created_at <=", q.End)
	}
	if q.Model != "" {
		add("model_name =", q.Model)
	}

	if len(conditions) == 0 {
		return "", nil
	}

	where := " WHERE " + conditions[0]
	for _, c := range conditions[1:] {
		where += " AND " + c
	}
	return where, args
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNullable(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
