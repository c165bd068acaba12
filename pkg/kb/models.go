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

import "time"

// Visibility controls who can read a knowledge base.
type Visibility string

const (
	// VisibilityPrivate restricts reads to the owner.
	VisibilityPrivate Visibility = "private"

	// VisibilityPublic lets any user read and retrieve.
	VisibilityPublic Visibility = "public"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	return v == VisibilityPrivate || v == VisibilityPublic
}

// DocumentStatus tracks a document through the ingestion pipeline.
type DocumentStatus string

const (
	// StatusProcessing marks a document queued or being indexed.
	StatusProcessing DocumentStatus = "processing"

	// StatusIndexed marks a document whose chunks are all stored.
	StatusIndexed DocumentStatus = "indexed"

	// StatusFailed marks a document whose last ingestion attempt gave up.
	StatusFailed DocumentStatus = "failed"
)

// Valid reports whether s is a known document status.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusIndexed, StatusFailed:
		return true
	}
	return false
}

// KnowledgeBase is a user-owned corpus of documents sharing one embedding
// model and one splitting configuration. The embedding model is fixed for
// the knowledge base's lifetime; changing it would orphan existing vectors.
type KnowledgeBase struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Visibility     Visibility `json:"visibility"`
	EmbeddingModel string     `json:"embedding_model"`
	ChunkSize      int        `json:"chunk_size"`
	ChunkOverlap   int        `json:"chunk_overlap"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Document is one uploaded file in a knowledge base. It starts in
// processing and ends indexed (chunk_count set) or failed (error_msg set).
type Document struct {
	ID         string         `json:"id"`
	KBID       string         `json:"kb_id"`
	Title      string         `json:"title"`
	FileKey    string         `json:"file_key"`
	FileType   string         `json:"file_type"`
	FileSize   int64          `json:"file_size"`
	Status     DocumentStatus `json:"status"`
	ErrorMsg   string         `json:"error_msg,omitempty"`
	ChunkCount int            `json:"chunk_count"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
