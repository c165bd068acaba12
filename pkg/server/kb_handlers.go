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

package server

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/axon/pkg/databases"
	"github.com/kadirpekel/axon/pkg/kb"
)

// maxUploadBytes bounds how much of an uploaded file is read into
// memory before the KB service sees it.
const maxUploadBytes = 32 << 20

func (s *Server) handleCreateKB(w http.ResponseWriter, r *http.Request) {
	var p kb.CreateKBParams
	if err := decodeJSON(r, &p); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	created, err := s.kb.CreateKB(r.Context(), userFrom(r.Context()), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListKBs(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := pagination(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	items, total, err := s.kb.ListKBs(r.Context(), userFrom(r.Context()), skip, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []*kb.KnowledgeBase{}
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Total: total})
}

func (s *Server) handleGetKB(w http.ResponseWriter, r *http.Request) {
	got, err := s.kb.GetKBWithPermission(r.Context(), chi.URLParam(r, "kbID"), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (s *Server) handleUpdateKB(w http.ResponseWriter, r *http.Request) {
	var p kb.UpdateKBParams
	if err := decodeJSON(r, &p); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	updated, err := s.kb.UpdateKB(r.Context(), chi.URLParam(r, "kbID"), userFrom(r.Context()), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteKB(w http.ResponseWriter, r *http.Request) {
	if err := s.kb.DeleteKB(r.Context(), chi.URLParam(r, "kbID"), userFrom(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUploadDocument accepts a multipart form with the file under
// "file" and an optional "title" field. The document comes back in
// processing state; ingestion happens on the worker.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		badRequest(w, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file field is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(content) > maxUploadBytes {
		badRequest(w, "file too large")
		return
	}

	doc, err := s.kb.Upload(r.Context(), chi.URLParam(r, "kbID"), userFrom(r.Context()),
		header.Filename, r.FormValue("title"), content, header.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := pagination(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	status := kb.DocumentStatus(r.URL.Query().Get("status"))
	items, total, err := s.kb.ListDocuments(r.Context(), chi.URLParam(r, "kbID"), userFrom(r.Context()), status, skip, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []*kb.Document{}
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Total: total})
}

// searchTestRequest probes retrieval against one knowledge base.
type searchTestRequest struct {
	Query          string   `json:"query"`
	TopK           int      `json:"top_k"`
	ScoreThreshold *float32 `json:"score_threshold"`
}

func (s *Server) handleSearchTest(w http.ResponseWriter, r *http.Request) {
	var req searchTestRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	chunks, err := s.kb.SearchTest(r.Context(), chi.URLParam(r, "kbID"), userFrom(r.Context()),
		req.Query, req.TopK, req.ScoreThreshold)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if chunks == nil {
		chunks = []databases.ScoredChunk{}
	}
	writeJSON(w, http.StatusOK, itemsResponse{Items: chunks})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.kb.DeleteDocument(r.Context(), chi.URLParam(r, "docID"), userFrom(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetryDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.kb.RetryDocument(r.Context(), chi.URLParam(r, "docID"), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
