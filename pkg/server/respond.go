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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kadirpekel/axon/pkg/kb"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// listResponse is the shared shape of paged collection responses.
type listResponse struct {
	Items any `json:"items"`
	Total int `json:"total"`
}

type itemsResponse struct {
	Items any `json:"items"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError maps service errors onto HTTP statuses: validation 400,
// not found 404, permission denied 403. Everything else is a 500 whose
// detail stays in the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, kb.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "validation", Message: err.Error()})
	case errors.Is(err, kb.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Code: "not_found", Message: err.Error()})
	case errors.Is(err, kb.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, errorBody{Code: "permission_denied", Message: err.Error()})
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: "internal", Message: "internal server error"})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Code: "validation", Message: msg})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// pagination reads the skip and limit query parameters, clamping them
// to sane bounds.
func pagination(r *http.Request) (skip, limit int, err error) {
	if skip, err = intParam(r, "skip", 0); err != nil {
		return 0, 0, err
	}
	if limit, err = intParam(r, "limit", defaultPageLimit); err != nil {
		return 0, 0, err
	}
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return skip, limit, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: must be an integer", name)
	}
	return n, nil
}

// timeParam parses an RFC 3339 timestamp query parameter. A missing
// parameter yields the zero time, which downstream filters ignore.
func timeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: must be an RFC 3339 timestamp", name)
	}
	return t, nil
}
