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
	"net/http"

	"github.com/kadirpekel/axon/pkg/usage"
)

// usageQuery builds the shared filter from query parameters. Usage is
// always scoped to the calling user.
func usageQuery(r *http.Request) (usage.Query, error) {
	q := usage.Query{
		UserID: userFrom(r.Context()),
		Model:  r.URL.Query().Get("model"),
	}
	var err error
	if q.Start, err = timeParam(r, "start"); err != nil {
		return usage.Query{}, err
	}
	if q.End, err = timeParam(r, "end"); err != nil {
		return usage.Query{}, err
	}
	return q, nil
}

func (s *Server) handleListUsage(w http.ResponseWriter, r *http.Request) {
	q, err := usageQuery(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if q.Skip, q.Limit, err = pagination(r); err != nil {
		badRequest(w, err.Error())
		return
	}
	items, total, err := s.usage.List(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []usage.Record{}
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Total: total})
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	groupBy := r.URL.Query().Get("group_by")
	if groupBy == "" {
		groupBy = "day"
	}
	if groupBy != "day" && groupBy != "model" {
		badRequest(w, "invalid group_by: must be day or model")
		return
	}
	q, err := usageQuery(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	rows, err := s.usage.Summary(r.Context(), q, groupBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []usage.SummaryRow{}
	}
	writeJSON(w, http.StatusOK, itemsResponse{Items: rows})
}
