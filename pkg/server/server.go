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

// Package server exposes the conversational backend over HTTP: blocking
// and streamed chat, knowledge base management with document upload,
// and LLM usage reporting. Routes are assembled on a chi router behind
// request ID, logging, recovery, metrics and CORS middleware. Callers
// identify themselves with the X-User-ID header; knowledge base and
// usage routes reject requests without one.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/axon/pkg/chat"
	"github.com/kadirpekel/axon/pkg/config"
	"github.com/kadirpekel/axon/pkg/kb"
	"github.com/kadirpekel/axon/pkg/observability"
	"github.com/kadirpekel/axon/pkg/usage"
)

// Options carries the services the HTTP API is built on.
type Options struct {
	Chat  *chat.Service
	KB    *kb.Service
	Usage *usage.Recorder

	// Metrics exposes the Prometheus registry at /metrics.
	Metrics bool
}

// Server is the HTTP API server.
type Server struct {
	cfg    *config.ServerConfig
	chat   *chat.Service
	kb     *kb.Service
	usage  *usage.Recorder
	router chi.Router
	srv    *http.Server
}

// New validates the configuration and assembles the router.
func New(cfg *config.ServerConfig, opts Options) (*Server, error) {
	if cfg == nil {
		cfg = &config.ServerConfig{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	if opts.Chat == nil {
		return nil, errors.New("chat service is required")
	}
	if opts.KB == nil {
		return nil, errors.New("kb service is required")
	}
	if opts.Usage == nil {
		return nil, errors.New("usage recorder is required")
	}

	s := &Server{
		cfg:   cfg,
		chat:  opts.Chat,
		kb:    opts.KB,
		usage: opts.Usage,
	}
	s.router = s.routes(opts.Metrics)
	return s, nil
}

func (s *Server) routes(metrics bool) chi.Router {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	r.Use(recoverMiddleware)
	r.Use(metricsMiddleware)
	r.Use(corsMiddleware(s.cfg.CORS))
	r.Use(extractUser)

	r.Get("/healthz", s.handleHealth)
	if metrics {
		r.Handle("/metrics", observability.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/agent", func(api chi.Router) {
			api.Post("/chat", s.handleChat)
			api.Post("/chat/stream", s.handleChatStream)
		})

		api.Route("/kb", func(api chi.Router) {
			api.Use(requireUser)
			api.Post("/", s.handleCreateKB)
			api.Get("/", s.handleListKBs)

			// The static "documents" segment wins over {kbID}, so
			// document routes keyed by docID alone live here.
			api.Delete("/documents/{docID}", s.handleDeleteDocument)
			api.Post("/documents/{docID}/retry", s.handleRetryDocument)

			api.Route("/{kbID}", func(api chi.Router) {
				api.Get("/", s.handleGetKB)
				api.Put("/", s.handleUpdateKB)
				api.Delete("/", s.handleDeleteKB)
				api.Post("/documents", s.handleUploadDocument)
				api.Get("/documents", s.handleListDocuments)
				api.Post("/search_test", s.handleSearchTest)
			})
		})

		api.Route("/usage", func(api chi.Router) {
			api.Use(requireUser)
			api.Get("/", s.handleListUsage)
			api.Get("/summary", s.handleUsageSummary)
		})
	})

	return r
}

// Handler returns the assembled router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP on the configured address and blocks until
// Shutdown is called or the listener fails. No write timeout is set;
// chat streams stay open as long as the model produces output.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              s.cfg.Address(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("http server listening", "addr", s.cfg.Address())
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
