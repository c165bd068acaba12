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

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/kadirpekel/axon/pkg/blob"
	"github.com/kadirpekel/axon/pkg/config"
	"github.com/kadirpekel/axon/pkg/databases"
	"github.com/kadirpekel/axon/pkg/embedders"
	"github.com/kadirpekel/axon/pkg/ingest"
	"github.com/kadirpekel/axon/pkg/kb"
	"github.com/kadirpekel/axon/pkg/observability"
	"github.com/kadirpekel/axon/pkg/tools"
)

// loadConfig loads the given config file, or falls back to built-in
// defaults when no path is set. The returned loader is nil in defaults
// mode; callers close it otherwise.
func loadConfig(ctx context.Context, path string) (*config.Config, *config.Loader, error) {
	if path == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("invalid default configuration: %w", err)
		}
		slog.Info("No config file given, using built-in defaults")
		return cfg, nil, nil
	}

	cfg, loader, err := config.LoadConfigFile(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("Loaded configuration", "path", path)
	return cfg, loader, nil
}

// initObservability installs tracing and metrics per config. Disabled
// sections yield no-op providers, so the manager is always usable.
func initObservability(ctx context.Context, cfg *config.Config) (*observability.Manager, error) {
	obsCfg := observability.Config{}
	if cfg.Observability != nil {
		obsCfg = *cfg.Observability
	}
	manager := observability.NewManager(obsCfg)
	if err := manager.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}
	return manager, nil
}

// stack holds the storage and knowledge base wiring shared by the
// serve and worker commands.
type stack struct {
	db      *sql.DB
	redis   *redis.Client
	queue   *ingest.Queue
	blobs   *blob.S3Store
	vectors *databases.StoreCache
	kb      *kb.Service
}

// buildStack opens the SQL database, blob store, ingestion queue, and
// vector store, then wires the knowledge base service over them.
func buildStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	db, err := databases.OpenSQL(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	kbStore, err := kb.NewStore(db, cfg.Database.Driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare knowledge base store: %w", err)
	}

	blobs, err := blob.NewS3Store(ctx, &cfg.Blob)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure blob bucket: %w", err)
	}

	redisClient := ingest.NewClient(cfg.Redis)
	queue, err := ingest.NewQueue(redisClient, cfg.Redis.KeyPrefix)
	if err != nil {
		redisClient.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create ingestion queue: %w", err)
	}

	backend, err := databases.NewBackend(&cfg.VectorStore)
	if err != nil {
		redisClient.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	registry := embedders.NewRegistry(cfg)
	vectors := databases.NewStoreCache(backend, registry)

	kbSvc := kb.NewService(kbStore, blobs, vectors, queue, cfg.KnowledgeBase)

	return &stack{
		db:      db,
		redis:   redisClient,
		queue:   queue,
		blobs:   blobs,
		vectors: vectors,
		kb:      kbSvc,
	}, nil
}

// Close releases the database and queue connections.
func (s *stack) Close() {
	if err := s.redis.Close(); err != nil {
		slog.Warn("Failed to close redis client", "error", err)
	}
	if err := s.db.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
}

// mcpTools connects the configured MCP servers and collects their
// tools. A server that does not answer is skipped with a warning so
// one dead tool source cannot block startup. The returned func closes
// the connected sources.
func mcpTools(ctx context.Context, cfg config.ToolsConfig) ([]tools.Tool, func(), error) {
	var extra []tools.Tool
	var sources []*tools.MCPSource

	closeAll := func() {
		for _, src := range sources {
			if err := src.Close(); err != nil {
				slog.Warn("Failed to close MCP source", "error", err)
			}
		}
	}

	for name, server := range cfg.MCPServers {
		src, err := tools.NewMCPSource(server.URL, server.Filter...)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("mcp server %q: %w", name, err)
		}
		serverTools, err := src.Tools(ctx)
		if err != nil {
			slog.Warn("Skipping unreachable MCP server", "name", name, "url", server.URL, "error", err)
			_ = src.Close()
			continue
		}
		sources = append(sources, src)
		extra = append(extra, serverTools...)
		slog.Info("Connected MCP tool source", "name", name, "tools", len(serverTools))
	}

	return extra, closeAll, nil
}
