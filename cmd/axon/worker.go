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
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/axon/pkg/ingest"
)

// WorkerCmd starts the document ingestion worker.
type WorkerCmd struct {
	Concurrency int `help:"Concurrent ingestion jobs (overrides config)."`
}

func (c *WorkerCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, loader, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	if c.Concurrency > 0 {
		cfg.Ingest.Concurrency = c.Concurrency
	}

	manager, err := initObservability(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := manager.Shutdown(context.Background()); err != nil {
			slog.Warn("Observability shutdown failed", "error", err)
		}
	}()

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	worker, err := ingest.NewWorker(ingest.WorkerOptions{
		Queue:      st.queue,
		KBService:  st.kb,
		Blobs:      st.blobs,
		Vectors:    st.vectors,
		Collection: cfg.KnowledgeBase.Collection,
		Config:     cfg.Ingest,
		Metrics:    manager.GetMetrics(),
	})
	if err != nil {
		return fmt.Errorf("failed to create ingestion worker: %w", err)
	}

	// Run blocks until the context is cancelled and in-flight jobs drain.
	return worker.Run(ctx)
}
