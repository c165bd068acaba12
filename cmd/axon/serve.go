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
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/axon/pkg/agent"
	"github.com/kadirpekel/axon/pkg/chat"
	"github.com/kadirpekel/axon/pkg/checkpoint"
	"github.com/kadirpekel/axon/pkg/config"
	"github.com/kadirpekel/axon/pkg/llms"
	"github.com/kadirpekel/axon/pkg/memory"
	"github.com/kadirpekel/axon/pkg/server"
	"github.com/kadirpekel/axon/pkg/usage"
)

const shutdownTimeout = 15 * time.Second

// ServeCmd starts the HTTP API server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
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

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
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

	checkpoints, err := checkpoint.NewSQLStore(st.db, cfg.Database.Driver)
	if err != nil {
		return fmt.Errorf("failed to prepare checkpoint store: %w", err)
	}
	memories, err := memory.NewSQLStore(st.db, cfg.Database.Driver)
	if err != nil {
		return fmt.Errorf("failed to prepare memory store: %w", err)
	}
	recorder, err := usage.NewRecorder(st.db, cfg.Database.Driver)
	if err != nil {
		return fmt.Errorf("failed to prepare usage recorder: %w", err)
	}

	llm, err := llms.New(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create llm client: %w", err)
	}
	routerLLM, err := llms.New(*cfg.RouterLLM)
	if err != nil {
		return fmt.Errorf("failed to create router llm client: %w", err)
	}

	extraTools, closeTools, err := mcpTools(ctx, cfg.Tools)
	if err != nil {
		return err
	}
	defer closeTools()

	agents, err := agent.New(agent.Options{
		LLM:          llm,
		RouterLLM:    routerLLM,
		Memory:       memories,
		Retriever:    st.kb,
		Checkpointer: checkpoints,
		ExtraTools:   extraTools,
	})
	if err != nil {
		return fmt.Errorf("failed to build agents: %w", err)
	}

	chatSvc, err := chat.NewService(agents.Router, recorder)
	if err != nil {
		return fmt.Errorf("failed to create chat service: %w", err)
	}

	metricsEnabled := cfg.Observability != nil && cfg.Observability.Metrics.Enabled
	srv, err := server.New(&cfg.Server, server.Options{
		Chat:    chatSvc,
		KB:      st.kb,
		Usage:   recorder,
		Metrics: metricsEnabled,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	printServeInfo(cfg, metricsEnabled)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// printServeInfo prints startup info for the serve command.
func printServeInfo(cfg *config.Config, metricsEnabled bool) {
	addr := cfg.Server.Address()
	greenColor := "\033[38;2;16;185;129m"
	resetColor := "\033[0m"
	fmt.Printf("\n%s🚀 Axon server ready!%s\n", greenColor, resetColor)
	fmt.Printf("   Chat:    http://%s/api/v1/agent/chat\n", addr)
	fmt.Printf("   KB:      http://%s/api/v1/kb\n", addr)
	fmt.Printf("   Usage:   http://%s/api/v1/usage\n", addr)
	fmt.Printf("   Health:  http://%s/healthz\n", addr)
	if metricsEnabled {
		fmt.Printf("   Metrics: http://%s/metrics\n", addr)
	}
	fmt.Printf("   Storage: %s (%s)\n", cfg.Database.Driver, cfg.Database.Database)
	fmt.Printf("   Vectors: %s\n", cfg.VectorStore.Provider)
	fmt.Printf("   Model:   %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Println("\nPress Ctrl+C to stop")
}
