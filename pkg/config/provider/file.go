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

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// Rapid editor saves collapse into one reload signal.
	fileDebounce = 100 * time.Millisecond

	// How long a deleted config file gets to reappear before the watch
	// is given up.
	rewatchWindow   = 5 * time.Second
	rewatchInterval = 500 * time.Millisecond
)

// FileProvider serves configuration from a file on disk. The watch sits
// on the parent directory rather than the file itself, so it survives the
// rename-and-replace dance editors and configmap mounts do on save.
type FileProvider struct {
	path string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewFileProvider creates a provider reading from path.
func NewFileProvider(path string) (*FileProvider, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	return &FileProvider{path: abs}, nil
}

// Type returns TypeFile.
func (p *FileProvider) Type() Type {
	return TypeFile
}

// Load returns the file's current contents.
func (p *FileProvider) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", p.path, err)
	}
	return data, nil
}

// Watch emits on the returned channel whenever the file changes. The
// channel closes when ctx ends.
func (p *FileProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("provider is closed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", filepath.Dir(p.path), err)
	}
	p.watcher = watcher

	changes := make(chan struct{}, 1)
	go p.run(ctx, watcher, changes)

	slog.Info("Watching config file", "path", p.path)
	return changes, nil
}

// run folds raw fsnotify events into debounced change signals.
func (p *FileProvider) run(ctx context.Context, watcher *fsnotify.Watcher, changes chan<- struct{}) {
	defer close(changes)
	defer watcher.Close()

	notify := func() {
		select {
		case changes <- struct{}{}:
			slog.Debug("Config file changed", "path", p.path)
		default:
			// A reload is already queued.
		}
	}

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			// The directory watch reports siblings too.
			if filepath.Base(event.Name) != filepath.Base(p.path) {
				continue
			}

			switch {
			case event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create):
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(fileDebounce, notify)
			case event.Op.Has(fsnotify.Remove):
				slog.Warn("Config file was deleted", "path", p.path)
				go p.rewatch(ctx, watcher, notify)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", "error", err)
		}
	}
}

// rewatch polls for a deleted file to reappear, re-arms the directory
// watch and signals a reload for the recreated content.
func (p *FileProvider) rewatch(ctx context.Context, watcher *fsnotify.Watcher, notify func()) {
	deadline := time.After(rewatchWindow)
	ticker := time.NewTicker(rewatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			slog.Warn("Config file did not reappear, watch dropped", "path", p.path)
			return
		case <-ticker.C:
			if _, err := os.Stat(p.path); err != nil {
				continue
			}
			if err := watcher.Add(filepath.Dir(p.path)); err != nil {
				continue
			}
			slog.Info("Re-established watch on config file", "path", p.path)
			notify()
			return
		}
	}
}

// Close stops any active watch.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.watcher != nil {
		err := p.watcher.Close()
		p.watcher = nil
		return err
	}
	return nil
}

var _ Provider = (*FileProvider)(nil)
