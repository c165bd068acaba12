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

package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/axon/pkg/checkpoint"
)

// Event kinds emitted during a walk. The engine emits node start/end
// and error events itself; nodes emit the model and tool kinds.
const (
	EventNodeStart       = "on_node_start"
	EventNodeEnd         = "on_node_end"
	EventChatModelStream = "on_chat_model_stream"
	EventChatModelEnd    = "on_chat_model_end"
	EventToolStart       = "on_tool_start"
	EventToolEnd         = "on_tool_end"
	EventError           = "on_error"
)

// DefaultStepLimit caps node executions per walk unless CompileOptions
// override it.
const DefaultStepLimit = 50

const eventBuffer = 64

// Event is one occurrence during a walk.
type Event struct {
	Kind     string         `json:"event"`
	Name     string         `json:"name"`
	RunID    string         `json:"run_id"`
	Data     map[string]any `json:"data,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Config addresses one conversation thread.
type Config struct {
	// ThreadID selects the checkpoint lineage. Empty disables
	// persistence for the walk.
	ThreadID string

	// Metadata is passed through to nodes and stamped on events that
	// carry none of their own.
	Metadata map[string]any
}

// Checkpointer persists state snapshots between walks.
type Checkpointer interface {
	Put(ctx context.Context, threadID string, state json.RawMessage) (int64, error)
	GetLatest(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error)
}

var _ Checkpointer = (*checkpoint.SQLStore)(nil)

// Run carries per-walk identity into nodes.
type Run struct {
	// Config addresses the conversation thread being walked.
	Config Config

	id   string
	emit func(Event)
}

// ID returns the walk's run identifier.
func (r *Run) ID() string { return r.id }

// Emit publishes an event on the walk's stream. An empty RunID defaults
// to the walk's; nil Metadata defaults to the thread's.
func (r *Run) Emit(e Event) {
	if e.RunID == "" {
		e.RunID = r.id
	}
	if e.Metadata == nil {
		e.Metadata = r.Config.Metadata
	}
	r.emit(e)
}

// Runnable is a compiled graph.
type Runnable struct {
	nodes     map[string]node
	edges     map[string]string
	branches  map[string]Branch
	entry     string
	ckpt      Checkpointer
	stepLimit int
}

// Stream walks the graph and returns a channel of events that closes
// when the walk finishes. The walk loads the thread's latest snapshot,
// merges the input through the reducer, runs nodes from the entry until
// a terminal edge, and saves a new snapshot. Failures surface as
// on_error events and end the walk without a snapshot.
func (r *Runnable) Stream(ctx context.Context, input Update, cfg Config) (<-chan Event, error) {
	ch := make(chan Event, eventBuffer)
	go func() {
		defer close(ch)
		r.walk(ctx, input, cfg, func(e Event) {
			select {
			case ch <- e:
			case <-ctx.Done():
			}
		})
	}()
	return ch, nil
}

// Invoke walks the graph, discards intermediate events and returns the
// final state. An on_error event becomes the returned error.
func (r *Runnable) Invoke(ctx context.Context, input Update, cfg Config) (State, error) {
	var walkErr error
	state, ok := r.walk(ctx, input, cfg, func(e Event) {
		if e.Kind == EventError {
			if msg, _ := e.Data["error"].(string); msg != "" {
				walkErr = errors.New(msg)
			}
		}
	})
	if !ok {
		if walkErr == nil {
			walkErr = errors.New("graph walk failed")
		}
		return state, walkErr
	}
	return state, nil
}

// walk runs the graph to completion, reporting whether it finished
// cleanly. The returned state is the best snapshot available either way.
func (r *Runnable) walk(ctx context.Context, input Update, cfg Config, emit func(Event)) (State, bool) {
	run := &Run{id: uuid.NewString(), Config: cfg, emit: emit}

	state, err := r.loadState(ctx, cfg.ThreadID)
	if err != nil {
		run.Emit(Event{Kind: EventError, Data: errorData(err)})
		return state, false
	}
	state = Reduce(state, input)

	current := r.entry
	for steps := 0; ; steps++ {
		if steps >= r.stepLimit {
			run.Emit(Event{Kind: EventError, Name: current, Data: map[string]any{
				"error": fmt.Sprintf("step limit of %d exceeded", r.stepLimit),
			}})
			return state, false
		}
		if err := ctx.Err(); err != nil {
			run.Emit(Event{Kind: EventError, Name: current, Data: errorData(err)})
			return state, false
		}

		n := r.nodes[current]
		run.Emit(Event{Kind: EventNodeStart, Name: current})

		var update Update
		if n.sub != nil {
			// The nested walk reports its own failures on the shared
			// stream, so a failed subgraph just ends the parent walk.
			final, ok := n.sub.walk(ctx, Update{Messages: state.Messages}, cfg, emit)
			if !ok {
				return state, false
			}
			update = Update{Messages: final.Messages}
		} else {
			update, err = n.fn(ctx, state, run)
			if err != nil {
				run.Emit(Event{Kind: EventError, Name: current, Data: errorData(err)})
				return state, false
			}
		}

		state = Reduce(state, update)
		run.Emit(Event{Kind: EventNodeEnd, Name: current})

		next, stop := r.next(ctx, current, state)
		if stop {
			break
		}
		if _, ok := r.nodes[next]; !ok {
			run.Emit(Event{Kind: EventError, Name: current, Data: map[string]any{
				"error": fmt.Sprintf("transition to unknown node %q", next),
			}})
			return state, false
		}
		current = next
	}

	r.save(ctx, cfg.ThreadID, state)
	return state, true
}

// errorData shapes an error for an on_error event. Errors that classify
// themselves (via an ErrorKind method) carry the kind alongside the text.
func errorData(err error) map[string]any {
	data := map[string]any{"error": err.Error()}
	var tagged interface{ ErrorKind() string }
	if errors.As(err, &tagged) {
		data["error_kind"] = tagged.ErrorKind()
	}
	return data
}

func (r *Runnable) next(ctx context.Context, current string, state State) (string, bool) {
	if branch, ok := r.branches[current]; ok {
		next := branch(ctx, state)
		if next == "" || next == End {
			return "", true
		}
		return next, false
	}
	if next, ok := r.edges[current]; ok {
		if next == End {
			return "", true
		}
		return next, false
	}
	return "", true
}

func (r *Runnable) loadState(ctx context.Context, threadID string) (State, error) {
	if r.ckpt == nil || threadID == "" {
		return State{}, nil
	}
	cp, err := r.ckpt.GetLatest(ctx, threadID)
	if err != nil {
		return State{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp == nil {
		return State{}, nil
	}
	var st State
	if err := json.Unmarshal(cp.State, &st); err != nil {
		return State{}, fmt.Errorf("failed to decode checkpoint state: %w", err)
	}
	return st, nil
}

// save persists the final snapshot. It runs detached from the walk
// context: a client disconnecting mid-stream must not cost the thread
// its history. Failures are logged, not fatal.
func (r *Runnable) save(ctx context.Context, threadID string, state State) {
	if r.ckpt == nil || threadID == "" {
		return
	}
	raw, err := json.Marshal(state)
	if err != nil {
		slog.Error("Failed to encode graph state", "thread_id", threadID, "error", err)
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := r.ckpt.Put(saveCtx, threadID, raw); err != nil {
		slog.Warn("Failed to save checkpoint", "thread_id", threadID, "error", err)
	}
}
