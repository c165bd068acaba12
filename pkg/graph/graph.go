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

// Package graph runs small directed state machines for conversational
// agents. A graph is a set of named nodes joined by plain or conditional
// edges; compiling it yields a Runnable that walks the nodes, streams
// events, and checkpoints the final state per conversation thread.
package graph

import (
	"context"
	"errors"
	"fmt"
)

// End is the pseudo-target that finishes a walk when an edge or branch
// selects it.
const End = "__end__"

// NodeFunc runs one node. It receives the state as of this step and
// returns an update to merge; run carries the thread config and the
// event sink.
type NodeFunc func(ctx context.Context, s State, run *Run) (Update, error)

// Branch picks the next node after a conditional edge. Returning End or
// "" finishes the walk.
type Branch func(ctx context.Context, s State) string

type node struct {
	fn  NodeFunc
	sub *Runnable
}

// Graph accumulates nodes and edges until Compile. Add calls record
// their errors; Compile surfaces them all at once so construction can
// chain without per-call checks.
type Graph struct {
	nodes    map[string]node
	edges    map[string]string
	branches map[string]Branch
	entry    string
	errs     []error
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:    make(map[string]node),
		edges:    make(map[string]string),
		branches: make(map[string]Branch),
	}
}

// AddNode registers a function node.
func (g *Graph) AddNode(name string, fn NodeFunc) *Graph {
	if !g.checkName(name) {
		return g
	}
	if fn == nil {
		g.errs = append(g.errs, fmt.Errorf("node %q has no function", name))
		return g
	}
	g.nodes[name] = node{fn: fn}
	return g
}

// AddSubgraph registers a compiled graph as a node. The subgraph runs
// with the parent's messages as input, forwards every event it emits to
// the parent stream unchanged, and contributes its final messages as
// the node's update.
func (g *Graph) AddSubgraph(name string, sub *Runnable) *Graph {
	if !g.checkName(name) {
		return g
	}
	if sub == nil {
		g.errs = append(g.errs, fmt.Errorf("subgraph %q is nil", name))
		return g
	}
	g.nodes[name] = node{sub: sub}
	return g
}

func (g *Graph) checkName(name string) bool {
	if name == "" || name == End {
		g.errs = append(g.errs, fmt.Errorf("invalid node name %q", name))
		return false
	}
	if _, exists := g.nodes[name]; exists {
		g.errs = append(g.errs, fmt.Errorf("duplicate node %q", name))
		return false
	}
	return true
}

// AddEdge wires an unconditional transition. to is a node name or End.
func (g *Graph) AddEdge(from, to string) *Graph {
	if g.hasTransition(from) {
		g.errs = append(g.errs, fmt.Errorf("node %q already has an outgoing edge", from))
		return g
	}
	g.edges[from] = to
	return g
}

// AddConditionalEdge wires a branch that picks the next node from the
// state after from runs.
func (g *Graph) AddConditionalEdge(from string, branch Branch) *Graph {
	if g.hasTransition(from) {
		g.errs = append(g.errs, fmt.Errorf("node %q already has an outgoing edge", from))
		return g
	}
	if branch == nil {
		g.errs = append(g.errs, fmt.Errorf("conditional edge from %q has no branch", from))
		return g
	}
	g.branches[from] = branch
	return g
}

func (g *Graph) hasTransition(from string) bool {
	if _, ok := g.edges[from]; ok {
		return true
	}
	_, ok := g.branches[from]
	return ok
}

// SetEntry names the node every walk starts at.
func (g *Graph) SetEntry(name string) *Graph {
	g.entry = name
	return g
}

// CompileOptions bind runtime services to a compiled graph.
type CompileOptions struct {
	// Checkpointer persists the final state per thread. Nil disables
	// persistence; the graph then starts every walk from its input.
	Checkpointer Checkpointer

	// StepLimit caps node executions per walk to guard cycles.
	// Zero means DefaultStepLimit.
	StepLimit int
}

// Compile validates the graph and returns a Runnable. The runnable owns
// copies of the wiring, so the builder can be discarded or reused.
func (g *Graph) Compile(opts CompileOptions) (*Runnable, error) {
	if len(g.errs) > 0 {
		return nil, errors.Join(g.errs...)
	}
	if g.entry == "" {
		return nil, fmt.Errorf("entry node is not set")
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return nil, fmt.Errorf("entry node %q does not exist", g.entry)
	}
	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("edge from unknown node %q", from)
		}
		if to == End {
			continue
		}
		if _, ok := g.nodes[to]; !ok {
			return nil, fmt.Errorf("edge from %q to unknown node %q", from, to)
		}
	}
	for from := range g.branches {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("conditional edge from unknown node %q", from)
		}
	}

	stepLimit := opts.StepLimit
	if stepLimit <= 0 {
		stepLimit = DefaultStepLimit
	}

	nodes := make(map[string]node, len(g.nodes))
	for name, n := range g.nodes {
		nodes[name] = n
	}
	edges := make(map[string]string, len(g.edges))
	for from, to := range g.edges {
		edges[from] = to
	}
	branches := make(map[string]Branch, len(g.branches))
	for from, b := range g.branches {
		branches[from] = b
	}

	return &Runnable{
		nodes:     nodes,
		edges:     edges,
		branches:  branches,
		entry:     g.entry,
		ckpt:      opts.Checkpointer,
		stepLimit: stepLimit,
	}, nil
}
