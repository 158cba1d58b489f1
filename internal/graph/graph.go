// Package graph provides a small directed execution graph for analysis
// pipelines. Nodes are stages that read a state snapshot and return a sparse
// update; edges are either unconditional or routed by a function of the
// updated state. A compiled graph runs nodes sequentially until it reaches
// the End sentinel.
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/opspilot-io/opspilot/internal/domain/state"
)

// End is the sentinel target that terminates a run.
const End = "__end__"

var (
	ErrNameRequired  = errors.New("graph name is required")
	ErrNoNodes       = errors.New("graph must have at least one node")
	ErrNoStart       = errors.New("graph start node is not set")
	ErrDuplicateNode = errors.New("duplicate node name")
	ErrUnknownNode   = errors.New("edge references unknown node")
	ErrDuplicateEdge = errors.New("node already has an outgoing edge")
	ErrDanglingNode  = errors.New("node has no outgoing edge")
	ErrEmptyRoutes   = errors.New("conditional edge must have at least one route")
	ErrStepLimit     = errors.New("step limit exceeded")
	ErrUnknownRoute  = errors.New("router returned unknown label")
	ErrReservedName  = errors.New("node name is reserved")
	ErrNilStage      = errors.New("node stage is nil")
)

// Stage is one unit of work. It receives an immutable state snapshot and
// returns the fields it wants changed. Recoverable failures are reported
// through the update's errors and trace, not through a Go error.
type Stage func(ctx context.Context, s state.State) state.Update

// Router inspects the state after a node ran and returns the label of the
// route to follow.
type Router func(ctx context.Context, s state.State) string

// Pipeline is anything that can run a state to completion. Both compiled
// graphs and composed sub-pipelines satisfy it.
type Pipeline interface {
	Name() string
	Run(ctx context.Context, s state.State) (state.State, error)
}

// Observer is notified around each node execution. The returned done func
// receives the node's trace status once the update has been applied.
type Observer func(ctx context.Context, graph, node string) (context.Context, func(status string))

type edge struct {
	to     string
	router Router
	routes map[string]string
}

// Builder accumulates nodes and edges before compilation.
type Builder struct {
	name   string
	start  string
	order  []string
	stages map[string]Stage
	edges  map[string]edge
	errs   []error
}

// New returns an empty builder for a graph with the given name.
func New(name string) *Builder {
	return &Builder{
		name:   name,
		stages: make(map[string]Stage),
		edges:  make(map[string]edge),
	}
}

// AddNode registers a named stage. Names must be unique and must not use the
// End sentinel.
func (b *Builder) AddNode(name string, stage Stage) *Builder {
	if name == End {
		b.errs = append(b.errs, fmt.Errorf("node %q: %w", name, ErrReservedName))
		return b
	}
	if stage == nil {
		b.errs = append(b.errs, fmt.Errorf("node %q: %w", name, ErrNilStage))
		return b
	}
	if _, ok := b.stages[name]; ok {
		b.errs = append(b.errs, fmt.Errorf("node %q: %w", name, ErrDuplicateNode))
		return b
	}
	b.stages[name] = stage
	b.order = append(b.order, name)
	return b
}

// SetStart names the entry node.
func (b *Builder) SetStart(name string) *Builder {
	b.start = name
	return b
}

// AddEdge connects from to to unconditionally. to may be End.
func (b *Builder) AddEdge(from, to string) *Builder {
	if _, ok := b.edges[from]; ok {
		b.errs = append(b.errs, fmt.Errorf("node %q: %w", from, ErrDuplicateEdge))
		return b
	}
	b.edges[from] = edge{to: to}
	return b
}

// AddConditionalEdge connects from through a router. The router's label is
// resolved via routes to the next node; targets may be End.
func (b *Builder) AddConditionalEdge(from string, router Router, routes map[string]string) *Builder {
	if _, ok := b.edges[from]; ok {
		b.errs = append(b.errs, fmt.Errorf("node %q: %w", from, ErrDuplicateEdge))
		return b
	}
	if len(routes) == 0 {
		b.errs = append(b.errs, fmt.Errorf("node %q: %w", from, ErrEmptyRoutes))
		return b
	}
	b.edges[from] = edge{router: router, routes: routes}
	return b
}

// Compile validates the builder and returns an immutable executable graph.
func (b *Builder) Compile() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	if b.name == "" {
		return nil, ErrNameRequired
	}
	if len(b.stages) == 0 {
		return nil, ErrNoNodes
	}
	if b.start == "" {
		return nil, ErrNoStart
	}
	if _, ok := b.stages[b.start]; !ok {
		return nil, fmt.Errorf("start %q: %w", b.start, ErrUnknownNode)
	}

	for _, name := range b.order {
		e, ok := b.edges[name]
		if !ok {
			return nil, fmt.Errorf("node %q: %w", name, ErrDanglingNode)
		}
		targets := []string{e.to}
		if e.router != nil {
			targets = targets[:0]
			for _, to := range e.routes {
				targets = append(targets, to)
			}
		}
		for _, to := range targets {
			if to == End {
				continue
			}
			if _, ok := b.stages[to]; !ok {
				return nil, fmt.Errorf("node %q -> %q: %w", name, to, ErrUnknownNode)
			}
		}
	}

	// Generous bound; legal runs visit each node a handful of times at most.
	limit := 4 * len(b.stages)

	return &Graph{
		name:   b.name,
		start:  b.start,
		stages: b.stages,
		edges:  b.edges,
		limit:  limit,
	}, nil
}

// Graph is a compiled pipeline. It is safe for concurrent use.
type Graph struct {
	name     string
	start    string
	stages   map[string]Stage
	edges    map[string]edge
	limit    int
	observer Observer
}

// WithObserver returns a copy of the graph that reports node executions to
// obs.
func (g *Graph) WithObserver(obs Observer) *Graph {
	out := *g
	out.observer = obs
	return &out
}

// Name implements Pipeline.
func (g *Graph) Name() string { return g.name }

// Run executes the graph from its start node. The input state is not
// mutated; each node's update is applied to produce the next snapshot. A
// panicking node aborts the run; the error wraps the panic value and the
// returned state is the last good snapshot.
func (g *Graph) Run(ctx context.Context, s state.State) (state.State, error) {
	current := g.start
	for steps := 0; current != End; steps++ {
		if steps >= g.limit {
			return s, fmt.Errorf("graph %s at node %s: %w", g.name, current, ErrStepLimit)
		}
		if err := ctx.Err(); err != nil {
			return s, fmt.Errorf("graph %s at node %s: %w", g.name, current, err)
		}

		next, err := g.step(ctx, current, &s)
		if err != nil {
			return s, err
		}
		current = next
	}
	return s, nil
}

func (g *Graph) step(ctx context.Context, node string, s *state.State) (next string, err error) {
	done := func(string) {}
	if g.observer != nil {
		ctx, done = g.observer(ctx, g.name, node)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("graph %s: node %s panicked: %v", g.name, node, r)
			done("panic")
		}
	}()

	update := g.stages[node](ctx, *s)
	*s = s.Apply(update)

	status := s.Trace[node].Status()
	if status == "" {
		status = "success"
	}
	done(status)

	e := g.edges[node]
	if e.router == nil {
		return e.to, nil
	}
	label := e.router(ctx, *s)
	to, ok := e.routes[label]
	if !ok {
		return "", fmt.Errorf("graph %s: node %s label %q: %w", g.name, node, label, ErrUnknownRoute)
	}
	return to, nil
}
