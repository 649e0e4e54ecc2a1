package execution

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultChannelCapacity = 16
	DefaultRetryBudget     = 3
	DefaultRetryInterval   = 50 * time.Millisecond
)

// Config carries the engine's resource limits and policies.
type Config struct {
	Log *slog.Logger

	// ChannelCapacity bounds every edge's record buffer; it is the
	// backpressure knob.
	ChannelCapacity int

	// RetryBudget is the number of retries granted to retryable nodes
	// per failed Process call.
	RetryBudget int

	// RetryInterval is the initial backoff between retries.
	RetryInterval time.Duration

	// Deadline aborts the run via cancellation when exceeded. Zero
	// means no deadline.
	Deadline time.Duration
}

// Engine schedules one worker per node over bounded edges and runs the
// graph to completion. The graph must not be mutated during the run.
type Engine struct {
	g   *graph.Graph
	cfg Config
	log *slog.Logger
}

// NewEngine creates an engine for the given graph, applying config
// defaults.
func NewEngine(g *graph.Graph, cfg Config) *Engine {
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = DefaultChannelCapacity
	}
	if cfg.RetryBudget < 0 {
		cfg.RetryBudget = 0
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	return &Engine{g: g, cfg: cfg, log: cfg.Log}
}

// Run validates the graph, resolves connection shapes, wires edges and
// workers and executes the run. Validation and binding errors are
// returned before any worker starts; failures during the run are
// reported through the Result.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if err := e.g.Validate(); err != nil {
		return nil, err
	}
	order, err := e.g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	shapes, err := e.bind(order)
	if err != nil {
		return nil, err
	}

	edges := make(map[*graph.Connection]*Edge, len(e.g.Connections()))
	for _, c := range e.g.Connections() {
		edges[c] = NewEdge(c, e.cfg.ChannelCapacity, shapes[c])
	}

	workers := make(map[graph.NodeID]*worker, len(order))
	for _, id := range order {
		node, _ := e.g.Node(id)
		w := newWorker(id, node, e.log, e.cfg.RetryBudget, e.cfg.RetryInterval)
		for _, c := range e.g.Incoming(id) {
			w.ins[c.InputSlot] = edges[c]
			// Topological order guarantees the producing worker exists.
			w.upstream = append(w.upstream, workers[c.Source].started)
		}
		for _, c := range e.g.Outgoing(id) {
			w.outs[c.OutputSlot] = append(w.outs[c.OutputSlot], edges[c])
		}
		workers[id] = w
	}

	runCtx := ctx
	if e.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Deadline)
		defer cancel()
	}

	res := &Result{
		RunID: uuid.NewString(),
		Start: time.Now(),
	}
	e.log.Info("run started", "run_id", res.RunID, "nodes", len(order))

	type failure struct {
		node graph.NodeID
		err  error
		at   time.Time
	}
	var (
		failures []failure
		failMu   sync.Mutex
	)

	var grp errgroup.Group
	for _, w := range workers {
		w := w
		grp.Go(func() error {
			if err := w.run(runCtx); err != nil {
				failMu.Lock()
				failures = append(failures, failure{node: w.id, err: w.cause, at: time.Now()})
				failMu.Unlock()
			}
			return nil
		})
	}
	_ = grp.Wait()

	res.End = time.Now()
	res.NodeStates = make(map[graph.NodeID]State, len(workers))
	res.Counts = make(map[graph.NodeID]NodeCounts, len(workers))
	for id, w := range workers {
		res.NodeStates[id] = w.State()
		var c NodeCounts
		for _, edge := range w.ins {
			c.Consumed += edge.Emitted()
		}
		for _, es := range w.outs {
			for _, edge := range es {
				c.Produced += edge.Collected()
			}
		}
		res.Counts[id] = c
	}

	if len(failures) == 0 {
		res.State = RunSuccess
		e.log.Info("run finished", "run_id", res.RunID, "duration", res.End.Sub(res.Start))
		return res, nil
	}

	res.State = RunFailure
	// The run result names the first root failure; cascaded failures
	// (upstream/downstream propagation) only count when nothing else
	// does.
	first := failures[0]
	found := false
	for _, f := range failures {
		if !propagated(f.err) && (!found || f.at.Before(first.at)) {
			first, found = f, true
		}
	}
	res.FailedNode = first.node
	var combined error
	for _, f := range failures {
		if !propagated(f.err) {
			combined = multierr.Append(combined, &NodeError{Node: f.node, Err: f.err})
		}
	}
	if combined == nil {
		combined = &NodeError{Node: first.node, Err: first.err}
	}
	res.Err = combined
	e.log.Error("run failed", "run_id", res.RunID, "node", string(res.FailedNode), "error", res.Err)
	return res, nil
}

// bind calls Open on every node in topological order, flowing resolved
// shapes along connections. Shapes that remain unknown are fixed later
// by the first record on the wire.
func (e *Engine) bind(order []graph.NodeID) (map[*graph.Connection]*metadata.FieldList, error) {
	shapes := make(map[*graph.Connection]*metadata.FieldList)
	for _, id := range order {
		node, _ := e.g.Node(id)

		inputs := make(map[string]*metadata.FieldList)
		for _, slot := range node.InputSlots() {
			inputs[slot.Name] = nil
		}
		for _, c := range e.g.Incoming(id) {
			inputs[c.InputSlot] = shapes[c]
		}

		outputs, err := node.Open(inputs)
		if err != nil {
			return nil, &NodeError{Node: id, Err: fmt.Errorf("open: %w", err)}
		}
		for _, c := range e.g.Outgoing(id) {
			shapes[c] = outputs[c.OutputSlot]
		}
	}
	return shapes, nil
}
