package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of a node worker.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateDraining:
		return "DRAINING"
	case StateFinished:
		return "FINISHED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrCancelled is the terminal cause of workers stopped by run
	// cancellation or the run deadline.
	ErrCancelled = errors.New("run cancelled")

	// ErrUpstreamFailed marks a failure propagated from an upstream
	// node, as opposed to a failure originating in the worker's own
	// node.
	ErrUpstreamFailed = errors.New("upstream node failed")

	// ErrDownstreamAborted marks a producer stopped because a consumer
	// abandoned one of its output edges.
	ErrDownstreamAborted = errors.New("downstream node aborted")
)

// NodeError wraps a failure with the node it originated at.
type NodeError struct {
	Node graph.NodeID
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// worker drives one node. It owns the node's private state exclusively
// for the duration of the run.
type worker struct {
	id   graph.NodeID
	node graph.Node

	ins  map[string]*Edge   // input slot -> feeding edge
	outs map[string][]*Edge // output slot -> fan-out edges

	// started closes once the worker left Idle; upstream lists the
	// started channels of every producing worker.
	started  chan struct{}
	upstream []<-chan struct{}

	log *slog.Logger

	state     atomic.Int32
	cause     error
	finalized bool

	retryBudget   int
	retryInterval time.Duration
}

func newWorker(id graph.NodeID, node graph.Node, log *slog.Logger, retryBudget int, retryInterval time.Duration) *worker {
	w := &worker{
		id:            id,
		node:          node,
		ins:           make(map[string]*Edge),
		outs:          make(map[string][]*Edge),
		started:       make(chan struct{}),
		log:           log.With("node", string(id)),
		retryBudget:   retryBudget,
		retryInterval: retryInterval,
	}
	// Declared output slots exist even with no outgoing connection, so
	// emitting on them silently discards instead of erroring.
	for _, s := range node.OutputSlots() {
		w.outs[s.Name] = nil
	}
	w.state.Store(int32(StateIdle))
	return w
}

func (w *worker) State() State { return State(w.state.Load()) }

func (w *worker) setState(s State) {
	w.log.Debug("state change", "from", w.State().String(), "to", s.String())
	w.state.Store(int32(s))
}

// Cause returns the terminal failure cause, nil for finished workers.
func (w *worker) Cause() error { return w.cause }

// emitter routes node output to the worker's outgoing edges. In
// tolerant mode, used for Finalize on the failure path, records to
// edges that are already gone are dropped instead of erroring.
type emitter struct {
	w        *worker
	ctx      context.Context
	tolerant bool
}

func (em *emitter) Emit(slot string, rec metadata.Record) error {
	edges, ok := em.w.outs[slot]
	if !ok {
		return fmt.Errorf("%w: output %q on node %s", graph.ErrSlotNotFound, slot, em.w.id)
	}
	for _, e := range edges {
		if err := e.Collect(em.ctx, rec); err != nil {
			if em.tolerant && unreachableEdge(err) {
				continue
			}
			return err
		}
	}
	return nil
}

func unreachableEdge(err error) bool {
	return errors.Is(err, ErrEdgeAborted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// bufferEmitter holds records back until a Process attempt succeeded,
// so a retried attempt cannot deliver the same record twice.
type bufferEmitter struct {
	w     *worker
	slots []string
	recs  []metadata.Record
}

func (b *bufferEmitter) Emit(slot string, rec metadata.Record) error {
	if _, ok := b.w.outs[slot]; !ok {
		return fmt.Errorf("%w: output %q on node %s", graph.ErrSlotNotFound, slot, b.w.id)
	}
	b.slots = append(b.slots, slot)
	b.recs = append(b.recs, rec)
	return nil
}

func (b *bufferEmitter) flush(em *emitter) error {
	for i, rec := range b.recs {
		if err := em.Emit(b.slots[i], rec); err != nil {
			return err
		}
	}
	return nil
}

// run executes the worker's full lifecycle and returns the terminal
// failure, if any.
func (w *worker) run(ctx context.Context) error {
	if err := w.awaitUpstream(ctx); err != nil {
		close(w.started)
		return w.fail(ctx, classify(err))
	}
	w.setState(StateRunning)
	close(w.started)
	em := &emitter{w: w, ctx: ctx}

	var err error
	if src, ok := w.node.(graph.Source); ok && len(w.ins) == 0 {
		err = src.Produce(ctx, em)
	} else {
		err = w.consume(ctx, em)
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return w.fail(ctx, classify(err))
	}

	w.setState(StateDraining)
	w.finalized = true
	if err := w.node.Finalize(ctx, em); err != nil {
		return w.fail(ctx, classify(err))
	}
	w.closeOutputs(nil)
	w.setState(StateFinished)
	return nil
}

// awaitUpstream blocks until every producing worker has left Idle, so
// the Idle state really means "upstream not yet started".
func (w *worker) awaitUpstream(ctx context.Context) error {
	for _, ch := range w.upstream {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// consume pulls records from every input edge until all reach
// end-of-stream. Process calls are serialized; per-connection FIFO order
// is preserved by construction.
func (w *worker) consume(ctx context.Context, em *emitter) error {
	grp, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for slot, edge := range w.ins {
		slot, edge := slot, edge
		grp.Go(func() error {
			for {
				rec, ok := edge.Emit(gctx)
				if !ok {
					if uerr := edge.Err(); uerr != nil {
						return fmt.Errorf("%w: %w", ErrUpstreamFailed, uerr)
					}
					if cerr := gctx.Err(); cerr != nil {
						return cerr
					}
					return nil // end-of-stream
				}
				mu.Lock()
				err := w.process(gctx, slot, rec, em)
				mu.Unlock()
				if err != nil {
					return err
				}
			}
		})
	}
	return grp.Wait()
}

// process invokes the node, retrying the same record for retryable nodes
// up to the configured budget.
func (w *worker) process(ctx context.Context, slot string, rec metadata.Record, em *emitter) error {
	if !w.node.Info().Retryable || w.retryBudget <= 0 {
		return w.node.Process(ctx, slot, rec, em)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(w.retryBudget)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		// Records leave the attempt's buffer only after the node
		// succeeded; a failed attempt delivers nothing downstream.
		buf := &bufferEmitter{w: w}
		err := w.node.Process(ctx, slot, rec, buf)
		if err != nil {
			if attempt <= w.retryBudget {
				w.log.Warn("process failed, retrying", "attempt", attempt, "error", err)
			}
			return err
		}
		if err := buf.flush(em); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, policy)
}

// fail transitions the worker to Failed: input edges are aborted so
// upstream producers cannot deadlock, the node still gets its single
// Finalize call so held resources are released, and every output edge
// is closed with the failure as its error marker so downstream workers
// observe the failure instead of a normal end-of-stream.
func (w *worker) fail(ctx context.Context, cause error) error {
	for _, e := range w.ins {
		e.Abort()
	}
	if !w.finalized {
		w.finalized = true
		em := &emitter{w: w, ctx: ctx, tolerant: true}
		if ferr := w.node.Finalize(ctx, em); ferr != nil {
			cause = multierr.Append(cause, fmt.Errorf("finalize: %w", ferr))
		}
	}
	w.cause = cause
	nerr := &NodeError{Node: w.id, Err: cause}
	w.closeOutputs(nerr)
	w.setState(StateFailed)
	w.log.Error("node failed", "error", cause)
	return nerr
}

func (w *worker) closeOutputs(failure error) {
	for _, edges := range w.outs {
		for _, e := range edges {
			if failure != nil {
				e.Fail(failure)
			} else {
				e.Close()
			}
		}
	}
}

// classify maps low-level termination causes onto the engine's error
// taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	case errors.Is(err, ErrEdgeAborted):
		return fmt.Errorf("%w: %v", ErrDownstreamAborted, err)
	default:
		return err
	}
}

// propagated reports whether a worker failure is a knock-on effect of a
// failure elsewhere rather than a root cause.
func propagated(err error) bool {
	return errors.Is(err, ErrUpstreamFailed) || errors.Is(err, ErrDownstreamAborted)
}
