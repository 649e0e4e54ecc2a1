package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
)

var (
	// ErrEdgeAborted is returned by Collect after the consuming side
	// gave up on the edge.
	ErrEdgeAborted = errors.New("edge aborted")

	// ErrShapeChanged signals a record whose shape differs from the one
	// the connection was fixed to.
	ErrShapeChanged = errors.New("record shape changed on connection")
)

type edgeState int

const (
	edgeOpen edgeState = iota
	edgeClosed
	edgeAborted
)

// Edge is the bounded, unidirectional record channel realizing one graph
// connection. The producing worker calls Collect, the consuming worker
// calls Emit; both block at the channel bound, which is the sole
// backpressure mechanism. Edges are safe for concurrent use.
type Edge struct {
	conn    *graph.Connection
	records chan metadata.Record

	// aborting unblocks producers once the consumer abandoned the edge.
	aborting chan struct{}

	mu     sync.Mutex
	state  edgeState
	err    error
	fields *metadata.FieldList

	probe graph.Probe

	collected atomic.Int64
	emitted   atomic.Int64
}

// NewEdge creates an edge for conn with the given channel capacity.
// fields may be nil, in which case the shape is fixed by the first
// record that traverses the edge.
func NewEdge(conn *graph.Connection, capacity int, fields *metadata.FieldList) *Edge {
	if capacity < 1 {
		capacity = 1
	}
	var p graph.Probe
	if conn != nil {
		p = conn.Probe()
	}
	return &Edge{
		conn:     conn,
		records:  make(chan metadata.Record, capacity),
		aborting: make(chan struct{}),
		fields:   fields,
		probe:    p,
	}
}

// Connection returns the graph connection this edge realizes.
func (e *Edge) Connection() *graph.Connection { return e.conn }

// Collect accepts a record into the edge, blocking while the channel is
// full. It fails once the edge was aborted or ctx is done. Collect must
// not be called after Close or Fail.
func (e *Edge) Collect(ctx context.Context, rec metadata.Record) error {
	if err := e.fixShape(rec); err != nil {
		return err
	}
	select {
	case e.records <- rec:
		e.collected.Add(1)
		// Observed only once the record is really on the wire; aborted
		// sends stay out of the audit.
		if e.probe != nil {
			e.probe.Observe(rec)
		}
		return nil
	case <-e.aborting:
		return ErrEdgeAborted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Emit blocks until a record is available and returns it. ok is false
// once the edge closed, aborted, or ctx ended; the caller distinguishes
// the cases via Err and ctx.Err.
func (e *Edge) Emit(ctx context.Context) (metadata.Record, bool) {
	select {
	case rec, ok := <-e.records:
		if ok {
			e.emitted.Add(1)
		}
		return rec, ok
	case <-e.aborting:
		return metadata.Record{}, false
	case <-ctx.Done():
		return metadata.Record{}, false
	}
}

// Close ends the edge normally: buffered records remain consumable and
// the consumer then observes end-of-stream.
func (e *Edge) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != edgeOpen {
		return
	}
	close(e.records)
	e.state = edgeClosed
	e.finishProbe()
}

// Fail ends the edge with an error marker instead of a normal
// end-of-stream. The consumer drains buffered records, then observes the
// closed channel and reads the error via Err.
func (e *Edge) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != edgeOpen {
		return
	}
	e.err = err
	close(e.records)
	e.state = edgeClosed
	e.finishProbe()
}

// Abort stops the edge immediately: buffered records are discarded and
// pending or future Collect calls return ErrEdgeAborted. Used by a
// failed consumer so its producers do not block forever.
func (e *Edge) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == edgeAborted {
		return
	}
	close(e.aborting)
	e.state = edgeAborted
	e.finishProbe()
}

func (e *Edge) finishProbe() {
	if e.probe != nil {
		e.probe.Finish()
	}
}

// Err returns the error marker set by Fail, if any.
func (e *Edge) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Fields returns the shape the edge is fixed to, or nil.
func (e *Edge) Fields() *metadata.FieldList {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fields
}

// Collected returns how many records entered the edge.
func (e *Edge) Collected() int64 { return e.collected.Load() }

// Emitted returns how many records left the edge.
func (e *Edge) Emitted() int64 { return e.emitted.Load() }

// fixShape pins the edge's field list to the first record's shape and
// enforces it for every later record.
func (e *Edge) fixShape(rec metadata.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fields == nil {
		e.fields = rec.Fields()
		return nil
	}
	if !rec.Fields().Equal(e.fields) {
		return fmt.Errorf("%w: %s fixed to %s, got %s",
			ErrShapeChanged, e.conn, e.fields, rec.Fields())
	}
	return nil
}
