package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/metadata"
	"github.com/ironman-/brewery/probe"
)

func TestRunPassthroughScenario(t *testing.T) {
	// Source(3 records, [id:int, val:float]) -> Passthrough -> Sink.
	fields := idValFields()
	src := newSource(fields, intRows(3)...)
	mid := newPassthrough()
	sink := newSink()

	g := graph.New()
	assert.NoError(t, g.AddNode("src", src))
	assert.NoError(t, g.AddNode("mid", mid))
	assert.NoError(t, g.AddNode("sink", sink))
	_, err := g.Link("src", "mid")
	assert.NoError(t, err)
	_, err = g.Link("mid", "sink")
	assert.NoError(t, err)

	res, err := NewEngine(g, Config{}).Run(context.Background())
	assert.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "", string(res.FailedNode))
	assert.NotEqual(t, "", res.RunID)

	got := sink.collected()
	assert.Equal(t, 3, len(got))
	for i, rec := range got {
		assert.True(t, rec.Equal(src.records[i]))
	}

	for id, st := range res.NodeStates {
		assert.Equal(t, StateFinished, st, "node %s", id)
	}
	assert.Equal(t, int64(3), res.Counts["src"].Produced)
	assert.Equal(t, int64(3), res.Counts["sink"].Consumed)
	assert.Equal(t, 1, sink.finalized)
}

func TestRunPreservesOrder(t *testing.T) {
	fields := idValFields()
	src := newSource(fields, intRows(200)...)
	sink := newSink()

	g := graph.New()
	assert.NoError(t, g.AddNode("src", src))
	assert.NoError(t, g.AddNode("sink", sink))
	_, err := g.Link("src", "sink")
	assert.NoError(t, err)

	res, err := NewEngine(g, Config{ChannelCapacity: 4}).Run(context.Background())
	assert.NoError(t, err)
	assert.True(t, res.OK())

	got := sink.collected()
	assert.Equal(t, 200, len(got))
	for i, rec := range got {
		id, _ := rec.At(0).AsInt()
		assert.Equal(t, int64(i), id)
	}
}

func TestRunBackpressure(t *testing.T) {
	// Fast producer, slow consumer, channel capacity 1: nothing may be
	// lost or duplicated.
	const total = 50
	fields := idValFields()
	src := newSource(fields, intRows(total)...)
	sink := newSink()
	sink.consume = func(metadata.Record) error {
		time.Sleep(time.Millisecond)
		return nil
	}

	g := graph.New()
	assert.NoError(t, g.AddNode("src", src))
	assert.NoError(t, g.AddNode("sink", sink))
	_, err := g.Link("src", "sink")
	assert.NoError(t, err)

	res, err := NewEngine(g, Config{ChannelCapacity: 1}).Run(context.Background())
	assert.NoError(t, err)
	assert.True(t, res.OK())

	got := sink.collected()
	assert.Equal(t, total, len(got))
	seen := make(map[int64]bool, total)
	for _, rec := range got {
		id, _ := rec.At(0).AsInt()
		assert.False(t, seen[id], "duplicate record %d", id)
		seen[id] = true
	}
	assert.Equal(t, res.Counts["src"].Produced, res.Counts["sink"].Consumed)
}

func TestRunFanOut(t *testing.T) {
	fields := idValFields()
	src := newSource(fields, intRows(10)...)
	sinkA := newSink()
	sinkB := newSink()

	g := graph.New()
	assert.NoError(t, g.AddNode("src", src))
	assert.NoError(t, g.AddNode("a", sinkA))
	assert.NoError(t, g.AddNode("b", sinkB))
	_, err := g.Link("src", "a")
	assert.NoError(t, err)
	_, err = g.Link("src", "b")
	assert.NoError(t, err)

	res, err := NewEngine(g, Config{ChannelCapacity: 2}).Run(context.Background())
	assert.NoError(t, err)
	assert.True(t, res.OK())

	for _, sink := range []*testSink{sinkA, sinkB} {
		got := sink.collected()
		assert.Equal(t, 10, len(got))
		for i, rec := range got {
			id, _ := rec.At(0).AsInt()
			assert.Equal(t, int64(i), id)
		}
	}
}

func TestRunNodeFailure(t *testing.T) {
	fields := idValFields()
	src := newSource(fields, intRows(100)...)
	boom := errors.New("boom")
	mid := newPassthrough()
	count := 0
	mid.processFn = func(ctx context.Context, slot string, rec metadata.Record, out graph.Emitter) error {
		count++
		if count > 2 {
			return boom
		}
		return out.Emit(graph.DefaultOutput, rec)
	}
	sink := newSink()

	g := graph.New()
	assert.NoError(t, g.AddNode("src", src))
	assert.NoError(t, g.AddNode("mid", mid))
	assert.NoError(t, g.AddNode("sink", sink))
	_, err := g.Link("src", "mid")
	assert.NoError(t, err)
	_, err = g.Link("mid", "sink")
	assert.NoError(t, err)

	res, err := NewEngine(g, Config{ChannelCapacity: 1}).Run(context.Background())
	assert.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, graph.NodeID("mid"), res.FailedNode)
	assert.True(t, errors.Is(res.Err, boom))

	// No deadlock: every worker reached a terminal state.
	for id, st := range res.NodeStates {
		terminal := st == StateFinished || st == StateFailed
		assert.True(t, terminal, "node %s stuck in %s", id, st)
	}
	assert.Equal(t, StateFailed, res.NodeStates["mid"])

	// The sink saw no more records than the failed node emitted.
	assert.True(t, int64(len(sink.collected())) <= res.Counts["mid"].Produced)
}

func TestRunRetryableNode(t *testing.T) {
	fields := idValFields()

	t.Run("recovers within budget", func(t *testing.T) {
		src := newSource(fields, intRows(1)...)
		flaky := newPassthrough()
		flaky.info.Retryable = true
		attempts := 0
		flaky.processFn = func(ctx context.Context, slot string, rec metadata.Record, out graph.Emitter) error {
			attempts++
			if attempts < 3 {
				return fmt.Errorf("transient %d", attempts)
			}
			return out.Emit(graph.DefaultOutput, rec)
		}
		sink := newSink()

		g := graph.New()
		assert.NoError(t, g.AddNode("src", src))
		assert.NoError(t, g.AddNode("flaky", flaky))
		assert.NoError(t, g.AddNode("sink", sink))
		_, err := g.Link("src", "flaky")
		assert.NoError(t, err)
		_, err = g.Link("flaky", "sink")
		assert.NoError(t, err)

		res, err := NewEngine(g, Config{RetryBudget: 3, RetryInterval: time.Millisecond}).Run(context.Background())
		assert.NoError(t, err)
		assert.True(t, res.OK())
		assert.Equal(t, 3, attempts)
		assert.Equal(t, 1, len(sink.collected()))
	})

	t.Run("budget exhausted", func(t *testing.T) {
		src := newSource(fields, intRows(1)...)
		flaky := newPassthrough()
		flaky.info.Retryable = true
		attempts := 0
		flaky.processFn = func(ctx context.Context, slot string, rec metadata.Record, out graph.Emitter) error {
			attempts++
			return errors.New("permanent")
		}
		sink := newSink()

		g := graph.New()
		assert.NoError(t, g.AddNode("src", src))
		assert.NoError(t, g.AddNode("flaky", flaky))
		assert.NoError(t, g.AddNode("sink", sink))
		_, err := g.Link("src", "flaky")
		assert.NoError(t, err)
		_, err = g.Link("flaky", "sink")
		assert.NoError(t, err)

		res, err := NewEngine(g, Config{RetryBudget: 2, RetryInterval: time.Millisecond}).Run(context.Background())
		assert.NoError(t, err)
		assert.False(t, res.OK())
		assert.Equal(t, graph.NodeID("flaky"), res.FailedNode)
		assert.Equal(t, 3, attempts) // initial attempt + 2 retries
	})
}

func TestRunCancellation(t *testing.T) {
	fields := idValFields()
	src := newSource(fields)
	src.produceFn = func(ctx context.Context, out graph.Emitter) error {
		for i := 0; ; i++ {
			rec := metadata.MustRecord(fields, metadata.IntValue(int64(i)), metadata.FloatValue(0))
			if err := out.Emit(graph.DefaultOutput, rec); err != nil {
				return err
			}
		}
	}
	sink := newSink()

	g := graph.New()
	assert.NoError(t, g.AddNode("src", src))
	assert.NoError(t, g.AddNode("sink", sink))
	_, err := g.Link("src", "sink")
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := NewEngine(g, Config{ChannelCapacity: 1}).Run(ctx)
	assert.NoError(t, err)
	assert.False(t, res.OK())
	assert.True(t, errors.Is(res.Err, ErrCancelled))
}

func TestRunDeadline(t *testing.T) {
	fields := idValFields()
	src := newSource(fields)
	src.produceFn = func(ctx context.Context, out graph.Emitter) error {
		rec := metadata.MustRecord(fields, metadata.IntValue(0), metadata.FloatValue(0))
		for {
			if err := out.Emit(graph.DefaultOutput, rec); err != nil {
				return err
			}
		}
	}
	slowSink := newSink()
	slowSink.consume = func(metadata.Record) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}

	g := graph.New()
	assert.NoError(t, g.AddNode("src", src))
	assert.NoError(t, g.AddNode("sink", slowSink))
	_, err := g.Link("src", "sink")
	assert.NoError(t, err)

	start := time.Now()
	res, err := NewEngine(g, Config{ChannelCapacity: 1, Deadline: 50 * time.Millisecond}).Run(context.Background())
	assert.NoError(t, err)
	assert.False(t, res.OK())
	assert.True(t, errors.Is(res.Err, ErrCancelled))
	assert.True(t, time.Since(start) < 5*time.Second)
}

func TestRunValidatesBeforeStarting(t *testing.T) {
	fields := idValFields()
	src := newSource(fields, intRows(1)...)
	a := newPassthrough()
	a.inSlots = append(a.inSlots, graph.SlotSpec{Name: "loop", Optional: true})
	b := newPassthrough()

	g := graph.New()
	assert.NoError(t, g.AddNode("src", src))
	assert.NoError(t, g.AddNode("a", a))
	assert.NoError(t, g.AddNode("b", b))
	_, err := g.Link("src", "a")
	assert.NoError(t, err)
	_, err = g.Link("a", "b")
	assert.NoError(t, err)
	_, err = g.Connect("b", graph.DefaultOutput, "a", "loop")
	assert.NoError(t, err)

	res, err := NewEngine(g, Config{}).Run(context.Background())
	assert.Zero(t, res)
	assert.True(t, errors.Is(err, graph.ErrCycleDetected))

	// Validation failed before scheduling: no node was even bound.
	assert.False(t, src.wasOpened())
	assert.False(t, a.wasOpened())
}

func TestRunShapeFixedByFirstRecord(t *testing.T) {
	fields := idValFields()
	other := metadata.MustFieldList(metadata.NewField("x", metadata.String))

	src := newSource(fields)
	src.outSlots = []graph.SlotSpec{{Name: graph.DefaultOutput}} // unknown shape
	emitted := 0
	src.produceFn = func(ctx context.Context, out graph.Emitter) error {
		recs := []metadata.Record{
			metadata.MustRecord(fields, metadata.IntValue(1), metadata.FloatValue(1)),
			metadata.MustRecord(fields, metadata.IntValue(2), metadata.FloatValue(2)),
			metadata.MustRecord(other, metadata.StringValue("drift")),
		}
		for _, rec := range recs {
			if err := out.Emit(graph.DefaultOutput, rec); err != nil {
				return err
			}
			emitted++
		}
		return nil
	}
	sink := newSink()

	g := graph.New()
	assert.NoError(t, g.AddNode("src", src))
	assert.NoError(t, g.AddNode("sink", sink))
	_, err := g.Link("src", "sink")
	assert.NoError(t, err)

	res, err := NewEngine(g, Config{}).Run(context.Background())
	assert.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, graph.NodeID("src"), res.FailedNode)
	assert.True(t, errors.Is(res.Err, ErrShapeChanged))
	assert.Equal(t, 2, emitted)
}

func TestRunProbeObservesConnection(t *testing.T) {
	fields := idValFields()
	src := newSource(fields, intRows(5)...)
	sink := newSink()

	g := graph.New()
	assert.NoError(t, g.AddNode("src", src))
	assert.NoError(t, g.AddNode("sink", sink))
	conn, err := g.Link("src", "sink")
	assert.NoError(t, err)

	audit := probe.NewAudit()
	conn.AttachProbe(audit)

	res, err := NewEngine(g, Config{}).Run(context.Background())
	assert.NoError(t, err)
	assert.True(t, res.OK())

	inferred, stats := audit.Snapshot()
	assert.Equal(t, 2, inferred.Len())
	assert.Equal(t, int64(5), stats[0].Records)
	assert.Equal(t, metadata.Integer, stats[0].Inferred)
	assert.Equal(t, metadata.Float, stats[1].Inferred)
}

func TestRunFinalizeFlushesDownstream(t *testing.T) {
	fields := idValFields()
	src := newSource(fields, intRows(3)...)

	// A buffering node that holds everything and emits on Finalize.
	buffer := newPassthrough()
	var held []metadata.Record
	buffer.processFn = func(ctx context.Context, slot string, rec metadata.Record, out graph.Emitter) error {
		held = append(held, rec)
		return nil
	}
	buffer.finalizeFn = func(ctx context.Context, out graph.Emitter) error {
		for _, rec := range held {
			if err := out.Emit(graph.DefaultOutput, rec); err != nil {
				return err
			}
		}
		return nil
	}
	sink := newSink()

	g := graph.New()
	assert.NoError(t, g.AddNode("src", src))
	assert.NoError(t, g.AddNode("buffer", buffer))
	assert.NoError(t, g.AddNode("sink", sink))
	_, err := g.Link("src", "buffer")
	assert.NoError(t, err)
	_, err = g.Link("buffer", "sink")
	assert.NoError(t, err)

	res, err := NewEngine(g, Config{ChannelCapacity: 1}).Run(context.Background())
	assert.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 3, len(sink.collected()))
}

func TestRunFinalizesEveryNodeOnFailure(t *testing.T) {
	fields := idValFields()
	src := newSource(fields, intRows(50)...)
	boom := errors.New("boom")
	mid := newPassthrough()
	count := 0
	mid.processFn = func(ctx context.Context, slot string, rec metadata.Record, out graph.Emitter) error {
		count++
		if count > 2 {
			return boom
		}
		return out.Emit(graph.DefaultOutput, rec)
	}
	sink := newSink()

	g := graph.New()
	assert.NoError(t, g.AddNode("src", src))
	assert.NoError(t, g.AddNode("mid", mid))
	assert.NoError(t, g.AddNode("sink", sink))
	_, err := g.Link("src", "mid")
	assert.NoError(t, err)
	_, err = g.Link("mid", "sink")
	assert.NoError(t, err)

	res, err := NewEngine(g, Config{ChannelCapacity: 1}).Run(context.Background())
	assert.NoError(t, err)
	assert.False(t, res.OK())

	// Resource release: the run failed, yet every node got its single
	// Finalize call.
	assert.Equal(t, 1, src.finalized)
	assert.Equal(t, 1, mid.finalized)
	assert.Equal(t, 1, sink.finalized)
}

func TestRunFinalizesOnCancellation(t *testing.T) {
	fields := idValFields()
	src := newSource(fields)
	src.produceFn = func(ctx context.Context, out graph.Emitter) error {
		rows := intRows(1)
		for {
			rec := metadata.MustRecord(fields, rows[0]...)
			if err := out.Emit(graph.DefaultOutput, rec); err != nil {
				return err
			}
		}
	}
	sink := newSink()

	g := graph.New()
	assert.NoError(t, g.AddNode("src", src))
	assert.NoError(t, g.AddNode("sink", sink))
	_, err := g.Link("src", "sink")
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res, err := NewEngine(g, Config{ChannelCapacity: 2}).Run(ctx)
	assert.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, 1, src.finalized)
	assert.Equal(t, 1, sink.finalized)
}

func TestRunFailingFinalizeNotRepeated(t *testing.T) {
	fields := idValFields()
	src := newSource(fields, intRows(3)...)
	sink := newSink()
	flop := errors.New("flush failed")
	sink.finalizeFn = func(ctx context.Context, out graph.Emitter) error {
		return flop
	}

	g := graph.New()
	assert.NoError(t, g.AddNode("src", src))
	assert.NoError(t, g.AddNode("sink", sink))
	_, err := g.Link("src", "sink")
	assert.NoError(t, err)

	res, err := NewEngine(g, Config{}).Run(context.Background())
	assert.NoError(t, err)
	assert.False(t, res.OK())
	assert.True(t, errors.Is(res.Err, flop))
	assert.Equal(t, 1, sink.finalized)
}

func TestRunRetryDoesNotRedeliver(t *testing.T) {
	fields := idValFields()
	src := newSource(fields, intRows(1)...)
	flaky := newPassthrough()
	flaky.info.Retryable = true
	boom := errors.New("transient")
	attempts := 0
	flaky.processFn = func(ctx context.Context, slot string, rec metadata.Record, out graph.Emitter) error {
		attempts++
		// The record goes out before the first attempt fails; a retry
		// must not deliver it a second time.
		if err := out.Emit(graph.DefaultOutput, rec); err != nil {
			return err
		}
		if attempts == 1 {
			return boom
		}
		return nil
	}
	sink := newSink()

	g := graph.New()
	assert.NoError(t, g.AddNode("src", src))
	assert.NoError(t, g.AddNode("flaky", flaky))
	assert.NoError(t, g.AddNode("sink", sink))
	_, err := g.Link("src", "flaky")
	assert.NoError(t, err)
	_, err = g.Link("flaky", "sink")
	assert.NoError(t, err)

	res, err := NewEngine(g, Config{RetryBudget: 3, RetryInterval: time.Millisecond}).Run(context.Background())
	assert.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, len(sink.collected()))
}

func TestWorkerIdleUntilUpstreamStarted(t *testing.T) {
	sink := newSink()
	w := newWorker("sink", sink, slog.New(slog.NewTextHandler(io.Discard, nil)), 0, time.Millisecond)
	gate := make(chan struct{})
	w.upstream = append(w.upstream, gate)

	fields := idValFields()
	conn := &graph.Connection{Source: "src", OutputSlot: graph.DefaultOutput, Target: "sink", InputSlot: graph.DefaultInput}
	in := NewEdge(conn, 1, fields)
	w.ins[graph.DefaultInput] = in

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.run(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, StateIdle, w.State())

	close(gate)
	in.Close()
	<-done
	assert.Equal(t, StateFinished, w.State())
}
