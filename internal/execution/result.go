package execution

import (
	"time"

	"github.com/ironman-/brewery/graph"
)

// RunState is the terminal outcome of a run.
type RunState int

const (
	RunSuccess RunState = iota
	RunFailure
)

func (s RunState) String() string {
	if s == RunSuccess {
		return "SUCCESS"
	}
	return "FAILURE"
}

// NodeCounts are per-node record totals for a run.
type NodeCounts struct {
	// Consumed counts records the node's worker pulled from its input
	// edges.
	Consumed int64
	// Produced counts records placed onto the node's output edges.
	Produced int64
}

// Result is the report of one engine run. Nodes that reached Finished
// before a failure elsewhere keep their completed output; the per-node
// states and counts tell the caller exactly how far the run got.
type Result struct {
	RunID string
	Start time.Time
	End   time.Time

	State RunState

	// FailedNode names the first node whose failure caused the run to
	// fail. Empty on success.
	FailedNode graph.NodeID

	// Err aggregates the root failure causes. nil on success.
	Err error

	NodeStates map[graph.NodeID]State
	Counts     map[graph.NodeID]NodeCounts
}

// OK reports whether the run succeeded.
func (r *Result) OK() bool {
	return r.State == RunSuccess
}

// Duration returns the wall-clock duration of the run.
func (r *Result) Duration() time.Duration {
	return r.End.Sub(r.Start)
}
