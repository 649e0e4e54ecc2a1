// Package graph models record-processing pipelines as directed acyclic
// graphs of nodes and typed connections.
//
// # Overview
//
// A pipeline is built in two phases:
//
//  1. Build phase: nodes are created (usually through a Registry),
//     attached to a Graph, configured, and connected slot-to-slot.
//  2. Run phase: the graph is validated once and handed to the execution
//     engine, which owns it for the duration of the run.
//
// # Nodes and slots
//
// Every node declares named input and output slots, each optionally
// carrying a declared field list. Slots with nil field lists are resolved
// at run time: the engine binds nodes in topological order via Open, and
// any shape still unknown is fixed by the first record that traverses the
// connection.
//
// # Configuration and protected attributes
//
// Node configuration goes through Graph.Configure, which checks attribute
// names against the node's declared schema. Attributes applied with the
// Protect option cannot be overwritten by later Configure calls unless
// those pass OverrideProtected. This lets a host program pin
// security-critical attributes (credentials, file paths) before loading
// the remainder of a graph definition from an untrusted document.
//
// # Validation
//
// Graph.Validate checks, in order:
//
//   - cycle freedom (DFS; the error names the cycle path)
//   - field compatibility on every connection whose endpoints both
//     declare shapes (expected names a subset of produced names, storage
//     types matching)
//   - connectivity of every required input slot
//
// All validation errors wrap sentinel errors (ErrCycleDetected,
// ErrTypeMismatch, ErrUnconnectedInput, ...) checkable with errors.Is.
//
// # Thread safety
//
// Graph is not safe for concurrent mutation. A validated graph is
// immutable during a run and safe for concurrent reads.
package graph
