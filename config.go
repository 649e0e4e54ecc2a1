package brewery

import (
	"log/slog"
	"time"

	"github.com/ironman-/brewery/internal/execution"
)

// Option is a function that configures an App
type Option func(*App)

// WithLog sets the logger for the application
var WithLog = func(log *slog.Logger) Option {
	return func(s *App) {
		s.cfg.Log = log
	}
}

// WithChannelCapacity sets the per-connection channel capacity, which
// bounds how far a producer may run ahead of its consumer
var WithChannelCapacity = func(n int) Option {
	return func(s *App) {
		s.cfg.ChannelCapacity = n
	}
}

// WithDeadline aborts the run if it exceeds d
var WithDeadline = func(d time.Duration) Option {
	return func(s *App) {
		s.cfg.Deadline = d
	}
}

// WithRetryBudget sets how many times a retryable node's failed
// processing step is retried before the run fails
var WithRetryBudget = func(n int) Option {
	return func(s *App) {
		s.cfg.RetryBudget = n
	}
}

// WithRetryInterval sets the initial backoff interval between retries
var WithRetryInterval = func(d time.Duration) Option {
	return func(s *App) {
		s.cfg.RetryInterval = d
	}
}

// Result re-exports the run report so callers need not import the
// execution package.
type Result = execution.Result

// RunState is the terminal outcome of a run
type RunState = execution.RunState

// Run outcomes
const (
	RunSuccess = execution.RunSuccess
	RunFailure = execution.RunFailure
)

// State is a node's execution state
type State = execution.State

// Node execution states
const (
	StateIdle     = execution.StateIdle
	StateRunning  = execution.StateRunning
	StateDraining = execution.StateDraining
	StateFinished = execution.StateFinished
	StateFailed   = execution.StateFailed
)

// Run failure causes
var (
	ErrCancelled         = execution.ErrCancelled
	ErrUpstreamFailed    = execution.ErrUpstreamFailed
	ErrDownstreamAborted = execution.ErrDownstreamAborted
)

type NullWriter struct{}

func (NullWriter) Write([]byte) (int, error) { return 0, nil }

// NullLogger creates a logger that discards all output
func NullLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(NullWriter{}, nil))
}
