package brewery

import (
	"context"
	"log/slog"

	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/internal/execution"
)

// App executes a validated stream graph. Construct it with New, then
// call Run; an App is single-use, create a new one per run.
type App struct {
	g   *graph.Graph
	cfg execution.Config
}

// New creates an app for the given graph. The graph is validated
// immediately so construction fails fast on structural errors.
// Returns an error if the graph has cycles, unconnected required inputs,
// or incompatible field shapes.
func New(g *graph.Graph, opts ...Option) (*App, error) {
	s := &App{
		g: g,
		cfg: execution.Config{
			Log: NullLogger(),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// MustNew creates an app, panicking on configuration or validation
// errors. Prefer New() for production code to handle errors gracefully.
func MustNew(g *graph.Graph, opts ...Option) *App {
	app, err := New(g, opts...)
	if err != nil {
		panic(err)
	}
	return app
}

// Run executes the graph and blocks until every node reached a terminal
// state. The returned Result reports the outcome even when the run
// failed; err is non-nil only when the run could not be started at all.
func (c *App) Run(ctx context.Context) (*Result, error) {
	c.cfg.Log.Info("starting run", "nodes", len(c.g.Nodes()))
	res, err := execution.NewEngine(c.g, c.cfg).Run(ctx)
	if err != nil {
		return nil, err
	}
	if res.OK() {
		c.cfg.Log.Info("run finished", "run_id", res.RunID, "duration", res.Duration())
	} else {
		c.cfg.Log.Error("run failed", "run_id", res.RunID, "node", res.FailedNode, "error", res.Err)
	}
	return res, nil
}

// Log returns the app's logger.
func (c *App) Log() *slog.Logger {
	return c.cfg.Log
}
