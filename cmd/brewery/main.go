// Command brewery runs and inspects stream graph definitions.
//
//	brewery run [-capacity n] [-deadline d] [-retries n] [-v] <definition>
//	brewery graph [-dot] <definition>
//
// Exit codes: 0 on success, 1 when the run failed, 2 on configuration
// or validation errors.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ironman-/brewery"
	"github.com/ironman-/brewery/backends/csv"
	"github.com/ironman-/brewery/backends/kafka"
	"github.com/ironman-/brewery/backends/mongo"
	backsql "github.com/ironman-/brewery/backends/sql"
	"github.com/ironman-/brewery/graph"
	"github.com/ironman-/brewery/graphdef"
	"github.com/ironman-/brewery/nodes"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return 2
	}
	switch args[0] {
	case "run":
		return runCmd(args[1:])
	case "graph":
		return graphCmd(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: brewery run|graph [flags] <definition>")
}

func registry() *graph.Registry {
	r := graph.NewRegistry()
	nodes.MustRegister(r)
	for _, register := range []func(*graph.Registry) error{
		csv.Register, backsql.Register, mongo.Register, kafka.Register,
	} {
		if err := register(r); err != nil {
			panic(err)
		}
	}
	return r
}

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	capacity := fs.Int("capacity", 0, "per-connection channel capacity")
	deadline := fs.Duration("deadline", 0, "abort the run after this duration")
	retries := fs.Int("retries", 0, "retry budget for retryable nodes")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		usage()
		return 2
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	g, err := graphdef.Load(registry(), fs.Arg(0))
	if err != nil {
		log.Error("loading definition failed", "error", err)
		return 2
	}

	opts := []brewery.Option{brewery.WithLog(log)}
	if *capacity > 0 {
		opts = append(opts, brewery.WithChannelCapacity(*capacity))
	}
	if *deadline > 0 {
		opts = append(opts, brewery.WithDeadline(*deadline))
	}
	if *retries > 0 {
		opts = append(opts, brewery.WithRetryBudget(*retries))
	}

	app, err := brewery.New(g, opts...)
	if err != nil {
		log.Error("invalid graph", "error", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	res, err := app.Run(ctx)
	if err != nil {
		log.Error("run could not start", "error", err)
		return 2
	}
	if !res.OK() {
		log.Error("run failed",
			"run_id", res.RunID,
			"node", res.FailedNode,
			"error", res.Err,
			"duration", time.Since(start))
		return 1
	}

	for id, counts := range res.Counts {
		log.Debug("node finished", "node", id, "consumed", counts.Consumed, "produced", counts.Produced)
	}
	return 0
}

func graphCmd(args []string) int {
	fs := flag.NewFlagSet("graph", flag.ContinueOnError)
	dot := fs.Bool("dot", false, "emit Graphviz DOT")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		usage()
		return 2
	}

	g, err := graphdef.Load(registry(), fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading definition failed: %v\n", err)
		return 2
	}
	if err := g.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid graph: %v\n", err)
		return 2
	}

	if *dot {
		if err := graph.WriteDOT(os.Stdout, g, "brewery"); err != nil {
			fmt.Fprintf(os.Stderr, "writing DOT failed: %v\n", err)
			return 2
		}
		return 0
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ordering graph failed: %v\n", err)
		return 2
	}
	for _, id := range order {
		if n, ok := g.Node(id); ok {
			fmt.Printf("%s (%s)\n", id, n.Info().Type)
		}
	}
	for _, c := range g.Connections() {
		fmt.Printf("%s\n", c)
	}
	return 0
}
