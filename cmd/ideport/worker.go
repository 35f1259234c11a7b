package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	noopengine "github.com/ideport/ideport/internal/engine/noop"
	"github.com/ideport/ideport/internal/observability"
	"github.com/ideport/ideport/internal/worker"
)

// runWorker is the entry point when this binary is re-executed as a
// session's compiler child: invoked with the literal argv shape
// "--server" <static options...> "--ghc-opts-end" <transport parameter>.
// It speaks the framed RPC protocol on stdin/stdout and logs free-form
// debug lines to stderr, which must never be parsed by the parent.
func runWorker(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "--server" {
		return fmt.Errorf("worker: expected invocation \"--server <opts...> --ghc-opts-end <tempdir>\", got %q", args)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Output: os.Stderr,
		Format: "text",
		Level:  envOr("IDEPORT_LOG_LEVEL", "info"),
	}).Slog()

	staticOptions, transportParams := worker.SplitArgs(args[1:])
	logger.Debug("worker starting", "static_options", staticOptions, "transport_params", transportParams)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The real compiler engine is out of scope; the worker hosts whatever
	// engine.Engine implementation it was built with. The noop reference
	// engine stands in here so the CLI is runnable end to end.
	eng := noopengine.New()
	w := worker.New(eng, logger)

	if err := worker.Serve(ctx, w, os.Stdin, os.Stdout, logger); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
