package worker

import (
	"context"
	"io"
	"log/slog"

	"github.com/ideport/ideport/internal/ipc"
	"github.com/ideport/ideport/internal/rpc"
)

// sentinel marks the end of the static compiler option list in a worker's
// argv, per spec §6: the parent re-executes itself with
// `["--server", <opts...>, "--ghc-opts-end", <transport params...>]`.
const sentinel = "--ghc-opts-end"

// SplitArgs splits a worker's argument list (everything after the leading
// "--server" flag) at the sentinel: the left side is the static compiler
// option list to hand the engine at boot, the right side is transport
// parameters (e.g. a temp directory). If the sentinel is absent, every
// argument is treated as a static option and there are no transport
// parameters.
func SplitArgs(args []string) (staticOptions, transportParams []string) {
	for i, a := range args {
		if a == sentinel {
			return args[:i], append([]string(nil), args[i+1:]...)
		}
	}
	return args, nil
}

// Serve runs the dispatch loop for one worker connection: it wraps r/w as
// the rpc.Server transport and services requests with a Worker bound to
// eng, until the transport closes, ctx is cancelled, or a Shutdown frame
// arrives with no request in flight, which it acknowledges with a Shutdown
// frame of its own.
func Serve(ctx context.Context, w *Worker, r io.Reader, wtr io.Writer, logger *slog.Logger) error {
	server := rpc.NewServer(wtr, r, logger)
	if err := server.Serve(ctx, w.Handle); err != nil {
		return err
	}
	return ipc.NewWriter(wtr).WriteFrame(ipc.TagShutdown, nil)
}
