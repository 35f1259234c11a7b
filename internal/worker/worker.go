// Package worker implements the compiler worker process (spec §4.7, C8):
// the child side of the progress-RPC protocol, dispatching Compile and Run
// requests to an engine.Engine and relaying progress as the engine works.
package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/ideport/ideport/internal/diagnostic"
	"github.com/ideport/ideport/internal/engine"
	"github.com/ideport/ideport/internal/progress"
	"github.com/ideport/ideport/internal/rpc"
)

func init() {
	rpc.RegisterType(CompileRequest{})
	rpc.RegisterType(CompileResult{})
	rpc.RegisterType(RunRequest{})
	rpc.RegisterType(RunResult{})
}

// CompileRequest carries every source file to compile, already resolved
// through the parent's virtual file store — the worker holds no store of
// its own, it only ever sees what one request hands it.
type CompileRequest struct {
	Files   []engine.SourceFile
	Options engine.Options
}

// CompileResult is the terminal payload of a Compile request.
type CompileResult struct {
	Computed diagnostic.ComputedResult
}

// RunRequest names the entry point to invoke, along with the staged
// process-environment overlay and runtime working directory in effect for
// this one run (spec §4.3 C3, §6).
type RunRequest struct {
	Module     string
	Identifier string
	Env        []engine.EnvVar
	WorkDir    string
}

// RunResult is the terminal payload of a Run request.
type RunResult struct {
	Outcome engine.RunOutcome
}

// chunkSize bounds how much captured Run stdout is buffered before being
// flushed as one progress.OutputChunk.
const chunkSize = 4096

// Worker dispatches decoded RPC requests to an engine.Engine.
type Worker struct {
	engine engine.Engine
	logger *slog.Logger
}

// New returns a Worker driving eng.
func New(eng engine.Engine, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{engine: eng, logger: logger.With("component", "worker")}
}

// Handle implements rpc.HandlerFunc, type-switching on the decoded request.
func (w *Worker) Handle(ctx context.Context, payload any, send func(progress.Progress)) (any, error) {
	switch req := payload.(type) {
	case CompileRequest:
		return w.compile(ctx, req, send)
	case RunRequest:
		return w.run(ctx, req, send)
	default:
		return nil, fmt.Errorf("worker: unhandled request type %T", payload)
	}
}

// compile drives one Compile request. A panic surfacing from the engine is
// recovered into a trailing OtherError diagnostic rather than killing the
// worker process (spec §4.7's resilience contract); the engine is reset so
// the next request starts from clean state.
func (w *Worker) compile(ctx context.Context, req CompileRequest, send func(progress.Progress)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("engine panicked during compile", "panic", r)
			w.engine.Reset()
			cr := diagnostic.Empty()
			cr.Diagnostics = append(cr.Diagnostics, diagnostic.OtherError(fmt.Sprintf("compiler engine error: %v", r)))
			result, err = CompileResult{Computed: cr}, nil
		}
	}()

	p := progress.New()
	first := true
	computed, cerr := w.engine.Compile(ctx, req.Files, req.Options, func(module string) {
		if first {
			first = false
			p.Message = "compiled " + module
		} else {
			p = progress.Update(p, "compiled "+module)
		}
		send(p)
	})
	if cerr != nil {
		return nil, fmt.Errorf("worker: compile: %w", cerr)
	}
	return CompileResult{Computed: computed}, nil
}

// run drives one Run request, streaming captured stdout as OutputChunk
// progress events while the engine's entry point executes.
func (w *Worker) run(ctx context.Context, req RunRequest, send func(progress.Progress)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("engine panicked during run", "panic", r)
			w.engine.Reset()
			result, err = RunResult{Outcome: engine.RunOutcome{Status: engine.RunException, Message: fmt.Sprintf("%v", r)}}, nil
		}
	}()

	pr, pw := io.Pipe()
	outcomeCh := make(chan engine.RunOutcome, 1)
	errCh := make(chan error, 1)

	go func() {
		outcome, rerr := w.engine.Run(ctx, req.Module, req.Identifier, req.Env, req.WorkDir, pw)
		pw.Close()
		if rerr != nil {
			errCh <- rerr
			return
		}
		outcomeCh <- outcome
	}()

	step := 0
	buf := make([]byte, chunkSize)
	for {
		n, rerr := pr.Read(buf)
		if n > 0 {
			step++
			send(progress.OutputChunk(step, buf[:n]))
		}
		if rerr != nil {
			break
		}
	}

	select {
	case outcome := <-outcomeCh:
		return RunResult{Outcome: outcome}, nil
	case rerr := <-errCh:
		return nil, fmt.Errorf("worker: run: %w", rerr)
	}
}
