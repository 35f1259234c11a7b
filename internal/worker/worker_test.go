package worker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ideport/ideport/internal/diagnostic"
	"github.com/ideport/ideport/internal/engine"
	"github.com/ideport/ideport/internal/engine/noop"
	"github.com/ideport/ideport/internal/progress"
	"github.com/ideport/ideport/internal/rpc"
)

func pipePair() (clientR io.Reader, clientW io.Writer, serverR io.Reader, serverW io.Writer, closeAll func()) {
	c2s_r, c2s_w := io.Pipe()
	s2c_r, s2c_w := io.Pipe()
	return s2c_r, c2s_w, c2s_r, s2c_w, func() {
		c2s_r.Close()
		c2s_w.Close()
		s2c_r.Close()
		s2c_w.Close()
	}
}

func TestCompileRoundTrip(t *testing.T) {
	cr, cw, sr, sw, closeAll := pipePair()
	defer closeAll()

	client := rpc.NewClient(cw, cr, nil, nil)
	defer client.Stop()

	w := New(noop.New(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Serve(ctx, w, sr, sw, nil)

	req := CompileRequest{
		Files: []engine.SourceFile{
			{Module: "A", Path: "A.src", Content: []byte("module A where\nx = 1\n")},
			{Module: "B", Path: "B.src", Content: []byte("module B where\ny =\n")},
		},
	}

	var steps int
	result, err := client.Call(context.Background(), req, func(p progress.Progress) {
		steps++
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	res, ok := result.(CompileResult)
	if !ok {
		t.Fatalf("result = %#v, want CompileResult", result)
	}
	if len(res.Computed.LoadedModules) != 1 || res.Computed.LoadedModules[0] != "A" {
		t.Errorf("LoadedModules = %v, want [A]", res.Computed.LoadedModules)
	}
	if !res.Computed.HasErrors() {
		t.Error("HasErrors() = false, want true for module B's incomplete definition")
	}
	if steps == 0 {
		t.Error("expected at least one progress event")
	}
}

func TestCompileRecoversFromEnginePanic(t *testing.T) {
	cr, cw, sr, sw, closeAll := pipePair()
	defer closeAll()

	client := rpc.NewClient(cw, cr, nil, nil)
	defer client.Stop()

	w := New(noop.New(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Serve(ctx, w, sr, sw, nil)

	req := CompileRequest{
		Files: []engine.SourceFile{
			{Module: "Crashy", Path: "Crashy.src", Content: []byte("module Crashy where\n-- CRASH\n")},
		},
	}

	result, err := client.Call(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Call: %v (worker should survive the panic)", err)
	}
	res, ok := result.(CompileResult)
	if !ok {
		t.Fatalf("result = %#v, want CompileResult", result)
	}
	if len(res.Computed.Diagnostics) != 1 || !res.Computed.Diagnostics[0].Other {
		t.Fatalf("Diagnostics = %#v, want one OtherError", res.Computed.Diagnostics)
	}

	// The worker process must still be alive: a second, unrelated request
	// on the same connection should succeed normally.
	req2 := CompileRequest{
		Files: []engine.SourceFile{
			{Module: "A", Path: "A.src", Content: []byte("module A where\nx = 1\n")},
		},
	}
	result2, err := client.Call(context.Background(), req2, nil)
	if err != nil {
		t.Fatalf("second Call after recovered panic: %v", err)
	}
	res2 := result2.(CompileResult)
	if len(res2.Computed.LoadedModules) != 1 {
		t.Errorf("second compile LoadedModules = %v, want [A]", res2.Computed.LoadedModules)
	}
}

func TestRunStreamsOutputChunks(t *testing.T) {
	cr, cw, sr, sw, closeAll := pipePair()
	defer closeAll()

	client := rpc.NewClient(cw, cr, nil, nil)
	defer client.Stop()

	w := New(noop.New(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Serve(ctx, w, sr, sw, nil)

	compileReq := CompileRequest{
		Files: []engine.SourceFile{
			{Module: "Main", Path: "Main.src", Content: []byte("module Main where\nmain = 1\n")},
		},
	}
	if _, err := client.Call(context.Background(), compileReq, nil); err != nil {
		t.Fatalf("compile: %v", err)
	}

	var chunks [][]byte
	result, err := client.Call(context.Background(), RunRequest{Module: "Main", Identifier: "main"}, func(p progress.Progress) {
		if p.IsOutput() {
			chunks = append(chunks, p.Output)
		}
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res, ok := result.(RunResult)
	if !ok || res.Outcome.Status != engine.RunCompleted {
		t.Fatalf("result = %#v, want RunCompleted", result)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one output chunk")
	}
}

func TestRunUnloadedModuleIsException(t *testing.T) {
	cr, cw, sr, sw, closeAll := pipePair()
	defer closeAll()

	client := rpc.NewClient(cw, cr, nil, nil)
	defer client.Stop()

	w := New(noop.New(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Serve(ctx, w, sr, sw, nil)

	result, err := client.Call(context.Background(), RunRequest{Module: "Nope", Identifier: "main"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res := result.(RunResult)
	if res.Outcome.Status != engine.RunException {
		t.Errorf("Status = %v, want RunException", res.Outcome.Status)
	}
}

// blockingEngine.Compile blocks until its context is cancelled, then
// returns ctx.Err() — mirroring noop.Engine's own cancellation behavior,
// but deterministically rather than racing a trivial compile to finish
// first.
type blockingEngine struct{ noop.Engine }

func (blockingEngine) Compile(ctx context.Context, files []engine.SourceFile, opts engine.Options, onModule func(module string)) (diagnostic.ComputedResult, error) {
	<-ctx.Done()
	return diagnostic.Empty(), ctx.Err()
}

// TestCompileCancellationResolves covers spec scenario 6: cancelling a
// large in-flight compile must resolve Call to ErrCancelled rather than
// hang, even though the engine reports its cancellation as a plain error
// rather than a panic.
func TestCompileCancellationResolves(t *testing.T) {
	cr, cw, sr, sw, closeAll := pipePair()
	defer closeAll()

	client := rpc.NewClient(cw, cr, nil, nil)
	defer client.Stop()

	w := New(&blockingEngine{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Serve(ctx, w, sr, sw, nil)

	callCtx, cancelCall := context.WithCancel(context.Background())
	resultCh := make(chan error, 1)
	go func() {
		_, err := client.Call(callCtx, CompileRequest{}, nil)
		resultCh <- err
	}()

	cancelCall()

	select {
	case err := <-resultCh:
		if !errors.Is(err, rpc.ErrCancelled) {
			t.Errorf("err = %v, want rpc.ErrCancelled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Call did not return after cancellation")
	}
}

func TestSplitArgs(t *testing.T) {
	static, transport := SplitArgs([]string{"-O2", "-Wall", "--ghc-opts-end", "/tmp/ideport-worker-1"})
	if len(static) != 2 || static[0] != "-O2" || static[1] != "-Wall" {
		t.Errorf("staticOptions = %v", static)
	}
	if len(transport) != 1 || transport[0] != "/tmp/ideport-worker-1" {
		t.Errorf("transportParams = %v", transport)
	}
}

func TestSplitArgsNoSentinel(t *testing.T) {
	static, transport := SplitArgs([]string{"-O2"})
	if len(static) != 1 || static[0] != "-O2" {
		t.Errorf("staticOptions = %v", static)
	}
	if transport != nil {
		t.Errorf("transportParams = %v, want nil", transport)
	}
}
