// Package noop implements a minimal, deterministic stand-in for the real
// compiler engine, sufficient to drive every scenario in spec §8 without
// an actual compiler dependency (the real engine is explicitly out of
// scope, spec §1). It treats a module as malformed only when a
// line ends with a bare "=" (an incomplete definition, mirroring the
// spec's own example of a syntax error), and supports a magic "-- CRASH"
// line to simulate an uncaught engine exception for crash-recovery tests.
package noop

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ideport/ideport/internal/diagnostic"
	"github.com/ideport/ideport/internal/engine"
	"github.com/ideport/ideport/internal/process"
)

// crashMarker, present as its own line, makes Compile panic as if the
// engine hit an uncaught exception while processing that module.
const crashMarker = "-- CRASH"

// Engine is the noop.Engine reference implementation.
type Engine struct {
	mu      sync.Mutex
	loaded  map[string][]byte // last successfully compiled content, for Run
}

// New returns a fresh engine with no compiled state.
func New() *Engine {
	return &Engine{loaded: make(map[string][]byte)}
}

// Compile implements engine.Engine.
func (e *Engine) Compile(ctx context.Context, files []engine.SourceFile, opts engine.Options, onModule func(module string)) (diagnostic.ComputedResult, error) {
	result := diagnostic.Empty()
	e.mu.Lock()
	loaded := make(map[string][]byte, len(files))
	e.mu.Unlock()

	for _, f := range files {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		lines := strings.Split(string(f.Content), "\n")
		for _, l := range lines {
			if strings.TrimSpace(l) == crashMarker {
				panic(fmt.Sprintf("noop engine: simulated fatal error in %s", f.Module))
			}
		}

		if diag, ok := checkSyntax(f); ok {
			result.Diagnostics = append(result.Diagnostics, diag)
			continue
		}

		loaded[f.Module] = f.Content
		result.LoadedModules = append(result.LoadedModules, f.Module)

		md := diagnostic.ModuleDiff{}
		for _, imp := range parseImports(f.Content) {
			md.Imports.Added = append(md.Imports.Added, imp)
		}
		result.ModuleDiffs[f.Module] = md

		if onModule != nil {
			onModule(f.Module)
		}
	}

	e.mu.Lock()
	e.loaded = loaded
	e.mu.Unlock()

	return result, nil
}

// checkSyntax reports a SrcError when a line ends in a bare "=" with no
// right-hand side — the stand-in grammar's one failure mode.
func checkSyntax(f engine.SourceFile) (diagnostic.Diagnostic, bool) {
	lines := strings.Split(string(f.Content), "\n")
	for i, l := range lines {
		trimmed := strings.TrimRight(l, " \t")
		if trimmed == "" || strings.HasPrefix(strings.TrimSpace(trimmed), "--") {
			continue
		}
		if strings.HasSuffix(trimmed, "=") {
			col := len(trimmed) + 1
			pos := diagnostic.Pos{Line: i + 1, Col: col}
			return diagnostic.SrcError(diagnostic.KindError, f.Path, pos, pos, "parse error: incomplete definition"), true
		}
	}
	return diagnostic.Diagnostic{}, false
}

// parseImports recognises a single convention: a line of the form
// "-- IMPORTS: A, B" declares the module's import list.
func parseImports(content []byte) []string {
	for _, l := range strings.Split(string(content), "\n") {
		l = strings.TrimSpace(l)
		const prefix = "-- IMPORTS:"
		if !strings.HasPrefix(l, prefix) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(l, prefix))
		if rest == "" {
			return nil
		}
		parts := strings.Split(rest, ",")
		imports := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				imports = append(imports, p)
			}
		}
		return imports
	}
	return nil
}

// Run implements engine.Engine: it looks up the module's last compiled
// content and echoes a fixed line per identifier invocation, enough to
// exercise the streaming-output path without a real interpreter. A real
// engine would fork a subprocess and hand it env/workDir on its own
// exec.Cmd, isolated from everything else in this process; this in-process
// stand-in has no such isolation, so it applies the overlay directly to
// its own process under the exclusive slot of the process-wide lock (spec
// §5) and restores both before returning.
func (e *Engine) Run(ctx context.Context, module, identifier string, env []engine.EnvVar, workDir string, stdout io.Writer) (engine.RunOutcome, error) {
	e.mu.Lock()
	_, ok := e.loaded[module]
	e.mu.Unlock()
	if !ok {
		return engine.RunOutcome{Status: engine.RunException, Message: fmt.Sprintf("module %s not loaded", module)}, nil
	}

	restore, err := applyOverlay(env, workDir)
	if err != nil {
		return engine.RunOutcome{Status: engine.RunException, Message: err.Error()}, nil
	}
	defer restore()

	fmt.Fprintf(stdout, "%s.%s\n", module, identifier)
	select {
	case <-ctx.Done():
		return engine.RunOutcome{Status: engine.RunStopped}, nil
	default:
	}
	return engine.RunOutcome{Status: engine.RunCompleted}, nil
}

// applyOverlay applies env and workDir to the current process, returning a
// restore function that reinstates the prior CWD and every overlaid
// variable's prior value (or absence) and releases the exclusive slot. If
// env and workDir are both empty, no process-wide state is touched and no
// lock is acquired.
func applyOverlay(env []engine.EnvVar, workDir string) (restore func(), err error) {
	if len(env) == 0 && workDir == "" {
		return func() {}, nil
	}

	unlock := process.Global.Exclusive()

	var origDir string
	if workDir != "" {
		origDir, err = os.Getwd()
		if err != nil {
			unlock()
			return nil, fmt.Errorf("noop engine: getwd: %w", err)
		}
		if err = os.Chdir(workDir); err != nil {
			unlock()
			return nil, fmt.Errorf("noop engine: chdir %s: %w", workDir, err)
		}
	}

	type saved struct {
		name  string
		value string
		was   bool
	}
	prior := make([]saved, len(env))
	for i, v := range env {
		value, was := os.LookupEnv(v.Name)
		prior[i] = saved{name: v.Name, value: value, was: was}
		if v.Value == nil {
			os.Unsetenv(v.Name)
		} else {
			os.Setenv(v.Name, *v.Value)
		}
	}

	return func() {
		for _, p := range prior {
			if p.was {
				os.Setenv(p.name, p.value)
			} else {
				os.Unsetenv(p.name)
			}
		}
		if workDir != "" {
			os.Chdir(origDir)
		}
		unlock()
	}, nil
}

// GenerateDocs implements engine.Engine as a no-op: it writes nothing to
// dir and returns nil.
func (e *Engine) GenerateDocs(ctx context.Context, dir string) error {
	return nil
}

// Reset implements engine.Engine's crash-recovery contract.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.loaded = make(map[string][]byte)
	e.mu.Unlock()
}
