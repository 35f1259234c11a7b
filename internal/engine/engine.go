// Package engine defines the interface boundary to the compiler engine
// itself — deliberately out of scope per spec §1 ("The compiler itself
// ... treated as an opaque engine"). internal/worker depends only on this
// interface, never on a concrete compiler.
package engine

import (
	"context"
	"io"

	"github.com/ideport/ideport/internal/diagnostic"
)

// SourceFile is one module handed to the engine for a compile, with its
// content already resolved through the virtual file store.
type SourceFile struct {
	Module  string
	Path    string
	Content []byte
}

// Options bundles the static options a worker was booted with and the
// current dynamic options/code-gen flag from session state (spec §9:
// dynamic options replace, not merge, the static set when present).
type Options struct {
	StaticOptions  []string
	DynamicOptions []string
	GenerateCode   bool
}

// EnvVar is one entry of a process-environment overlay passed to Run. A
// nil Value unsets the named variable rather than setting it to empty
// (spec §4.3's SetEnvOverlay mutation, spec §6's dataDir/run contract).
type EnvVar struct {
	Name  string
	Value *string
}

// RunStatus discriminates how a Run invocation ended.
type RunStatus int

const (
	RunCompleted RunStatus = iota
	RunException
	RunStopped
)

func (s RunStatus) String() string {
	switch s {
	case RunCompleted:
		return "completed"
	case RunException:
		return "exception"
	case RunStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RunOutcome is the terminal result of a Run request.
type RunOutcome struct {
	Status  RunStatus
	Message string // exception text, or empty on normal completion/stop
}

// Engine is the opaque compiler engine collaborator: compile a set of
// source files under a set of options, emit diagnostics and module
// metadata; run a named entry point; generate HTML documentation.
type Engine interface {
	// Compile loads every file in files under opts. onModule is invoked
	// once per module as the engine finishes it, in compile order — the
	// worker (C8) turns each invocation into a Progress frame.
	Compile(ctx context.Context, files []SourceFile, opts Options, onModule func(module string)) (diagnostic.ComputedResult, error)

	// Run invokes the named entry point inside module, writing captured
	// stdout to stdout as it is produced. env is the session's staged
	// process-environment overlay and workDir its staged runtime working
	// directory (spec §4.3 C3, §6); both apply only for the duration of
	// this one invocation.
	Run(ctx context.Context, module, identifier string, env []EnvVar, workDir string, stdout io.Writer) (RunOutcome, error)

	// GenerateDocs renders HTML documentation for the last compiled
	// snapshot into dir.
	GenerateDocs(ctx context.Context, dir string) error

	// Reset discards any state an engine accumulated from a prior compile
	// that raised — the crash-recovery contract of spec §4.7: one bad
	// compile does not kill the worker, but the engine itself must start
	// the next request clean.
	Reset()
}
