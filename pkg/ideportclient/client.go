// Package ideportclient is the one public entry point embedders use to
// drive a compilation session: everything under internal/ is
// implementation detail not meant for outside consumption.
package ideportclient

import (
	"log/slog"

	"github.com/ideport/ideport/internal/build"
	buildnoop "github.com/ideport/ideport/internal/build/noop"
	"github.com/ideport/ideport/internal/diagnostic"
	"github.com/ideport/ideport/internal/engine"
	"github.com/ideport/ideport/internal/observability"
	"github.com/ideport/ideport/internal/session"
	"github.com/ideport/ideport/internal/update"
)

// Metrics holds the Prometheus collectors for a session's RPC traffic,
// worker lifecycle, and compiles, re-exported from internal/observability.
// NewMetrics registers Metrics against reg (nil selects the default
// Prometheus registry); pass the result to SpawnWorker and NewSession.
type Metrics = observability.Metrics

var NewMetrics = observability.NewMetrics

// Logger wraps slog with request/session correlation and redaction of
// secret-shaped values, re-exported from internal/observability. Pass the
// result of NewLogger to SpawnWorker so a worker's relayed stderr is
// redacted before logging.
type Logger = observability.Logger

// LogConfig configures NewLogger.
type LogConfig = observability.LogConfig

var NewLogger = observability.NewLogger

// Config is the directory/option set a session is created with, re-exported
// from internal/session so embedders never need to import internal/.
type Config = session.Config

// Batch is a composable set of staged file/option mutations, applied
// atomically by Session.UpdateFiles.
type Batch = update.Batch

// Diagnostic, Diff, Completion, SpanInfo, ExpType and UseSite are
// re-exported result types a caller inspects after a compile.
type (
	Diagnostic = diagnostic.Diagnostic
	Completion = diagnostic.Completion
	SpanInfo   = diagnostic.SpanInfo
	ExpType    = diagnostic.ExpType
	UseSite    = diagnostic.UseSite
)

// Diff is the generic added/removed pair every per-module query returns.
type Diff[T any] = diagnostic.Diff[T]

// RunOutcome is the terminal result of Session.RunStmt.
type RunOutcome = engine.RunOutcome

// Empty, PutModule, DeleteModule, PutDataFile, DeleteDataFile,
// SetDynamicOptions, SetCodeGen and SetEnvOverlay build up a Batch;
// re-exported verbatim from internal/update.
var (
	Empty             = update.Empty
	PutModule         = update.PutModule
	DeleteModule      = update.DeleteModule
	PutDataFile       = update.PutDataFile
	DeleteDataFile    = update.DeleteDataFile
	SetDynamicOptions = update.SetDynamicOptions
	SetCodeGen        = update.SetCodeGen
	SetEnvOverlay     = update.SetEnvOverlay
)

// EnvVar is one entry of the process-environment overlay passed to
// SetEnvOverlay.
type EnvVar = update.EnvVar

// Session is the client-visible compilation session handle.
type Session = session.Session

// ProgressHandle and RunHandle are returned by UpdateSession and RunStmt
// respectively, each carrying a progress stream and a terminal result.
type (
	ProgressHandle = session.ProgressHandle
	RunHandle      = session.RunHandle
)

// Sentinel errors a caller may match with errors.Is.
var (
	ErrStaleSession  = session.ErrStaleSession
	ErrNoComputedYet = session.ErrNoComputedYet
	ErrCancelled     = session.ErrCancelled
	ErrShutdown      = session.ErrShutdown
)

// SpawnWorker returns a factory that starts the session's compiler
// subprocess by re-executing binaryPath with the worker invocation
// convention described in the module's CLI reference. logger and metrics
// may be nil.
func SpawnWorker(binaryPath string, staticOptions []string, transportParam string, logger *Logger, metrics *Metrics) session.ConnFactory {
	return session.SpawnWorker(binaryPath, staticOptions, transportParam, logger, metrics)
}

// NewSession starts a new session against cfg, spawning its worker via
// connFactory (see SpawnWorker) and using packager for BuildExecutable/
// BuildDoc. packager may be a no-op implementation (see NoopPackager) when
// the embedder doesn't need package-build support. metrics may be nil.
func NewSession(cfg Config, connFactory session.ConnFactory, packager build.Packager, logger *slog.Logger, metrics *Metrics) (*Session, error) {
	return session.Init(cfg, connFactory, packager, logger, metrics)
}

// NoopPackager returns a build.Packager whose ConfigureAndBuild and
// ConfigureAndHaddock both succeed trivially, for embedders that don't
// wire a real package-build tool.
func NoopPackager() build.Packager {
	return buildnoop.New()
}
