// Package session implements the session façade (spec §4.4, C9) and the
// versioned state token it is built on (spec §4.1, C1): the client-visible
// operations — init, update, query, run, build, shutdown — over a worker
// connection, a pair of virtual file stores, and the process-wide token.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/ideport/ideport/internal/build"
	"github.com/ideport/ideport/internal/diagnostic"
	"github.com/ideport/ideport/internal/engine"
	"github.com/ideport/ideport/internal/observability"
	"github.com/ideport/ideport/internal/process"
	"github.com/ideport/ideport/internal/progress"
	"github.com/ideport/ideport/internal/rpc"
	"github.com/ideport/ideport/internal/update"
	"github.com/ideport/ideport/internal/vfs"
	"github.com/ideport/ideport/internal/worker"
)

// workerConn is the subset of *rpc.Client a Session depends on, narrowed
// to an interface so tests can substitute a fake worker connection without
// spawning a real process — matches how the compiler engine itself is kept
// behind an interface one layer down.
type workerConn interface {
	Call(ctx context.Context, payload any, onProgress func(progress.Progress)) (any, error)
	Shutdown(ctx context.Context) error
	Stop()
}

// ConnFactory starts (or restarts) a worker connection. cmd/ideport supplies
// one that spawns the worker subprocess and wraps its stdio pipes in an
// *rpc.Client; tests supply one backed by an in-process loopback.
type ConnFactory func() (workerConn, error)

// Session is the IdeSession of spec §3: config, remembered token, worker
// handle, and the last Computed result (nil before the first successful
// compile, or after any mutation invalidates it).
type Session struct {
	id      uuid.UUID
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics

	token StateToken

	connFactory ConnFactory
	connMu      sync.Mutex
	conn        workerConn

	sources *vfs.Store
	data    *vfs.Store
	state   update.DynamicState

	computed *diagnostic.ComputedResult
	packager build.Packager

	shutdown bool
}

// ID is a stable identifier distinct from the token, used for log/metric
// correlation only — the token remains the sole source of validity.
func (s *Session) ID() uuid.UUID { return s.id }

// Init creates a session against cfg. It does not advance the process-wide
// token: "new sessions start already in sync" (spec §4.4). metrics may be
// nil.
func Init(cfg Config, connFactory ConnFactory, packager build.Packager, logger *slog.Logger, metrics *observability.Metrics) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := connFactory()
	if err != nil {
		return nil, fmt.Errorf("session: start worker: %w", err)
	}
	id := uuid.New()
	s := &Session{
		id:          id,
		cfg:         cfg,
		logger:      logger.With("session_id", id),
		metrics:     metrics,
		token:       globalToken.snapshot(),
		connFactory: connFactory,
		conn:        conn,
		sources:     vfs.New(cfg.SourcesDir),
		data:        vfs.New(cfg.DataDir),
		state:       update.DynamicState{Options: append([]string(nil), cfg.StaticOptions...)},
		packager:    packager,
	}
	if metrics != nil {
		metrics.SessionStarted()
		metrics.WorkersActive.Inc()
	}
	return s, nil
}

// clone returns a shallow copy of s sharing its stores and worker
// connection, for the new *Session each mutating operation returns —
// spec §3 treats Session as a value with fresh snapshots at each step,
// while the underlying process-wide stores and connection persist.
func (s *Session) clone() *Session {
	cp := *s
	return &cp
}

func (s *Session) checkToken() error {
	if s.shutdown {
		return ErrShutdown
	}
	return globalToken.check(s.token)
}

// ensureConn lazily respawns the worker connection after a transport-level
// failure discarded it — spec §7: "the next mutating call restarts the
// worker."
func (s *Session) ensureConn() (workerConn, error) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	conn, err := s.connFactory()
	if err != nil {
		return nil, fmt.Errorf("session: restart worker: %w", err)
	}
	s.conn = conn
	if s.metrics != nil {
		s.metrics.WorkersActive.Inc()
	}
	return conn, nil
}

// discardConn drops the current connection so the next ensureConn call
// restarts it.
func (s *Session) discardConn() {
	s.connMu.Lock()
	had := s.conn != nil
	s.conn = nil
	s.connMu.Unlock()
	if had && s.metrics != nil {
		s.metrics.RecordWorkerRestart()
		s.metrics.WorkersActive.Dec()
	}
}

func isTransportFailure(err error) bool {
	return errors.Is(err, rpc.ErrWorkerGone) || errors.Is(err, rpc.ErrProtocolViolation)
}

// UpdateFiles applies batch atomically against the virtual file stores and
// dynamic state, advances the token, and invalidates Computed (spec §4.4).
func (s *Session) UpdateFiles(batch update.Batch) (*Session, error) {
	if s.shutdown {
		return nil, ErrShutdown
	}
	unlock := process.Global.Shared()
	defer unlock()
	token, err := globalToken.checkAndAdvance(s.token)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.TokenAdvancesTotal.Inc()
	}
	next := s.clone()
	update.Apply(batch, s.sources, s.data, &next.state)
	next.token = token
	next.computed = nil
	return next, nil
}

// compileFiles resolves every overlay-or-disk source file under the
// configured extensions into engine.SourceFile values for a Compile
// request.
func (s *Session) compileFiles() ([]engine.SourceFile, error) {
	exts := s.cfg.sourceExtensions()
	seen := map[string]bool{}
	var paths []string

	for _, p := range s.sources.OverlaidPaths() {
		if hasAnyExt(p, exts) {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	entries, err := os.ReadDir(s.cfg.SourcesDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("session: scan sources dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !hasAnyExt(e.Name(), exts) || seen[e.Name()] {
			continue
		}
		paths = append(paths, e.Name())
	}

	files := make([]engine.SourceFile, 0, len(paths))
	for _, p := range paths {
		content, err := s.sources.Read(p)
		if err != nil {
			return nil, fmt.Errorf("session: read %s: %w", p, err)
		}
		files = append(files, engine.SourceFile{
			Module:  moduleName(p),
			Path:    p,
			Content: content,
		})
	}
	return files, nil
}

// toEngineEnv converts the session's staged environment overlay into the
// shape engine.Run takes, keeping update.EnvVar (the public mutation
// vocabulary) and engine.EnvVar (the engine-boundary vocabulary) as
// separate types the way engine.Options is kept separate from
// update.DynamicState.
func toEngineEnv(env []update.EnvVar) []engine.EnvVar {
	if env == nil {
		return nil
	}
	out := make([]engine.EnvVar, len(env))
	for i, v := range env {
		out[i] = engine.EnvVar{Name: v.Name, Value: v.Value}
	}
	return out
}

func diagnosticKinds(diags []diagnostic.Diagnostic) []string {
	kinds := make([]string, len(diags))
	for i, d := range diags {
		if d.Other {
			kinds[i] = "Other"
			continue
		}
		kinds[i] = d.Kind.String()
	}
	return kinds
}

func hasAnyExt(path string, exts []string) bool {
	for _, e := range exts {
		if strings.HasSuffix(path, e) {
			return true
		}
	}
	return false
}

func moduleName(path string) string {
	base := filepath.Base(path)
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[:i]
	}
	return base
}

// UpdateSession fails ErrStaleSession synchronously; otherwise it advances
// the token at enqueue time (spec §4.4/§9's Open Question: the advance is
// permanent regardless of later cancellation), then asynchronously
// compiles, returning a ProgressHandle that yields Progress events
// followed by a terminal *Session.
func (s *Session) UpdateSession() (*ProgressHandle, error) {
	if s.shutdown {
		return nil, ErrShutdown
	}
	unlock := process.Global.Shared()
	defer unlock()
	token, err := globalToken.checkAndAdvance(s.token)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.TokenAdvancesTotal.Inc()
	}
	next := s.clone()
	next.token = token

	files, err := next.compileFiles()
	if err != nil {
		return nil, err
	}
	conn, err := next.ensureConn()
	if err != nil {
		return nil, err
	}

	req := worker.CompileRequest{
		Files: files,
		Options: engine.Options{
			StaticOptions:  s.cfg.StaticOptions,
			DynamicOptions: next.state.Options,
			GenerateCode:   next.state.CodeGen,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &ProgressHandle{
		progressCh: make(chan progress.Progress, 16),
		resultCh:   make(chan sessionResult, 1),
		cancel:     cancel,
	}

	go func() {
		defer close(h.progressCh)
		var progressEvents int
		result, callErr := conn.Call(ctx, req, func(p progress.Progress) {
			progressEvents++
			select {
			case h.progressCh <- p:
			case <-ctx.Done():
			}
		})
		h.resultCh <- next.finishCompile(result, callErr, progressEvents)
	}()

	return h, nil
}

func (s *Session) finishCompile(result any, callErr error, progressEvents int) sessionResult {
	switch {
	case callErr == nil:
		res := result.(worker.CompileResult)
		s.computed = &res.Computed
		if s.metrics != nil {
			s.metrics.RecordCompile(progressEvents, diagnosticKinds(res.Computed.Diagnostics))
		}
		return sessionResult{session: s}
	case errors.Is(callErr, rpc.ErrCancelled):
		return sessionResult{session: s, err: ErrCancelled}
	case isTransportFailure(callErr):
		s.discardConn()
		cr := diagnostic.Empty()
		cr.Diagnostics = append(cr.Diagnostics, diagnostic.OtherError(callErr.Error()))
		s.computed = &cr
		return sessionResult{session: s}
	default:
		return sessionResult{session: s, err: callErr}
	}
}

// requireComputed returns the current Computed result, or
// ErrNoComputedYet if none exists.
func (s *Session) requireComputed() (*diagnostic.ComputedResult, error) {
	if s.computed == nil {
		return nil, ErrNoComputedYet
	}
	return s.computed, nil
}

// GetSourceModule returns the current content of a source module (overlay
// or disk) by logical path.
func (s *Session) GetSourceModule(path string) ([]byte, error) {
	if err := s.checkToken(); err != nil {
		return nil, err
	}
	return s.sources.Read(path)
}

// GetDataFile returns the current content of a data file by logical path.
func (s *Session) GetDataFile(path string) ([]byte, error) {
	if err := s.checkToken(); err != nil {
		return nil, err
	}
	return s.data.Read(path)
}

// GetSourceErrors returns every diagnostic from the last successful
// compile.
func (s *Session) GetSourceErrors() ([]diagnostic.Diagnostic, error) {
	if err := s.checkToken(); err != nil {
		return nil, err
	}
	c, err := s.requireComputed()
	if err != nil {
		return nil, err
	}
	return c.Diagnostics, nil
}

// GetLoadedModules returns every module name the last successful compile
// loaded.
func (s *Session) GetLoadedModules() ([]string, error) {
	if err := s.checkToken(); err != nil {
		return nil, err
	}
	c, err := s.requireComputed()
	if err != nil {
		return nil, err
	}
	return c.LoadedModules, nil
}

// GetImports returns the import diff for module from the last successful
// compile.
func (s *Session) GetImports(module string) (diagnostic.Diff[string], error) {
	c, err := s.moduleDiff(module)
	if err != nil {
		return diagnostic.Diff[string]{}, err
	}
	return c.Imports, nil
}

// GetAutoCompletion returns the completion-candidate diff for module.
func (s *Session) GetAutoCompletion(module string) (diagnostic.Diff[diagnostic.Completion], error) {
	c, err := s.moduleDiff(module)
	if err != nil {
		return diagnostic.Diff[diagnostic.Completion]{}, err
	}
	return c.Completions, nil
}

// GetSpanInfo returns the span-to-identifier diff for module.
func (s *Session) GetSpanInfo(module string) (diagnostic.Diff[diagnostic.SpanInfo], error) {
	c, err := s.moduleDiff(module)
	if err != nil {
		return diagnostic.Diff[diagnostic.SpanInfo]{}, err
	}
	return c.SpanInfo, nil
}

// GetExpTypes returns the expression-type-annotation diff for module.
func (s *Session) GetExpTypes(module string) (diagnostic.Diff[diagnostic.ExpType], error) {
	c, err := s.moduleDiff(module)
	if err != nil {
		return diagnostic.Diff[diagnostic.ExpType]{}, err
	}
	return c.ExpTypes, nil
}

// GetUseSites returns the use-site diff for module.
func (s *Session) GetUseSites(module string) (diagnostic.Diff[diagnostic.UseSite], error) {
	c, err := s.moduleDiff(module)
	if err != nil {
		return diagnostic.Diff[diagnostic.UseSite]{}, err
	}
	return c.UseSites, nil
}

func (s *Session) moduleDiff(module string) (diagnostic.ModuleDiff, error) {
	if err := s.checkToken(); err != nil {
		return diagnostic.ModuleDiff{}, err
	}
	c, err := s.requireComputed()
	if err != nil {
		return diagnostic.ModuleDiff{}, err
	}
	return c.ModuleDiffs[module], nil
}

// RunStmt starts executing identifier inside module in the worker,
// returning a RunHandle streaming captured stdout and a terminal outcome.
// RunStmt does not mutate session state and so does not advance the token.
func (s *Session) RunStmt(module, identifier string) (*RunHandle, error) {
	if err := s.checkToken(); err != nil {
		return nil, err
	}
	unlock := process.Global.Shared()
	defer unlock()
	conn, err := s.ensureConn()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &RunHandle{
		progressCh: make(chan progress.Progress, 16),
		resultCh:   make(chan runResult, 1),
		cancel:     cancel,
	}

	req := worker.RunRequest{
		Module:     module,
		Identifier: identifier,
		Env:        toEngineEnv(s.state.Env),
		WorkDir:    s.cfg.DataDir,
	}

	go func() {
		defer close(h.progressCh)
		result, callErr := conn.Call(ctx, req, func(p progress.Progress) {
			select {
			case h.progressCh <- p:
			case <-ctx.Done():
			}
		})
		h.resultCh <- s.finishRun(result, callErr)
	}()

	return h, nil
}

func (s *Session) finishRun(result any, callErr error) runResult {
	switch {
	case callErr == nil:
		res := result.(worker.RunResult)
		return runResult{outcome: res.Outcome}
	case errors.Is(callErr, rpc.ErrCancelled):
		return runResult{err: ErrCancelled}
	case isTransportFailure(callErr):
		s.discardConn()
		return runResult{outcome: engine.RunOutcome{Status: engine.RunException, Message: callErr.Error()}}
	default:
		return runResult{err: callErr}
	}
}

// BuildExecutable synchronously drives the package-build pipeline for the
// named targets and returns the build's exit code (spec §4.8).
func (s *Session) BuildExecutable(targets []string) (int, error) {
	if err := s.checkToken(); err != nil {
		return -1, err
	}
	c, err := s.requireComputed()
	if err != nil {
		return -1, err
	}
	desc := build.Synthesize(c.LoadedModules, c.PkgDeps(), targets)
	driver := build.NewDriver(s.packager)
	return driver.BuildExecutables(context.Background(), desc, s.cfg.TempDir, nil)
}

// BuildDoc synchronously drives documentation generation and returns the
// exit code (spec §4.8).
func (s *Session) BuildDoc() (int, error) {
	if err := s.checkToken(); err != nil {
		return -1, err
	}
	c, err := s.requireComputed()
	if err != nil {
		return -1, err
	}
	desc := build.Synthesize(c.LoadedModules, c.PkgDeps(), nil)
	driver := build.NewDriver(s.packager)
	return driver.BuildDoc(context.Background(), desc, s.cfg.TempDir, nil)
}

// Shutdown advances the token, tells the worker to exit, and waits for it.
// Every further operation on s, and on any other handle sharing s's
// pre-shutdown token, fails ErrStaleSession or ErrShutdown thereafter.
func (s *Session) Shutdown() error {
	if s.shutdown {
		return ErrShutdown
	}
	if _, err := globalToken.checkAndAdvance(s.token); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.TokenAdvancesTotal.Inc()
	}
	s.shutdown = true
	if s.metrics != nil {
		s.metrics.SessionEnded()
	}

	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if conn == nil {
		return nil
	}
	if s.metrics != nil {
		s.metrics.WorkersActive.Dec()
	}
	defer conn.Stop()
	if err := conn.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("session: shutdown worker: %w", err)
	}
	if s.cfg.DeleteTempOnShutdown && s.cfg.TempDir != "" {
		os.RemoveAll(s.cfg.TempDir)
	}
	return nil
}
