package session

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ideport/ideport/internal/build/noop"
	"github.com/ideport/ideport/internal/engine"
	noopengine "github.com/ideport/ideport/internal/engine/noop"
	"github.com/ideport/ideport/internal/rpc"
	"github.com/ideport/ideport/internal/update"
	"github.com/ideport/ideport/internal/worker"
)

// loopbackFactory returns a ConnFactory backed by an in-process
// worker.Worker over an io.Pipe loopback, so tests exercise the real
// rpc/worker stack without spawning a subprocess.
func loopbackFactory() ConnFactory {
	return func() (workerConn, error) {
		c2s_r, c2s_w := io.Pipe()
		s2c_r, s2c_w := io.Pipe()

		client := rpc.NewClient(c2s_w, s2c_r, nil, nil)
		w := worker.New(noopengine.New(), nil)
		ctx, cancel := context.WithCancel(context.Background())
		go worker.Serve(ctx, w, c2s_r, s2c_w, nil)

		return &loopbackConn{Client: client, cancel: cancel}, nil
	}
}

type loopbackConn struct {
	*rpc.Client
	cancel context.CancelFunc
}

func (l *loopbackConn) Stop() {
	l.Client.Stop()
	l.cancel()
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		SourcesDir: filepath.Join(dir, "src"),
		DataDir:    filepath.Join(dir, "data"),
		TempDir:    filepath.Join(dir, "tmp"),
	}
	if err := os.MkdirAll(cfg.SourcesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		t.Fatal(err)
	}
	s, err := Init(cfg, loopbackFactory(), noop.New(), nil, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Shutdown() })
	return s
}

func TestInitStartsInSyncWithoutAdvancing(t *testing.T) {
	before := globalToken.snapshot()
	s := newTestSession(t)
	after := globalToken.snapshot()
	if before != after {
		t.Errorf("Init advanced the token: before=%d after=%d", before, after)
	}
	if s.token != after {
		t.Errorf("session token = %d, want %d", s.token, after)
	}
}

func TestFreshSessionTrivialCompile(t *testing.T) {
	s := newTestSession(t)
	h, err := s.UpdateSession()
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	for range h.Progress() {
	}
	s2, err := h.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	errs, err := s2.GetSourceErrors()
	if err != nil {
		t.Fatalf("GetSourceErrors: %v", err)
	}
	if len(errs) != 0 {
		t.Errorf("errs = %v, want none", errs)
	}
	mods, err := s2.GetLoadedModules()
	if err != nil {
		t.Fatalf("GetLoadedModules: %v", err)
	}
	if len(mods) != 0 {
		t.Errorf("mods = %v, want none", mods)
	}
}

func TestPutThenQuery(t *testing.T) {
	s := newTestSession(t)
	b := update.PutModule(update.Empty(), "M.src", []byte("module M where\nx = 1\n"))
	s1, err := s.UpdateFiles(b)
	if err != nil {
		t.Fatalf("UpdateFiles: %v", err)
	}
	if _, err := s1.GetLoadedModules(); !errors.Is(err, ErrNoComputedYet) {
		t.Errorf("GetLoadedModules before compile: err = %v, want ErrNoComputedYet", err)
	}

	h, err := s1.UpdateSession()
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	for range h.Progress() {
	}
	s2, err := h.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	errs, err := s2.GetSourceErrors()
	if err != nil {
		t.Fatalf("GetSourceErrors: %v", err)
	}
	for _, d := range errs {
		if d.IsError() {
			t.Errorf("unexpected error diagnostic: %+v", d)
		}
	}
	mods, err := s2.GetLoadedModules()
	if err != nil {
		t.Fatalf("GetLoadedModules: %v", err)
	}
	found := false
	for _, m := range mods {
		if m == "M" {
			found = true
		}
	}
	if !found {
		t.Errorf("mods = %v, want to contain M", mods)
	}
}

func TestSyntacticErrorIsDiagnosticNotFailure(t *testing.T) {
	s := newTestSession(t)
	b := update.PutModule(update.Empty(), "M.src", []byte("module M where\nx =\n"))
	s1, err := s.UpdateFiles(b)
	if err != nil {
		t.Fatalf("UpdateFiles: %v", err)
	}
	h, err := s1.UpdateSession()
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	for range h.Progress() {
	}
	s2, err := h.Wait()
	if err != nil {
		t.Fatalf("Wait: %v (a syntax error must not fail the compile)", err)
	}
	errs, err := s2.GetSourceErrors()
	if err != nil {
		t.Fatalf("GetSourceErrors: %v", err)
	}
	foundSrcError := false
	for _, d := range errs {
		if d.IsError() && d.File == "M.src" {
			foundSrcError = true
		}
	}
	if !foundSrcError {
		t.Errorf("errs = %+v, want a SrcError for M.src", errs)
	}
}

func TestStaleHandleRejected(t *testing.T) {
	s0 := newTestSession(t)
	s1, err := s0.UpdateFiles(update.Empty())
	if err != nil {
		t.Fatalf("UpdateFiles: %v", err)
	}
	if s1 == s0 {
		t.Fatal("UpdateFiles returned the same session")
	}

	if _, err := s0.UpdateFiles(update.Empty()); !errors.Is(err, ErrStaleSession) {
		t.Errorf("UpdateFiles on stale session: err = %v, want ErrStaleSession", err)
	}
	if _, err := s0.GetSourceModule("M.src"); !errors.Is(err, ErrStaleSession) {
		t.Errorf("GetSourceModule on stale session: err = %v, want ErrStaleSession", err)
	}
}

func TestWorkerCrashIsRecovered(t *testing.T) {
	s := newTestSession(t)
	crashBatch := update.PutModule(update.Empty(), "Crashy.src", []byte("module Crashy where\n-- CRASH\n"))
	s1, err := s.UpdateFiles(crashBatch)
	if err != nil {
		t.Fatalf("UpdateFiles: %v", err)
	}
	h, err := s1.UpdateSession()
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	for range h.Progress() {
	}
	s2, err := h.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	errs, err := s2.GetSourceErrors()
	if err != nil {
		t.Fatalf("GetSourceErrors: %v", err)
	}
	if len(errs) == 0 || !errs[len(errs)-1].Other {
		t.Fatalf("errs = %+v, want a trailing OtherError", errs)
	}

	cleanBatch := update.PutModule(update.Empty(), "Crashy.src", []byte("module Crashy where\nx = 1\n"))
	s3, err := s2.UpdateFiles(cleanBatch)
	if err != nil {
		t.Fatalf("UpdateFiles: %v", err)
	}
	h2, err := s3.UpdateSession()
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	for range h2.Progress() {
	}
	s4, err := h2.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	errs2, err := s4.GetSourceErrors()
	if err != nil {
		t.Fatalf("GetSourceErrors: %v", err)
	}
	for _, d := range errs2 {
		if d.IsError() || d.Other {
			t.Errorf("second compile errs = %+v, want clean", errs2)
		}
	}
}

func TestRunStmt(t *testing.T) {
	s := newTestSession(t)
	b := update.PutModule(update.Empty(), "Main.src", []byte("module Main where\nmain = 1\n"))
	s1, err := s.UpdateFiles(b)
	if err != nil {
		t.Fatalf("UpdateFiles: %v", err)
	}
	h, err := s1.UpdateSession()
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	for range h.Progress() {
	}
	s2, err := h.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	rh, err := s2.RunStmt("Main", "main")
	if err != nil {
		t.Fatalf("RunStmt: %v", err)
	}
	var sawOutput bool
	for p := range rh.Progress() {
		if p.IsOutput() {
			sawOutput = true
		}
	}
	outcome, err := rh.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if outcome.Status != engine.RunCompleted {
		t.Errorf("Status = %v, want RunCompleted", outcome.Status)
	}
	if !sawOutput {
		t.Error("expected at least one output chunk")
	}
}

func TestShutdownThenOperationFails(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{SourcesDir: filepath.Join(dir, "src"), TempDir: filepath.Join(dir, "tmp")}
	os.MkdirAll(cfg.SourcesDir, 0o755)
	s, err := Init(cfg, loopbackFactory(), noop.New(), nil, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := s.UpdateFiles(update.Empty()); err == nil {
		t.Error("UpdateFiles after Shutdown: want error")
	}
}
