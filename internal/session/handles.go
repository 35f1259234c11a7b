package session

import (
	"github.com/ideport/ideport/internal/engine"
	"github.com/ideport/ideport/internal/progress"
)

// sessionResult is the terminal outcome of an UpdateSession compile.
type sessionResult struct {
	session *Session
	err     error
}

// ProgressHandle streams Progress events from an in-flight UpdateSession
// call, terminating in a *Session (spec §4.4, §5). It must be drained
// exactly once: call Progress() in a loop (or ignore it) and then Wait().
type ProgressHandle struct {
	progressCh chan progress.Progress
	resultCh   chan sessionResult
	cancel     func()
}

// Progress returns the channel of non-terminal Progress events, closed
// once the terminal result is ready to be read via Wait.
func (h *ProgressHandle) Progress() <-chan progress.Progress {
	return h.progressCh
}

// Wait blocks for the terminal *Session, or ErrCancelled if Cancel was
// called before it arrived.
func (h *ProgressHandle) Wait() (*Session, error) {
	res := <-h.resultCh
	return res.session, res.err
}

// Cancel aborts the in-flight compile (spec §5): it sends Shutdown to the
// worker; the waiting Wait call returns ErrCancelled. The session's token
// was already advanced at enqueue and is not rolled back (spec §9).
func (h *ProgressHandle) Cancel() {
	h.cancel()
}

// runResult is the terminal outcome of a RunStmt invocation.
type runResult struct {
	outcome engine.RunOutcome
	err     error
}

// RunHandle streams captured stdout as Progress(Output) events from an
// in-flight RunStmt call, terminating in an engine.RunOutcome.
type RunHandle struct {
	progressCh chan progress.Progress
	resultCh   chan runResult
	cancel     func()
}

// Progress returns the channel of output-chunk Progress events.
func (h *RunHandle) Progress() <-chan progress.Progress {
	return h.progressCh
}

// Wait blocks for the terminal RunOutcome, or ErrCancelled if Cancel was
// called first.
func (h *RunHandle) Wait() (engine.RunOutcome, error) {
	res := <-h.resultCh
	return res.outcome, res.err
}

// Cancel aborts the in-flight run.
func (h *RunHandle) Cancel() {
	h.cancel()
}
