package session

import "errors"

// Error taxonomy, spec §7.
var (
	// ErrStaleSession is returned when a session's remembered token no
	// longer matches the process-wide current token.
	ErrStaleSession = errors.New("session: stale session")

	// ErrNoComputedYet is returned by a Computed-dependent query before the
	// first successful compile, or after a mutation invalidated Computed.
	ErrNoComputedYet = errors.New("session: no computed result yet")

	// ErrCancelled is returned by ProgressHandle.Wait/RunHandle.Wait when
	// the caller cancelled before the terminal result arrived.
	ErrCancelled = errors.New("session: cancelled")

	// ErrShutdown is returned by any operation on a session that has
	// already been shut down.
	ErrShutdown = errors.New("session: shut down")
)
