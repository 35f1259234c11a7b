// Package rpc implements the progress-RPC protocol (spec §4.6, C7): a
// request elicits zero or more Progress frames followed by exactly one
// terminal Result frame, with an exactly-one-in-flight discipline and
// cooperative cancellation.
package rpc

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ideport/ideport/internal/ipc"
	"github.com/ideport/ideport/internal/observability"
	"github.com/ideport/ideport/internal/progress"
)

// ErrCancelled is returned by Call when ctx is cancelled before a Result
// frame for the in-flight request arrives.
var ErrCancelled = errors.New("rpc: cancelled")

// ErrHandler wraps a handler-returned error that crossed the wire as a
// Result frame's Err field (see envelope). Call returns this, rather than
// hanging, when the worker's HandlerFunc itself failed.
var ErrHandler = errors.New("rpc: handler error")

// ErrProtocolViolation is returned when a frame cannot be decoded or
// arrives with an unexpected tag, wrapping ipc.ErrProtocolViolation.
var ErrProtocolViolation = ipc.ErrProtocolViolation

// ErrWorkerGone is returned when the underlying transport hits EOF,
// wrapping ipc.ErrWorkerGone.
var ErrWorkerGone = ipc.ErrWorkerGone

// envelope pairs a correlation id with a gob-encodable domain payload.
// Request and Result frames both carry an envelope; Progress frames carry
// a bare progress.Progress (its shape is already fixed by spec §4 C5). A
// Result envelope with Err set carries no Payload: the handler that
// produced it returned an error instead of a result, and dispatch still
// owes the client a terminal frame either way (every Request gets exactly
// one Result, success or failure — see rpc.Server.dispatch).
type envelope struct {
	ID      uuid.UUID
	Payload any
	Err     string
}

// Client speaks the client (parent) side of the progress-RPC protocol over
// a pair of ipc framed streams. One Client instance corresponds to one
// worker connection; the exactly-one-in-flight rule is enforced by a
// mutex held for the duration of Call.
type Client struct {
	w       *ipc.Writer
	r       *ipc.Reader
	logger  *slog.Logger
	metrics *observability.Metrics

	mu sync.Mutex // held for the duration of one Call; enforces exactly-one-in-flight

	frames chan ipc.Frame
	readErr chan error
	closed  chan struct{}
	once    sync.Once
}

// NewClient wraps rw (the worker's stdin/stdout pipes on the parent side,
// or vice versa on the worker side) and starts the background frame
// reader. metrics may be nil, in which case Call's per-request metrics
// recording is skipped.
func NewClient(w io.Writer, r io.Reader, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		w:       ipc.NewWriter(w),
		r:       ipc.NewReader(r),
		logger:  logger.With("component", "rpc.client"),
		metrics: metrics,
		frames:  make(chan ipc.Frame, 16),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	for {
		f, err := c.r.ReadFrame()
		if err != nil {
			select {
			case c.readErr <- err:
			case <-c.closed:
			}
			return
		}
		select {
		case c.frames <- f:
		case <-c.closed:
			return
		}
	}
}

// Stop terminates the background reader. Call after the worker process has
// exited to release the goroutine.
func (c *Client) Stop() {
	c.once.Do(func() { close(c.closed) })
}

// Call sends payload as a Request frame and blocks until the matching
// Result frame arrives, invoking onProgress for every Progress frame seen
// in between (spec §4.6). onProgress may be nil. If ctx is cancelled
// before the Result arrives, Call sends a Shutdown frame to abort the
// in-flight request, drains until the aborted request's terminal frame
// arrives, and returns ErrCancelled (a transport error during the drain is
// returned as is instead) — matching §5's
// "drain to EOF... mark the handle as cancelled" contract.
func (c *Client) Call(ctx context.Context, payload any, onProgress func(progress.Progress)) (result any, err error) {
	if c.metrics != nil {
		start := time.Now()
		kind := fmt.Sprintf("%T", payload)
		defer func() {
			c.metrics.RecordRPC(kind, time.Since(start).Seconds(), err)
		}()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.New()
	logger := c.logger.With("request_id", id)

	data, err := encode(envelope{ID: id, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("rpc: encode request: %w", err)
	}
	if err := c.w.WriteFrame(ipc.TagRequest, data); err != nil {
		return nil, fmt.Errorf("rpc: send request: %w", err)
	}
	logger.Debug("sent request")

	cancelling := false
	for {
		select {
		case <-ctx.Done():
			if !cancelling {
				cancelling = true
				logger.Debug("cancelling in-flight request")
				if err := c.w.WriteFrame(ipc.TagShutdown, nil); err != nil {
					return nil, fmt.Errorf("rpc: send cancel: %w", err)
				}
			}
		case err := <-c.readErr:
			return nil, err
		case f := <-c.frames:
			switch f.Tag {
			case ipc.TagProgress:
				if cancelling {
					continue
				}
				var p progress.Progress
				if err := decode(f.Payload, &p); err != nil {
					return nil, fmt.Errorf("%w: decode progress: %v", ErrProtocolViolation, err)
				}
				if onProgress != nil {
					onProgress(p)
				}
			case ipc.TagResult:
				if cancelling {
					return nil, ErrCancelled
				}
				var env envelope
				if err := decode(f.Payload, &env); err != nil {
					return nil, fmt.Errorf("%w: decode result: %v", ErrProtocolViolation, err)
				}
				if env.Err != "" {
					logger.Debug("received result", "error", env.Err)
					return nil, fmt.Errorf("%w: %s", ErrHandler, env.Err)
				}
				logger.Debug("received result")
				return env.Payload, nil
			default:
				return nil, fmt.Errorf("%w: unexpected tag %s", ErrProtocolViolation, f.Tag)
			}
		}
	}
}

// Shutdown sends a Shutdown frame with no request in flight and waits for
// either an acknowledging Shutdown frame or the transport to close.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.w.WriteFrame(ipc.TagShutdown, nil); err != nil {
		return fmt.Errorf("rpc: send shutdown: %w", err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-c.readErr:
		if errors.Is(err, ipc.ErrWorkerGone) {
			return nil // worker exited, which is the expected outcome of Shutdown
		}
		return err
	case f := <-c.frames:
		if f.Tag == ipc.TagShutdown {
			return nil
		}
		return fmt.Errorf("%w: unexpected tag %s during shutdown", ErrProtocolViolation, f.Tag)
	}
}

// RegisterType registers a concrete type for gob encoding/decoding as an
// envelope payload. Worker request/result types call this in an init()
// before any Client is used.
func RegisterType(value any) {
	gob.Register(value)
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
