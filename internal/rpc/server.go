package rpc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ideport/ideport/internal/ipc"
	"github.com/ideport/ideport/internal/progress"
)

// Handler services one decoded request and returns the terminal result
// value, which is gob-encoded into the Result frame. It has no progress
// sender; Serve dispatches to a HandlerFunc, which does.
type Handler func(ctx context.Context, payload any) (any, error)

// Server speaks the worker (child) side of the progress-RPC protocol: it
// reads Request frames, dispatches exactly one at a time to a Handler,
// relays progress, and writes the terminal Result frame. A Shutdown frame
// received while a request is in flight cancels that request's context,
// per spec §4.6's cancellation contract.
type Server struct {
	w      *ipc.Writer
	r      *ipc.Reader
	logger *slog.Logger

	writeMu sync.Mutex
}

// NewServer wraps rw for the worker side of the connection.
func NewServer(w io.Writer, r io.Reader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{w: ipc.NewWriter(w), r: ipc.NewReader(r), logger: logger.With("component", "rpc.server")}
}

// progressSink is passed to the handler so it can stream progress without
// knowing about framing.
type progressSink struct {
	s  *Server
	id any
}

func (ps progressSink) Send(p progress.Progress) {
	ps.s.writeMu.Lock()
	defer ps.s.writeMu.Unlock()
	data, err := encode(p)
	if err != nil {
		ps.s.logger.Error("encode progress", "error", err)
		return
	}
	if err := ps.s.w.WriteFrame(ipc.TagProgress, data); err != nil {
		ps.s.logger.Error("write progress frame", "error", err)
	}
}

// HandlerFunc is the shape dispatch expects; it additionally receives a
// progress sender bound to the current request.
type HandlerFunc func(ctx context.Context, payload any, send func(progress.Progress)) (any, error)

// Serve runs the dispatch loop until the transport closes, ctx is
// cancelled, or a fatal protocol error occurs. Exactly one request is
// serviced at a time; a Shutdown frame arriving mid-request cancels that
// request's context rather than stopping the loop, unless no request is
// in flight, in which case Serve returns nil (a graceful shutdown ack is
// the caller's responsibility via the same frame already having been
// read).
func (s *Server) Serve(ctx context.Context, handler HandlerFunc) error {
	frames := make(chan ipc.Frame)
	readErr := make(chan error, 1)
	go func() {
		for {
			f, err := s.r.ReadFrame()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		cancel    context.CancelFunc
		requestID any
		done      chan struct{} // non-nil iff a request is in flight; closed by dispatch on completion
	)

	for {
		select {
		case <-ctx.Done():
			if cancel != nil {
				cancel()
			}
			return ctx.Err()
		case err := <-readErr:
			if cancel != nil {
				cancel()
			}
			return err
		case <-done:
			cancel = nil
			requestID = nil
			done = nil
		case f := <-frames:
			switch f.Tag {
			case ipc.TagRequest:
				if done != nil {
					s.logger.Warn("request received while another is in flight, ignoring")
					continue
				}
				var env envelope
				if err := decode(f.Payload, &env); err != nil {
					if cancel != nil {
						cancel()
					}
					return fmt.Errorf("%w: decode request: %v", ErrProtocolViolation, err)
				}
				requestID = env.ID
				var reqCtx context.Context
				reqCtx, cancel = context.WithCancel(ctx)
				done = make(chan struct{})
				go s.dispatch(reqCtx, env, handler, done)
			case ipc.TagShutdown:
				if done != nil && cancel != nil {
					s.logger.Debug("cancelling in-flight request", "request_id", requestID)
					cancel()
					continue
				}
				return nil
			default:
				if cancel != nil {
					cancel()
				}
				return fmt.Errorf("%w: unexpected tag %s", ErrProtocolViolation, f.Tag)
			}
		}
	}
}

// dispatch always writes exactly one terminal Result frame, success or
// failure: a handler error (including ctx cancellation — noop.Engine
// returns ctx.Err() on a cancelled Compile/Run) must still unblock
// Client.Call rather than leaving it waiting on a frame that never comes.
// A Shutdown-triggered cancellation resolves via Call's own "cancelling"
// drain, which treats any Result frame as terminal regardless of content;
// a handler error unrelated to cancellation surfaces to the caller as
// ErrHandler.
func (s *Server) dispatch(ctx context.Context, env envelope, handler HandlerFunc, done chan struct{}) {
	defer close(done)
	sink := progressSink{s: s, id: env.ID}
	result, err := handler(ctx, env.Payload, sink.Send)

	var resultEnv envelope
	if err != nil {
		s.logger.Error("handler returned error", "error", err, "request_id", env.ID)
		resultEnv = envelope{ID: env.ID, Err: err.Error()}
	} else {
		resultEnv = envelope{ID: env.ID, Payload: result}
	}

	data, encErr := encode(resultEnv)
	if encErr != nil {
		s.logger.Error("encode result", "error", encErr)
		data, encErr = encode(envelope{ID: env.ID, Err: fmt.Sprintf("encode result: %v", encErr)})
		if encErr != nil {
			s.logger.Error("encode result-error fallback", "error", encErr)
			return
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.w.WriteFrame(ipc.TagResult, data); err != nil {
		s.logger.Error("write result frame", "error", err)
	}
}
