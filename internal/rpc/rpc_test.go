package rpc

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ideport/ideport/internal/ipc"
	"github.com/ideport/ideport/internal/progress"
)

type echoRequest struct {
	Steps   int
	Message string
}

type echoResult struct {
	Message string
}

func init() {
	RegisterType(echoRequest{})
	RegisterType(echoResult{})
}

// pipePair returns two io.ReadWriteClosers connected to each other, one
// for the client side and one for the server side of a loopback transport.
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

func TestCallReceivesProgressThenResult(t *testing.T) {
	cr, cw, sr, sw, closeAll := pipePair()
	defer closeAll()

	client := NewClient(cw, cr, nil, nil)
	defer client.Stop()
	server := NewServer(sw, sr, nil)

	serverCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.Serve(serverCtx, func(ctx context.Context, payload any, send func(progress.Progress)) (any, error) {
		req := payload.(echoRequest)
		p := progress.New()
		for i := 0; i < req.Steps; i++ {
			p = progress.Update(p, req.Message)
			send(p)
		}
		return echoResult{Message: req.Message}, nil
	})

	var steps []int
	result, err := client.Call(context.Background(), echoRequest{Steps: 3, Message: "hi"}, func(p progress.Progress) {
		steps = append(steps, p.Step)
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	res, ok := result.(echoResult)
	if !ok || res.Message != "hi" {
		t.Fatalf("result = %#v", result)
	}
	if len(steps) != 3 {
		t.Fatalf("steps = %v, want 3 progress events", steps)
	}
	for i, s := range steps {
		if s != i+2 {
			t.Errorf("step[%d] = %d, want %d", i, s, i+2)
		}
	}
}

func TestCallCancellation(t *testing.T) {
	cr, cw, sr, sw, closeAll := pipePair()
	defer closeAll()

	client := NewClient(cw, cr, nil, nil)
	defer client.Stop()
	server := NewServer(sw, sr, nil)

	serverCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go server.Serve(serverCtx, func(ctx context.Context, payload any, send func(progress.Progress)) (any, error) {
		close(started)
		<-ctx.Done() // wait to be cancelled by the incoming Shutdown frame
		return echoResult{Message: "aborted"}, nil
	})

	callCtx, cancelCall := context.WithCancel(context.Background())
	resultCh := make(chan error, 1)
	go func() {
		_, err := client.Call(callCtx, echoRequest{Steps: 0, Message: "slow"}, nil)
		resultCh <- err
	}()

	<-started
	cancelCall()

	select {
	case err := <-resultCh:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("err = %v, want ErrCancelled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Call did not return after cancellation")
	}
}

// TestCallCancellationWithHandlerError covers the case where the handler
// itself returns a non-nil error once its context is cancelled (as
// engine.Engine implementations do: Compile/Run return ctx.Err()).
// dispatch must still send a terminal Result frame, or Call hangs forever
// instead of resolving to ErrCancelled.
func TestCallCancellationWithHandlerError(t *testing.T) {
	cr, cw, sr, sw, closeAll := pipePair()
	defer closeAll()

	client := NewClient(cw, cr, nil, nil)
	defer client.Stop()
	server := NewServer(sw, sr, nil)

	serverCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go server.Serve(serverCtx, func(ctx context.Context, payload any, send func(progress.Progress)) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	callCtx, cancelCall := context.WithCancel(context.Background())
	resultCh := make(chan error, 1)
	go func() {
		_, err := client.Call(callCtx, echoRequest{Steps: 0, Message: "slow"}, nil)
		resultCh <- err
	}()

	<-started
	cancelCall()

	select {
	case err := <-resultCh:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("err = %v, want ErrCancelled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Call did not return after cancellation (handler error dropped the terminal frame)")
	}
}

// TestCallHandlerErrorSurfaces covers a handler error unrelated to
// cancellation: Call must return a usable error rather than hang, and must
// not mistake the failure for a successful zero-value result.
func TestCallHandlerErrorSurfaces(t *testing.T) {
	cr, cw, sr, sw, closeAll := pipePair()
	defer closeAll()

	client := NewClient(cw, cr, nil, nil)
	defer client.Stop()
	server := NewServer(sw, sr, nil)

	serverCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.Serve(serverCtx, func(ctx context.Context, payload any, send func(progress.Progress)) (any, error) {
		return nil, errors.New("boom")
	})

	result, err := client.Call(context.Background(), echoRequest{Message: "x"}, nil)
	if !errors.Is(err, ErrHandler) {
		t.Fatalf("err = %v, want ErrHandler", err)
	}
	if result != nil {
		t.Errorf("result = %#v, want nil on handler error", result)
	}
}

func TestCallWorkerGone(t *testing.T) {
	cr, cw, sr, sw, closeAll := pipePair()
	defer closeAll()

	client := NewClient(cw, cr, nil, nil)
	defer client.Stop()

	// Drain the request frame so the client's write can complete, then
	// close the server's write end to simulate the worker disappearing
	// mid-request.
	go func() {
		r := ipc.NewReader(sr)
		r.ReadFrame()
		sw.(*io.PipeWriter).Close()
	}()

	_, err := client.Call(context.Background(), echoRequest{Message: "x"}, nil)
	if !errors.Is(err, ErrWorkerGone) {
		t.Errorf("err = %v, want ErrWorkerGone", err)
	}
}
