package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/ideport/ideport/internal/observability"
	"github.com/ideport/ideport/internal/progress"
	"github.com/ideport/ideport/internal/rpc"
)

// SpawnWorker returns a ConnFactory that re-executes binaryPath with the
// worker invocation spec §6 describes: `["--server", <staticOptions...>,
// "--ghc-opts-end", <transportParam>]`. The child's stdin/stdout carry the
// framed RPC protocol; its stderr is logged at Debug and never parsed
// (spec §6), matching the teacher's StdioTransport.Connect treatment of a
// subprocess's stderr stream. logger relays that stderr through
// observability.Logger's redaction rather than a bare *slog.Logger,
// because a worker run under a SetEnvOverlay-staged secret can echo it
// back on stderr; metrics may be nil.
func SpawnWorker(binaryPath string, staticOptions []string, transportParam string, logger *observability.Logger, metrics *observability.Metrics) ConnFactory {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return func() (workerConn, error) {
		args := append([]string{"--server"}, staticOptions...)
		args = append(args, "--ghc-opts-end", transportParam)

		cmd := exec.Command(binaryPath, args...)

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("session: worker stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("session: worker stdout pipe: %w", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("session: worker stderr pipe: %w", err)
		}

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("session: start worker: %w", err)
		}

		go logStderr(stderr, logger)

		client := rpc.NewClient(stdin, stdout, logger.Slog(), metrics)
		return &procConn{client: client, cmd: cmd}, nil
	}
}

// logStderr drains the worker's stderr line by line into the redacting
// logger at Debug level. It is human-eyes-only output, never parsed for
// protocol meaning (spec §6).
func logStderr(r io.Reader, logger *observability.Logger) {
	ctx := context.Background()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debug(ctx, "worker stderr", "line", scanner.Text())
	}
}

// procConn adapts a subprocess-backed *rpc.Client to workerConn, ensuring
// the OS process is reaped once the worker protocol shuts down.
type procConn struct {
	client *rpc.Client
	cmd    *exec.Cmd
}

func (p *procConn) Call(ctx context.Context, payload any, onProgress func(progress.Progress)) (any, error) {
	return p.client.Call(ctx, payload, onProgress)
}

func (p *procConn) Shutdown(ctx context.Context) error {
	if err := p.client.Shutdown(ctx); err != nil {
		return err
	}
	return p.cmd.Wait()
}

func (p *procConn) Stop() {
	p.client.Stop()
	_ = p.cmd.Process.Kill()
	p.cmd.Wait()
}
