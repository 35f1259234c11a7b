package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	ideportconfig "github.com/ideport/ideport/internal/config"
	"github.com/ideport/ideport/internal/build/noop"
	"github.com/ideport/ideport/internal/observability"
	"github.com/ideport/ideport/internal/session"
	"github.com/ideport/ideport/internal/update"
)

// buildServeCmd builds the "serve" command: it starts a session against a
// sources directory and drives it from a simple line-oriented protocol on
// stdin/stdout, playing the role a client IDE would in spec §6.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		dataDir    string
		tempDir    string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve [sources-dir]",
		Short: "Start a compilation session and drive it from stdin/stdout",
		Long: `Start a compilation session against a sources directory and drive it from
a simple line-oriented protocol on stdin/stdout:

  put <module> <bytes>\n<content>   stage a source module, then read <bytes> raw bytes
  delete <module>                   stage a delete of a source module
  compile                           apply staged mutations and recompile
  errors                            print diagnostics from the last compile as JSON
  modules                           print loaded module names
  run <module> <identifier>         run an entry point, streaming output
  build-exe <target...>             build executables for the named targets
  build-doc                         build documentation
  quit                              shut down the session and exit

Each command prints one line of status, prefixed "ok" or "error".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourcesDir := "."
			if len(args) == 1 {
				sourcesDir = args[0]
			}
			return runServe(cmd.Context(), serveOptions{
				SourcesDir: sourcesDir,
				DataDir:    dataDir,
				TempDir:    tempDir,
				ConfigPath: configPath,
				Debug:      debug,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or JSON5 session config file")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Runtime working directory for RunStmt (defaults to sources-dir)")
	cmd.Flags().StringVar(&tempDir, "temp-dir", "", "Directory for build/doc artifacts and worker transport (defaults to a temp dir)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

type serveOptions struct {
	SourcesDir string
	DataDir    string
	TempDir    string
	ConfigPath string
	Debug      bool
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := resolveServeConfig(opts)
	if err != nil {
		return err
	}

	level := "info"
	if opts.Debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Output: os.Stderr,
		Format: "text",
		Level:  level,
	})
	metrics := observability.NewMetrics("ideport", nil)

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("serve: locate own executable: %w", err)
	}
	connFactory := session.SpawnWorker(exe, cfg.StaticOptions, cfg.TempDir, logger, metrics)

	s, err := session.Init(cfg, connFactory, noop.New(), logger.Slog(), metrics)
	if err != nil {
		return fmt.Errorf("serve: init session: %w", err)
	}
	defer s.Shutdown()

	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	if interactive {
		fmt.Fprintf(os.Stdout, "ideport session %s ready, sources %s\n", s.ID(), cfg.SourcesDir)
	}

	return newREPL(s).run(ctx, os.Stdin, os.Stdout)
}

func resolveServeConfig(opts serveOptions) (session.Config, error) {
	var cfg session.Config
	if opts.ConfigPath != "" {
		loaded, err := ideportconfig.Load(opts.ConfigPath)
		if err != nil {
			return session.Config{}, fmt.Errorf("serve: %w", err)
		}
		cfg = loaded
	}
	if opts.SourcesDir != "" && opts.SourcesDir != "." {
		cfg.SourcesDir = opts.SourcesDir
	}
	if cfg.SourcesDir == "" {
		cfg.SourcesDir = "."
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if cfg.DataDir == "" {
		cfg.DataDir = cfg.SourcesDir
	}
	if opts.TempDir != "" {
		cfg.TempDir = opts.TempDir
	}
	if cfg.TempDir == "" {
		dir, err := os.MkdirTemp("", "ideport-worker-")
		if err != nil {
			return session.Config{}, fmt.Errorf("serve: create temp dir: %w", err)
		}
		cfg.TempDir = dir
		cfg.DeleteTempOnShutdown = true
	}
	return cfg, nil
}

// repl drives a *session.Session from the line protocol documented on
// buildServeCmd. It holds the current session value, replacing it with
// whatever UpdateFiles/UpdateSession returns, matching the façade's
// fresh-snapshot-per-mutation design.
type repl struct {
	s     *session.Session
	batch update.Batch
}

func newREPL(s *session.Session) *repl {
	return &repl{s: s, batch: update.Empty()}
}

func (r *repl) run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewReader(in)
	for {
		line, err := scanner.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			r.dispatch(ctx, scanner, out, line)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (r *repl) dispatch(ctx context.Context, in *bufio.Reader, out io.Writer, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "put":
		r.cmdPut(in, out, args)
	case "delete":
		r.cmdDelete(out, args)
	case "compile":
		r.cmdCompile(out)
	case "errors":
		r.cmdErrors(out)
	case "modules":
		r.cmdModules(out)
	case "run":
		r.cmdRun(out, args)
	case "build-exe":
		r.cmdBuildExe(out, args)
	case "build-doc":
		r.cmdBuildDoc(out)
	case "quit":
		r.s.Shutdown()
		fmt.Fprintln(out, "ok bye")
		os.Exit(0)
	default:
		fmt.Fprintf(out, "error unknown command %q\n", cmd)
	}
}

func (r *repl) cmdPut(in *bufio.Reader, out io.Writer, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(out, "error usage: put <module> <bytes>")
		return
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintln(out, "error bad byte count:", err)
		return
	}
	content := make([]byte, n)
	if _, err := io.ReadFull(in, content); err != nil {
		fmt.Fprintln(out, "error reading content:", err)
		return
	}
	in.ReadString('\n')
	r.batch = update.PutModule(r.batch, args[0], content)
	fmt.Fprintln(out, "ok staged")
}

func (r *repl) cmdDelete(out io.Writer, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(out, "error usage: delete <module>")
		return
	}
	r.batch = update.DeleteModule(r.batch, args[0])
	fmt.Fprintln(out, "ok staged")
}

func (r *repl) cmdCompile(out io.Writer) {
	s1, err := r.s.UpdateFiles(r.batch)
	if err != nil {
		fmt.Fprintln(out, "error", err)
		return
	}
	r.batch = update.Empty()

	h, err := s1.UpdateSession()
	if err != nil {
		fmt.Fprintln(out, "error", err)
		return
	}
	for p := range h.Progress() {
		fmt.Fprintf(out, "progress %d %s\n", p.Step, p.Message)
	}
	s2, err := h.Wait()
	if err != nil {
		fmt.Fprintln(out, "error", err)
		return
	}
	r.s = s2
	fmt.Fprintln(out, "ok compiled")
}

func (r *repl) cmdErrors(out io.Writer) {
	errs, err := r.s.GetSourceErrors()
	if err != nil {
		fmt.Fprintln(out, "error", err)
		return
	}
	b, _ := json.Marshal(errs)
	fmt.Fprintln(out, "ok", string(b))
}

func (r *repl) cmdModules(out io.Writer) {
	mods, err := r.s.GetLoadedModules()
	if err != nil {
		fmt.Fprintln(out, "error", err)
		return
	}
	fmt.Fprintln(out, "ok", strings.Join(mods, " "))
}

func (r *repl) cmdRun(out io.Writer, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(out, "error usage: run <module> <identifier>")
		return
	}
	h, err := r.s.RunStmt(args[0], args[1])
	if err != nil {
		fmt.Fprintln(out, "error", err)
		return
	}
	for p := range h.Progress() {
		if p.IsOutput() {
			out.Write(p.Output)
		} else {
			fmt.Fprintf(out, "progress %d %s\n", p.Step, p.Message)
		}
	}
	outcome, err := h.Wait()
	if err != nil {
		fmt.Fprintln(out, "error", err)
		return
	}
	fmt.Fprintln(out, "ok", outcome.Status, outcome.Message)
}

func (r *repl) cmdBuildExe(out io.Writer, targets []string) {
	code, err := r.s.BuildExecutable(targets)
	if err != nil {
		fmt.Fprintln(out, "error", err)
		return
	}
	fmt.Fprintln(out, "ok exit", code)
}

func (r *repl) cmdBuildDoc(out io.Writer) {
	code, err := r.s.BuildDoc()
	if err != nil {
		fmt.Fprintln(out, "error", err)
		return
	}
	fmt.Fprintln(out, "ok exit", code)
}
