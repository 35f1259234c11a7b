package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ideport/ideport/internal/build/noop"
	"github.com/ideport/ideport/internal/observability"
	"github.com/ideport/ideport/internal/session"
)

// buildBuildCmd builds the "build" command group: a one-shot compile
// followed by a package-build invocation, for callers that don't need an
// interactive session (spec §4.8's build facility used standalone).
func buildBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile a sources directory and build an executable or documentation",
	}
	cmd.AddCommand(buildBuildExeCmd(), buildBuildDocCmd())
	return cmd
}

func buildBuildExeCmd() *cobra.Command {
	var configPath, dataDir, tempDir string
	cmd := &cobra.Command{
		Use:   "exe [sources-dir] [target...]",
		Short: "Compile and build executables for the named targets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := serveOptions{SourcesDir: args[0], DataDir: dataDir, TempDir: tempDir, ConfigPath: configPath}
			return runBuild(cmd.Context(), opts, args[1:], false)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or JSON5 session config file")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Runtime working directory (defaults to sources-dir)")
	cmd.Flags().StringVar(&tempDir, "temp-dir", "", "Directory for build artifacts and worker transport")
	return cmd
}

func buildBuildDocCmd() *cobra.Command {
	var configPath, dataDir, tempDir string
	cmd := &cobra.Command{
		Use:   "doc [sources-dir]",
		Short: "Compile and build HTML documentation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourcesDir := "."
			if len(args) == 1 {
				sourcesDir = args[0]
			}
			opts := serveOptions{SourcesDir: sourcesDir, DataDir: dataDir, TempDir: tempDir, ConfigPath: configPath}
			return runBuild(cmd.Context(), opts, nil, true)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or JSON5 session config file")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Runtime working directory (defaults to sources-dir)")
	cmd.Flags().StringVar(&tempDir, "temp-dir", "", "Directory for build artifacts and worker transport")
	return cmd
}

func runBuild(ctx context.Context, opts serveOptions, targets []string, doc bool) error {
	cfg, err := resolveServeConfig(opts)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(observability.LogConfig{Output: os.Stderr, Format: "text", Level: "info"})
	metrics := observability.NewMetrics("ideport", nil)

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("build: locate own executable: %w", err)
	}
	connFactory := session.SpawnWorker(exe, cfg.StaticOptions, cfg.TempDir, logger, metrics)

	s, err := session.Init(cfg, connFactory, noop.New(), logger.Slog(), metrics)
	if err != nil {
		return fmt.Errorf("build: init session: %w", err)
	}
	defer s.Shutdown()

	h, err := s.UpdateSession()
	if err != nil {
		return fmt.Errorf("build: compile: %w", err)
	}
	for range h.Progress() {
	}
	s2, err := h.Wait()
	if err != nil {
		return fmt.Errorf("build: compile: %w", err)
	}

	errs, err := s2.GetSourceErrors()
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	for _, d := range errs {
		if d.IsError() {
			return fmt.Errorf("build: source has errors, not building")
		}
	}

	var code int
	if doc {
		code, err = s2.BuildDoc()
	} else {
		code, err = s2.BuildExecutable(targets)
	}
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("build: exited with code %d", code)
	}
	return nil
}
