// Command ideport is a CLI wrapper around the session façade: it can run
// as the client-facing "serve" process (driving a session from a simple
// line-oriented protocol on stdin/stdout) or re-exec itself as the
// "worker" process a session spawns to host the compiler.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	// A session spawns its worker by re-executing this same binary with
	// the literal argv shape the protocol defines: "--server" <static
	// options...> "--ghc-opts-end" <transport parameter>. That shape has
	// no subcommand name in it (the binary itself *is* the worker when
	// invoked this way), so it is intercepted here before cobra's own
	// subcommand dispatch ever sees it.
	if len(os.Args) > 1 && os.Args[1] == "--server" {
		if err := runWorker(context.Background(), os.Args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, "ideport:", err)
			os.Exit(1)
		}
		return
	}

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ideport:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ideport",
		Short:         "Interactive compilation session host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(buildServeCmd(), buildBuildCmd())
	return cmd
}
