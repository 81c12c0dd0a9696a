// Command evolvctl generates evolution lines from manifests and inspects
// archived evolutions.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

const (
	exitSuccess = 0
	exitError   = 1
)

type options struct {
	manifest string
	verbose  bool
	logger   *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "evolvctl",
		Short:         "Work with zero-copy evolution lines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			opts.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		},
	}
	root.PersistentFlags().StringVarP(&opts.manifest, "manifest", "m", "evolv.yaml", "line manifest")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	root.AddCommand(newGenCmd(opts), newCheckCmd(opts), newInspectCmd(opts))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "evolvctl: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}
