package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/rawbytedev/evolv/internal/gen"
	"github.com/rawbytedev/evolv/manifest"
	"github.com/spf13/cobra"
)

func newGenCmd(opts *options) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate Go types for the lines of a manifest",
		Long: `Generate Go types for the lines of a manifest.

The output holds one struct per evolution, each embedding its predecessor,
the line registration, compile-time growth assertions and a probe type with
one accessor per field. With --out - the source is written to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.LoadFile(opts.manifest)
			if err != nil {
				return err
			}
			src, err := gen.Generate(m)
			if err != nil {
				return err
			}
			if out == "-" {
				_, err = cmd.OutOrStdout().Write(src)
				return err
			}
			if out == "" {
				out = filepath.Join(filepath.Dir(opts.manifest), gen.FileName(m))
			}
			if err := os.WriteFile(out, src, 0644); err != nil {
				return errors.Wrapf(err, "write %s", out)
			}
			opts.logger.Info("generated", slog.String("file", out), slog.Int("lines", len(m.Lines)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, - for stdout (default next to the manifest)")
	return cmd
}
