package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/rawbytedev/evolv"
	"github.com/rawbytedev/evolv/archive"
	"github.com/rawbytedev/evolv/manifest"
	"github.com/rawbytedev/evolv/store"
	"github.com/spf13/cobra"
)

func newInspectCmd(opts *options) *cobra.Command {
	var db string
	cmd := &cobra.Command{
		Use:   "inspect [file... | --db dir key...]",
		Short: "Show which version of each manifest line an archive holds",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.LoadFile(opts.manifest)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if db == "" {
				for _, path := range args {
					if err := inspectFile(out, m, path); err != nil {
						return err
					}
				}
				return nil
			}
			cfg := store.DefaultConfig(db)
			cfg.GCInterval = 0
			cfg.Logger = opts.logger
			s, err := store.Open(cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			for _, key := range args {
				err := s.ViewAny([]byte(key), func(p evolv.AnyProbe) error {
					report(out, m, key, p.Len())
					return nil
				})
				if err != nil {
					return err
				}
				opts.logger.Debug("inspected key", slog.String("key", key))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "read keys from the store in this directory instead of files")
	return cmd
}

func inspectFile(w io.Writer, m *manifest.Manifest, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	payload, h, err := archive.DecodeFrame(data)
	if err != nil {
		return errors.Wrapf(err, "%s", path)
	}
	if h.Flags&archive.FlagEvolutionRoot == 0 {
		return errors.Newf("%s: frame does not hold an evolution", path)
	}
	p, err := evolv.AccessAny(payload)
	if err != nil {
		return errors.Wrapf(err, "%s", path)
	}
	report(w, m, path, p.Len())
	return nil
}

// report prints, for every line, the version whose size matches n or the
// newest version n can be read as.
func report(w io.Writer, m *manifest.Manifest, name string, n int) {
	fmt.Fprintf(w, "%s: %d bytes\n", name, n)
	for _, l := range m.Lines {
		exact, readable := "", ""
		for _, s := range l.Layout() {
			if s.Size == n {
				exact = s.TypeName
			}
			if s.Size <= n {
				readable = s.TypeName
			}
		}
		switch {
		case exact != "":
			fmt.Fprintf(w, "  %s: %s\n", l.Name, exact)
		case readable != "":
			fmt.Fprintf(w, "  %s: unknown, readable as %s\n", l.Name, readable)
		default:
			fmt.Fprintf(w, "  %s: too short\n", l.Name)
		}
	}
}
