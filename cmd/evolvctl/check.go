package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rawbytedev/evolv/manifest"
	"github.com/spf13/cobra"
)

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate a manifest and print the size of every evolution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.LoadFile(opts.manifest)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LINE\tVERSION\tTYPE\tSIZE\tALIGN")
			for _, l := range m.Lines {
				for _, s := range l.Layout() {
					fmt.Fprintf(w, "%s\tv%d\t%s\t%d\t%d\n", l.Name, s.Version, s.TypeName, s.Size, s.Align)
				}
			}
			return w.Flush()
		},
	}
}
