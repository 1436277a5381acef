package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/hashcons/internal/store"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stats",
		Short:         "Print vertex and edge counts",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, cmd)
		},
	}
	return cmd
}

func runStats(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	ctx := cmd.Context()

	b, err := openBackend(ctx, opts)
	if err != nil {
		return err
	}
	defer closeBackend(b, opts)

	var stats store.Stats
	err = b.store.View(ctx, func(sess *store.Session) error {
		stats, err = sess.Stats(ctx)
		return err
	})
	if err != nil {
		return failAtom(formatter, "stats failed", err)
	}

	if opts.Format == "json" {
		return formatter.Success(stats)
	}

	w := formatter.Writer
	printer.Fprintf(w, "vertices: %d\n", stats.Vertices)
	printer.Fprintf(w, "edges: %d\n", stats.Edges)
	printer.Fprintf(w, "leaves: %d\n", stats.Leaves)
	printer.Fprintf(w, "composites: %d\n", stats.Composites)
	return nil
}
