package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/hashcons/internal/atom"
	"github.com/roach88/hashcons/internal/store"
)

// DumpRecord is one stored atom in JSON output.
type DumpRecord struct {
	ID       int64   `json:"id"`
	Kind     string  `json:"kind"`
	Type     string  `json:"type"`
	Value    *string `json:"value,omitempty"`
	Children []int64 `json:"children,omitempty"`
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "List every stored atom",
		Long: `List every stored atom in identity order, one per line:

  Leaf[1]: Node_A('v1')
  Composite[2]: Link_B([1 1])`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(rootOpts, cmd)
		},
	}
	return cmd
}

func runDump(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	ctx := cmd.Context()

	b, err := openBackend(ctx, opts)
	if err != nil {
		return err
	}
	defer closeBackend(b, opts)

	if opts.Format != "json" {
		err := b.store.View(ctx, func(sess *store.Session) error {
			return sess.Dump(ctx, formatter.Writer)
		})
		if err != nil {
			return failAtom(formatter, "dump failed", err)
		}
		return nil
	}

	records := []DumpRecord{}
	err = b.store.View(ctx, func(sess *store.Session) error {
		for rec, err := range sess.Atoms(ctx) {
			if err != nil {
				return err
			}
			r := DumpRecord{
				ID:   int64(rec.ID),
				Kind: rec.Atom.Kind.String(),
				Type: rec.Atom.Type,
			}
			if rec.Atom.Kind == atom.KindLeaf {
				v := rec.Atom.Value
				r.Value = &v
			}
			for _, c := range rec.Atom.Children {
				r.Children = append(r.Children, int64(c))
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return failAtom(formatter, "dump failed", err)
	}
	return formatter.Success(records)
}
