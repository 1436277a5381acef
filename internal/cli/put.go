package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/hashcons/internal/atom"
	"github.com/roach88/hashcons/internal/dag"
	"github.com/roach88/hashcons/internal/store"
)

// PutRoot is one stored tree.
type PutRoot struct {
	Tree        string `json:"tree"`
	ID          int64  `json:"id"`
	Fingerprint string `json:"fingerprint"`
}

// PutResult holds the identities of stored trees.
type PutResult struct {
	Roots   []PutRoot `json:"roots"`
	Created int64     `json:"created"`
	Hits    int64     `json:"hits"`
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <tree>...",
		Short: "Store trees and print their identities",
		Long: `Store one or more trees in a single session and print each root's
identity and fingerprint.

Trees use expression notation: leaves are Type('value'), composites are
Type(child, child, ...).

Example:
  hashcons put "Link_B(Node_A('v1'), Node_A('v1'))"
  hashcons put "A('x')" "P(A('x'), A('y'))" --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runPut(opts *RootOptions, exprs []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	ctx := cmd.Context()

	trees := make([]*atom.Tree, len(exprs))
	for i, expr := range exprs {
		t, err := atom.ParseTree(expr)
		if err != nil {
			return fail(formatter, ExitCommandError, ErrCodeInvalidTree, "invalid tree "+expr, err)
		}
		trees[i] = t
	}

	b, err := openBackend(ctx, opts)
	if err != nil {
		return err
	}
	defer closeBackend(b, opts)

	var result PutResult
	var sessionID string
	err = b.store.Update(ctx, func(sess *store.Session) error {
		ids, err := dag.NewBuilder(sess).ResolveAll(ctx, trees)
		if err != nil {
			return err
		}
		result.Roots = make([]PutRoot, len(ids))
		for i, id := range ids {
			result.Roots[i] = PutRoot{
				Tree:        atom.FormatTree(trees[i]),
				ID:          int64(id),
				Fingerprint: atom.Fingerprint(trees[i]).String(),
			}
		}
		c := sess.Counters()
		result.Created = c.Created
		result.Hits = c.Hits
		sessionID = sess.ID()
		return nil
	})
	if err != nil {
		return failAtom(formatter, "put failed", err)
	}

	if opts.Format == "json" {
		return formatter.SuccessInSession(result, sessionID)
	}

	w := formatter.Writer
	for _, r := range result.Roots {
		fmt.Fprintf(w, "%d\t%s\t%s\n", r.ID, r.Fingerprint[:12], r.Tree)
	}
	formatter.VerboseLog("session %s: created %d, reused %d", sessionID, result.Created, result.Hits)
	return nil
}
