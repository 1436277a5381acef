package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/hashcons/internal/atom"
	"github.com/roach88/hashcons/internal/dag"
	"github.com/roach88/hashcons/internal/graph"
	"github.com/roach88/hashcons/internal/store"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Indent bool
}

// ShowResult is a tree rebuilt from the store.
type ShowResult struct {
	ID          int64  `json:"id"`
	Tree        string `json:"tree"`
	Nodes       int    `json:"nodes"`
	Fingerprint string `json:"fingerprint"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print the tree stored under an identity",
		Long: `Rebuild the tree rooted at an identity and print it in expression
notation together with its fingerprint.

Example:
  hashcons show 42
  hashcons show 42 --indent`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Indent, "indent", false, "print one node per line")

	return cmd
}

func runShow(opts *ShowOptions, arg string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return fail(formatter, ExitCommandError, ErrCodeGeneric, "invalid identity "+strconv.Quote(arg),
			errors.New("must be a positive integer"))
	}

	b, err := openBackend(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeBackend(b, opts.RootOptions)

	var tree *atom.Tree
	err = b.store.View(ctx, func(sess *store.Session) error {
		tree, err = dag.Expand(ctx, sess, atom.Identity(id))
		return err
	})
	if errors.Is(err, graph.ErrNotFound) {
		return fail(formatter, ExitFailure, ErrCodeNotFound, fmt.Sprintf("identity %d", id), err)
	}
	if err != nil {
		return failAtom(formatter, "show failed", err)
	}

	result := ShowResult{
		ID:          id,
		Tree:        atom.FormatTree(tree),
		Nodes:       tree.Size(),
		Fingerprint: atom.Fingerprint(tree).String(),
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	if opts.Indent {
		fmt.Fprintln(w, atom.FormatTreeIndented(tree))
	} else {
		fmt.Fprintln(w, result.Tree)
	}
	fmt.Fprintf(w, "fingerprint: %s\n", result.Fingerprint)
	printer.Fprintf(w, "nodes: %d\n", result.Nodes)
	return nil
}
