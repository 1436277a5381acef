// hashcons stores trees of typed atoms in a content-addressed graph.
//
// Usage:
//
//	hashcons put "Link_B(Node_A('v1'), Node_A('v1'))"
//	hashcons show 2
//	hashcons generate -n 1000 --backend badger --db ./atoms
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/hashcons/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
