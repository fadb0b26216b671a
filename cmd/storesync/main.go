// Command storesync runs and operates an offline-first store node.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/storesync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
