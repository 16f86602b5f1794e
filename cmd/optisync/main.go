// Command optisync replays reconciliation scenarios, inspects the durable
// cache and syncs a collection against a remote.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/roach88/optisync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		// Commands that already reported the error return an ExitError.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
