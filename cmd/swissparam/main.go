package main

import (
	"context"
	"fmt"
	"os"

	"github.com/swissparam/cli/cmd/swissparam/cli"
)

func main() {
	// Interrupts are handled by the session lifecycle, which cancels the
	// remote job first. The context is therefore not tied to signals.
	ctx := context.Background()

	rootCmd := cli.NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), cli.Describe(err))
		os.Exit(cli.ExitCode(err))
	}
}
