package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swissparam/cli/cmd/swissparam/cli/session"
)

func newDebugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "debug",
		Short:  "Developer tools",
		Hidden: true,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "state-machine",
		Short: "Print the session state machine as a Mermaid diagram",
		Args:  noArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), session.MermaidDiagram())
		},
	})
	return cmd
}
