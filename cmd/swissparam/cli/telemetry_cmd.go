package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swissparam/cli/cmd/swissparam/cli/settings"
	"github.com/swissparam/cli/cmd/swissparam/cli/telemetry"
)

func newTelemetryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "telemetry [on|off]",
		Short:     "Show or change anonymous usage reporting",
		Long:      "Anonymous usage reporting is off by default. It records which command ran,\nthe names of the flags that were set and whether it succeeded; never file\ncontents, parameter values or session IDs. DO_NOT_TRACK disables it.",
		ValidArgs: []string{"on", "off"},
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 1 {
				return usageError("expected on or off")
			}
			if len(args) == 1 && args[0] != "on" && args[0] != "off" {
				return usageError("unknown telemetry setting %q, expected on or off", args[0])
			}
			return nil
		},
		RunE: a.command(func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				state := "off"
				if a.settings.Telemetry {
					state = "on"
				}
				fmt.Fprintf(out, "Telemetry is %s\n", state)
				if a.settings.Telemetry && telemetry.APIKey == "" {
					fmt.Fprintln(out, "This build has no telemetry key, so nothing is sent.")
				}
				return nil
			}

			enabled := args[0] == "on"
			if err := settings.UpdateLocal(cmd.Context(), a.workDir, "telemetry", enabled); err != nil {
				return &ExitError{Code: ExitValidation, Message: "failed to update settings", Err: err}
			}
			a.settings.Telemetry = enabled
			fmt.Fprintf(out, "Telemetry turned %s in %s\n", args[0], settings.LocalPath(a.workDir))
			return nil
		}),
	}
}
