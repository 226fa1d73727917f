package cli

import (
	"fmt"

	"github.com/rbaliyan/futuremsg"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with settings files",
	}
	cmd.AddCommand(newConfigCheckCommand(rootOpts))
	return cmd
}

func newConfigCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [file]",
		Short: "Validate a settings file and print the effective settings",
		Long: `Validate a settings file and print the effective settings, defaults
included. Without a file the built-in defaults are printed.

Examples:
  futuremsg config check futuremsg.yaml
  futuremsg config check --format json futuremsg.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := futuremsg.DefaultSettings()
			if len(args) == 1 {
				var err error
				if settings, err = futuremsg.LoadSettingsFile(args[0]); err != nil {
					return WrapExitError(ExitFailure, "invalid settings", err)
				}
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(out, map[string]any{
					"default-queue-size":       settings.DefaultQueueSize,
					"operations-per-snapshot":  settings.OperationsPerSnapshot,
					"snapshot-strategy":        settings.SnapshotStrategy,
					"acknowledgement-strategy": settings.AcknowledgementStrategy,
					"fire-epsilon":             settings.FireEpsilon.String(),
					"suppress-replay-acks":     settings.SuppressReplayAcks,
					"codec":                    settings.Codec,
					"delivery-timeout":         settings.DeliveryTimeout.String(),
				})
			}
			data, err := yaml.Marshal(settings)
			if err != nil {
				return err
			}
			fmt.Fprint(out, string(data))
			return nil
		},
	}
}
