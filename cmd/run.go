package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newRunCmd creates the 'run' subcommand: the forever harvest loop plus the
// ops HTTP surface.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the harvest service",
		Long: `Runs harvest cycles back to back until interrupted: catalog discovery,
chapter reconciliation, content extraction and translation, with a fixed
pause between cycles. Also serves /healthz, /metrics and /status.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := a.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run harvester: %w", err)
			}
			a.Logger.Info("harvester stopped")
			return nil
		},
	}
}
