package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newChaptersCmd creates the 'chapters' subcommand: one reconciliation pass
// over every workable source.
func newChaptersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chapters",
		Short: "Run one chapter reconciliation pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			added, err := a.Phases().Chapters.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("chapters pass: %w", err)
			}
			a.Logger.Info("chapters pass complete", zap.Int("chapters_added", added))
			return nil
		},
	}
}
