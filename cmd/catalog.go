package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCatalogCmd creates the 'catalog' subcommand: a single enumeration pass,
// useful for seeding a fresh database or pushing the frontier manually.
func newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Run one catalog discovery pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			phases := a.Phases()
			if phases.Catalog == nil {
				return fmt.Errorf("catalog discovery is disabled in config")
			}

			found, err := phases.Catalog.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("catalog pass: %w", err)
			}
			if phases.Listing != nil {
				extra, err := phases.Listing.Run(cmd.Context())
				if err != nil {
					return fmt.Errorf("listing pass: %w", err)
				}
				found += extra
			}
			a.Logger.Info("catalog pass complete", zap.Int("sources_found", found))
			return nil
		},
	}
}
