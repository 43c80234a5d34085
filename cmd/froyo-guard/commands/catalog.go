package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo-guard/internal/catalog"
)

func newCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and validate the policy catalog",
	}
	cmd.AddCommand(newCatalogValidateCommand())
	return cmd
}

func newCatalogValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [dir]",
		Short: "Validate policy YAML files against the catalog schema",
		Long: `Validate checks every policy file in dir (default ./catalog) for:
  - required fields and ID/version format
  - granular control invariants (not auto-applied, requires
    confirmation, shown in UI, not enabled by default)
  - Critical-risk policies carrying help text and requiring explicit
    user choice
  - mechanism-specific parameter completeness
  - duplicate policy IDs across the catalog`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "./catalog"
			if len(args) > 0 {
				dir = args[0]
			}

			loader := catalog.NewLoader(log.Logger)
			policies, err := loader.LoadDirectory(cmd.Context(), dir)
			if err != nil {
				return fmt.Errorf("failed to load catalog: %w", err)
			}

			if err := catalog.ValidateCatalog(policies); err != nil {
				return fmt.Errorf("catalog validation failed: %w", err)
			}

			fmt.Printf("catalog valid: %d policies loaded from %s\n", len(policies), dir)
			return nil
		},
	}
	return cmd
}
