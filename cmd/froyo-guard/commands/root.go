// Package commands implements the froyo-guard CLI, grounded on the
// teacher's cmd/froyo/commands one-file-per-verb layout, narrowed to the
// verbs this agent needs: serve (run the IPC service), catalog (validate
// policy YAML), migrate (apply store schema migrations).
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "froyo-guard",
		Short: "froyo-guard - local privacy-hardening policy agent",
		Long: `froyo-guard is a privileged local agent that audits, applies, and
reverts OS privacy-hardening policies over a local IPC channel.

Features:
  - Declarative policy catalog with dependency resolution
  - Per-mechanism executors (registry, service, scheduled task,
    firewall, script, group policy, MDM, hosts file, WFP driver)
  - Change log and snapshot store for deterministic revert
  - Background drift detection with optional auto-remediation`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newCatalogCommand())
	rootCmd.AddCommand(newMigrateCommand())

	return rootCmd
}
