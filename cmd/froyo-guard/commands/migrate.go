package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo-guard/internal/store"
)

func newMigrateCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply change log / snapshot store schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := store.New(store.Config{Path: dbPath, MaxOpenConns: 5, MaxIdleConns: 2, ConnMaxLifetime: time.Minute})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			if err := st.Init(ctx); err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer st.Close()

			if err := st.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("migrations applied to %s\n", dbPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "./froyo-guard.db", "change log / snapshot store path")
	return cmd
}
