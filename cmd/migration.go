package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	globalConfig "github.com/wafleet/sessionfleet/config"
	"github.com/wafleet/sessionfleet/storage/authstore"
	"github.com/wafleet/sessionfleet/storage/metastore"
)

var migrationCmd = &cobra.Command{
	Use:   "migration",
	Short: "Run the relational metadata and auth-blob store migrations",
	RunE:  runMigration,
}

func init() {
	rootCmd.AddCommand(migrationCmd)
}

func runMigration(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	fleetDB, err := globalConfig.GetFleetDB()
	if err != nil {
		return fmt.Errorf("migration: open fleet db: %w", err)
	}
	meta := metastore.New(fleetDB)
	if err := meta.Init(ctx); err != nil {
		return fmt.Errorf("migration: init metastore: %w", err)
	}
	logrus.Info("[MIGRATION] fleet_sessions / fleet_user_prefixes migrated")

	authDB, err := globalConfig.GetFleetAuthDB()
	if err != nil {
		return fmt.Errorf("migration: open auth db: %w", err)
	}
	if _, err := authstore.New(ctx, authDB); err != nil {
		return fmt.Errorf("migration: init authstore: %w", err)
	}
	logrus.Info("[MIGRATION] auth-blob store migrated")

	return nil
}
