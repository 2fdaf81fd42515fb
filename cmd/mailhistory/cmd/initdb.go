package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/mailhistory/internal/store"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create an empty contact database at the configured path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		db, err := store.Create(e.cfg.Database.Path, storeOptions(e.cfg.Database))
		if err != nil {
			return err
		}
		if err := db.Close(); err != nil {
			return err
		}

		e.logger.Info("database created", "path", e.cfg.Database.Path)
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", e.cfg.Database.Path)
		return nil
	},
}
