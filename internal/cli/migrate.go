package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"climate-guard/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		if cfg.Storage.Driver != "postgres" {
			return errors.New("migrate requires storage.driver=postgres")
		}
		db, err := storage.Open(cmd.Context(), cfg.Database.URL)
		if err != nil {
			return err
		}
		defer db.Close()
		return storage.Migrate(cmd.Context(), db, logger)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
