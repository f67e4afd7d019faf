package main

import (
	"errors"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/open-sspm/workspace-audit/internal/config"
	"github.com/spf13/cobra"
)

var migrationsPath string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the raw record tables in DATABASE_URL",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return commandError(runMigrate())
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsPath, "path", "db/migrations", "Directory holding the migration files")
}

func runMigrate() (err error) {
	cfg, err := config.LoadRequireDB()
	if err != nil {
		return err
	}

	m, err := migrate.New("file://"+migrationsPath, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err == nil {
			err = errors.Join(srcErr, dbErr)
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("no changes to apply")
			return nil
		}
		return err
	}

	slog.Info("migrations applied successfully")
	return nil
}
