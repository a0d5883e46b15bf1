package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coachpo/pricebridge/internal/infra/logging"
	"github.com/coachpo/pricebridge/internal/infra/persistence/migrations"
)

type migrateOptions struct {
	dir string
	dsn string
}

func newMigrateCommand(root *rootOptions) *cobra.Command {
	opts := &migrateOptions{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back result archive migrations",
	}
	cmd.PersistentFlags().StringVar(&opts.dir, "dir", "", "Directory of migration files (defaults to the embedded set)")
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (overrides database.dsn)")

	for _, direction := range []migrations.Direction{migrations.Up, migrations.Down} {
		cmd.AddCommand(&cobra.Command{
			Use:   string(direction),
			Short: "Run migrations " + string(direction),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd, root, opts, direction)
			},
		})
	}
	return cmd
}

func runMigrate(cmd *cobra.Command, root *rootOptions, opts *migrateOptions, direction migrations.Direction) error {
	cfg, logger, err := loadConfig(cmd.Context(), root)
	if err != nil {
		return err
	}
	dsn := strings.TrimSpace(opts.dsn)
	if dsn == "" {
		dsn = strings.TrimSpace(cfg.Database.DSN)
	}
	if dsn == "" {
		return errors.New("migrate: database dsn required (set database.dsn or --dsn)")
	}
	return migrations.Run(cmd.Context(), dsn, opts.dir, direction, logging.Component(logger, "migrate"))
}
