package main

import (
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/svc/billing/pgstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		app, err := loadAppConfig()
		if err != nil {
			return err
		}
		log := newLogger(app)

		var cfg pg.Config
		if err := config.Load(&cfg); err != nil {
			return err
		}
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg, log); err != nil {
			return err
		}
		log.Info("migrations applied")
		return nil
	},
}
