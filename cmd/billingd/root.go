package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// AppConfig holds process-level settings.
type AppConfig struct {
	Env           string `env:"APP_ENV" envDefault:"development"`
	Name          string `env:"APP_NAME" envDefault:"billingd"`
	Storage       string `env:"BILLING_STORAGE" envDefault:"postgres"` // postgres or memory
	PlansFile     string `env:"BILLING_PLANS_FILE"`
	PastDuePolicy string `env:"BILLING_PAST_DUE_POLICY" envDefault:"grace_keep_active"`
	AutoMigrate   bool   `env:"BILLING_AUTO_MIGRATE" envDefault:"false"`
}

const (
	storagePostgres = "postgres"
	storageMemory   = "memory"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:   "billingd",
	Short: "Subscription billing service",
	Long: `billingd serves plan checkout, direct payments, refunds, subscription
management, usage enforcement and payment provider webhooks over HTTP.

Configuration is read from the environment and optional .env files.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		if len(envFiles) == 0 {
			return nil
		}
		return config.LoadEnv(envFiles...)
	},
}

// Execute runs the root command until it returns or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before reading configuration")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(plansCmd)
}

func loadAppConfig() (AppConfig, error) {
	var cfg AppConfig
	if err := config.Load(&cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func newLogger(cfg AppConfig) *slog.Logger {
	log := logger.New(
		logger.WithEnvironment(cfg.Env, cfg.Name),
		logger.WithContextValue("request_id", middleware.RequestIDKey),
	)
	logger.SetAsDefault(log)
	return log
}
