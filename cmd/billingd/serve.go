package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/billingkit/modules/billing"
	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/httpserver"
)

// HTTPConfig holds settings for the billing routes.
type HTTPConfig struct {
	UserHeader      string        `env:"BILLING_USER_HEADER" envDefault:"X-User-ID"`
	MountPath       string        `env:"BILLING_MOUNT_PATH" envDefault:"/billing"`
	MaxBodyBytes    int64         `env:"BILLING_MAX_BODY_BYTES" envDefault:"65536"`
	MaxWebhookBytes int64         `env:"BILLING_MAX_WEBHOOK_BYTES" envDefault:"1048576"`
	ReadyTimeout    time.Duration `env:"HTTP_READY_TIMEOUT" envDefault:"2s"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the billing HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		app, err := loadAppConfig()
		if err != nil {
			return err
		}
		log := newLogger(app)

		var (
			srvCfg  httpserver.Config
			httpCfg HTTPConfig
		)
		if err := config.Load(&srvCfg); err != nil {
			return err
		}
		if err := config.Load(&httpCfg); err != nil {
			return err
		}

		d, err := buildDeps(ctx, app, log)
		if err != nil {
			log.Error("failed to initialize", "error", err)
			return err
		}
		defer d.Close()

		if len(d.catalog.List()) == 0 {
			log.Warn("plan catalog is empty; load plans with `billingd plans sync`")
		}

		mod := billing.New(d.service,
			billing.WithLogger(log),
			billing.WithUserResolver(billing.HeaderUserResolver(httpCfg.UserHeader)),
			billing.WithBodyLimits(httpCfg.MaxBodyBytes, httpCfg.MaxWebhookBytes),
		)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Recoverer)

		r.Get("/healthz", httpserver.LivenessHandler())
		r.Get("/readyz", httpserver.ReadinessHandler(log, httpCfg.ReadyTimeout, d.checks...))
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
		r.Mount(httpCfg.MountPath, mod.Handle())

		srv := httpserver.NewFromConfig(srvCfg, httpserver.WithLogger(log))
		return srv.Run(ctx, r)
	},
}
