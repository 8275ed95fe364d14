package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/httpserver"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/redis"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/usage"
	"github.com/dmitrymomot/billingkit/svc/billing"
	"github.com/dmitrymomot/billingkit/svc/billing/pgstore"
)

// deps is the wired object graph behind the serve command.
type deps struct {
	app      AppConfig
	log      *slog.Logger
	registry *prometheus.Registry
	pool     *pgxpool.Pool
	redis    *goredis.Client
	asynq    *asynq.Client
	catalog  *subscription.Catalog
	service  *billing.Service
	checks   []httpserver.Check
	closers  []func() error
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.log.Error("shutdown step failed", logger.Error(err))
		}
	}
}

func buildDeps(ctx context.Context, app AppConfig, log *slog.Logger) (_ *deps, err error) {
	d := &deps{app: app, log: log, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var (
		subStore   subscription.Store
		usageStore usage.Store
	)
	switch app.Storage {
	case storagePostgres:
		if d.pool, err = connectPostgres(ctx, app, log); err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() error { d.pool.Close(); return nil })
		d.checks = append(d.checks, httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(d.pool)})

		storeOpts := []pgstore.Option{pgstore.WithLogger(log)}
		subStore = pgstore.NewStore(d.pool, storeOpts...)
		usageStore = pgstore.NewUsageStore(d.pool, storeOpts...)
	case storageMemory:
		log.Warn("using in-memory storage; state is lost on restart")
		subStore = subscription.NewMemoryStore()
		usageStore = usage.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown storage %q: want %s or %s", app.Storage, storagePostgres, storageMemory)
	}

	if d.catalog, err = loadCatalog(ctx, app, d.pool); err != nil {
		return nil, err
	}

	var billingCfg billing.Config
	if err := config.Load(&billingCfg); err != nil {
		return nil, err
	}
	svcOpts := []billing.Option{
		billing.WithLogger(log),
		billing.WithMetrics(billing.NewMetrics(d.registry)),
	}
	if err := d.connectRedis(ctx, log); err != nil {
		return nil, err
	}
	if d.redis != nil {
		svcOpts = append(svcOpts,
			billing.WithDeduper(billing.NewRedisDeduper(d.redis, billingCfg.WebhookDedupeTTL)),
			billing.WithNotifier(billing.NewAsynqNotifier(d.asynq, billingCfg.SignalsQueue, log)),
		)
	} else {
		log.Warn("redis is not configured; webhook dedupe is process-local and signals are dropped")
	}

	resolver, err := buildResolver(app, billingCfg, d.registry, log)
	if err != nil {
		return nil, err
	}

	policy := subscription.PastDuePolicy(app.PastDuePolicy)
	ledger := subscription.NewLedger(subStore, d.catalog,
		subscription.WithPastDuePolicy(policy),
		subscription.WithLogger(log),
	)
	tracker := usage.NewTracker(usageStore, usage.WithLogger(log))
	gate := usage.NewGate(ledger, d.catalog, tracker,
		usage.WithUpgradeURL(billingCfg.UpgradeURL),
		usage.WithMetrics(usage.NewMetrics(d.registry)),
		usage.WithGateLogger(log),
	)
	d.service = billing.NewService(billingCfg, resolver, ledger, gate, svcOpts...)
	return d, nil
}

func connectPostgres(ctx context.Context, app AppConfig, log *slog.Logger) (*pgxpool.Pool, error) {
	var cfg pg.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	pool, err := pg.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if app.AutoMigrate {
		if err := pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg, log); err != nil {
			pool.Close()
			return nil, err
		}
	}
	log.Info("postgres connected")
	return pool, nil
}

func (d *deps) connectRedis(ctx context.Context, log *slog.Logger) error {
	var cfg redis.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}
	if !cfg.Enabled() {
		return nil
	}
	client, err := redis.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	d.redis = client
	d.asynq = asynq.NewClientFromRedisClient(client)
	// The asynq client borrows this connection; closing the redis client releases both.
	d.closers = append(d.closers, client.Close)
	d.checks = append(d.checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
	log.Info("redis connected")
	return nil
}

// buildResolver registers every gateway. The simulation gateway settles
// payments without a provider, so it is never registered in production.
func buildResolver(app AppConfig, billingCfg billing.Config, reg prometheus.Registerer, log *slog.Logger) (*gateway.Resolver, error) {
	var (
		stripeCfg   gateway.StripeConfig
		paddleCfg   gateway.PaddleConfig
		simCfg      gateway.SimulationConfig
		resolverCfg gateway.ResolverConfig
	)
	if err := errors.Join(
		config.Load(&stripeCfg),
		config.Load(&paddleCfg),
		config.Load(&simCfg),
		config.Load(&resolverCfg),
	); err != nil {
		return nil, err
	}
	if resolverCfg.AllowSimulation && logger.NormalizeEnvironment(app.Env) == logger.EnvProduction {
		log.Warn("simulation gateway disabled in production", "env", app.Env)
		resolverCfg.AllowSimulation = false
	}

	paddle, err := gateway.NewPaddle(paddleCfg)
	if err != nil {
		return nil, err
	}
	metrics := gateway.NewMetrics(reg)
	wrap := func(g gateway.Gateway) gateway.Gateway {
		return gateway.Instrument(g, billingCfg.GatewayTimeout, metrics)
	}
	resolver := gateway.NewResolver(resolverCfg,
		wrap(gateway.NewStripe(stripeCfg)),
		wrap(paddle),
		wrap(gateway.NewSimulation(simCfg)),
	)
	log.Info("payment gateways registered",
		"gateways", resolver.Names(),
		"default", resolverCfg.Default,
		"simulation", resolverCfg.AllowSimulation,
	)
	return resolver, nil
}

func loadCatalog(ctx context.Context, app AppConfig, pool *pgxpool.Pool) (*subscription.Catalog, error) {
	var src subscription.Source
	switch {
	case app.PlansFile != "":
		src = subscription.NewYAMLSource(app.PlansFile)
	case pool != nil:
		src = pgstore.NewPlanSource(pool)
	default:
		src = subscription.NewMemorySource(defaultPlans()...)
	}
	return subscription.NewCatalog(ctx, src)
}
