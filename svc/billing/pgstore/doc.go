// Package pgstore implements the billing storage interfaces on PostgreSQL
// with pgx/v5, squirrel query builders and OpenTelemetry spans.
//
//   - Store implements subscription.Store. WithUserLock opens a transaction,
//     takes pg_advisory_xact_lock on the user id and locks the rows it reads.
//   - UsageStore implements usage.Store with one row per user and JSONB
//     counter maps.
//   - PlanSource implements subscription.Source over billing_plans.
//
// The schema ships as goose migrations in Migrations:
//
//	err := pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg, log)
package pgstore
