// Package pg bootstraps the PostgreSQL layer of the billing service on top of
// pgx/v5 and goose/v3.
//
// Config is populated from PG_* environment variables. Connect opens a
// *pgxpool.Pool with retries, Migrate applies goose migrations from an
// fs.FS (the billing store embeds its own), Healthcheck returns a readiness
// probe and WithTx wraps a unit of work in a transaction:
//
//	err := pg.WithTx(ctx, pool, func(tx pgx.Tx) error {
//		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", userID); err != nil {
//			return err
//		}
//		// ...
//		return nil
//	})
//
// IsDuplicateKeyError, IsCheckViolationError and friends classify
// *pgconn.PgError values so storage code can map constraint violations to
// domain errors.
package pg
