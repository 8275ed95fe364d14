// Package logger builds *slog.Logger instances for the billing service.
//
// New assembles a text or JSON slog handler from functional options and wraps
// it with LogHandlerDecorator, which appends attributes pulled from the
// record's context (request ids, tenant values) every time a record is
// handled.
//
// WithEnvironment applies the per-environment defaults used by billingd:
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "billingd"),
//		logger.WithContextExtractors(requestIDExtractor),
//	)
//	logger.SetAsDefault(log)
//
// The attribute helpers keep key names stable across packages:
//
//	log.WarnContext(ctx, "webhook unresolved",
//		logger.Gateway("stripe"),
//		logger.ExternalID(ev.ExternalSubscriptionID),
//		logger.Outcome("unresolved"),
//	)
//
// Helpers that receive an empty value return an empty slog.Attr, which slog
// drops from the output.
package logger
