// Package billing exposes the billing service over HTTP.
//
// The module mounts plan listing, checkout, direct card payments, refunds,
// subscription management, usage reporting and provider webhooks on a chi
// router. Requests are authenticated by a UserResolver; the default reads
// the X-User-ID header set by an upstream auth proxy.
//
//	svc := billingsvc.NewService(cfg, resolver, ledger, gate)
//	mod := billing.New(svc, billing.WithLogger(log))
//	r.Mount("/billing", mod.Handle())
//
// RequireUsage gates application routes on plan limits:
//
//	r.With(mod.RequireUsage(usage.ResourceProjects)).Post("/projects", createProject)
package billing
