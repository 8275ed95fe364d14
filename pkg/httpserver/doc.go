// Package httpserver runs the billing HTTP API with graceful shutdown.
//
// Run blocks until the supplied context is cancelled (billingd derives it
// from signal.NotifyContext) and then drains in-flight requests within the
// shutdown timeout. Config carries the HTTP_* environment variables.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		return err
//	}
//
// LivenessHandler and ReadinessHandler back the /healthz and /readyz probes;
// readiness runs named checks such as the Postgres and Redis pings.
package httpserver
