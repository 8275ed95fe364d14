// Package gateway defines the payment provider abstraction and its adapters.
//
// Every provider implements Gateway: hosted checkout sessions, direct card
// charges where supported, webhook verification and refunds. Webhooks are
// verified before they are decoded and then normalized into an Event with a
// provider-independent type and status.
//
// Adapters:
//
//   - Stripe: Checkout Sessions in subscription or payment mode, refunds by
//     payment intent, Stripe-Signature verification.
//   - Paddle: transactions with hosted checkout, full refunds through
//     adjustments, Paddle-Signature verification.
//   - Simulation: a deterministic gateway driven by a fixed test card table.
//     Its webhooks are HMAC-signed normalized events.
//
// A Resolver holds the gateways registered at startup and picks the default:
//
//	resolver := gateway.NewResolver(cfg,
//		gateway.Instrument(gateway.NewStripe(stripeCfg), 10*time.Second, metrics),
//		gateway.NewSimulation(simCfg),
//	)
//	g, err := resolver.Default()
//
// Expected failures are returned as errors: *DeclineError for declined
// cards, *Error for provider transport failures (ErrGatewayTimeout when the
// deadline passed) and sentinel errors for verification problems.
package gateway
