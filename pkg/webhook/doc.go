// Package webhook signs and verifies webhook payloads with HMAC-SHA256.
//
// The MAC covers "<unix timestamp>.<raw payload>" and travels in a single
// header value of the form "t=1700000000,v1=<hex>". Binding the timestamp
// lets Verify reject replays outside a tolerance window. The simulation
// payment gateway uses this scheme for its webhook deliveries:
//
//	header, err := webhook.Sign(secret, body)
//	...
//	if err := webhook.Verify(secret, body, header, 5*time.Minute); err != nil {
//		// reject before decoding the body
//	}
//
// An empty secret is always an error, never a silent pass.
package webhook
