package billing

import "time"

// Config holds billing service settings.
type Config struct {
	GatewayTimeout   time.Duration `env:"BILLING_GATEWAY_TIMEOUT" envDefault:"10s"`
	UpgradeURL       string        `env:"BILLING_UPGRADE_URL" envDefault:"/pricing"`
	SuccessURL       string        `env:"BILLING_SUCCESS_URL"`
	CancelURL        string        `env:"BILLING_CANCEL_URL"`
	WebhookDedupeTTL time.Duration `env:"BILLING_WEBHOOK_DEDUPE_TTL" envDefault:"72h"`
	SignalsQueue     string        `env:"BILLING_SIGNALS_QUEUE" envDefault:"billing"`
}
