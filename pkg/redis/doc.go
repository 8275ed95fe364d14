// Package redis connects the billing service to Redis using go-redis/v9.
//
// Redis is optional: when REDIS_URL is empty, Config.Enabled reports false
// and billingd falls back to in-process webhook deduplication and disables
// the asynq signal queue.
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//	if cfg.Enabled() {
//		client, err := redis.Connect(ctx, cfg)
//		...
//	}
package redis
