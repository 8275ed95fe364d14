// Package config loads typed configuration from the environment.
//
// Load parses environment variables into a struct annotated with
// caarlos0/env tags. Each struct type is parsed once per process and served
// from a cache afterwards, so packages can declare their own config types
// (pg.Config, gateway.StripeConfig, billing.Config) and billingd loads them
// independently without re-reading the environment.
//
// The default .env file in the working directory is applied once through
// godotenv before the first parse; LoadEnv applies additional files:
//
//	if err := config.LoadEnv(".env.local"); err != nil {
//		return err
//	}
//
//	var cfg billing.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// MustLoadEnv and MustLoad panic instead of returning errors. Tests use
// ResetCache to drop every cached type and ForceReloadConfig to re-parse one
// after changing the environment.
//
// Errors wrap ErrParsingConfig, ErrLoadingEnvFile or ErrNilPointer and can
// be matched with errors.Is.
package config
