package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/config"
)

type gatewayDefaults struct {
	Default  string        `env:"TEST_GW_DEFAULT" envDefault:"stripe"`
	Timeout  time.Duration `env:"TEST_GW_TIMEOUT" envDefault:"10s"`
	Simulate bool          `env:"TEST_GW_SIMULATE" envDefault:"true"`
}

type gatewayOverrides struct {
	Default string        `env:"TEST_GW_OVERRIDE_DEFAULT" envDefault:"stripe"`
	Timeout time.Duration `env:"TEST_GW_OVERRIDE_TIMEOUT" envDefault:"10s"`
}

type cachedConfig struct {
	UpgradeURL string `env:"TEST_CACHED_UPGRADE_URL" envDefault:"/billing/plans"`
}

type requiredSecret struct {
	Secret string `env:"TEST_REQUIRED_WEBHOOK_SECRET,required"`
}

type fileConfig struct {
	Default    string        `env:"TEST_BILLING_DEFAULT_GATEWAY"`
	Fallback   string        `env:"TEST_BILLING_FALLBACK"`
	Timeout    time.Duration `env:"TEST_BILLING_TIMEOUT"`
	Gateways   []string      `env:"TEST_BILLING_GATEWAYS" envSeparator:","`
	UpgradeURL string        `env:"TEST_BILLING_UPGRADE_URL"`
}

type reloadable struct {
	Queue string `env:"TEST_RELOAD_QUEUE" envDefault:"billing"`
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		os.Unsetenv("TEST_GW_DEFAULT")
		os.Unsetenv("TEST_GW_TIMEOUT")
		os.Unsetenv("TEST_GW_SIMULATE")

		var cfg gatewayDefaults
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "stripe", cfg.Default)
		assert.Equal(t, 10*time.Second, cfg.Timeout)
		assert.True(t, cfg.Simulate)
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("TEST_GW_OVERRIDE_DEFAULT", "paddle")
		t.Setenv("TEST_GW_OVERRIDE_TIMEOUT", "2s")

		var cfg gatewayOverrides
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "paddle", cfg.Default)
		assert.Equal(t, 2*time.Second, cfg.Timeout)
	})

	t.Run("cached per type", func(t *testing.T) {
		t.Setenv("TEST_CACHED_UPGRADE_URL", "https://a.example/upgrade")

		var first cachedConfig
		require.NoError(t, config.Load(&first))

		t.Setenv("TEST_CACHED_UPGRADE_URL", "https://b.example/upgrade")

		var second cachedConfig
		require.NoError(t, config.Load(&second))
		assert.Equal(t, "https://a.example/upgrade", second.UpgradeURL)
	})

	t.Run("missing required value", func(t *testing.T) {
		os.Unsetenv("TEST_REQUIRED_WEBHOOK_SECRET")

		var cfg requiredSecret
		err := config.Load(&cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParsingConfig)

		// A failed parse is retried once the variable is present.
		t.Setenv("TEST_REQUIRED_WEBHOOK_SECRET", "whsec_123")
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "whsec_123", cfg.Secret)
	})

	t.Run("nil pointer", func(t *testing.T) {
		var cfg *gatewayDefaults
		assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
	})
}

func TestMustLoad(t *testing.T) {
	os.Unsetenv("TEST_REQUIRED_WEBHOOK_SECRET")
	config.ResetCache()

	assert.Panics(t, func() {
		var cfg requiredSecret
		config.MustLoad(&cfg)
	})
}

func TestLoadEnv(t *testing.T) {
	for _, key := range []string{
		"TEST_BILLING_DEFAULT_GATEWAY",
		"TEST_BILLING_FALLBACK",
		"TEST_BILLING_TIMEOUT",
		"TEST_BILLING_GATEWAYS",
		"TEST_BILLING_UPGRADE_URL",
	} {
		os.Unsetenv(key)
	}
	t.Cleanup(func() {
		for _, key := range []string{
			"TEST_BILLING_DEFAULT_GATEWAY",
			"TEST_BILLING_FALLBACK",
			"TEST_BILLING_TIMEOUT",
			"TEST_BILLING_GATEWAYS",
			"TEST_BILLING_UPGRADE_URL",
		} {
			os.Unsetenv(key)
		}
	})
	config.ResetCache()

	// The first file wins for keys defined in both.
	require.NoError(t, config.LoadEnv("testdata/.env.billing", "testdata/.env.override"))

	var cfg fileConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "stripe", cfg.Default)
	assert.Equal(t, "test", cfg.Fallback)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"stripe", "paddle", "test"}, cfg.Gateways)
	assert.Equal(t, "https://example.com/billing/plans", cfg.UpgradeURL)
}

func TestLoadEnv_MissingFile(t *testing.T) {
	err := config.LoadEnv("testdata/does-not-exist.env")
	assert.ErrorIs(t, err, config.ErrLoadingEnvFile)

	assert.Panics(t, func() {
		config.MustLoadEnv("testdata/does-not-exist.env")
	})
}

func TestForceReloadConfig(t *testing.T) {
	t.Setenv("TEST_RELOAD_QUEUE", "signals")

	var cfg reloadable
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "signals", cfg.Queue)

	t.Setenv("TEST_RELOAD_QUEUE", "critical")
	require.NoError(t, config.ForceReloadConfig(&cfg))
	assert.Equal(t, "critical", cfg.Queue)

	var again reloadable
	require.NoError(t, config.Load(&again))
	assert.Equal(t, "critical", again.Queue)
}
