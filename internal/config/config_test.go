package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchBreakerPolicy(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 3, cfg.Risk.MaxConsecutiveLosses)
	assert.Equal(t, 5.0, cfg.Risk.MaxDailyLossPct)
	assert.Equal(t, 25.0, cfg.Risk.MaxBotDrawdownPct)
	assert.Equal(t, 40.0, cfg.Risk.MaxPortfolioDrawdownPct)
	assert.Equal(t, []int{1, 2, 3}, cfg.Risk.SafeZones)
	assert.Equal(t, 0.15, cfg.Wallet.HotRatio)
	assert.Equal(t, 2*time.Minute, cfg.Submitter.ConfirmTimeout)
	assert.Equal(t, 3, cfg.Submitter.MaxAttempts)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"hot ratio too high", func(c *Config) { c.Wallet.HotRatio = 0.25 }},
		{"hot ratio too low", func(c *Config) { c.Wallet.HotRatio = 0.05 }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "etcd" }},
		{"redis without addr", func(c *Config) { c.Store.Backend = "redis" }},
		{"no safe zones", func(c *Config) { c.Risk.SafeZones = nil }},
		{"zero attempts", func(c *Config) { c.Submitter.MaxAttempts = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadReadsYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("risk:\n  max_daily_loss_pct: 4.5\nwallet:\n  total_balance: 10000\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("POLYGUARD_SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4.5, cfg.Risk.MaxDailyLossPct)
	assert.Equal(t, 10000.0, cfg.Wallet.TotalBalance)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 25.0, cfg.Risk.MaxBotDrawdownPct)
}
