package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradectl/controlplane/internal/config"
)

func TestLoad_DefaultsValidate(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "tradectl", cfg.App.Name)
	assert.InDelta(t, 100_000.0, cfg.Trading.TotalCapitalUSD, 1e-9)
	assert.Contains(t, cfg.Trading.BaseStrategyWeights, "trend_following")
}

func TestLoad_OverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
app:
  name: tradectl-staging
trading:
  total_capital_usd: 250000
  cash_reserve_pct: 0.2
  base_strategy_weights:
    trend_following: 0.5
    momentum: 0.5
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tradectl-staging", cfg.App.Name)
	assert.InDelta(t, 250_000.0, cfg.Trading.TotalCapitalUSD, 1e-9)
	assert.InDelta(t, 0.2, cfg.Trading.CashReservePct, 1e-9)
}

func TestValidate_RejectsOverweightStrategies(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Trading.BaseStrategyWeights = map[string]float64{"a": 0.9, "b": 0.9}

	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsZeroCapital(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Trading.TotalCapitalUSD = 0

	assert.Error(t, cfg.Validate())
}

func TestToSnapshot_ConvertsDomainTypes(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	snap := cfg.ToSnapshot()
	assert.InDelta(t, 0.6, snap.RiskLimits.MinConfidenceThreshold, 1e-9)
	assert.Equal(t, cfg.Trading.BaseStrategyWeights, snap.AllocationConfig.BaseWeights)
	assert.Contains(t, snap.CorrelationGroups, "trend_momentum_breakout")
}

func TestIsSecretRef(t *testing.T) {
	assert.True(t, config.IsSecretRef("${vault:secret/data/venues#binance_key}"))
	assert.False(t, config.IsSecretRef("plain-value"))
}
