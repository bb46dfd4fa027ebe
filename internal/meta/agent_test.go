package meta_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradectl/controlplane/internal/alerts"
	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/marketcache"
	"github.com/tradectl/controlplane/internal/meta"
	"github.com/tradectl/controlplane/internal/types"
)

func newTestAgent(t *testing.T) (*meta.Agent, *marketcache.Cache) {
	cache := marketcache.New(nil, time.Minute)
	b := bus.NewMemBus(zerolog.Nop())
	t.Cleanup(func() { _ = b.Close() })
	a := meta.NewAgent("meta-1", meta.DefaultConfig(), cache, b, zerolog.Nop(), nil)
	a.RegisterStrategy("momentum")
	a.RegisterStrategy("mean_reversion")

	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: types.HeartbeatPayload{AgentType: "risk", Status: "running"}}))
	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: types.HeartbeatPayload{AgentType: "execution", Status: "running"}}))
	return a, cache
}

func TestAgent_NoMarketDataHalts(t *testing.T) {
	a, _ := newTestAgent(t)
	require.NoError(t, a.Cycle(context.Background()))
	d := a.Latest()
	assert.Equal(t, types.GlobalHalted, d.GlobalState)
	assert.Contains(t, d.ReasonCodes, "no_market_data")
}

func TestAgent_MissingCriticalAgentHalts(t *testing.T) {
	cache := marketcache.New(nil, time.Minute)
	b := bus.NewMemBus(zerolog.Nop())
	t.Cleanup(func() { _ = b.Close() })
	a := meta.NewAgent("meta-1", meta.DefaultConfig(), cache, b, zerolog.Nop(), nil)
	cache.Ingest(context.Background(), marketcache.Point{Instrument: "BTC-USD", Price: 60000, Spread: 0.0005, PriceChange1M: 0.001, Timestamp: time.Now()})

	require.NoError(t, a.Cycle(context.Background()))
	d := a.Latest()
	assert.Equal(t, types.GlobalHalted, d.GlobalState)
	assert.Contains(t, d.ReasonCodes[0], "agent_missing")
}

func TestAgent_NormalRegimeApprovesFullSize(t *testing.T) {
	a, cache := newTestAgent(t)
	cache.Ingest(context.Background(), marketcache.Point{Instrument: "BTC-USD", Price: 60000, Spread: 0.0005, PriceChange1M: 0.001, Timestamp: time.Now()})

	require.NoError(t, a.Cycle(context.Background()))
	d := a.Latest()
	assert.Equal(t, types.GlobalNormal, d.GlobalState)
	assert.Equal(t, types.RegimeTrending, d.Regime)
	assert.Equal(t, 1.0, d.SizeMultipliers["momentum"])
}

// E2E-5 of the testable properties: a volatility spike must HALT trading.
func TestAgent_E2E5_VolatilityCrisisHalts(t *testing.T) {
	a, cache := newTestAgent(t)
	cache.Ingest(context.Background(), marketcache.Point{Instrument: "BTC-USD", Price: 60000, Spread: 0.0005, PriceChange1M: 0.08, Timestamp: time.Now()})

	require.NoError(t, a.Cycle(context.Background()))
	d := a.Latest()
	assert.Equal(t, types.GlobalHalted, d.GlobalState)
	assert.Equal(t, types.RegimeCrisis, d.Regime)
	for _, m := range d.SizeMultipliers {
		assert.Zero(t, m)
	}
	for _, s := range d.StrategyStates {
		assert.Equal(t, types.StrategyDisable, s)
	}
}

func TestAgent_HighVolatilityReducesOnly(t *testing.T) {
	a, cache := newTestAgent(t)
	cache.Ingest(context.Background(), marketcache.Point{Instrument: "BTC-USD", Price: 60000, Spread: 0.0005, PriceChange1M: 0.03, Timestamp: time.Now()})

	require.NoError(t, a.Cycle(context.Background()))
	d := a.Latest()
	assert.Equal(t, types.GlobalReduceOnly, d.GlobalState)
	assert.Equal(t, types.RegimeVolatile, d.Regime)
	assert.InDelta(t, 0.25, d.SizeMultipliers["mean_reversion"], 1e-9)
}

func TestAgent_DegradedLiquidityHalvesSize(t *testing.T) {
	a, cache := newTestAgent(t)
	cache.Ingest(context.Background(), marketcache.Point{Instrument: "BTC-USD", Price: 60000, Spread: 0.01, PriceChange1M: 0.001, Timestamp: time.Now()})

	require.NoError(t, a.Cycle(context.Background()))
	d := a.Latest()
	assert.Equal(t, types.GlobalNormal, d.GlobalState)
	assert.InDelta(t, 0.5, d.SizeMultipliers["momentum"], 1e-9)
	assert.Contains(t, d.ReasonCodes, "liquidity_degraded:BTC-USD")
}

func TestAgent_PoorExecutionQualityReducesStrategySize(t *testing.T) {
	a, cache := newTestAgent(t)
	cache.Ingest(context.Background(), marketcache.Point{Instrument: "BTC-USD", Price: 60000, Spread: 0.0005, PriceChange1M: 0.001, Timestamp: time.Now()})

	for i := 0; i < 5; i++ {
		require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: types.Fill{
			StrategyID: "momentum", Instrument: "BTC-USD", Slippage: decimal.NewFromFloat(0.01),
		}}))
	}

	require.NoError(t, a.Cycle(context.Background()))
	d := a.Latest()
	assert.Equal(t, types.StrategyReduceSize, d.StrategyStates["momentum"])
	assert.Less(t, d.SizeMultipliers["momentum"], 1.0)
}

func TestAgent_CriticalAlertFloodTriggersSystemStress(t *testing.T) {
	a, cache := newTestAgent(t)
	cache.Ingest(context.Background(), marketcache.Point{Instrument: "BTC-USD", Price: 60000, Spread: 0.0005, PriceChange1M: 0.001, Timestamp: time.Now()})

	for i := 0; i < 4; i++ {
		require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: alerts.Alert{Severity: alerts.SeverityCritical, Title: "test"}}))
	}

	require.NoError(t, a.Cycle(context.Background()))
	d := a.Latest()
	assert.Equal(t, types.GlobalReduceOnly, d.GlobalState)
	assert.Contains(t, d.ReasonCodes, "system_stress")
}
