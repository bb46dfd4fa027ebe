package allocation_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradectl/controlplane/internal/allocation"
	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/types"
)

func newTestAgent(t *testing.T) (*allocation.Agent, bus.Bus) {
	b := bus.NewMemBus(zerolog.Nop())
	t.Cleanup(func() { _ = b.Close() })
	a := allocation.NewAgent("allocation-1", allocation.DefaultConfig(), decimal.NewFromInt(100_000), b, zerolog.Nop(), nil)
	return a, b
}

// Testable property 4: weights plus cash reserve must sum to 1 within 1e-6.
func TestAgent_WeightsSumInvariant(t *testing.T) {
	a, _ := newTestAgent(t)
	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: types.MetaDecisionMsg{
		Decision: types.MetaDecision{Regime: types.RegimeTrending},
	}}))

	alloc := a.Snapshot()
	require.NoError(t, a.Cycle(context.Background()))
	alloc = a.Snapshot()

	total := alloc.CashReservePct
	for _, sa := range alloc.Allocations {
		total += sa.Weight
	}
	assert.InDelta(t, 1.0, total, 1e-6)
}

func TestAgent_AutoQuarantineOnLossStreak(t *testing.T) {
	a, _ := newTestAgent(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: types.Fill{
			StrategyID: "momentum", PnL: decimal.NewFromInt(-10),
		}}))
	}

	alloc := a.Snapshot()
	sa := alloc.Allocations["momentum"]
	assert.True(t, sa.IsQuarantined)
	assert.Contains(t, sa.QuarantineReason, "loss_streak")
	assert.True(t, sa.Weight == 0)
}

func TestAgent_RegimeMultiplierAppliedOnReallocate(t *testing.T) {
	a, _ := newTestAgent(t)
	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: types.MetaDecisionMsg{
		Decision: types.MetaDecision{Regime: types.RegimeCrisis},
	}}))
	require.NoError(t, a.Cycle(context.Background()))

	alloc := a.Snapshot()
	for _, sa := range alloc.Allocations {
		assert.Zero(t, sa.Weight)
	}
}

func TestAgent_OnPauseZeroesAllocations(t *testing.T) {
	a, _ := newTestAgent(t)
	require.NoError(t, a.OnPause(context.Background()))
	alloc := a.Snapshot()
	for _, sa := range alloc.Allocations {
		assert.True(t, sa.Weight == 0)
		assert.True(t, sa.RiskBudgetUSD.IsZero())
	}
	assert.Equal(t, 1.0, alloc.CashReservePct)
}

func TestAgent_UnquarantineRestoresPartialWeight(t *testing.T) {
	a, _ := newTestAgent(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: types.Fill{
			StrategyID: "breakout", PnL: decimal.NewFromInt(-10),
		}}))
	}
	require.True(t, a.Snapshot().Allocations["breakout"].IsQuarantined)

	a.Unquarantine("breakout")
	alloc := a.Snapshot()
	assert.False(t, alloc.Allocations["breakout"].IsQuarantined)
	assert.Greater(t, alloc.Allocations["breakout"].Weight, 0.0)
}

func TestAgent_CorrelationPenaltyReducesCorrelatedWeights(t *testing.T) {
	a, _ := newTestAgent(t)
	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: types.MetaDecisionMsg{
		Decision: types.MetaDecision{Regime: types.RegimeTrending},
	}}))
	require.NoError(t, a.Cycle(context.Background()))

	alloc := a.Snapshot()
	assert.Greater(t, alloc.Allocations["trend_following"].CorrelationPenalty, 0.0)
}

func TestAgent_CycleRespectsReallocationInterval(t *testing.T) {
	cfg := allocation.DefaultConfig()
	cfg.ReallocationInterval = time.Hour
	b := bus.NewMemBus(zerolog.Nop())
	t.Cleanup(func() { _ = b.Close() })
	a := allocation.NewAgent("allocation-1", cfg, decimal.NewFromInt(100_000), b, zerolog.Nop(), nil)

	require.NoError(t, a.Cycle(context.Background()))
	first := a.Snapshot().DecidedAt
	require.NoError(t, a.Cycle(context.Background()))
	second := a.Snapshot().DecidedAt
	assert.Equal(t, first, second)
}
