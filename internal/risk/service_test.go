package risk_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradectl/controlplane/internal/book"
	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/risk"
	"github.com/tradectl/controlplane/internal/types"
)

func defaultLimits() risk.Limits {
	return risk.Limits{
		MinConfidenceThreshold:  0.5,
		MaxSingleTradeUSD:       decimal.NewFromInt(25_000),
		MaxPositionSizeUSD:      decimal.NewFromInt(500_000),
		MaxPortfolioExposureUSD: decimal.NewFromInt(2_000_000),
		MaxDailyLossUSD:         decimal.NewFromInt(10_000),
		MaxConcentrationPct:     0.25,
	}
}

func newTestAgent(t *testing.T, limits risk.Limits) (*risk.Agent, bus.Bus) {
	b := bus.NewMemBus(zerolog.Nop())
	t.Cleanup(func() { _ = b.Close() })
	books := book.NewRegistry()
	books.Register(types.Book{ID: "book-1", Type: types.BookProp, CapitalAllocated: decimal.NewFromInt(1_000_000)})
	a := risk.NewAgent("risk-1", limits, books, b, zerolog.Nop(), nil)

	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: types.MetaDecisionMsg{
		Decision: types.MetaDecision{
			GlobalState:    types.GlobalNormal,
			StrategyStates: map[string]types.StrategyState{"momentum": types.StrategyEnable},
			ExpiresAt:      time.Now().Add(time.Minute),
		},
	}})
	return a, b
}

func TestAgent_E2E1_NormalApproval(t *testing.T) {
	a, _ := newTestAgent(t, defaultLimits())
	intent := types.TradeIntent{ID: uuid.New(), BookID: "book-1", StrategyID: "momentum", Instrument: "BTC-USD", Direction: types.DirectionBuy, TargetExposureUSD: decimal.NewFromInt(10_000), Confidence: 0.8}

	d := a.Evaluate(intent)
	assert.Equal(t, types.RiskApprove, d.Decision)
	assert.True(t, d.AdjustedSize.Equal(decimal.NewFromInt(10_000)))
}

func TestAgent_E2E2_SizeScaling(t *testing.T) {
	a, _ := newTestAgent(t, defaultLimits())
	intent := types.TradeIntent{ID: uuid.New(), BookID: "book-1", StrategyID: "momentum", Instrument: "BTC-USD", Direction: types.DirectionBuy, TargetExposureUSD: decimal.NewFromInt(40_000), Confidence: 0.8}

	d := a.Evaluate(intent)
	assert.Equal(t, types.RiskApprove, d.Decision)
	assert.True(t, d.AdjustedSize.Equal(decimal.NewFromInt(25_000)))
}

func TestAgent_E2E3_ConcentrationReject(t *testing.T) {
	a, _ := newTestAgent(t, defaultLimits())
	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: types.Fill{
		MessageID: uuid.New(), Instrument: "BTC-USD", Side: types.DirectionBuy,
		SizeUSD: decimal.NewFromInt(200_000), FilledPrice: decimal.NewFromInt(60000),
	}}))

	intent := types.TradeIntent{ID: uuid.New(), BookID: "book-1", StrategyID: "momentum", Instrument: "BTC-USD", Direction: types.DirectionBuy, TargetExposureUSD: decimal.NewFromInt(100_000), Confidence: 0.8}
	d := a.Evaluate(intent)
	assert.Equal(t, types.RiskReject, d.Decision)
	assert.Contains(t, d.Reasons, "concentration_exceeded")
}

func TestAgent_E2E4_KillSwitchChain(t *testing.T) {
	limits := defaultLimits()
	a, _ := newTestAgent(t, limits)

	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: types.Fill{
		MessageID: uuid.New(), Instrument: "ETH-USD", Side: types.DirectionSell,
		SizeUSD: decimal.NewFromInt(1), FilledPrice: decimal.NewFromInt(3000), PnL: decimal.NewFromInt(-15_000),
	}}))

	intent := types.TradeIntent{ID: uuid.New(), BookID: "book-1", StrategyID: "momentum", Instrument: "BTC-USD", TargetExposureUSD: decimal.NewFromInt(1_000), Confidence: 0.8}
	d := a.Evaluate(intent)
	assert.Equal(t, types.RiskReject, d.Decision)
	assert.Contains(t, d.Reasons, "max_daily_loss_exceeded")

	// Push past 1.5x the daily loss limit -- must trip the kill switch.
	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: types.Fill{
		MessageID: uuid.New(), Instrument: "ETH-USD", Side: types.DirectionSell,
		SizeUSD: decimal.NewFromInt(1), FilledPrice: decimal.NewFromInt(3000), PnL: decimal.NewFromInt(-2_000),
	}}))
	_, _, _, killed := a.Snapshot()
	assert.True(t, killed)

	d2 := a.Evaluate(intent)
	assert.Equal(t, types.RiskReject, d2.Decision)
	assert.Contains(t, d2.Reasons, "kill_switch_active")
}

func TestAgent_RejectsWithoutMetaDecision(t *testing.T) {
	b := bus.NewMemBus(zerolog.Nop())
	t.Cleanup(func() { _ = b.Close() })
	a := risk.NewAgent("risk-1", defaultLimits(), book.NewRegistry(), b, zerolog.Nop(), nil)

	intent := types.TradeIntent{ID: uuid.New(), StrategyID: "momentum", Instrument: "BTC-USD", TargetExposureUSD: decimal.NewFromInt(1_000), Confidence: 0.8}
	d := a.Evaluate(intent)
	assert.Equal(t, types.RiskReject, d.Decision)
	assert.Contains(t, d.Reasons, "no_meta_decision")
}

func TestAgent_RejectsReduceOnlyNonClosingIntent(t *testing.T) {
	a, _ := newTestAgent(t, defaultLimits())
	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: types.MetaDecisionMsg{Decision: types.MetaDecision{
		GlobalState: types.GlobalReduceOnly, ExpiresAt: time.Now().Add(time.Minute),
	}}}))

	intent := types.TradeIntent{ID: uuid.New(), StrategyID: "momentum", Instrument: "BTC-USD", TargetExposureUSD: decimal.NewFromInt(1_000), Confidence: 0.8}
	d := a.Evaluate(intent)
	assert.Equal(t, types.RiskReject, d.Decision)
	assert.Contains(t, d.Reasons, "reduce_only_requires_closing_intent")

	closing := intent
	closing.IsClosingIntent = true
	d2 := a.Evaluate(closing)
	assert.Equal(t, types.RiskApprove, d2.Decision)
}

func TestAgent_IdempotentFillHandling(t *testing.T) {
	a, _ := newTestAgent(t, defaultLimits())
	fillID := uuid.New()
	fill := types.Fill{MessageID: fillID, Instrument: "BTC-USD", Side: types.DirectionBuy, SizeUSD: decimal.NewFromInt(5_000), FilledPrice: decimal.NewFromInt(60000), PnL: decimal.NewFromInt(100)}

	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: fill}))
	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: fill}))

	positions, dailyPnL, totalExposure, _ := a.Snapshot()
	assert.True(t, positions["BTC-USD"].Equal(decimal.NewFromInt(5_000)))
	assert.True(t, dailyPnL.Equal(decimal.NewFromInt(100)))
	assert.True(t, totalExposure.Equal(decimal.NewFromInt(5_000)))
}

func TestAgent_RejectsInvalidFillPrice(t *testing.T) {
	a, _ := newTestAgent(t, defaultLimits())
	err := a.HandleMessage(context.Background(), types.Message{Payload: types.Fill{MessageID: uuid.New(), FilledPrice: decimal.Zero}})
	assert.Error(t, err)
}
