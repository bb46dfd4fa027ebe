package execution_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/execution"
	"github.com/tradectl/controlplane/internal/types"
	"github.com/tradectl/controlplane/internal/venue"
)

func newTestAgent(t *testing.T) (*execution.Agent, bus.Bus, *venue.Mock) {
	mock := venue.NewMock("mock-1", venue.DefaultMockFees())
	mock.SetMarketPrice("BTC-USD", decimal.NewFromInt(60000))
	registry := venue.NewRegistry("mock-1", mock)

	b := bus.NewMemBus(zerolog.Nop())
	t.Cleanup(func() { _ = b.Close() })
	a := execution.NewAgent("execution-1", execution.DefaultConfig(), registry, b, zerolog.Nop(), nil)
	require.NoError(t, a.Cycle(context.Background()))
	return a, b, mock
}

func TestAgent_ExecutesApprovedIntentAndPublishesFill(t *testing.T) {
	a, b, _ := newTestAgent(t)
	sub := b.Subscribe(types.SubjectFills)
	defer sub.Close()

	intent := types.TradeIntent{ID: uuid.New(), Instrument: "BTC-USD", Direction: types.DirectionBuy, StrategyID: "momentum", TargetExposureUSD: decimal.NewFromInt(10_000)}
	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: intent}))

	decision := types.RiskDecision{IntentID: intent.ID, Decision: types.RiskApprove, AdjustedSize: decimal.NewFromInt(10_000)}
	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Subject: types.SubjectRiskApproved, Payload: decision}))

	select {
	case msg := <-sub.C:
		fill, ok := msg.Payload.(types.Fill)
		require.True(t, ok)
		assert.Equal(t, "BTC-USD", fill.Instrument)
		assert.True(t, fill.PnL.IsZero())
		assert.True(t, fill.FilledPrice.GreaterThan(decimal.Zero))
	default:
		t.Fatal("expected a fill to be published")
	}

	received, filled, failed, _, _ := a.Snapshot()
	assert.Equal(t, 1, received)
	assert.Equal(t, 1, filled)
	assert.Equal(t, 0, failed)
}

func TestAgent_RejectedIntentEvictsCache(t *testing.T) {
	a, _, _ := newTestAgent(t)
	intent := types.TradeIntent{ID: uuid.New(), Instrument: "BTC-USD"}
	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: intent}))
	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Subject: types.SubjectRiskRejected, Payload: types.RiskDecision{IntentID: intent.ID, Decision: types.RiskReject}}))

	err := a.HandleMessage(context.Background(), types.Message{Subject: types.SubjectRiskApproved, Payload: types.RiskDecision{IntentID: intent.ID, Decision: types.RiskApprove, AdjustedSize: decimal.NewFromInt(1)}})
	assert.Error(t, err)
}

func TestAgent_NoMarketPriceReportsFailure(t *testing.T) {
	a, b, _ := newTestAgent(t)
	sub := b.Subscribe(types.SubjectFills)
	defer sub.Close()

	intent := types.TradeIntent{ID: uuid.New(), Instrument: "ETH-USD"}
	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: intent}))
	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Subject: types.SubjectRiskApproved, Payload: types.RiskDecision{IntentID: intent.ID, Decision: types.RiskApprove, AdjustedSize: decimal.NewFromInt(1000)}}))

	select {
	case <-sub.C:
		t.Fatal("expected no fill for an unpriceable instrument")
	default:
	}
	_, _, failed, _, _ := a.Snapshot()
	assert.Equal(t, 1, failed)
}

func TestAgent_PausedAgentSkipsApprovedIntents(t *testing.T) {
	a, _, _ := newTestAgent(t)
	require.NoError(t, a.OnPause(context.Background()))

	intent := types.TradeIntent{ID: uuid.New(), Instrument: "BTC-USD"}
	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Payload: intent}))
	require.NoError(t, a.HandleMessage(context.Background(), types.Message{Subject: types.SubjectRiskApproved, Payload: types.RiskDecision{IntentID: intent.ID, Decision: types.RiskApprove, AdjustedSize: decimal.NewFromInt(1000)}}))

	_, filled, _, _, _ := a.Snapshot()
	assert.Equal(t, 0, filled)
}
