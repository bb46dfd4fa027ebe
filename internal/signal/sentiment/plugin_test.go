package sentiment

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradectl/controlplane/internal/signal"
)

func TestPlugin_SilentBelowThreshold(t *testing.T) {
	p := New("sentiment-1", decimal.NewFromInt(500), FixedProvider(0.1))
	intent, err := p.Evaluate(context.Background(), signal.MarketSnapshot{Instrument: "BTC-USD"})
	require.NoError(t, err)
	assert.Nil(t, intent)
}

func TestPlugin_BuysOnStrongPositiveSentiment(t *testing.T) {
	p := New("sentiment-1", decimal.NewFromInt(500), FixedProvider(0.8))
	intent, err := p.Evaluate(context.Background(), signal.MarketSnapshot{Instrument: "BTC-USD"})
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, "buy", string(intent.Direction))
	assert.InDelta(t, 0.8, intent.Confidence, 1e-9)
}

func TestPlugin_SellsOnStrongNegativeSentiment(t *testing.T) {
	p := New("sentiment-1", decimal.NewFromInt(500), FixedProvider(-0.9))
	intent, err := p.Evaluate(context.Background(), signal.MarketSnapshot{Instrument: "BTC-USD"})
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, "sell", string(intent.Direction))
}
