package orderbook

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradectl/controlplane/internal/signal"
	"github.com/tradectl/controlplane/internal/types"
)

func TestPlugin_SilentWithoutDepth(t *testing.T) {
	p := New("orderbook-1", decimal.NewFromInt(500))
	intent, err := p.Evaluate(context.Background(), signal.MarketSnapshot{Instrument: "BTC-USD"})
	require.NoError(t, err)
	assert.Nil(t, intent)
}

func TestPlugin_BuysOnBidHeavyBook(t *testing.T) {
	p := New("orderbook-1", decimal.NewFromInt(500))
	intent, err := p.Evaluate(context.Background(), signal.MarketSnapshot{Instrument: "BTC-USD", BidVolume: 800, AskVolume: 200})
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, "buy", string(intent.Direction))
	assert.Equal(t, types.LiquidityHigh, intent.LiquidityRequirement)
}
