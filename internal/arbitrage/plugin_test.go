package arbitrage

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradectl/controlplane/internal/signal"
)

func TestPlugin_SilentBelowMinProfit(t *testing.T) {
	venues := map[string]Quoter{
		"venue-a": fixedQuoter(decimal.NewFromInt(100)),
		"venue-b": fixedQuoter(decimal.NewFromInt(100)),
	}
	p := NewPlugin("arbitrage-1", decimal.NewFromInt(500), NewScanner([]string{"BTC-USD"}, 1, venues))
	intent, err := p.Evaluate(context.Background(), signal.MarketSnapshot{Instrument: "BTC-USD"})
	require.NoError(t, err)
	assert.Nil(t, intent)
}

func TestPlugin_ProposesIntentOnProfitableSpread(t *testing.T) {
	venues := map[string]Quoter{
		"venue-a": fixedQuoter(decimal.NewFromInt(100)),
		"venue-b": fixedQuoter(decimal.NewFromInt(110)),
	}
	p := NewPlugin("arbitrage-1", decimal.NewFromInt(500), NewScanner([]string{"BTC-USD"}, 1, venues))
	intent, err := p.Evaluate(context.Background(), signal.MarketSnapshot{Instrument: "BTC-USD"})
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, "arbitrage-1", intent.StrategyID)
	assert.Equal(t, "cross_exchange", intent.Metadata["kind"])
}
