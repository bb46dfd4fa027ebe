package arbitrage

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedQuoter decimal.Decimal

func (f fixedQuoter) Quote(ctx context.Context, instrument string) (decimal.Decimal, bool) {
	return decimal.Decimal(f), true
}

func TestCrossExchange_ProfitBps(t *testing.T) {
	o := CrossExchange{
		InstrumentID: "BTC-USD",
		BuyPrice:     decimal.NewFromInt(100),
		SellPrice:    decimal.NewFromInt(101),
		FeeBps:       5,
	}
	assert.InDelta(t, 95, o.ProfitBps(), 1e-6) // 100bps spread - 5bps fees
}

func TestTriangular_ProfitBps(t *testing.T) {
	o := Triangular{ImpliedRate: 1.002, FeeBps: 5}
	assert.InDelta(t, 15, o.ProfitBps(), 1e-6)
}

func TestFunding_ProfitBps(t *testing.T) {
	o := Funding{FundingRateDiff: 0.001}
	assert.InDelta(t, 10, o.ProfitBps(), 1e-6)
}

func TestPairs_ProfitBps(t *testing.T) {
	o := Pairs{ZScore: -2}
	assert.InDelta(t, 50, o.ProfitBps(), 1e-6)
}

func TestScanner_FindsProfitableCrossExchangeOpportunity(t *testing.T) {
	venues := map[string]Quoter{
		"venue-a": fixedQuoter(decimal.NewFromInt(100)),
		"venue-b": fixedQuoter(decimal.NewFromInt(105)),
	}
	s := NewScanner([]string{"BTC-USD"}, 1, venues)
	opps := s.Scan(context.Background())
	require.NotEmpty(t, opps)
	for _, o := range opps {
		assert.Equal(t, KindCrossExchange, o.Kind())
		assert.Equal(t, "BTC-USD", o.Instrument())
		assert.Greater(t, o.ProfitBps(), 0.0)
	}
}

func TestScanner_NoOpportunityWhenVenuesAgree(t *testing.T) {
	venues := map[string]Quoter{
		"venue-a": fixedQuoter(decimal.NewFromInt(100)),
		"venue-b": fixedQuoter(decimal.NewFromInt(100)),
	}
	s := NewScanner([]string{"BTC-USD"}, 1, venues)
	assert.Empty(t, s.Scan(context.Background()))
}
