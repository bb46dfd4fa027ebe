// Package trend is a signal.Plugin that follows a fast/slow EMA crossover,
// grounded on cmd/agents/trend-agent's moving-average trend-following core
// and internal/indicators' cinar/indicator/v2-backed EMA, narrowed to the
// signal.Plugin seam (spec §6).
package trend

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradectl/controlplane/internal/indicators"
	"github.com/tradectl/controlplane/internal/marketcache"
	"github.com/tradectl/controlplane/internal/signal"
	"github.com/tradectl/controlplane/internal/types"
)

// Plugin proposes a buy when the fast EMA sits above the slow EMA (an
// uptrend) and a sell when it sits below, grounded on the teacher's
// "price above EMA is bullish" rule applied to a faster EMA against a
// slower one instead of raw price.
type Plugin struct {
	StrategyID string
	SizeUSD    decimal.Decimal
	FastPeriod int
	SlowPeriod int

	svc     *indicators.Service
	history *marketcache.Cache
}

func New(strategyID string, sizeUSD decimal.Decimal, history *marketcache.Cache) *Plugin {
	return &Plugin{
		StrategyID: strategyID,
		SizeUSD:    sizeUSD,
		FastPeriod: 12,
		SlowPeriod: 26,
		svc:        indicators.NewService(),
		history:    history,
	}
}

func (p *Plugin) Name() string { return p.StrategyID }

func (p *Plugin) Evaluate(ctx context.Context, snapshot signal.MarketSnapshot) (*types.TradeIntent, error) {
	prices := p.history.History(snapshot.Instrument)
	if len(prices) < p.SlowPeriod+1 {
		return nil, nil
	}
	values := toInterfaceSlice(prices)

	fastRaw, err := p.svc.CalculateEMA(map[string]interface{}{"prices": values, "period": float64(p.FastPeriod)})
	if err != nil {
		return nil, nil
	}
	slowRaw, err := p.svc.CalculateEMA(map[string]interface{}{"prices": values, "period": float64(p.SlowPeriod)})
	if err != nil {
		return nil, nil
	}
	fast := fastRaw.(*indicators.EMAResult)
	slow := slowRaw.(*indicators.EMAResult)

	spreadPct := (fast.Value - slow.Value) / slow.Value
	confidence := spreadPct
	if confidence < 0 {
		confidence = -confidence
	}
	confidence *= 20 // a 5% EMA spread saturates confidence
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0.1 {
		return nil, nil
	}

	dir := types.DirectionBuy
	if fast.Value < slow.Value {
		dir = types.DirectionSell
	}

	return &types.TradeIntent{
		ID:                uuid.New(),
		StrategyID:        p.StrategyID,
		Instrument:        snapshot.Instrument,
		Direction:         dir,
		TargetExposureUSD: p.SizeUSD,
		Confidence:        confidence,
		Metadata:          map[string]string{"source": "trend"},
	}, nil
}

func toInterfaceSlice(prices []float64) []interface{} {
	out := make([]interface{}, len(prices))
	for i, v := range prices {
		out[i] = v
	}
	return out
}
