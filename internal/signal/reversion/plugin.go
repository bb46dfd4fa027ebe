// Package reversion is a signal.Plugin that fades statistical extremes:
// when the latest price sits more than ZThreshold standard deviations from
// its recent mean, it proposes a trade back toward the mean. Grounded on
// cmd/agents/reversion-agent's mean-reversion core, narrowed to the
// signal.Plugin seam (spec §6). The z-score itself is plain arithmetic --
// no example repo wraps mean-reversion z-scores as a library call, unlike
// RSI/MACD/Bollinger/EMA which internal/indicators already wraps around
// cinar/indicator/v2 for the technical and trend plug-ins -- so this is the
// one signal plug-in computed directly rather than through that library.
package reversion

import (
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradectl/controlplane/internal/marketcache"
	"github.com/tradectl/controlplane/internal/signal"
	"github.com/tradectl/controlplane/internal/types"
)

// Plugin fades deviations from the rolling mean of the last Window prices.
type Plugin struct {
	StrategyID string
	SizeUSD    decimal.Decimal
	Window     int
	ZThreshold float64 // minimum |z-score| to act, default 2.0

	history *marketcache.Cache
}

func New(strategyID string, sizeUSD decimal.Decimal, history *marketcache.Cache) *Plugin {
	return &Plugin{
		StrategyID: strategyID,
		SizeUSD:    sizeUSD,
		Window:     30,
		ZThreshold: 2.0,
		history:    history,
	}
}

func (p *Plugin) Name() string { return p.StrategyID }

func (p *Plugin) Evaluate(ctx context.Context, snapshot signal.MarketSnapshot) (*types.TradeIntent, error) {
	prices := p.history.History(snapshot.Instrument)
	if len(prices) < p.Window {
		return nil, nil
	}
	window := prices[len(prices)-p.Window:]

	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(len(window))

	variance := 0.0
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(window))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return nil, nil
	}

	latest := window[len(window)-1]
	z := (latest - mean) / stddev
	if math.Abs(z) < p.ZThreshold {
		return nil, nil
	}

	// Price far above the mean is expected to fall back -- sell; far below,
	// expected to rise back -- buy.
	dir := types.DirectionBuy
	if z > 0 {
		dir = types.DirectionSell
	}

	confidence := math.Abs(z) / (p.ZThreshold * 2)
	if confidence > 1 {
		confidence = 1
	}

	return &types.TradeIntent{
		ID:                uuid.New(),
		StrategyID:        p.StrategyID,
		Instrument:        snapshot.Instrument,
		Direction:         dir,
		TargetExposureUSD: p.SizeUSD,
		Confidence:        confidence,
		IsClosingIntent:   false,
		Metadata:          map[string]string{"source": "reversion"},
	}, nil
}
