// Package technical is a signal.Plugin combining RSI, MACD, and Bollinger
// Bands into one trade intent, grounded on cmd/agents/technical-agent's
// belief-base weighting of the same three indicators, narrowed to the
// signal.Plugin seam (spec §6) and internal/indicators' cinar/indicator/v2
// wrappers instead of the teacher's standalone NATS-connected agent.
package technical

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradectl/controlplane/internal/indicators"
	"github.com/tradectl/controlplane/internal/marketcache"
	"github.com/tradectl/controlplane/internal/signal"
	"github.com/tradectl/controlplane/internal/types"
)

// minHistory is the shortest price window the three indicators below can
// produce a value from (MACD's 26-period EMA plus a 9-period signal line).
const minHistory = 35

// Weights mirrors the teacher's confidenceWeights map: RSI, MACD, and
// Bollinger each contribute a share of the combined belief.
type Weights struct {
	RSI       float64
	MACD      float64
	Bollinger float64
}

// DefaultWeights matches cmd/agents/technical-agent's defaults.
func DefaultWeights() Weights {
	return Weights{RSI: 0.3, MACD: 0.4, Bollinger: 0.3}
}

// Plugin evaluates a single instrument's RSI/MACD/Bollinger belief and
// proposes a fixed-notional intent when the combined belief crosses a
// directional threshold.
type Plugin struct {
	StrategyID string
	SizeUSD    decimal.Decimal
	Weights    Weights
	Threshold  float64 // combined belief magnitude required to act, default 0.5

	svc     *indicators.Service
	history *marketcache.Cache
}

func New(strategyID string, sizeUSD decimal.Decimal, history *marketcache.Cache) *Plugin {
	return &Plugin{
		StrategyID: strategyID,
		SizeUSD:    sizeUSD,
		Weights:    DefaultWeights(),
		Threshold:  0.5,
		svc:        indicators.NewService(),
		history:    history,
	}
}

func (p *Plugin) Name() string { return p.StrategyID }

// Evaluate computes RSI, MACD, and Bollinger Bands over the instrument's
// recent price history and combines their directional votes into one
// belief score in [-1,1], grounded on updateBeliefs' per-indicator
// confidence weighting. A belief whose magnitude clears Threshold produces
// an intent in that direction; otherwise the plug-in stays silent.
func (p *Plugin) Evaluate(ctx context.Context, snapshot signal.MarketSnapshot) (*types.TradeIntent, error) {
	prices := p.history.History(snapshot.Instrument)
	if len(prices) < minHistory {
		return nil, nil
	}

	args := map[string]interface{}{"prices": toInterfaceSlice(prices)}

	belief, confidence := 0.0, 0.0

	if raw, err := p.svc.CalculateRSI(args); err == nil {
		rsi := raw.(*indicators.RSIResult)
		switch rsi.Signal {
		case "oversold":
			belief += p.Weights.RSI
		case "overbought":
			belief -= p.Weights.RSI
		}
		confidence += rsiConfidence(rsi.Value) * p.Weights.RSI
	}

	if raw, err := p.svc.CalculateMACD(args); err == nil {
		macd := raw.(*indicators.MACDResult)
		switch macd.Crossover {
		case "bullish":
			belief += p.Weights.MACD
		case "bearish":
			belief -= p.Weights.MACD
		}
		confidence += macdConfidence(macd.Histogram) * p.Weights.MACD
	}

	if raw, err := p.svc.CalculateBollingerBands(args); err == nil {
		bb := raw.(*indicators.BollingerBandsResult)
		switch bb.Signal {
		case "buy":
			belief += p.Weights.Bollinger
		case "sell":
			belief -= p.Weights.Bollinger
		}
		confidence += bollingerConfidence(snapshot.Price, bb) * p.Weights.Bollinger
	}

	if belief > p.Threshold {
		return p.intent(types.DirectionBuy, snapshot.Instrument, confidence), nil
	}
	if belief < -p.Threshold {
		return p.intent(types.DirectionSell, snapshot.Instrument, confidence), nil
	}
	return nil, nil
}

func (p *Plugin) intent(dir types.Direction, instrument string, confidence float64) *types.TradeIntent {
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}
	return &types.TradeIntent{
		ID:                uuid.New(),
		StrategyID:        p.StrategyID,
		Instrument:        instrument,
		Direction:         dir,
		TargetExposureUSD: p.SizeUSD,
		Confidence:        confidence,
		Metadata:          map[string]string{"source": "technical"},
	}
}

func toInterfaceSlice(prices []float64) []interface{} {
	out := make([]interface{}, len(prices))
	for i, v := range prices {
		out[i] = v
	}
	return out
}

// rsiConfidence mirrors calculateRSIConfidence: extremes carry more weight
// than readings near the neutral midpoint.
func rsiConfidence(rsi float64) float64 {
	if rsi <= 30 || rsi >= 70 {
		return 0.9
	}
	distance := 1 - (rsi-30)/40
	if distance < 0 {
		distance = 0
	}
	return 0.3 + 0.6*distance
}

// macdConfidence mirrors calculateMACDConfidence: larger histograms (in
// magnitude) carry more conviction, capped at 1.
func macdConfidence(histogram float64) float64 {
	c := histogram
	if c < 0 {
		c = -c
	}
	c = 0.4 + c*10
	if c > 1 {
		c = 1
	}
	return c
}

// bollingerConfidence mirrors calculateBollingerConfidence: price near a
// band edge carries more conviction than price near the middle band.
func bollingerConfidence(price float64, bb *indicators.BollingerBandsResult) float64 {
	width := bb.Upper - bb.Lower
	if width <= 0 {
		return 0.3
	}
	distanceFromMiddle := price - bb.Middle
	if distanceFromMiddle < 0 {
		distanceFromMiddle = -distanceFromMiddle
	}
	c := 0.3 + (distanceFromMiddle/(width/2))*0.6
	if c > 1 {
		c = 1
	}
	return c
}
