// Package sentiment is a signal.Plugin that converts an externally supplied
// sentiment score into a trade intent, grounded on cmd/agents/
// sentiment-agent's news/fear-greed aggregation core. Per spec §1, ML/news
// signal generation itself is out of scope for the control plane -- the
// plug-in seam (spec §6) only requires a SentimentProvider returning a
// score, not the news-fetching and NLP pipeline that produces it. A real
// deployment wires a provider backed by a news API the way the teacher's
// CryptoPanic client was; this package ships only the bus-facing half.
package sentiment

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradectl/controlplane/internal/signal"
	"github.com/tradectl/controlplane/internal/types"
)

// Provider returns an aggregate sentiment score in [-1,1] for an
// instrument, where -1 is maximally bearish and 1 maximally bullish. The
// teacher's NewsAPI/fear-greed HTTP aggregation implements this seam;
// tests use a fixed-score stub.
type Provider interface {
	Score(ctx context.Context, instrument string) (float64, error)
}

// Plugin proposes a trade in the direction of a strong external sentiment
// reading, grounded on generateSignal's overall-sentiment threshold.
type Plugin struct {
	StrategyID string
	SizeUSD    decimal.Decimal
	Threshold  float64 // minimum |score| to act, default 0.4

	provider Provider
}

func New(strategyID string, sizeUSD decimal.Decimal, provider Provider) *Plugin {
	return &Plugin{StrategyID: strategyID, SizeUSD: sizeUSD, Threshold: 0.4, provider: provider}
}

func (p *Plugin) Name() string { return p.StrategyID }

func (p *Plugin) Evaluate(ctx context.Context, snapshot signal.MarketSnapshot) (*types.TradeIntent, error) {
	score, err := p.provider.Score(ctx, snapshot.Instrument)
	if err != nil {
		return nil, err
	}
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	if score > -p.Threshold && score < p.Threshold {
		return nil, nil
	}

	dir := types.DirectionBuy
	if score < 0 {
		dir = types.DirectionSell
	}
	confidence := score
	if confidence < 0 {
		confidence = -confidence
	}

	return &types.TradeIntent{
		ID:                uuid.New(),
		StrategyID:        p.StrategyID,
		Instrument:        snapshot.Instrument,
		Direction:         dir,
		TargetExposureUSD: p.SizeUSD,
		Confidence:        confidence,
		Metadata:          map[string]string{"source": "sentiment"},
	}, nil
}

// FixedProvider is a constant-score Provider for tests and local smoke-runs.
type FixedProvider float64

func (f FixedProvider) Score(ctx context.Context, instrument string) (float64, error) {
	return float64(f), nil
}
