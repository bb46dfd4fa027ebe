package signal

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradectl/controlplane/internal/types"
)

// AlwaysBuy is a synthetic plug-in that proposes a fixed-size buy on every
// snapshot, standing in for the per-strategy signal logic a configured
// strategy's real plug-in would supply (spec §4.8 registers strategies by
// ID and weight; which concrete Plugin backs a given ID is a deployment
// concern outside this repo's bundled strategies).
type AlwaysBuy struct {
	StrategyID string
	SizeUSD    decimal.Decimal
	Confidence float64
}

func NewAlwaysBuy(strategyID string, sizeUSD decimal.Decimal) *AlwaysBuy {
	return &AlwaysBuy{StrategyID: strategyID, SizeUSD: sizeUSD, Confidence: 0.8}
}

func (p *AlwaysBuy) Name() string { return p.StrategyID }

func (p *AlwaysBuy) Evaluate(ctx context.Context, snapshot MarketSnapshot) (*types.TradeIntent, error) {
	return &types.TradeIntent{
		ID:                uuid.New(),
		StrategyID:        p.StrategyID,
		Instrument:        snapshot.Instrument,
		Direction:         types.DirectionBuy,
		TargetExposureUSD: p.SizeUSD,
		Confidence:        p.Confidence,
	}, nil
}
