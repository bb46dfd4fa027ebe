// Package orderbook is a signal.Plugin that trades bid/ask volume
// imbalance, grounded on cmd/agents/orderbook-agent's calculateImbalance
// core, narrowed from a full L2-depth REST fetch (out of scope: market-data
// ingestion is an external collaborator per spec §1) to the optional depth
// fields spec §6's market_data payload already carries.
package orderbook

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradectl/controlplane/internal/signal"
	"github.com/tradectl/controlplane/internal/types"
)

// Plugin proposes a trade in the direction of the heavier side of the book
// whenever the imbalance ratio clears Threshold, and requests high
// liquidity since imbalance-driven entries are thinner-book ones.
type Plugin struct {
	StrategyID string
	SizeUSD    decimal.Decimal
	Threshold  float64 // minimum |imbalance| to act, default 0.3
}

func New(strategyID string, sizeUSD decimal.Decimal) *Plugin {
	return &Plugin{StrategyID: strategyID, SizeUSD: sizeUSD, Threshold: 0.3}
}

func (p *Plugin) Name() string { return p.StrategyID }

func (p *Plugin) Evaluate(ctx context.Context, snapshot signal.MarketSnapshot) (*types.TradeIntent, error) {
	total := snapshot.BidVolume + snapshot.AskVolume
	if total <= 0 {
		return nil, nil
	}
	imbalance := (snapshot.BidVolume - snapshot.AskVolume) / total
	if imbalance > -p.Threshold && imbalance < p.Threshold {
		return nil, nil
	}

	dir := types.DirectionBuy
	if imbalance < 0 {
		dir = types.DirectionSell
	}
	confidence := imbalance
	if confidence < 0 {
		confidence = -confidence
	}

	return &types.TradeIntent{
		ID:                   uuid.New(),
		StrategyID:           p.StrategyID,
		Instrument:           snapshot.Instrument,
		Direction:            dir,
		TargetExposureUSD:    p.SizeUSD,
		Confidence:           confidence,
		LiquidityRequirement: types.LiquidityHigh,
		Metadata:             map[string]string{"source": "orderbook"},
	}, nil
}
