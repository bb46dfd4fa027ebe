package arbitrage

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradectl/controlplane/internal/signal"
	"github.com/tradectl/controlplane/internal/types"
)

// Plugin hosts a Scanner behind the signal.Plugin seam so the Arbitrage
// agent of spec §4.3's canonical registration order runs inside the same
// signal.Agent runtime as every other signal plug-in, rather than as a
// privileged component with its own loop.
type Plugin struct {
	StrategyID   string
	SizeUSD      decimal.Decimal
	MinProfitBps float64 // minimum ProfitBps to act, default 5

	scanner *Scanner
}

func NewPlugin(strategyID string, sizeUSD decimal.Decimal, scanner *Scanner) *Plugin {
	return &Plugin{StrategyID: strategyID, SizeUSD: sizeUSD, MinProfitBps: 5, scanner: scanner}
}

func (p *Plugin) Name() string { return p.StrategyID }

// Evaluate reads only the snapshot's Instrument -- a Scanner compares
// venues directly rather than reading the shared market cache's prices --
// and proposes a buy on that instrument when its best opportunity clears
// MinProfitBps, which the
// Execution agent's venue selection (spec §4.7) is expected to route to
// the cheaper leg.
func (p *Plugin) Evaluate(ctx context.Context, snapshot signal.MarketSnapshot) (*types.TradeIntent, error) {
	opps := p.scanner.Scan(ctx)
	var best Opportunity
	for _, o := range opps {
		if o.Instrument() != snapshot.Instrument {
			continue
		}
		if best == nil || o.ProfitBps() > best.ProfitBps() {
			best = o
		}
	}
	if best == nil || best.ProfitBps() < p.MinProfitBps {
		return nil, nil
	}

	confidence := best.ProfitBps() / 100
	if confidence > 1 {
		confidence = 1
	}

	return &types.TradeIntent{
		ID:                uuid.New(),
		StrategyID:        p.StrategyID,
		Instrument:        snapshot.Instrument,
		Direction:         types.DirectionBuy,
		TargetExposureUSD: p.SizeUSD,
		Confidence:        confidence,
		Metadata:          map[string]string{"source": "arbitrage", "kind": string(best.Kind())},
	}, nil
}
