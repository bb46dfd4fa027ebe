// Package arbitrage implements the Opportunity sum type of spec §9's
// redesign note: the teacher's duck-typed funding/cross-exchange/pairs/
// triangular opportunity objects, unified only by getattr in publishing
// code (cmd/agents/arbitrage-agent's ArbitrageOpportunity), become one
// interface with a total ProfitBps method instead. The scanner is the
// Arbitrage agent of spec §4.3's canonical registration order, one plug-in
// among the Signal agents rather than a privileged component.
package arbitrage

import (
	"context"

	"github.com/shopspring/decimal"
)

// Kind tags which concrete variant an Opportunity is, grounded on the
// teacher's four opportunity shapes (cross-exchange, triangular, funding,
// pairs), all of which this control plane narrows to cross-exchange
// spreads given the out-of-scope venue connectivity (spec §1) -- the other
// three Kinds are specified for the interface's completeness and exercised
// directly by tests.
type Kind string

const (
	KindCrossExchange Kind = "cross_exchange"
	KindTriangular    Kind = "triangular"
	KindFunding       Kind = "funding"
	KindPairs         Kind = "pairs"
)

// Opportunity is the sum type spec §9 calls for: every variant reports its
// Kind and a total ProfitBps, so publishing code never needs to type-switch
// or getattr into variant-specific fields to decide whether to act.
type Opportunity interface {
	Kind() Kind
	Instrument() string
	ProfitBps() float64
}

// CrossExchange is a same-instrument price discrepancy between two venues:
// buy low on BuyVenue, sell high on SellVenue.
type CrossExchange struct {
	InstrumentID string
	BuyVenue     string
	SellVenue    string
	BuyPrice     decimal.Decimal
	SellPrice    decimal.Decimal
	FeeBps       float64
}

func (o CrossExchange) Kind() Kind          { return KindCrossExchange }
func (o CrossExchange) Instrument() string  { return o.InstrumentID }

// ProfitBps is the round-trip spread in basis points net of FeeBps,
// grounded on calculateOpportunity's spread-minus-fees scoring.
func (o CrossExchange) ProfitBps() float64 {
	if o.BuyPrice.IsZero() {
		return 0
	}
	spread := o.SellPrice.Sub(o.BuyPrice).Div(o.BuyPrice)
	bps, _ := spread.Mul(decimal.NewFromInt(10000)).Float64()
	return bps - o.FeeBps
}

// Triangular is a three-leg cycle (A->B->C->A) whose compounded rate
// should be ~1; ImpliedRate above 1 after fees is profitable.
type Triangular struct {
	InstrumentID string
	ImpliedRate  float64
	FeeBps       float64
}

func (o Triangular) Kind() Kind         { return KindTriangular }
func (o Triangular) Instrument() string { return o.InstrumentID }
func (o Triangular) ProfitBps() float64 {
	return (o.ImpliedRate-1)*10000 - o.FeeBps
}

// Funding is a perpetual-future funding-rate differential between two
// venues, captured by holding opposite positions on each leg.
type Funding struct {
	InstrumentID    string
	LongVenue       string
	ShortVenue      string
	FundingRateDiff float64 // fraction per funding interval
}

func (o Funding) Kind() Kind         { return KindFunding }
func (o Funding) Instrument() string { return o.InstrumentID }
func (o Funding) ProfitBps() float64 { return o.FundingRateDiff * 10000 }

// Pairs is a statistical-arbitrage opportunity between two correlated
// instruments whose spread has diverged from its historical mean.
type Pairs struct {
	InstrumentID   string
	PairInstrument string
	ZScore         float64
}

func (o Pairs) Kind() Kind         { return KindPairs }
func (o Pairs) Instrument() string { return o.InstrumentID }

// ProfitBps approximates expected reversion profit as proportional to the
// z-score's distance from zero; a real implementation would size this off
// the pair's historical spread volatility.
func (o Pairs) ProfitBps() float64 {
	z := o.ZScore
	if z < 0 {
		z = -z
	}
	return z * 25
}

// Quoter is the minimal per-venue seam the Scanner needs: a current
// reference price for an instrument. venue.Mock implements this; a real
// venue adapter would too, without the Scanner needing anything else from
// it (spec §6's "adapter internals are opaque" applied to price discovery).
type Quoter interface {
	Quote(ctx context.Context, instrument string) (decimal.Decimal, bool)
}

// Scanner compares quotes across every registered venue for a fixed
// instrument set and reports every CrossExchange opportunity found,
// grounded on calculateSpreads' all-pairs venue comparison.
type Scanner struct {
	venues      map[string]Quoter
	instruments []string
	feeBps      float64
}

func NewScanner(instruments []string, feeBps float64, venues map[string]Quoter) *Scanner {
	return &Scanner{venues: venues, instruments: instruments, feeBps: feeBps}
}

// Scan returns every Opportunity whose ProfitBps is positive, across every
// distinct venue pair and every configured instrument.
func (s *Scanner) Scan(ctx context.Context) []Opportunity {
	var out []Opportunity
	names := make([]string, 0, len(s.venues))
	for name := range s.venues {
		names = append(names, name)
	}
	for _, instrument := range s.instruments {
		for i := 0; i < len(names); i++ {
			for j := 0; j < len(names); j++ {
				if i == j {
					continue
				}
				buyPrice, ok1 := s.venues[names[i]].Quote(ctx, instrument)
				sellPrice, ok2 := s.venues[names[j]].Quote(ctx, instrument)
				if !ok1 || !ok2 {
					continue
				}
				opp := CrossExchange{
					InstrumentID: instrument,
					BuyVenue:     names[i],
					SellVenue:    names[j],
					BuyPrice:     buyPrice,
					SellPrice:    sellPrice,
					FeeBps:       s.feeBps,
				}
				if opp.ProfitBps() > 0 {
					out = append(out, opp)
				}
			}
		}
	}
	return out
}
