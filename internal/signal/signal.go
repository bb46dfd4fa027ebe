// Package signal hosts strategy plug-ins behind a single agent shape (spec
// §6's "strategy plug-ins" seam): a plug-in looks at a MarketSnapshot and
// either proposes a TradeIntent or stays silent. The host agent is generic
// across plug-ins, grounded on internal/agents/base.go's Run/cycle shape
// but carrying no MCP-specific logic itself -- that lives in the
// signal/mcpbridge plug-in.
package signal

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/marketcache"
	"github.com/tradectl/controlplane/internal/types"
)

// MarketSnapshot is the read-only view of one instrument a plug-in
// evaluates against (spec §6.A).
type MarketSnapshot struct {
	Instrument    string
	Price         float64
	Spread        float64
	PriceChange1M float64
	BidVolume     float64
	AskVolume     float64
	Timestamp     time.Time
}

// Plugin is the strategy seam: stateless with respect to the host, it may
// hold its own internal state (e.g. an MCP session, a price-history cache or
// a sentiment provider) and consult it alongside the snapshot it's given.
type Plugin interface {
	Name() string
	Evaluate(ctx context.Context, snapshot MarketSnapshot) (*types.TradeIntent, error)
}

// Agent hosts exactly one Plugin and drives it against every instrument in
// Instruments on every cycle tick, publishing any resulting TradeIntent to
// risk_check (spec §6's Bus subjects).
type Agent struct {
	name        string
	plugin      Plugin
	cache       *marketcache.Cache
	instruments []string
	interval    time.Duration
	bus         bus.Bus
	log         zerolog.Logger
}

func NewAgent(name string, plugin Plugin, cache *marketcache.Cache, instruments []string, interval time.Duration, b bus.Bus, log zerolog.Logger) *Agent {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Agent{
		name:        name,
		plugin:      plugin,
		cache:       cache,
		instruments: instruments,
		interval:    interval,
		bus:         b,
		log:         log.With().Str("component", "signal").Str("plugin", plugin.Name()).Logger(),
	}
}

func (a *Agent) Name() string                 { return a.name }
func (a *Agent) Type() string                 { return "signal" }
func (a *Agent) CycleInterval() time.Duration { return a.interval }

// Subjects subscribes to market_data so a standalone signal-agent process
// fills its own cache from whatever publishes ticks onto the bus, rather
// than requiring an in-process-shared *marketcache.Cache.
func (a *Agent) Subjects() []types.Subject { return []types.Subject{types.SubjectMarketData} }

func (a *Agent) OnStart(ctx context.Context) error  { return nil }
func (a *Agent) OnStop(ctx context.Context) error   { return nil }
func (a *Agent) OnPause(ctx context.Context) error  { return nil }
func (a *Agent) OnResume(ctx context.Context) error { return nil }

func (a *Agent) HandleMessage(ctx context.Context, msg types.Message) error {
	if p, ok := msg.Payload.(marketcache.Point); ok {
		a.cache.Ingest(ctx, p)
	}
	return nil
}

// Cycle evaluates the plug-in against every configured instrument's latest
// known point and publishes any resulting intent.
func (a *Agent) Cycle(ctx context.Context) error {
	for _, instrument := range a.instruments {
		p, ok := a.cache.Get(ctx, instrument)
		if !ok {
			continue
		}
		snapshot := MarketSnapshot{Instrument: p.Instrument, Price: p.Price, Spread: p.Spread, PriceChange1M: p.PriceChange1M, BidVolume: p.BidVolume, AskVolume: p.AskVolume, Timestamp: p.Timestamp}

		intent, err := a.plugin.Evaluate(ctx, snapshot)
		if err != nil {
			a.log.Error().Err(err).Str("instrument", instrument).Msg("plugin evaluation failed")
			continue
		}
		if intent == nil {
			continue
		}
		msg := types.NewMessage(a.name, types.SubjectRiskCheck, *intent, [16]byte{})
		if err := a.bus.Publish(ctx, msg); err != nil {
			a.log.Error().Err(err).Msg("failed to publish trade intent")
		}
	}
	return nil
}
