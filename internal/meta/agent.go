// Package meta implements the Meta-Decision agent of spec §4.4: the
// supreme gate deciding whether trading is allowed and at what intensity,
// never what to trade. Grounded line-for-line on original_source/backend/
// app/agents/meta_decision_agent.py's _make_decision (exact check order:
// data presence -> agent liveness -> volatility regime -> liquidity ->
// execution quality -> system stress -> correlation -> finalization) and
// on internal/agents/base.go for the hosting lifecycle.
package meta

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradectl/controlplane/internal/alerts"
	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/marketcache"
	"github.com/tradectl/controlplane/internal/types"
)

// Config holds the thresholds of spec §4.4, all defaulted exactly as the
// spec states.
type Config struct {
	HeartbeatInterval         time.Duration
	DecisionInterval          time.Duration
	DecisionTTL               time.Duration
	CrisisVolatility          float64
	HighVolatility            float64
	NormalVolatility          float64
	LiquidityDegradedSpread   float64
	MaxAvgSlippage            float64
	MaxCriticalAlerts         int
	CorrelationPairThreshold  int
	TrendFollowingStrategies  []string
	NonEssentialStrategies    []string
	CriticalAgentTypes        []string
	CorrelationGroups         marketcache.CorrelationGroups
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:        5 * time.Second,
		DecisionInterval:         5 * time.Second,
		DecisionTTL:              30 * time.Second,
		CrisisVolatility:         0.05,
		HighVolatility:           0.02,
		NormalVolatility:         0.01,
		LiquidityDegradedSpread:  0.003,
		MaxAvgSlippage:           0.002,
		MaxCriticalAlerts:        3,
		CorrelationPairThreshold: 2,
		TrendFollowingStrategies: []string{"trend_following", "momentum"},
		NonEssentialStrategies:   []string{"momentum", "breakout", "funding_arbitrage"},
		CriticalAgentTypes:       []string{"risk", "execution"},
	}
}

type agentHealth struct {
	lastSeen time.Time
	status   string
}

// Agent is the Meta-Decision agent.
type Agent struct {
	name  string
	cfg   Config
	cache *marketcache.Cache
	bus   bus.Bus
	log   zerolog.Logger
	alert alerts.Alerter

	mu              sync.Mutex
	health          map[string]agentHealth // agent_type -> latest heartbeat
	strategies      map[string]bool        // known strategy registry
	strategySlip    map[string][]float64   // recent slippage samples per strategy
	criticalAlerts  int                    // count recorded since the last decision
	last            types.MetaDecision
}

func NewAgent(name string, cfg Config, cache *marketcache.Cache, b bus.Bus, log zerolog.Logger, alert alerts.Alerter) *Agent {
	return &Agent{
		name:         name,
		cfg:          cfg,
		cache:        cache,
		bus:          b,
		log:          log.With().Str("component", "meta").Logger(),
		alert:        alert,
		health:       make(map[string]agentHealth),
		strategies:   make(map[string]bool),
		strategySlip: make(map[string][]float64),
	}
}

// RegisterStrategy adds strategyID to the registry Meta tracks per-strategy
// state for (spec §4.4's strategy_states/size_multipliers maps).
func (a *Agent) RegisterStrategy(strategyID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.strategies[strategyID] = true
}

func (a *Agent) Name() string                 { return a.name }
func (a *Agent) Type() string                 { return "meta" }
func (a *Agent) CycleInterval() time.Duration { return a.cfg.DecisionInterval }

func (a *Agent) Subjects() []types.Subject {
	return []types.Subject{types.SubjectMarketData, types.SubjectFills, types.SubjectAlerts}
}

func (a *Agent) OnStart(ctx context.Context) error  { return nil }
func (a *Agent) OnStop(ctx context.Context) error   { return nil }
func (a *Agent) OnPause(ctx context.Context) error  { return nil }
func (a *Agent) OnResume(ctx context.Context) error { return nil }

func (a *Agent) HandleMessage(ctx context.Context, msg types.Message) error {
	switch payload := msg.Payload.(type) {
	case marketcache.Point:
		a.cache.Ingest(ctx, payload)
	case types.Fill:
		a.recordSlippage(payload)
	case alerts.Alert:
		if payload.Severity == alerts.SeverityCritical {
			a.mu.Lock()
			a.criticalAlerts++
			a.mu.Unlock()
		}
	case types.HeartbeatPayload:
		a.mu.Lock()
		a.health[payload.AgentType] = agentHealth{lastSeen: time.Now(), status: payload.Status}
		a.mu.Unlock()
	}
	return nil
}

func (a *Agent) recordSlippage(f types.Fill) {
	if f.StrategyID == "" {
		return
	}
	slip, _ := f.Slippage.Float64()
	a.mu.Lock()
	defer a.mu.Unlock()
	samples := append(a.strategySlip[f.StrategyID], slip)
	if len(samples) > 50 {
		samples = samples[len(samples)-50:]
	}
	a.strategySlip[f.StrategyID] = samples
}

// Cycle recomputes and broadcasts the MetaDecision every tick (spec §4.4:
// "every ~5s and immediately upon state change"). Any panic during
// decision-making is caught and converted to a HALTED fail-safe (spec
// §4.4's final paragraph), never crashing the agent.
func (a *Agent) Cycle(ctx context.Context) error {
	d := a.decide(time.Now().UTC())
	a.mu.Lock()
	changed := a.last.GlobalState != d.GlobalState || a.last.Regime != d.Regime
	a.last = d
	a.criticalAlerts = 0
	a.mu.Unlock()

	_ = changed // every tick broadcasts; "immediately on change" is satisfied a fortiori
	return a.broadcast(ctx, d)
}

func (a *Agent) broadcast(ctx context.Context, d types.MetaDecision) error {
	msg := types.NewMessage(a.name, types.SubjectControl, types.MetaDecisionMsg{Decision: d, Source: a.name}, [16]byte{})
	return a.bus.Publish(ctx, msg)
}

// StrategyExecutionQuality scores strategyID's recent fills against
// cfg.MaxAvgSlippage, the same slippage stream decide's execution-quality
// check reads (spec §4.4). It is also the one real metric the strategy
// lifecycle state machine (internal/strategylifecycle) has to evaluate
// quarantine triggers against; ok is false until at least one fill has
// been recorded for strategyID.
func (a *Agent) StrategyExecutionQuality(strategyID string) (quality float64, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	samples := a.strategySlip[strategyID]
	if len(samples) == 0 {
		return 0, false
	}
	avg := average(samples)
	if avg < 0 {
		avg = -avg
	}
	quality = 1 - avg/a.cfg.MaxAvgSlippage
	if quality < 0 {
		quality = 0
	}
	if quality > 1 {
		quality = 1
	}
	return quality, true
}

// decide runs the fixed-order algorithm of spec §4.4.
func (a *Agent) decide(now time.Time) (result types.MetaDecision) {
	defer func() {
		if r := recover(); r != nil {
			result = a.failSafe(now, "fail_safe_activated")
			if a.alert != nil {
				_ = a.alert.Send(context.Background(), alerts.Alert{
					Severity: alerts.SeverityCritical,
					Title:    "meta-decision fail-safe",
					Source:   a.name,
				})
			}
		}
	}()

	a.mu.Lock()
	strategies := make([]string, 0, len(a.strategies))
	for s := range a.strategies {
		strategies = append(strategies, s)
	}
	criticalAlerts := a.criticalAlerts
	a.mu.Unlock()

	states := make(map[string]types.StrategyState, len(strategies))
	multipliers := make(map[string]float64, len(strategies))
	for _, s := range strategies {
		states[s] = types.StrategyEnable
		multipliers[s] = 1.0
	}

	// Step 1: data presence.
	if a.cache.Empty() {
		return a.halted(now, types.RegimeChoppy, "no_market_data", states, multipliers, 0)
	}

	// Step 2: critical-agent liveness.
	a.mu.Lock()
	for _, agentType := range a.cfg.CriticalAgentTypes {
		h, ok := a.health[agentType]
		if !ok || now.Sub(h.lastSeen) > 2*a.cfg.HeartbeatInterval || h.status == "stopped" || h.status == "error" {
			a.mu.Unlock()
			return a.halted(now, types.RegimeChoppy, "agent_missing:"+agentType, states, multipliers, 0)
		}
	}
	a.mu.Unlock()

	globalState := types.GlobalNormal
	confidence := 1.0
	regime := types.RegimeTrending
	reasons := []string{}

	// Step 3: volatility regime.
	avgVol := a.cache.AverageAbsReturn()
	switch {
	case avgVol >= a.cfg.CrisisVolatility:
		return a.halted(now, types.RegimeCrisis, "volatility_crisis", states, multipliers, 0)
	case avgVol >= a.cfg.HighVolatility:
		regime = types.RegimeVolatile
		globalState = types.GlobalReduceOnly
		scaleAll(multipliers, 0.25)
		confidence *= 0.5
		reasons = append(reasons, "volatility_high")
	case avgVol >= a.cfg.NormalVolatility:
		regime = types.RegimeChoppy
		for _, s := range a.cfg.TrendFollowingStrategies {
			if _, ok := states[s]; ok {
				states[s] = types.StrategyDisable
				multipliers[s] = 0
			}
		}
		scaleAll(multipliers, 0.5)
		confidence *= 0.7
		reasons = append(reasons, "volatility_elevated")
	}

	// Step 4: liquidity.
	if instrument, spread := a.cache.MaxSpread(); spread > a.cfg.LiquidityDegradedSpread {
		scaleAll(multipliers, 0.5)
		confidence *= 0.8
		reasons = append(reasons, "liquidity_degraded:"+instrument)
	}

	// Step 5: execution quality.
	a.mu.Lock()
	for strategyID, samples := range a.strategySlip {
		if _, known := states[strategyID]; !known || len(samples) == 0 {
			continue
		}
		avg := average(samples)
		if avg > a.cfg.MaxAvgSlippage {
			if states[strategyID] != types.StrategyDisable {
				states[strategyID] = types.StrategyReduceSize
			}
			multipliers[strategyID] *= 0.5
			reasons = append(reasons, "execution_quality:"+strategyID)
		}
	}
	a.mu.Unlock()

	// Step 6: system stress.
	if criticalAlerts > a.cfg.MaxCriticalAlerts {
		globalState = types.GlobalReduceOnly
		confidence *= 0.5
		reasons = append(reasons, "system_stress")
	}

	// Step 7: correlation regime.
	active := make(map[string]bool, len(strategies))
	for _, s := range strategies {
		if states[s] != types.StrategyDisable {
			active[s] = true
		}
	}
	if a.cfg.CorrelationGroups.PairsAboveThreshold(active) > a.cfg.CorrelationPairThreshold {
		scaleAll(multipliers, 0.7)
		reasons = append(reasons, "correlation_regime")
	}

	// Step 8: finalization.
	if globalState != types.GlobalNormal {
		for _, s := range a.cfg.NonEssentialStrategies {
			if _, ok := states[s]; ok && states[s] != types.StrategyDisable {
				states[s] = types.StrategyDisable
				multipliers[s] = 0
			}
		}
	}
	for s, m := range multipliers {
		multipliers[s] = clamp01(m)
	}
	confidence = clamp01(confidence)

	if len(reasons) == 0 {
		reasons = append(reasons, "normal")
	}

	return types.MetaDecision{
		GlobalState:     globalState,
		StrategyStates:  states,
		SizeMultipliers: multipliers,
		Regime:          regime,
		Confidence:      confidence,
		ReasonCodes:     reasons,
		DecidedAt:       now,
		ExpiresAt:       now.Add(a.cfg.DecisionTTL),
	}
}

// halted and failSafe both force the HALTED invariant (spec §3: all
// strategy states DISABLE, all multipliers zero).
func (a *Agent) halted(now time.Time, regime types.Regime, reason string, states map[string]types.StrategyState, multipliers map[string]float64, confidence float64) types.MetaDecision {
	for s := range states {
		states[s] = types.StrategyDisable
		multipliers[s] = 0
	}
	return types.MetaDecision{
		GlobalState:     types.GlobalHalted,
		StrategyStates:  states,
		SizeMultipliers: multipliers,
		Regime:          regime,
		Confidence:      confidence,
		ReasonCodes:     []string{reason},
		DecidedAt:       now,
		ExpiresAt:       now.Add(a.cfg.DecisionTTL),
	}
}

func (a *Agent) failSafe(now time.Time, reason string) types.MetaDecision {
	a.mu.Lock()
	strategies := make([]string, 0, len(a.strategies))
	for s := range a.strategies {
		strategies = append(strategies, s)
	}
	a.mu.Unlock()
	states := make(map[string]types.StrategyState, len(strategies))
	multipliers := make(map[string]float64, len(strategies))
	for _, s := range strategies {
		states[s] = types.StrategyDisable
		multipliers[s] = 0
	}
	return types.MetaDecision{
		GlobalState:     types.GlobalHalted,
		StrategyStates:  states,
		SizeMultipliers: multipliers,
		Regime:          types.RegimeChoppy,
		ReasonCodes:     []string{reason},
		DecidedAt:       now,
		ExpiresAt:       now.Add(a.cfg.DecisionTTL),
	}
}

// Latest returns the most recently computed decision, for tests and other
// in-process consumers that don't want to subscribe to the bus.
func (a *Agent) Latest() types.MetaDecision {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

func scaleAll(m map[string]float64, factor float64) {
	for k, v := range m {
		m[k] = v * factor
	}
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
