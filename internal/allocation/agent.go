// Package allocation implements the Capital-Allocation agent of spec §4.5:
// it decides how much capital each strategy receives, never trade
// direction. Grounded on original_source/backend/app/agents/
// capital_allocation_agent.py's _reallocate/_calculate_performance_score/
// _calculate_correlation_penalty/_check_quarantine_conditions.
package allocation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradectl/controlplane/internal/alerts"
	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/marketcache"
	"github.com/tradectl/controlplane/internal/types"
)

// QuarantineThresholds mirrors the Python agent's _quarantine_thresholds,
// renamed to Go conventions.
type QuarantineThresholds struct {
	MaxDrawdownPct  float64
	MaxLossStreak   int
	MinExpectancy   float64
	MaxAvgSlippage  float64
	MinTradesForEV  int
}

func DefaultQuarantineThresholds() QuarantineThresholds {
	return QuarantineThresholds{
		MaxDrawdownPct: 0.15,
		MaxLossStreak:  5,
		MinExpectancy:  0.0,
		MaxAvgSlippage: 0.003,
		MinTradesForEV: 10,
	}
}

// Config holds the fixed default strategy registry of SPEC_FULL §2.C
// ("treat the five strategies as a default registry, not a hard
// restriction") plus the regime-multiplier table and reallocation cadence.
type Config struct {
	BaseWeights          map[string]float64
	RegimeMultipliers    map[types.Regime]float64
	ReallocationInterval time.Duration
	RiskBudgetFraction   float64 // 0.02 of strategy capital
	ExposureCapLeverage  float64 // 2.0x
	CorrelationGroups    marketcache.CorrelationGroups
	CorrelationPenaltyPerMember float64
	MaxCorrelationPenalty       float64
	Thresholds           QuarantineThresholds
}

func DefaultConfig() Config {
	return Config{
		BaseWeights: map[string]float64{
			"trend_following":   0.30,
			"mean_reversion":    0.25,
			"funding_arbitrage": 0.20,
			"momentum":          0.15,
			"breakout":          0.10,
		},
		RegimeMultipliers: map[types.Regime]float64{
			types.RegimeTrending: 1.0,
			types.RegimeRanging:  0.8,
			types.RegimeChoppy:   0.5,
			types.RegimeVolatile: 0.3,
			types.RegimeCrisis:   0.0,
		},
		ReallocationInterval: 60 * time.Second,
		RiskBudgetFraction:   0.02,
		ExposureCapLeverage:  2.0,
		CorrelationGroups: marketcache.CorrelationGroups{
			"trend_momentum_breakout": {"trend_following", "momentum", "breakout"},
		},
		CorrelationPenaltyPerMember: 0.15,
		MaxCorrelationPenalty:       0.5,
		Thresholds:                  DefaultQuarantineThresholds(),
	}
}

type strategyMetrics struct {
	totalPnL      float64
	tradeCount    int
	winCount      int
	lossStreak    int
	peakPnL       float64
	maxDrawdown   float64
	totalSlippage float64
}

// Agent is the Capital-Allocation agent.
type Agent struct {
	name         string
	cfg          Config
	totalCapital decimal.Decimal
	bus          bus.Bus
	log          zerolog.Logger
	alert        alerts.Alerter

	mu           sync.Mutex
	metrics      map[string]*strategyMetrics
	quarantined  map[string]string // strategy_id -> reason
	regime       types.Regime
	regimeMult   float64
	current      types.PortfolioAllocation
	lastReallocated time.Time
}

func NewAgent(name string, cfg Config, totalCapital decimal.Decimal, b bus.Bus, log zerolog.Logger, alert alerts.Alerter) *Agent {
	a := &Agent{
		name:         name,
		cfg:          cfg,
		totalCapital: totalCapital,
		bus:          b,
		log:          log.With().Str("component", "allocation").Logger(),
		alert:        alert,
		metrics:      make(map[string]*strategyMetrics),
		quarantined:  make(map[string]string),
		regime:       types.RegimeChoppy,
		regimeMult:   0.5,
	}
	a.current = a.initialAllocation()
	return a
}

// initialAllocation mirrors _create_initial_allocation: conservative,
// half of target weight, 30% cash reserve.
func (a *Agent) initialAllocation() types.PortfolioAllocation {
	allocations := make(map[string]types.StrategyAllocation, len(a.cfg.BaseWeights))
	for strategyID, base := range a.cfg.BaseWeights {
		weight := base * 0.5
		capital := a.totalCapital.InexactFloat64() * weight
		allocations[strategyID] = types.StrategyAllocation{
			StrategyID:       strategyID,
			Weight:           weight,
			RiskBudgetUSD:    decimal.NewFromFloat(capital * a.cfg.RiskBudgetFraction),
			ExposureCapUSD:   decimal.NewFromFloat(capital * 0.5),
			PerformanceScore: 0.5,
		}
	}
	return types.PortfolioAllocation{
		Allocations:      allocations,
		TotalCapital:     a.totalCapital,
		DeployedCapital:  decimal.Zero,
		CashReservePct:   0.3,
		RegimeMultiplier: 0.5,
		DecidedAt:        time.Now().UTC(),
	}
}

func (a *Agent) Name() string                 { return a.name }
func (a *Agent) Type() string                 { return "capital-allocation" }
func (a *Agent) CycleInterval() time.Duration { return 500 * time.Millisecond }

func (a *Agent) Subjects() []types.Subject {
	return []types.Subject{types.SubjectFills}
}

func (a *Agent) OnStart(ctx context.Context) error { return nil }
func (a *Agent) OnStop(ctx context.Context) error  { return nil }

// OnPause zeroes every allocation, mirroring the Python on_pause.
func (a *Agent) OnPause(ctx context.Context) error {
	a.mu.Lock()
	for id, alloc := range a.current.Allocations {
		alloc.Weight = 0
		alloc.RiskBudgetUSD = decimal.Zero
		alloc.ExposureCapUSD = decimal.Zero
		a.current.Allocations[id] = alloc
	}
	a.current.DeployedCapital = decimal.Zero
	a.current.CashReservePct = 1
	snapshot := a.current
	a.mu.Unlock()
	return a.broadcast(ctx, snapshot)
}

// OnResume recalculates allocations immediately rather than waiting for
// the next cycle tick.
func (a *Agent) OnResume(ctx context.Context) error {
	snapshot := a.reallocate(time.Now().UTC())
	return a.broadcast(ctx, snapshot)
}

func (a *Agent) HandleMessage(ctx context.Context, msg types.Message) error {
	switch payload := msg.Payload.(type) {
	case types.Fill:
		a.processFill(payload)
	case types.MetaDecisionMsg:
		a.mu.Lock()
		a.regime = payload.Decision.Regime
		a.regimeMult = a.cfg.RegimeMultipliers[payload.Decision.Regime]
		a.mu.Unlock()
	}
	return nil
}

func (a *Agent) processFill(f types.Fill) {
	if f.StrategyID == "" {
		return
	}
	pnl, _ := f.PnL.Float64()
	slippage, _ := f.Slippage.Float64()

	a.mu.Lock()
	m, ok := a.metrics[f.StrategyID]
	if !ok {
		m = &strategyMetrics{}
		a.metrics[f.StrategyID] = m
	}
	m.tradeCount++
	m.totalPnL += pnl
	m.totalSlippage += absFloat(slippage)
	if pnl > 0 {
		m.winCount++
		m.lossStreak = 0
	} else {
		m.lossStreak++
	}
	if m.totalPnL > m.peakPnL {
		m.peakPnL = m.totalPnL
	}
	denom := m.peakPnL
	if denom < 1 {
		denom = 1
	}
	drawdown := (m.peakPnL - m.totalPnL) / denom
	if drawdown > m.maxDrawdown {
		m.maxDrawdown = drawdown
	}
	snapshot := *m
	a.mu.Unlock()

	a.checkQuarantine(f.StrategyID, snapshot)
}

// checkQuarantine mirrors _check_quarantine_conditions exactly.
func (a *Agent) checkQuarantine(strategyID string, m strategyMetrics) {
	var reasons []string
	t := a.cfg.Thresholds
	if m.maxDrawdown > t.MaxDrawdownPct {
		reasons = append(reasons, fmt.Sprintf("drawdown:%.1f%%", m.maxDrawdown*100))
	}
	if m.lossStreak >= t.MaxLossStreak {
		reasons = append(reasons, fmt.Sprintf("loss_streak:%d", m.lossStreak))
	}
	if m.tradeCount > t.MinTradesForEV {
		avgPnL := m.totalPnL / float64(m.tradeCount)
		if avgPnL < t.MinExpectancy {
			reasons = append(reasons, fmt.Sprintf("negative_expectancy:%.2f", avgPnL))
		}
	}
	if m.tradeCount > 0 {
		avgSlip := m.totalSlippage / float64(m.tradeCount)
		if avgSlip > t.MaxAvgSlippage {
			reasons = append(reasons, fmt.Sprintf("high_slippage:%.4f", avgSlip))
		}
	}
	if len(reasons) > 0 {
		a.quarantine(strategyID, joinReasons(reasons))
	}
}

func (a *Agent) quarantine(strategyID, reason string) {
	a.mu.Lock()
	if _, already := a.quarantined[strategyID]; already {
		a.mu.Unlock()
		return
	}
	a.quarantined[strategyID] = reason
	if alloc, ok := a.current.Allocations[strategyID]; ok {
		alloc.IsQuarantined = true
		alloc.QuarantineReason = reason
		alloc.Weight = 0
		alloc.RiskBudgetUSD = decimal.Zero
		alloc.ExposureCapUSD = decimal.Zero
		a.current.Allocations[strategyID] = alloc
	}
	a.mu.Unlock()

	a.log.Warn().Str("strategy", strategyID).Str("reason", reason).Msg("strategy quarantined")
	if a.alert != nil {
		_ = a.alert.Send(context.Background(), alerts.Alert{
			Severity: alerts.SeverityWarning,
			Title:    "strategy quarantined: " + strategyID,
			Message:  reason,
			Source:   a.name,
		})
	}
}

// Unquarantine is the manual administrative action restoring a strategy
// at 25% of its base weight (mirrors unquarantine_strategy).
func (a *Agent) Unquarantine(strategyID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.quarantined[strategyID]; !ok {
		return
	}
	delete(a.quarantined, strategyID)
	if alloc, ok := a.current.Allocations[strategyID]; ok {
		alloc.IsQuarantined = false
		alloc.QuarantineReason = ""
		alloc.Weight = a.cfg.BaseWeights[strategyID] * 0.25
		a.current.Allocations[strategyID] = alloc
	}
}

func (a *Agent) Cycle(ctx context.Context) error {
	now := time.Now().UTC()
	a.mu.Lock()
	due := now.Sub(a.lastReallocated) >= a.cfg.ReallocationInterval
	a.mu.Unlock()
	if !due {
		return nil
	}
	snapshot := a.reallocate(now)
	return a.broadcast(ctx, snapshot)
}

// reallocate mirrors _reallocate: base weight * regime multiplier *
// performance score * (1 - correlation penalty) * drawdown factor, then
// clamped to [0,1] per strategy.
func (a *Agent) reallocate(now time.Time) types.PortfolioAllocation {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastReallocated = now

	newAllocations := make(map[string]types.StrategyAllocation, len(a.cfg.BaseWeights))
	totalWeight := 0.0
	active := make(map[string]bool, len(a.cfg.BaseWeights))
	for strategyID := range a.cfg.BaseWeights {
		if _, quarantined := a.quarantined[strategyID]; !quarantined {
			active[strategyID] = true
		}
	}

	for strategyID, base := range a.cfg.BaseWeights {
		weight := base * a.regimeMult
		performanceScore := a.performanceScore(strategyID)
		correlationPenalty := a.correlationPenalty(strategyID, active)

		if _, quarantined := a.quarantined[strategyID]; quarantined {
			weight = 0
		} else {
			weight *= performanceScore
			weight *= (1 - correlationPenalty)

			if m, ok := a.metrics[strategyID]; ok && m.maxDrawdown > 0.05 {
				drawdownFactor := 1 - minFloat(m.maxDrawdown*2, 0.8)
				weight *= drawdownFactor
			}
		}

		weight = clamp01(weight)
		totalWeight += weight

		strategyCapital := a.totalCapital.InexactFloat64() * weight
		newAllocations[strategyID] = types.StrategyAllocation{
			StrategyID:         strategyID,
			Weight:             weight,
			RiskBudgetUSD:      decimal.NewFromFloat(strategyCapital * a.cfg.RiskBudgetFraction),
			ExposureCapUSD:     decimal.NewFromFloat(strategyCapital * a.cfg.ExposureCapLeverage),
			IsQuarantined:      a.quarantined[strategyID] != "",
			QuarantineReason:   a.quarantined[strategyID],
			PerformanceScore:   performanceScore,
			CorrelationPenalty: correlationPenalty,
		}
	}

	deployedCapital := a.totalCapital.InexactFloat64() * totalWeight
	a.current = types.PortfolioAllocation{
		Allocations:      newAllocations,
		TotalCapital:      a.totalCapital,
		DeployedCapital:   decimal.NewFromFloat(deployedCapital),
		CashReservePct:    1 - totalWeight,
		RegimeMultiplier:  a.regimeMult,
		DecidedAt:         now,
	}
	return a.current
}

// performanceScore mirrors _calculate_performance_score exactly (range
// [0, 1.5]).
func (a *Agent) performanceScore(strategyID string) float64 {
	m, ok := a.metrics[strategyID]
	if !ok || m.tradeCount < 5 {
		return 0.5
	}
	winRate := float64(m.winCount) / float64(m.tradeCount)
	avgPnL := m.totalPnL / float64(m.tradeCount)

	winRateScore := minFloat(1.0, maxFloat(0.3, winRate)) * 1.5

	var expectancyScore float64
	if avgPnL > 0 {
		expectancyScore = minFloat(1.5, 1.0+avgPnL/100)
	} else {
		expectancyScore = maxFloat(0.0, 1.0+avgPnL/50)
	}
	return minFloat(1.5, (winRateScore+expectancyScore)/2)
}

// correlationPenalty mirrors _calculate_correlation_penalty, reading
// correlation groups from configuration instead of a hardcoded map (spec
// §9's open-question resolution, consistent with internal/marketcache).
func (a *Agent) correlationPenalty(strategyID string, active map[string]bool) float64 {
	count := a.cfg.CorrelationGroups.ActiveMembersInGroup(strategyID, active)
	return minFloat(a.cfg.MaxCorrelationPenalty, float64(count)*a.cfg.CorrelationPenaltyPerMember)
}

func (a *Agent) broadcast(ctx context.Context, alloc types.PortfolioAllocation) error {
	msg := types.NewMessage(a.name, types.SubjectControl, types.CapitalAllocationMsg{Allocation: alloc, Source: a.name}, [16]byte{})
	return a.bus.Publish(ctx, msg)
}

// Snapshot returns the current allocation, for admin tooling and tests.
func (a *Agent) Snapshot() types.PortfolioAllocation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func joinReasons(reasons []string) string {
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += ", " + r
	}
	return out
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
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
