// Package risk implements the Risk agent of spec §4.6: the single source
// of truth for pre-trade risk. Grounded on original_source/backend/app/
// agents/risk_agent.py's _evaluate_risk (exact 8-check order and
// scale-vs-reject behavior) and on internal/risk/circuit_breaker.go for
// the kill-switch machinery (narrowed to one breaker in killswitch.go).
package risk

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradectl/controlplane/internal/alerts"
	"github.com/tradectl/controlplane/internal/book"
	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/types"
	"github.com/tradectl/controlplane/internal/validation"
)

// Limits are the persisted risk_limits configuration (spec §6).
type Limits struct {
	MinConfidenceThreshold  float64
	MaxSingleTradeUSD       decimal.Decimal
	MaxPositionSizeUSD      decimal.Decimal
	MaxPortfolioExposureUSD decimal.Decimal
	MaxDailyLossUSD         decimal.Decimal
	MaxConcentrationPct     float64
}

const minPortfolioHeadroomUSD = 1000 // spec §4.6 check 6: "scale if >=1000 remains"

// Agent is the Risk agent. One instance owns all risk state exclusively
// (spec §5's shared-resource policy); no other component reads it except
// via published RiskDecisions.
type Agent struct {
	name   string
	limits Limits
	books  *book.Registry
	bus    bus.Bus
	log    zerolog.Logger
	alert  alerts.Alerter

	mu            sync.Mutex
	positions     map[string]decimal.Decimal // instrument -> signed net USD exposure
	dailyPnL      decimal.Decimal
	totalExposure decimal.Decimal
	paused        bool // risk-local pause (spec §4.6), distinct from the runtime's own pause flag
	kill          *KillSwitch

	metaMu    sync.Mutex
	latestMeta *types.MetaDecision

	seenMu sync.Mutex
	seen   map[uuid.UUID]bool // Fill.MessageID seen, for idempotent replay (testable property 6)
}

func NewAgent(name string, limits Limits, books *book.Registry, b bus.Bus, log zerolog.Logger, alert alerts.Alerter) *Agent {
	a := &Agent{
		name:      name,
		limits:    limits,
		books:     books,
		bus:       b,
		log:       log.With().Str("component", "risk").Logger(),
		alert:     alert,
		positions: make(map[string]decimal.Decimal),
		seen:      make(map[uuid.UUID]bool),
	}
	a.kill = NewKillSwitch(a.onKillSwitchTrip)
	return a
}

func (a *Agent) Name() string               { return a.name }
func (a *Agent) Type() string               { return "risk" }
func (a *Agent) CycleInterval() time.Duration { return time.Second }

func (a *Agent) Subjects() []types.Subject {
	return []types.Subject{types.SubjectRiskCheck, types.SubjectFills}
}

func (a *Agent) OnStart(ctx context.Context) error  { return nil }
func (a *Agent) OnStop(ctx context.Context) error   { return nil }
func (a *Agent) OnPause(ctx context.Context) error  { return nil }
func (a *Agent) OnResume(ctx context.Context) error { return nil }
func (a *Agent) Cycle(ctx context.Context) error    { return nil }

func (a *Agent) HandleMessage(ctx context.Context, msg types.Message) error {
	switch payload := msg.Payload.(type) {
	case types.TradeIntent:
		return a.evaluateAndPublish(ctx, msg.CorrelationID, payload)
	case types.Fill:
		return a.applyFill(payload)
	case types.MetaDecisionMsg:
		a.metaMu.Lock()
		d := payload.Decision
		a.latestMeta = &d
		a.metaMu.Unlock()
	case types.KillSwitchMsg:
		switch payload.Action {
		case types.KillSwitchTrigger:
			a.kill.Trip(payload.Reason)
		case types.KillSwitchReset:
			a.kill.Reset()
		}
	case types.ResetKillSwitchMsg:
		a.kill.Reset()
	case types.PauseMsg:
		if payload.Target == "" || payload.Target == a.name {
			a.mu.Lock()
			a.paused = true
			a.mu.Unlock()
		}
	case types.ResumeMsg:
		if payload.Target == "" || payload.Target == a.name {
			a.mu.Lock()
			a.paused = false
			a.mu.Unlock()
		}
	}
	return nil
}

// Evaluate runs the fixed-order risk checks of spec §4.6 (plus the
// veto-ordering consultation of spec §9) against one intent and returns
// the resulting RiskDecision. Exported so tests and the mcpbridge signal
// plug-in can call it directly without a live bus.
func (a *Agent) Evaluate(intent types.TradeIntent) types.RiskDecision {
	now := time.Now().UTC()
	d := types.RiskDecision{IntentID: intent.ID, Timestamp: now}
	adjusted := intent.TargetExposureUSD

	reject := func(reason string, score int) {
		d.ChecksFailed = append(d.ChecksFailed, reason)
		d.Reasons = append(d.Reasons, reason)
		d.RiskScore += score
	}
	pass := func(check string) { d.ChecksPassed = append(d.ChecksPassed, check) }

	if shapeErrs := a.validateShape(intent); shapeErrs.HasErrors() {
		a.log.Warn().Str("intent_id", intent.ID.String()).Err(shapeErrs).Msg("malformed trade intent")
		reject("malformed_intent", 0)
		d.Decision = types.RiskReject
		d.AdjustedSize = decimal.Zero
		return d
	}

	// Spec §9 veto-ordering note: Risk consults the most recent Meta
	// decision at approval time, ahead of its own checks.
	if rejected := a.checkMetaGate(intent, reject, pass); rejected {
		d.Decision = types.RiskReject
		d.AdjustedSize = decimal.Zero
		return d
	}

	a.mu.Lock()
	killed := a.kill.Triggered()
	paused := a.paused
	existing := a.positions[intent.Instrument]
	totalExposure := a.totalExposure
	dailyPnL := a.dailyPnL
	a.mu.Unlock()

	if killed {
		reject("kill_switch_active", 0)
		d.Decision = types.RiskReject
		d.AdjustedSize = decimal.Zero
		return d
	}
	pass("kill_switch")

	if paused {
		reject("paused", 0)
		d.Decision = types.RiskReject
		d.AdjustedSize = decimal.Zero
		return d
	}
	pass("paused")

	hardReject := false

	if intent.Confidence < a.limits.MinConfidenceThreshold {
		reject("confidence_below_threshold", 20)
		hardReject = true
	} else {
		pass("confidence")
	}

	if adjusted.GreaterThan(a.limits.MaxSingleTradeUSD) {
		adjusted = a.limits.MaxSingleTradeUSD
		d.Reasons = append(d.Reasons, "scaled_to_max_single_trade")
	}
	pass("max_single_trade")

	remainingPosition := a.limits.MaxPositionSizeUSD.Sub(existing.Abs())
	if remainingPosition.LessThanOrEqual(decimal.Zero) {
		reject("max_position_size_exceeded", 0)
		hardReject = true
	} else {
		if adjusted.GreaterThan(remainingPosition) {
			adjusted = remainingPosition
			d.Reasons = append(d.Reasons, "scaled_to_position_capacity")
		}
		pass("max_position_size")
	}

	remainingPortfolio := a.limits.MaxPortfolioExposureUSD.Sub(totalExposure)
	if remainingPortfolio.LessThan(decimal.NewFromInt(minPortfolioHeadroomUSD)) {
		reject("max_portfolio_exposure_exceeded", 0)
		hardReject = true
	} else {
		if adjusted.GreaterThan(remainingPortfolio) {
			adjusted = remainingPortfolio
			d.Reasons = append(d.Reasons, "scaled_to_portfolio_headroom")
		}
		pass("max_portfolio_exposure")
	}

	dailyLossLimit := a.limits.MaxDailyLossUSD.Neg()
	if dailyPnL.LessThan(dailyLossLimit) {
		reject("max_daily_loss_exceeded", 0)
		hardReject = true
		if dailyPnL.LessThan(dailyLossLimit.Mul(decimal.NewFromFloat(1.5))) {
			a.kill.Trip("daily_loss_exceeds_1.5x_limit")
		}
	} else {
		pass("daily_loss")
	}

	bookCapital := a.bookCapital(intent.BookID)
	if bookCapital.GreaterThan(decimal.Zero) {
		// Measured on the requested size, before any scaling above.
		concentration := existing.Abs().Add(intent.TargetExposureUSD).Div(bookCapital)
		if concentration.GreaterThan(decimal.NewFromFloat(a.limits.MaxConcentrationPct)) {
			reject("concentration_exceeded", 20)
			hardReject = true
		} else {
			pass("concentration")
		}
	} else {
		pass("concentration")
	}

	if hardReject {
		d.Decision = types.RiskReject
		d.AdjustedSize = decimal.Zero
		return d
	}

	d.Decision = types.RiskApprove
	d.AdjustedSize = adjusted
	return d
}

// validateShape rejects a TradeIntent that is structurally malformed before
// any dollar-amount check runs against it, so a bug upstream in a signal
// plug-in can't silently slip a zero-value strategy ID or an out-of-range
// confidence past every size check.
func (a *Agent) validateShape(intent types.TradeIntent) validation.ValidationErrors {
	v := validation.NewValidator()
	v.Required("strategy_id", intent.StrategyID)
	v.Required("instrument", intent.Instrument)
	v.MinValue("confidence", intent.Confidence, 0)
	v.MaxValue("confidence", intent.Confidence, 1)
	return v.Errors()
}

// checkMetaGate enforces spec §9's veto-ordering rule: reject unless the
// most recent Meta decision is present, unexpired, and permits this
// intent's strategy (HALTED rejects everything; REDUCE_ONLY accepts only
// closing intents and a non-DISABLE strategy state; DISABLE always
// rejects).
func (a *Agent) checkMetaGate(intent types.TradeIntent, reject func(string, int), pass func(string)) (rejected bool) {
	a.metaMu.Lock()
	meta := a.latestMeta
	a.metaMu.Unlock()

	if meta == nil {
		reject("no_meta_decision", 0)
		return true
	}
	now := time.Now().UTC()
	if meta.Expired(now) {
		reject("meta_decision_stale", 0)
		return true
	}
	if meta.GlobalState == types.GlobalHalted {
		reject("meta_halted", 0)
		return true
	}
	if state, ok := meta.StrategyStates[intent.StrategyID]; ok && state == types.StrategyDisable {
		reject("strategy_disabled_by_meta", 0)
		return true
	}
	if meta.GlobalState == types.GlobalReduceOnly && !intent.IsClosingIntent {
		reject("reduce_only_requires_closing_intent", 0)
		return true
	}
	pass("meta_gate")
	return false
}

func (a *Agent) bookCapital(bookID string) decimal.Decimal {
	if a.books == nil {
		return decimal.Zero
	}
	b, ok := a.books.Get(bookID)
	if !ok {
		return decimal.Zero
	}
	return b.CapitalAllocated
}

// evaluateAndPublish evaluates intent and publishes the resulting
// RiskDecision on risk_approved or risk_rejected, carrying the original
// correlation_id (spec §4.6).
func (a *Agent) evaluateAndPublish(ctx context.Context, correlationID uuid.UUID, intent types.TradeIntent) error {
	d := a.Evaluate(intent)
	subject := types.SubjectRiskApproved
	if d.Decision == types.RiskReject {
		subject = types.SubjectRiskRejected
	}
	msg := types.NewMessage(a.name, subject, d, correlationID)
	return a.bus.Publish(ctx, msg)
}

// applyFill updates positions, exposure, and daily PnL from a fill,
// idempotently on Fill.MessageID (testable property 6: replaying the same
// fills message twice must not double-count). A fill that takes daily PnL
// below 1.5x the negative daily loss limit trips the kill switch at once.
func (a *Agent) applyFill(f types.Fill) error {
	if f.FilledPrice.LessThanOrEqual(decimal.Zero) {
		return &types.InvalidFillPriceError{OrderID: f.OrderID.String()}
	}

	a.seenMu.Lock()
	if a.seen[f.MessageID] {
		a.seenMu.Unlock()
		return nil
	}
	a.seen[f.MessageID] = true
	a.seenMu.Unlock()

	a.mu.Lock()

	delta := f.SizeUSD
	if f.Side == types.DirectionSell {
		delta = delta.Neg()
	}
	newPos := a.positions[f.Instrument].Add(delta)
	if newPos.Abs().LessThan(decimal.NewFromInt(1)) {
		newPos = decimal.Zero
	}
	a.positions[f.Instrument] = newPos

	a.totalExposure = decimal.Zero
	for _, p := range a.positions {
		a.totalExposure = a.totalExposure.Add(p.Abs())
	}
	a.dailyPnL = a.dailyPnL.Add(f.PnL)
	trip := a.dailyPnL.LessThan(a.limits.MaxDailyLossUSD.Neg().Mul(decimal.NewFromFloat(1.5)))
	a.mu.Unlock()

	if trip {
		a.kill.Trip("daily_loss_exceeds_1.5x_limit")
	}
	return nil
}

func (a *Agent) onKillSwitchTrip(reason string) {
	ctx := context.Background()
	_ = a.bus.Publish(ctx, types.NewMessage(a.name, types.SubjectControl, types.PauseMsg{Reason: "kill_switch:" + reason}, uuid.Nil))
	if a.alert != nil {
		_ = a.alert.Send(ctx, alerts.Alert{
			Severity: alerts.SeverityCritical,
			Title:    "kill switch triggered",
			Message:  reason,
			Source:   a.name,
		})
	}
}

// Snapshot reports the Risk agent's current state, for metrics/tests.
func (a *Agent) Snapshot() (positions map[string]decimal.Decimal, dailyPnL, totalExposure decimal.Decimal, killed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(a.positions))
	for k, v := range a.positions {
		out[k] = v
	}
	return out, a.dailyPnL, a.totalExposure, a.kill.Triggered()
}
