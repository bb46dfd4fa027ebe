// Package execution implements the Execution agent of spec §4.7: it
// receives risk-approved intents, routes them to a venue, and reports
// fills. Grounded on original_source/backend/app/agents/execution_agent.py
// (_select_venue/_execute_order/_report_fill/rolling avg_latency_ms and
// avg_slippage) and internal/venue for the adapter boundary.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradectl/controlplane/internal/alerts"
	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/types"
	"github.com/tradectl/controlplane/internal/venue"
)

// Config mirrors the Python agent's _execution_config, renamed to Go
// conventions.
type Config struct {
	TakerFeeRate         decimal.Decimal
	DefaultStopLossPct   float64
	DefaultTakeProfitPct float64
	PreferMaker          bool
	HealthCheckInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		TakerFeeRate:         decimal.NewFromFloat(0.001),
		DefaultStopLossPct:   0.02,
		DefaultTakeProfitPct: 0.04,
		PreferMaker:          true,
		HealthCheckInterval:  10 * time.Second,
	}
}

type metrics struct {
	ordersReceived int
	ordersFilled   int
	ordersFailed   int
	totalVolumeUSD decimal.Decimal
	avgLatencyMS   float64
	avgSlippage    float64
}

// Agent is the Execution agent.
type Agent struct {
	name   string
	cfg    Config
	venues *venue.Registry
	bus    bus.Bus
	log    zerolog.Logger
	alert  alerts.Alerter

	mu             sync.Mutex
	paused         bool
	pendingIntents map[uuid.UUID]types.TradeIntent
	pendingOrders  map[uuid.UUID]types.Order
	venueHealth    map[string]types.VenueHealth
	m              metrics
}

func NewAgent(name string, cfg Config, venues *venue.Registry, b bus.Bus, log zerolog.Logger, alert alerts.Alerter) *Agent {
	return &Agent{
		name:           name,
		cfg:            cfg,
		venues:         venues,
		bus:            b,
		log:            log.With().Str("component", "execution").Logger(),
		alert:          alert,
		pendingIntents: make(map[uuid.UUID]types.TradeIntent),
		pendingOrders:  make(map[uuid.UUID]types.Order),
		venueHealth:    make(map[string]types.VenueHealth),
	}
}

func (a *Agent) Name() string                 { return a.name }
func (a *Agent) Type() string                 { return "execution" }
func (a *Agent) CycleInterval() time.Duration { return 100 * time.Millisecond }

func (a *Agent) Subjects() []types.Subject {
	return []types.Subject{types.SubjectRiskCheck, types.SubjectRiskApproved, types.SubjectRiskRejected, types.SubjectExecution}
}

func (a *Agent) OnStart(ctx context.Context) error { return nil }
func (a *Agent) OnStop(ctx context.Context) error  { return nil }

// OnPause cancels every pending order, mirroring the Python on_pause.
func (a *Agent) OnPause(ctx context.Context) error {
	a.mu.Lock()
	a.paused = true
	ids := make([]uuid.UUID, 0, len(a.pendingOrders))
	for id := range a.pendingOrders {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	for _, id := range ids {
		a.cancelOrder(ctx, id)
	}
	return nil
}

func (a *Agent) OnResume(ctx context.Context) error {
	a.mu.Lock()
	a.paused = false
	a.mu.Unlock()
	return nil
}

// Cycle polls venue health so Select can route around degraded venues.
func (a *Agent) Cycle(ctx context.Context) error {
	health := a.venues.HealthCheckAll(ctx)
	a.mu.Lock()
	a.venueHealth = health
	a.mu.Unlock()
	return nil
}

func (a *Agent) HandleMessage(ctx context.Context, msg types.Message) error {
	switch payload := msg.Payload.(type) {
	case types.TradeIntent:
		a.mu.Lock()
		a.pendingIntents[payload.ID] = payload
		a.mu.Unlock()
	case types.RiskDecision:
		switch msg.Subject {
		case types.SubjectRiskApproved:
			return a.executeApproved(ctx, msg.CorrelationID, payload)
		case types.SubjectRiskRejected:
			a.mu.Lock()
			delete(a.pendingIntents, payload.IntentID)
			a.mu.Unlock()
		}
	case types.ExecutionCommand:
		switch payload.Action {
		case types.ExecutionCancel:
			a.cancelOrder(ctx, payload.OrderID)
		case types.ExecutionCancelAll:
			a.cancelAll(ctx)
		}
	}
	return nil
}

// executeApproved builds an order from the cached intent and the Risk
// agent's adjusted size, selects a venue, executes, and reports the fill
// or failure.
func (a *Agent) executeApproved(ctx context.Context, correlationID uuid.UUID, decision types.RiskDecision) error {
	a.mu.Lock()
	intent, ok := a.pendingIntents[decision.IntentID]
	delete(a.pendingIntents, decision.IntentID)
	paused := a.paused
	a.m.ordersReceived++
	health := a.venueHealth
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("execution: no cached intent for approved decision %s", decision.IntentID)
	}
	if paused {
		a.log.Warn().Str("intent_id", intent.ID.String()).Msg("execution paused, skipping order")
		return nil
	}

	order := a.buildOrder(intent, decision, correlationID)

	v, degraded := a.venues.Select(ctx, health)
	if v == nil {
		a.recordFailure(order, fmt.Errorf("no venue available"))
		return a.reportFailure(ctx, order, "no venue available")
	}
	if degraded {
		a.log.Warn().Str("venue", v.ID()).Msg("routing to degraded venue, no healthy venue available")
		if a.alert != nil {
			_ = a.alert.Send(ctx, alerts.Alert{Severity: alerts.SeverityWarning, Title: "degraded venue routing", Source: a.name, Message: v.ID()})
		}
	}

	a.mu.Lock()
	a.pendingOrders[order.ID] = order
	a.mu.Unlock()

	filled, err := v.PlaceOrder(ctx, order)
	if err != nil {
		a.recordFailure(filled, err)
		return a.reportFailure(ctx, filled, err.Error())
	}

	a.mu.Lock()
	delete(a.pendingOrders, order.ID)
	a.m.ordersFilled++
	a.m.totalVolumeUSD = a.m.totalVolumeUSD.Add(order.SizeUSD)
	latency := filled.LatencyMS
	slip, _ := filled.Slippage.Float64()
	count := a.m.ordersFilled
	if count > 1 {
		a.m.avgLatencyMS = (a.m.avgLatencyMS*float64(count-1) + latency) / float64(count)
		a.m.avgSlippage = (a.m.avgSlippage*float64(count-1) + slip) / float64(count)
	} else {
		a.m.avgLatencyMS = latency
		a.m.avgSlippage = slip
	}
	a.mu.Unlock()

	return a.reportFill(ctx, filled, correlationID)
}

// buildOrder mirrors _create_order's order-type choice: prefer-maker ->
// limit order, otherwise market. It leaves StopLoss and TakeProfit unset;
// DefaultStopLossPct and DefaultTakeProfitPct are not applied here.
func (a *Agent) buildOrder(intent types.TradeIntent, decision types.RiskDecision, correlationID uuid.UUID) types.Order {
	orderType := "market"
	if a.cfg.PreferMaker {
		orderType = "limit"
	}
	return types.Order{
		ID:            uuid.New(),
		CorrelationID: correlationID,
		Instrument:    intent.Instrument,
		Side:          intent.Direction,
		SizeUSD:       decision.AdjustedSize,
		Type:          orderType,
		StrategyID:    intent.StrategyID,
		Status:        types.OrderPending,
		CreatedAt:     time.Now().UTC(),
	}
}

func (a *Agent) recordFailure(order types.Order, err error) {
	a.mu.Lock()
	a.m.ordersFailed++
	a.mu.Unlock()
	a.log.Error().Err(err).Str("order_id", order.ID.String()).Msg("execution failed")
}

func (a *Agent) reportFailure(ctx context.Context, order types.Order, reason string) error {
	order.Status = types.OrderFailed
	if a.alert != nil {
		_ = a.alert.Send(ctx, alerts.Alert{
			Severity: alerts.SeverityWarning,
			Title:    "order execution failed: " + order.Instrument,
			Message:  reason,
			Source:   a.name,
		})
	}
	return nil
}

// reportFill publishes a Fill with pnl=0 -- no realized P&L on entry
// (mirrors the Python _report_fill comment verbatim in intent).
func (a *Agent) reportFill(ctx context.Context, order types.Order, correlationID uuid.UUID) error {
	fee := order.SizeUSD.Mul(a.cfg.TakerFeeRate)
	fill := types.Fill{
		MessageID:     uuid.New(),
		OrderID:       order.ID,
		CorrelationID: correlationID,
		Instrument:    order.Instrument,
		Side:          order.Side,
		SizeUSD:       order.SizeUSD,
		FilledPrice:   order.FilledPrice,
		Slippage:      order.Slippage,
		Fee:           fee,
		Venue:         order.Venue,
		PnL:           decimal.Zero,
		StrategyID:    order.StrategyID,
		ExecutedAt:    time.Now().UTC(),
	}
	msg := types.NewMessage(a.name, types.SubjectFills, fill, correlationID)
	return a.bus.Publish(ctx, msg)
}

func (a *Agent) cancelOrder(ctx context.Context, orderID uuid.UUID) {
	a.mu.Lock()
	order, ok := a.pendingOrders[orderID]
	if ok {
		order.Status = types.OrderCancelled
		delete(a.pendingOrders, orderID)
	}
	a.mu.Unlock()
	if ok {
		a.log.Info().Str("order_id", orderID.String()).Msg("order cancelled")
	}
}

func (a *Agent) cancelAll(ctx context.Context) {
	a.mu.Lock()
	ids := make([]uuid.UUID, 0, len(a.pendingOrders))
	for id := range a.pendingOrders {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	for _, id := range ids {
		a.cancelOrder(ctx, id)
	}
	a.log.Warn().Msg("all pending orders cancelled")
}

// Snapshot reports execution metrics, for admin tooling and tests.
func (a *Agent) Snapshot() (ordersReceived, ordersFilled, ordersFailed int, avgLatencyMS, avgSlippage float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.m.ordersReceived, a.m.ordersFilled, a.m.ordersFailed, a.m.avgLatencyMS, a.m.avgSlippage
}
