// Package types holds the entities shared by every agent in the control
// plane: messages, trade intents, risk decisions, orders, fills, and the
// binding decisions produced by Meta-Decision and Capital-Allocation.
package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Subject names the fixed bus topics agents publish and subscribe to.
type Subject string

const (
	SubjectMarketData     Subject = "market_data"
	SubjectSignals        Subject = "signals"
	SubjectRiskCheck       Subject = "risk_check"
	SubjectRiskApproved    Subject = "risk_approved"
	SubjectRiskRejected    Subject = "risk_rejected"
	SubjectExecution       Subject = "execution"
	SubjectFills           Subject = "fills"
	SubjectHeartbeat       Subject = "heartbeat"
	SubjectControl         Subject = "control"
	SubjectAlerts          Subject = "alerts"
)

// Critical reports whether s is a subject that never drops messages under
// backpressure (§4.1).
func (s Subject) Critical() bool {
	switch s {
	case SubjectControl, SubjectRiskCheck, SubjectRiskApproved, SubjectRiskRejected, SubjectFills:
		return true
	default:
		return false
	}
}

// Message is the envelope every subject carries.
type Message struct {
	ID            uuid.UUID
	Timestamp     time.Time
	SourceAgent   string
	TargetAgent   string // empty means broadcast
	Subject       Subject
	Payload       any
	CorrelationID uuid.UUID
}

func NewMessage(source string, subject Subject, payload any, correlationID uuid.UUID) Message {
	if correlationID == uuid.Nil {
		correlationID = uuid.New()
	}
	return Message{
		ID:            uuid.New(),
		Timestamp:     time.Now().UTC(),
		SourceAgent:   source,
		Subject:       subject,
		Payload:       payload,
		CorrelationID: correlationID,
	}
}

// HeartbeatPayload matches spec §4.2's required heartbeat fields.
type HeartbeatPayload struct {
	AgentID   string
	AgentType string
	Status    string
	Metrics   map[string]float64
}

// Direction of a proposed trade.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// LiquidityRequirement expresses how much book depth a signal agent needs.
type LiquidityRequirement string

const (
	LiquidityNormal LiquidityRequirement = "normal"
	LiquidityHigh   LiquidityRequirement = "high"
)

// TradeIntent is a pure proposal; it never mutates once created.
type TradeIntent struct {
	ID                  uuid.UUID
	BookID              string
	StrategyID           string
	Instrument           string
	Direction            Direction
	TargetExposureUSD    decimal.Decimal
	MaxLossUSD           decimal.Decimal
	Confidence           float64 // [0,1]
	LiquidityRequirement LiquidityRequirement
	// IsClosingIntent resolves spec §9's open question explicitly rather than
	// inferring "closing" from direction/sign: set by the signal agent that
	// created the intent.
	IsClosingIntent bool
	Metadata        map[string]string
}

// RiskDecisionOutcome is approve or reject, never an exception.
type RiskDecisionOutcome string

const (
	RiskApprove RiskDecisionOutcome = "approve"
	RiskReject  RiskDecisionOutcome = "reject"
)

// RiskDecision is produced once per intent by the Risk agent.
type RiskDecision struct {
	IntentID      uuid.UUID
	Decision      RiskDecisionOutcome
	AdjustedSize  decimal.Decimal
	RiskScore     int
	Reasons       []string
	ChecksPassed  []string
	ChecksFailed  []string
	Timestamp     time.Time
}

// OrderStatus transitions are monotonic except pending->cancelled.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderPartial   OrderStatus = "partial"
	OrderCancelled OrderStatus = "cancelled"
	OrderFailed    OrderStatus = "failed"
)

// Order exists only when a matching approved RiskDecision exists; it is
// authored exclusively by the Execution agent (spec §9).
type Order struct {
	ID            uuid.UUID
	CorrelationID uuid.UUID
	Instrument    string
	Side          Direction
	SizeUSD       decimal.Decimal
	Type          string // "limit" or "market"
	LimitPrice    decimal.Decimal
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal
	StrategyID    string
	Status        OrderStatus
	Venue         string
	FilledPrice   decimal.Decimal
	FilledSize    decimal.Decimal
	Slippage      decimal.Decimal
	LatencyMS     float64
	CreatedAt     time.Time
}

// ExecutionCommandAction is one of the admin commands carried on the
// execution subject (spec §4.7's "handle execution commands: cancel,
// cancel_all").
type ExecutionCommandAction string

const (
	ExecutionCancel    ExecutionCommandAction = "cancel"
	ExecutionCancelAll ExecutionCommandAction = "cancel_all"
)

// ExecutionCommand is published on the execution subject to cancel one or
// all pending orders.
type ExecutionCommand struct {
	Action  ExecutionCommandAction
	OrderID uuid.UUID
}

// Fill is only ever published with a positive FilledPrice; an order that
// cannot be priced is marked OrderFailed instead of producing a Fill.
type Fill struct {
	MessageID     uuid.UUID // for idempotent-replay detection (testable property 6)
	OrderID       uuid.UUID
	CorrelationID uuid.UUID
	Instrument    string
	Side          Direction
	SizeUSD       decimal.Decimal
	FilledPrice   decimal.Decimal
	Slippage      decimal.Decimal
	Fee           decimal.Decimal
	Venue         string
	PnL           decimal.Decimal
	StrategyID    string
	ExecutedAt    time.Time
}

// GlobalState is the Meta-Decision agent's system-wide trading permission.
type GlobalState string

const (
	GlobalHalted     GlobalState = "halted"
	GlobalReduceOnly GlobalState = "reduce_only"
	GlobalNormal     GlobalState = "normal"
)

// StrategyState is per-strategy permission within a MetaDecision.
type StrategyState string

const (
	StrategyEnable     StrategyState = "enable"
	StrategyDisable    StrategyState = "disable"
	StrategyReduceSize StrategyState = "reduce_size"
)

// Regime classifies market conditions.
type Regime string

const (
	RegimeTrending Regime = "trending"
	RegimeRanging  Regime = "ranging"
	RegimeChoppy   Regime = "choppy"
	RegimeVolatile Regime = "volatile"
	RegimeCrisis   Regime = "crisis"
)

// MetaDecision is the binding, time-bounded declaration produced by the
// Meta-Decision agent. If GlobalState is Halted every StrategyState must be
// Disable and every multiplier must be zero.
type MetaDecision struct {
	GlobalState      GlobalState
	StrategyStates   map[string]StrategyState
	SizeMultipliers  map[string]float64
	Regime           Regime
	Confidence       float64
	ReasonCodes      []string
	DecidedAt        time.Time
	ExpiresAt        time.Time
}

// Expired reports whether this decision should be treated as HALTED because
// it is stale (spec §9 veto-ordering note).
func (d MetaDecision) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// StrategyAllocation is one strategy's slice of a PortfolioAllocation.
type StrategyAllocation struct {
	StrategyID         string
	Weight             float64
	RiskBudgetUSD      decimal.Decimal
	ExposureCapUSD     decimal.Decimal
	IsQuarantined      bool
	QuarantineReason   string
	PerformanceScore   float64
	CorrelationPenalty float64
}

// PortfolioAllocation is the Capital-Allocation agent's binding output.
// Sum of weights plus CashReservePct must equal 1 within 1e-6.
type PortfolioAllocation struct {
	Allocations      map[string]StrategyAllocation
	TotalCapital     decimal.Decimal
	DeployedCapital  decimal.Decimal
	CashReservePct   float64
	RegimeMultiplier float64
	DecidedAt        time.Time
}

// StrategyLifecycleState is one of the four states a strategy can be in.
type StrategyLifecycleState string

const (
	LifecycleActive      StrategyLifecycleState = "active"
	LifecycleQuarantined StrategyLifecycleState = "quarantined"
	LifecycleDisabled    StrategyLifecycleState = "disabled"
	LifecyclePaperOnly   StrategyLifecycleState = "paper_only"
)

// StrategyStateTransition is an immutable record appended to a strategy's
// transition history; state never changes in place without an append.
type StrategyStateTransition struct {
	FromState   StrategyLifecycleState
	ToState     StrategyLifecycleState
	Reason      string
	TriggeredBy string // "automatic" or a user id
	Timestamp   time.Time
}

// StrategyLifecycle is the complete lifecycle state for one strategy.
type StrategyLifecycle struct {
	StrategyID                string
	CurrentState               StrategyLifecycleState
	StateEnteredAt             time.Time
	TransitionHistory          []StrategyStateTransition
	EdgeDecayPct               float64
	PerformanceVsExpectation   float64
	CurrentDrawdownPct         float64
	ExecutionQuality           float64
	QuarantineReason           string
	QuarantineExpiresAt        time.Time
	QuarantineCount30d         int
}

// BookType distinguishes the isolated capital/risk ledgers.
type BookType string

const (
	BookHedge BookType = "hedge"
	BookProp  BookType = "prop"
	BookMeme  BookType = "meme"
)

// RiskTier is a coarse risk classification for a Book.
type RiskTier int

const (
	RiskTier1 RiskTier = 1
	RiskTier2 RiskTier = 2
	RiskTier3 RiskTier = 3
)

// BookStatus mirrors the global trading states at the book level.
type BookStatus string

const (
	BookActive     BookStatus = "active"
	BookFrozen     BookStatus = "frozen"
	BookReduceOnly BookStatus = "reduce_only"
	BookHalted     BookStatus = "halted"
)

// Book is an isolated capital/risk ledger. MEME books must never contribute
// to the limits or allocations of HEDGE/PROP books (spec §3 invariant).
type Book struct {
	ID                string
	Type              BookType
	CapitalAllocated  decimal.Decimal
	CurrentExposure   decimal.Decimal
	MaxDrawdownLimit  decimal.Decimal
	RiskTier          RiskTier
	Status            BookStatus
}

// VenueStatus is the health classification of an execution venue.
type VenueStatus string

const (
	VenueHealthy  VenueStatus = "healthy"
	VenueDegraded VenueStatus = "degraded"
	VenueOffline  VenueStatus = "offline"
	VenueDown     VenueStatus = "down"
)

// VenueHealth is a point-in-time health snapshot for one venue.
type VenueHealth struct {
	VenueID      string
	Status       VenueStatus
	LatencyMS    float64
	ErrorRate    float64
	LastHeartbeat time.Time
	IsEnabled    bool
}
