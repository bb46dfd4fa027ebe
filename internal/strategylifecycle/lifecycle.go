// Package strategylifecycle implements the state machine of spec §4.8: one
// instance per registered strategy, transitioning between PAPER_ONLY,
// ACTIVE, QUARANTINED, and DISABLED as performance metrics are reported.
// Grounded line-for-line on original_source/backend/app/agents/
// strategy_lifecycle.py's execute_transition/manually_disable/
// manually_enable/promote_to_active, and on internal/strategy/version.go's
// Masterminds/semver usage for the schema-version compatibility check a
// newly registered strategy plug-in must pass.
package strategylifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/tradectl/controlplane/internal/types"
)

// Thresholds holds the configured transition thresholds (spec §4.8),
// defaulted per spec.
type Thresholds struct {
	EdgeDecayPct               float64 // 0.30
	PerformanceVsExpectationIn float64 // 0.70 (quarantine trigger, below this)
	PerformanceVsExpectationOut float64 // 1.00 (required to return to ACTIVE)
	DrawdownPct                float64 // 0.10
	ExecutionQuality           float64 // 0.90
	QuarantineMinHours         time.Duration
	MaxQuarantineCount30d      int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		EdgeDecayPct:                0.30,
		PerformanceVsExpectationIn:  0.70,
		PerformanceVsExpectationOut: 1.00,
		DrawdownPct:                 0.10,
		ExecutionQuality:            0.90,
		QuarantineMinHours:          4 * time.Hour,
		MaxQuarantineCount30d:       3,
	}
}

// Manager owns every strategy's StrategyLifecycle, grounded on
// strategy_lifecycle.py's in-process registry of per-strategy state
// machines.
type Manager struct {
	mu         sync.Mutex
	thresholds Thresholds
	states     map[string]*types.StrategyLifecycle
	schemaVers map[string]*semver.Version
	minSchema  *semver.Version
}

func NewManager(t Thresholds, minSchemaVersion string) (*Manager, error) {
	min, err := semver.NewVersion(minSchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid minimum schema version %q: %w", minSchemaVersion, err)
	}
	return &Manager{
		thresholds: t,
		states:     make(map[string]*types.StrategyLifecycle),
		schemaVers: make(map[string]*semver.Version),
		minSchema:  min,
	}, nil
}

// Register adds a new strategy in PAPER_ONLY, its initial state, after
// validating its declared config schema version is compatible (>= the
// manager's minimum), per internal/strategy/version.go's compatibility
// check adapted here to gate lifecycle registration rather than config
// migration.
func (m *Manager) Register(strategyID, schemaVersion string, now time.Time) error {
	v, err := semver.NewVersion(schemaVersion)
	if err != nil {
		return fmt.Errorf("strategy %s: invalid schema version %q: %w", strategyID, schemaVersion, err)
	}
	if v.LessThan(m.minSchema) {
		return fmt.Errorf("strategy %s: schema version %s is below minimum %s", strategyID, v, m.minSchema)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.states[strategyID]; exists {
		return nil
	}
	m.schemaVers[strategyID] = v
	m.states[strategyID] = &types.StrategyLifecycle{
		StrategyID:     strategyID,
		CurrentState:   types.LifecyclePaperOnly,
		StateEnteredAt: now,
	}
	return nil
}

// Get returns a copy of strategyID's current lifecycle state.
func (m *Manager) Get(strategyID string) (types.StrategyLifecycle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[strategyID]
	if !ok {
		return types.StrategyLifecycle{}, false
	}
	return *s, true
}

// MetricsUpdate is the scripted metric stream spec testable property 8
// describes: edge_decay_pct, performance_vs_expectation, drawdown_pct,
// execution_quality for one strategy.
type MetricsUpdate struct {
	EdgeDecayPct             float64
	PerformanceVsExpectation float64
	CurrentDrawdownPct       float64
	ExecutionQuality         float64
}

// Evaluate applies a fresh metrics reading and performs at most one
// transition, appending an immutable record (spec §3 invariant: state
// never changes in place without an append).
func (m *Manager) Evaluate(strategyID string, metrics MetricsUpdate, now time.Time) (types.StrategyLifecycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[strategyID]
	if !ok {
		return types.StrategyLifecycle{}, fmt.Errorf("strategy %s: not registered", strategyID)
	}

	s.EdgeDecayPct = metrics.EdgeDecayPct
	s.PerformanceVsExpectation = metrics.PerformanceVsExpectation
	s.CurrentDrawdownPct = metrics.CurrentDrawdownPct
	s.ExecutionQuality = metrics.ExecutionQuality

	switch s.CurrentState {
	case types.LifecycleActive:
		if m.breachesQuarantineTrigger(metrics) {
			m.transition(s, types.LifecycleQuarantined, m.quarantineReason(metrics), "automatic", now)
			s.QuarantineExpiresAt = now.Add(m.thresholds.QuarantineMinHours)
			s.QuarantineCount30d++
		}
	case types.LifecycleQuarantined:
		if s.QuarantineCount30d >= m.thresholds.MaxQuarantineCount30d {
			m.transition(s, types.LifecycleDisabled, "max_quarantine_count_reached", "automatic", now)
			break
		}
		if now.After(s.QuarantineExpiresAt) &&
			metrics.PerformanceVsExpectation >= m.thresholds.PerformanceVsExpectationOut &&
			metrics.ExecutionQuality >= m.thresholds.ExecutionQuality {
			m.transition(s, types.LifecycleActive, "quarantine_conditions_healed", "automatic", now)
		}
	case types.LifecyclePaperOnly, types.LifecycleDisabled:
		// No automatic transition out of these states (spec §4.8: manual only).
	}
	return *s, nil
}

func (m *Manager) breachesQuarantineTrigger(metrics MetricsUpdate) bool {
	return metrics.EdgeDecayPct > m.thresholds.EdgeDecayPct ||
		metrics.PerformanceVsExpectation < m.thresholds.PerformanceVsExpectationIn ||
		metrics.CurrentDrawdownPct > m.thresholds.DrawdownPct ||
		metrics.ExecutionQuality < m.thresholds.ExecutionQuality
}

func (m *Manager) quarantineReason(metrics MetricsUpdate) string {
	switch {
	case metrics.EdgeDecayPct > m.thresholds.EdgeDecayPct:
		return "edge_decay"
	case metrics.PerformanceVsExpectation < m.thresholds.PerformanceVsExpectationIn:
		return "performance_below_expectation"
	case metrics.CurrentDrawdownPct > m.thresholds.DrawdownPct:
		return "drawdown"
	default:
		return "execution_quality"
	}
}

// PromoteToActive is the manual, user-triggered PAPER_ONLY -> ACTIVE
// transition (spec §4.8: "the transition is user-triggered").
func (m *Manager) PromoteToActive(strategyID, triggeredBy string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[strategyID]
	if !ok {
		return fmt.Errorf("strategy %s: not registered", strategyID)
	}
	if s.CurrentState != types.LifecyclePaperOnly {
		return fmt.Errorf("strategy %s: can only promote from paper_only, currently %s", strategyID, s.CurrentState)
	}
	m.transition(s, types.LifecycleActive, "manual_promotion", triggeredBy, now)
	return nil
}

// Unquarantine is the manual, administrator-triggered QUARANTINED -> ACTIVE
// transition `cmd/admin unquarantine` exposes -- distinct from the
// automatic healing path in Evaluate, which requires QuarantineMinHours
// and PerformanceVsExpectationOut to both clear before returning a
// strategy to ACTIVE on its own.
func (m *Manager) Unquarantine(strategyID, triggeredBy string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[strategyID]
	if !ok {
		return fmt.Errorf("strategy %s: not registered", strategyID)
	}
	if s.CurrentState != types.LifecycleQuarantined {
		return fmt.Errorf("strategy %s: can only unquarantine from quarantined, currently %s", strategyID, s.CurrentState)
	}
	m.transition(s, types.LifecycleActive, "manual_unquarantine", triggeredBy, now)
	return nil
}

// ManuallyDisable and ManuallyResetToPaper (back to paper-only) are always
// permitted regardless of current state (spec §4.8).
func (m *Manager) ManuallyDisable(strategyID, triggeredBy, reason string, now time.Time) error {
	return m.forceTransition(strategyID, types.LifecycleDisabled, reason, triggeredBy, now)
}

func (m *Manager) ManuallyResetToPaper(strategyID, triggeredBy, reason string, now time.Time) error {
	return m.forceTransition(strategyID, types.LifecyclePaperOnly, reason, triggeredBy, now)
}

func (m *Manager) forceTransition(strategyID string, to types.StrategyLifecycleState, reason, triggeredBy string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[strategyID]
	if !ok {
		return fmt.Errorf("strategy %s: not registered", strategyID)
	}
	m.transition(s, to, reason, triggeredBy, now)
	return nil
}

// transition appends an immutable record and moves CurrentState; it never
// mutates state without the append (spec §3 invariant, testable property
// 8). Caller must hold m.mu.
func (m *Manager) transition(s *types.StrategyLifecycle, to types.StrategyLifecycleState, reason, triggeredBy string, now time.Time) {
	s.TransitionHistory = append(s.TransitionHistory, types.StrategyStateTransition{
		FromState:   s.CurrentState,
		ToState:     to,
		Reason:      reason,
		TriggeredBy: triggeredBy,
		Timestamp:   now,
	})
	s.CurrentState = to
	s.StateEnteredAt = now
}

// CanTrade implements spec §4.8's can_trade: true iff ACTIVE, or PAPER_ONLY
// while the runtime is in paper mode.
func (m *Manager) CanTrade(strategyID string, isPaperMode bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[strategyID]
	if !ok {
		return false
	}
	if s.CurrentState == types.LifecycleActive {
		return true
	}
	return isPaperMode && s.CurrentState == types.LifecyclePaperOnly
}

// ActiveStrategies returns the set of strategy IDs currently ACTIVE, used
// by Capital-Allocation and Meta's correlation-group checks.
func (m *Manager) ActiveStrategies() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.states))
	for id, s := range m.states {
		out[id] = s.CurrentState == types.LifecycleActive
	}
	return out
}
