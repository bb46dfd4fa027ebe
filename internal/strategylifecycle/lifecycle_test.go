package strategylifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradectl/controlplane/internal/types"
)

func newTestManager(t *testing.T) *Manager {
	m, err := NewManager(DefaultThresholds(), "1.0.0")
	require.NoError(t, err)
	return m
}

func TestManager_RegisterRejectsOldSchema(t *testing.T) {
	m := newTestManager(t)
	err := m.Register("momentum", "0.5.0", time.Now())
	assert.Error(t, err)
}

func TestManager_DrawdownTriggersQuarantineWithinOneEvaluation(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	require.NoError(t, m.Register("momentum", "1.0.0", now))
	require.NoError(t, m.forceTransition("momentum", types.LifecycleActive, "seed", "test", now))

	s, err := m.Evaluate("momentum", MetricsUpdate{CurrentDrawdownPct: 0.11}, now)
	require.NoError(t, err)
	assert.Equal(t, types.LifecycleQuarantined, s.CurrentState)
	require.Len(t, s.TransitionHistory, 2)
	assert.Equal(t, types.LifecycleActive, s.TransitionHistory[1].FromState)
	assert.Equal(t, types.LifecycleQuarantined, s.TransitionHistory[1].ToState)
}

func TestManager_QuarantineHealsBackToActiveAfterMinHoursAndGoodMetrics(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	require.NoError(t, m.Register("momentum", "1.0.0", now))
	require.NoError(t, m.forceTransition("momentum", types.LifecycleActive, "seed", "test", now))

	_, err := m.Evaluate("momentum", MetricsUpdate{CurrentDrawdownPct: 0.11}, now)
	require.NoError(t, err)

	later := now.Add(DefaultThresholds().QuarantineMinHours + time.Minute)
	s, err := m.Evaluate("momentum", MetricsUpdate{PerformanceVsExpectation: 1.0, ExecutionQuality: 0.95}, later)
	require.NoError(t, err)
	assert.Equal(t, types.LifecycleActive, s.CurrentState)
}

func TestManager_QuarantineDoesNotHealBeforeExpiry(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	require.NoError(t, m.Register("momentum", "1.0.0", now))
	require.NoError(t, m.forceTransition("momentum", types.LifecycleActive, "seed", "test", now))
	_, err := m.Evaluate("momentum", MetricsUpdate{CurrentDrawdownPct: 0.11}, now)
	require.NoError(t, err)

	s, err := m.Evaluate("momentum", MetricsUpdate{PerformanceVsExpectation: 1.0, ExecutionQuality: 0.95}, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, types.LifecycleQuarantined, s.CurrentState)
}

func TestManager_MaxQuarantineCountDisables(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	require.NoError(t, m.Register("momentum", "1.0.0", now))
	require.NoError(t, m.forceTransition("momentum", types.LifecycleActive, "seed", "test", now))

	for i := 0; i < 3; i++ {
		_, err := m.Evaluate("momentum", MetricsUpdate{CurrentDrawdownPct: 0.11}, now)
		require.NoError(t, err)
		now = now.Add(DefaultThresholds().QuarantineMinHours + time.Minute)
		if i < 2 {
			_, err = m.Evaluate("momentum", MetricsUpdate{PerformanceVsExpectation: 1.0, ExecutionQuality: 0.95}, now)
			require.NoError(t, err)
			require.NoError(t, m.forceTransition("momentum", types.LifecycleActive, "reseed", "test", now))
		}
	}
	// The third quarantine leaves the strategy QUARANTINED with the count at
	// the limit; the next evaluation moves it to DISABLED.
	_, err := m.Evaluate("momentum", MetricsUpdate{}, now)
	require.NoError(t, err)
	s, _ := m.Get("momentum")
	assert.Equal(t, types.LifecycleDisabled, s.CurrentState)
}

func TestManager_CanTrade(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	require.NoError(t, m.Register("paper-strat", "1.0.0", now))

	assert.True(t, m.CanTrade("paper-strat", true))
	assert.False(t, m.CanTrade("paper-strat", false))

	require.NoError(t, m.PromoteToActive("paper-strat", "admin", now))
	assert.True(t, m.CanTrade("paper-strat", false))
}

func TestManager_UnquarantineRequiresQuarantinedState(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	require.NoError(t, m.Register("momentum", "1.0.0", now))
	require.NoError(t, m.forceTransition("momentum", types.LifecycleActive, "seed", "test", now))

	err := m.Unquarantine("momentum", "admin", now)
	assert.Error(t, err)
}

func TestManager_UnquarantineForcesActiveImmediately(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	require.NoError(t, m.Register("momentum", "1.0.0", now))
	require.NoError(t, m.forceTransition("momentum", types.LifecycleActive, "seed", "test", now))
	_, err := m.Evaluate("momentum", MetricsUpdate{CurrentDrawdownPct: 0.11}, now)
	require.NoError(t, err)

	s, _ := m.Get("momentum")
	require.Equal(t, types.LifecycleQuarantined, s.CurrentState)

	require.NoError(t, m.Unquarantine("momentum", "admin", now.Add(time.Minute)))
	s, _ = m.Get("momentum")
	assert.Equal(t, types.LifecycleActive, s.CurrentState)
}

func TestManager_ManualDisableAlwaysPermitted(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	require.NoError(t, m.Register("s1", "1.0.0", now))
	require.NoError(t, m.ManuallyDisable("s1", "admin", "risk_review", now))
	s, _ := m.Get("s1")
	assert.Equal(t, types.LifecycleDisabled, s.CurrentState)
}
