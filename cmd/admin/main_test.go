package main

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/orchestrator"
	"github.com/tradectl/controlplane/internal/types"
)

func newTestSupervisor(t *testing.T) (*orchestrator.Supervisor, *bus.Subscription) {
	b := bus.NewMemBus(zerolog.Nop())
	t.Cleanup(func() { _ = b.Close() })
	sub := b.Subscribe(types.SubjectControl)
	t.Cleanup(sub.Close)
	return orchestrator.NewSupervisor(b, zerolog.Nop(), nil, prometheus.NewRegistry()), sub
}

func recvControl(t *testing.T, sub *bus.Subscription) types.ControlMsg {
	t.Helper()
	select {
	case msg := <-sub.C:
		payload, ok := msg.Payload.(types.ControlMsg)
		require.True(t, ok)
		return payload
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for control message")
		return nil
	}
}

func TestDispatch_Pause(t *testing.T) {
	sup, sub := newTestSupervisor(t)
	require.NoError(t, dispatch(context.Background(), sup, []string{"pause", "risk-1", "manual halt"}))

	msg := recvControl(t, sub)
	pause, ok := msg.(types.PauseMsg)
	require.True(t, ok)
	assert.Equal(t, "risk-1", pause.Target)
	assert.Equal(t, "manual halt", pause.Reason)
}

func TestDispatch_KillSwitchTrigger(t *testing.T) {
	sup, sub := newTestSupervisor(t)
	require.NoError(t, dispatch(context.Background(), sup, []string{"kill-switch", "trigger", "daily loss breached"}))

	msg := recvControl(t, sub)
	ks, ok := msg.(types.KillSwitchMsg)
	require.True(t, ok)
	assert.Equal(t, types.KillSwitchTrigger, ks.Action)
	assert.Equal(t, "daily loss breached", ks.Reason)
}

func TestDispatch_KillSwitchUnknownAction(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	err := dispatch(context.Background(), sup, []string{"kill-switch", "nonsense"})
	assert.Error(t, err)
}

func TestDispatch_ResetKillSwitch(t *testing.T) {
	sup, sub := newTestSupervisor(t)
	require.NoError(t, dispatch(context.Background(), sup, []string{"reset-kill-switch", "operator cleared"}))

	msg := recvControl(t, sub)
	_, ok := msg.(types.ResetKillSwitchMsg)
	assert.True(t, ok)
}

func TestDispatch_Unquarantine(t *testing.T) {
	sup, sub := newTestSupervisor(t)
	require.NoError(t, dispatch(context.Background(), sup, []string{"unquarantine", "momentum"}))

	msg := recvControl(t, sub)
	uq, ok := msg.(types.UnquarantineMsg)
	require.True(t, ok)
	assert.Equal(t, "momentum", uq.StrategyID)
}

func TestDispatch_UnquarantineRequiresArg(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	err := dispatch(context.Background(), sup, []string{"unquarantine"})
	assert.Error(t, err)
}

func TestDispatch_UnknownCommand(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	err := dispatch(context.Background(), sup, []string{"frobnicate"})
	assert.Error(t, err)
}
