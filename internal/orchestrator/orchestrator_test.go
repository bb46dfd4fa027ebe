package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/types"
)

type stubAgent struct {
	name       string
	cycles     atomic.Int32
	failOnce   atomic.Bool
	shutdownCh chan struct{}
}

func newStubAgent(name string) *stubAgent {
	return &stubAgent{name: name, shutdownCh: make(chan struct{}, 1)}
}

func (s *stubAgent) Name() string                 { return s.name }
func (s *stubAgent) Type() string                 { return "stub" }
func (s *stubAgent) Subjects() []types.Subject     { return nil }
func (s *stubAgent) OnStart(context.Context) error { return nil }
func (s *stubAgent) OnStop(context.Context) error {
	select {
	case s.shutdownCh <- struct{}{}:
	default:
	}
	return nil
}
func (s *stubAgent) OnPause(context.Context) error  { return nil }
func (s *stubAgent) OnResume(context.Context) error { return nil }
func (s *stubAgent) HandleMessage(context.Context, types.Message) error { return nil }
func (s *stubAgent) Cycle(context.Context) error {
	s.cycles.Add(1)
	if s.failOnce.CompareAndSwap(true, false) {
		return errors.New("injected cycle failure")
	}
	return nil
}
func (s *stubAgent) CycleInterval() time.Duration { return 10 * time.Millisecond }

func TestSupervisor_RegisterAndRun(t *testing.T) {
	b := bus.NewMemBus(zerolog.Nop())
	defer b.Close()
	sup := NewSupervisor(b, zerolog.Nop(), nil, prometheus.NewRegistry())

	a := newStubAgent("stub-1")
	sup.Register(a)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = sup.Run(ctx)
		close(done)
	}()

	<-ctx.Done()
	<-done

	assert.True(t, a.cycles.Load() > 0, "expected at least one cycle to run")
}

func TestSupervisor_PublishControlCommands(t *testing.T) {
	b := bus.NewMemBus(zerolog.Nop())
	defer b.Close()
	sup := NewSupervisor(b, zerolog.Nop(), nil, prometheus.NewRegistry())

	sub := b.Subscribe(types.SubjectControl)
	defer sub.Close()

	ctx := context.Background()
	require.NoError(t, sup.PublishPause(ctx, "risk-agent-01", "manual halt"))

	select {
	case msg := <-sub.C:
		pause, ok := msg.Payload.(types.PauseMsg)
		require.True(t, ok)
		assert.Equal(t, "risk-agent-01", pause.Target)
		assert.Equal(t, "manual halt", pause.Reason)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pause message")
	}
}

func TestSupervisor_PublishKillSwitch(t *testing.T) {
	b := bus.NewMemBus(zerolog.Nop())
	defer b.Close()
	sup := NewSupervisor(b, zerolog.Nop(), nil, prometheus.NewRegistry())

	sub := b.Subscribe(types.SubjectControl)
	defer sub.Close()

	require.NoError(t, sup.PublishKillSwitch(context.Background(), types.KillSwitchTrigger, "daily loss limit breached"))

	select {
	case msg := <-sub.C:
		ks, ok := msg.Payload.(types.KillSwitchMsg)
		require.True(t, ok)
		assert.Equal(t, types.KillSwitchTrigger, ks.Action)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for kill switch message")
	}
}

func TestSupervisor_Snapshot(t *testing.T) {
	b := bus.NewMemBus(zerolog.Nop())
	defer b.Close()
	sup := NewSupervisor(b, zerolog.Nop(), nil, prometheus.NewRegistry())
	sup.Register(newStubAgent("stub-2"))

	snap := sup.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "stub-2", snap[0].Agent)
	assert.Equal(t, "stub", snap[0].Type)
}
