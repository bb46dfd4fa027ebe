// Package agent provides the Agent interface and the Runtime that drives any
// Agent through the lifecycle of spec §4.2, grounded on
// internal/agents/base.go and internal/agents/heartbeat.go but restructured
// per spec §9's "hierarchical inheritance" redesign note: composition over
// the teacher's embedding-based BaseAgent. Every concrete agent is a plain
// struct implementing Agent; Runtime supplies the loop.
package agent

import (
	"context"
	"time"

	"github.com/tradectl/controlplane/internal/types"
)

// Agent is implemented by every concrete agent (Meta-Decision,
// Capital-Allocation, Risk, Execution, signal agents). Runtime calls these
// hooks; an Agent never drives its own loop.
type Agent interface {
	// Name identifies this agent instance, e.g. "risk-agent-01".
	Name() string
	// Type groups agents for health checks, e.g. "risk".
	Type() string
	// Subjects lists the subjects this agent subscribes to, beyond the
	// always-on control and heartbeat subjects.
	Subjects() []types.Subject

	OnStart(ctx context.Context) error
	OnStop(ctx context.Context) error
	OnPause(ctx context.Context) error
	OnResume(ctx context.Context) error

	// HandleMessage processes one non-control message from a subscribed
	// subject.
	HandleMessage(ctx context.Context, msg types.Message) error
	// Cycle runs one periodic tick; CycleInterval controls how often.
	Cycle(ctx context.Context) error
	CycleInterval() time.Duration
}
