// Package orchestrator supervises the agent pool: it registers each agent's
// Runtime, starts it, restarts it on repeated failure, tracks heartbeats for
// health, and fans control commands (pause/resume/shutdown/kill-switch) out
// to the bus. Grounded on internal/orchestrator/orchestrator.go's
// Initialize/Run/healthCheckLoop/Pause/Resume/Shutdown, with the weighted
// voting consensus machinery dropped: decisions belong to the Meta-Decision
// agent, not the orchestrator, per spec §4.2 and §9.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tradectl/controlplane/internal/agent"
	"github.com/tradectl/controlplane/internal/alerts"
	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/types"
)

const (
	// restartBackoffBase and restartBackoffMax bound the exponential backoff
	// applied between restarts of a crashing agent.
	restartBackoffBase = 2 * time.Second
	restartBackoffMax  = 2 * time.Minute
	// missedHeartbeatLimit is how many consecutive missed heartbeat windows
	// before checkHealth logs the agent as unhealthy and sends a warning
	// alert. It does not restart the agent; restarts follow only an error
	// returned from the agent's Run.
	missedHeartbeatLimit   = 3
	heartbeatCheckInterval = 15 * time.Second
	healthCheckInterval    = heartbeatCheckInterval
)

// handle tracks one supervised agent instance.
type handle struct {
	agent    agent.Agent
	runtime  *agent.Runtime
	cancel   context.CancelFunc
	restarts int
	lastSeen time.Time
	mu       sync.Mutex
}

// Supervisor owns the agent pool and the bus they communicate over.
type Supervisor struct {
	bus     bus.Bus
	log     zerolog.Logger
	alerter alerts.Alerter
	reg     prometheus.Registerer

	mu       sync.RWMutex
	handles  map[string]*handle
	wg       sync.WaitGroup
	hbSub    *bus.Subscription
}

func NewSupervisor(b bus.Bus, log zerolog.Logger, alerter alerts.Alerter, reg prometheus.Registerer) *Supervisor {
	return &Supervisor{
		bus:     b,
		log:     log.With().Str("component", "orchestrator").Logger(),
		alerter: alerter,
		reg:     reg,
		handles: make(map[string]*handle),
	}
}

// Register adds an agent to the pool. It must be called before Run.
func (s *Supervisor) Register(a agent.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := agent.NewMetrics(s.reg, a.Name())
	s.handles[a.Name()] = &handle{
		agent:   a,
		runtime: agent.NewRuntime(a, s.bus, s.log, m, s.alerter),
	}
}

// Run starts every registered agent under supervision and blocks until ctx
// is cancelled, restarting any agent whose Runtime.Run returns unexpectedly.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.RLock()
	names := make([]string, 0, len(s.handles))
	for name := range s.handles {
		names = append(names, name)
	}
	s.mu.RUnlock()

	for _, name := range names {
		s.startSupervised(ctx, name)
	}

	s.hbSub = s.bus.Subscribe(types.SubjectHeartbeat)
	go s.watchHeartbeats(ctx)
	go s.healthCheckLoop(ctx)

	<-ctx.Done()
	s.shutdownAll()
	return nil
}

// startSupervised launches one agent's Runtime in a goroutine that restarts
// it with exponential backoff if Run returns (crash or unexpected exit) while
// ctx is still live.
func (s *Supervisor) startSupervised(ctx context.Context, name string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		backoff := restartBackoffBase
		for {
			s.mu.RLock()
			h, ok := s.handles[name]
			s.mu.RUnlock()
			if !ok {
				return
			}

			runCtx, cancel := context.WithCancel(ctx)
			h.mu.Lock()
			h.cancel = cancel
			h.mu.Unlock()

			err := h.runtime.Run(runCtx)
			cancel()

			if ctx.Err() != nil {
				return
			}
			if err == nil {
				return
			}

			h.mu.Lock()
			h.restarts++
			restarts := h.restarts
			h.mu.Unlock()

			s.log.Error().Err(err).Str("agent", name).Int("restarts", restarts).Msg("agent exited, restarting")
			if s.alerter != nil {
				s.alerter.Send(ctx, alerts.Alert{
					Severity: alerts.SeverityCritical,
					Title:    "agent restart: " + name,
					Message:  fmt.Sprintf("restart #%d after: %v", restarts, err),
					Source:   "orchestrator",
				})
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > restartBackoffMax {
				backoff = restartBackoffMax
			}
		}
	}()
}

func (s *Supervisor) watchHeartbeats(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.hbSub.C:
			if !ok {
				return
			}
			hb, ok := msg.Payload.(types.HeartbeatPayload)
			if !ok {
				continue
			}
			s.mu.RLock()
			h, found := s.handles[hb.AgentID]
			s.mu.RUnlock()
			if !found {
				continue
			}
			h.mu.Lock()
			h.lastSeen = time.Now()
			h.mu.Unlock()
		}
	}
}

// healthCheckLoop flags agents that have missed too many consecutive
// heartbeat windows, grounded on orchestrator.go's checkAgentHealth.
func (s *Supervisor) healthCheckLoop(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkHealth(ctx)
		}
	}
}

func (s *Supervisor) checkHealth(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	for name, h := range s.handles {
		h.mu.Lock()
		last := h.lastSeen
		h.mu.Unlock()
		if last.IsZero() {
			continue
		}
		if now.Sub(last) > time.Duration(missedHeartbeatLimit)*heartbeatCheckInterval {
			s.log.Warn().Str("agent", name).Time("last_heartbeat", last).Msg("agent missed heartbeat window")
			if s.alerter != nil {
				s.alerter.Send(ctx, alerts.Alert{
					Severity: alerts.SeverityWarning,
					Title:    "missed heartbeat: " + name,
					Message:  fmt.Sprintf("no heartbeat since %v", last),
					Source:   "orchestrator",
				})
			}
		}
	}
}

func (s *Supervisor) shutdownAll() {
	s.mu.RLock()
	handles := make([]*handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	for _, h := range handles {
		h.mu.Lock()
		cancel := h.cancel
		h.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
	s.wg.Wait()
}

// PublishPause broadcasts a pause command, scoped to target ("" means all agents).
func (s *Supervisor) PublishPause(ctx context.Context, target, reason string) error {
	return s.publishControl(ctx, types.PauseMsg{Target: target, Reason: reason})
}

// PublishResume broadcasts a resume command, scoped to target ("" means all agents).
func (s *Supervisor) PublishResume(ctx context.Context, target string) error {
	return s.publishControl(ctx, types.ResumeMsg{Target: target})
}

// PublishShutdown broadcasts a shutdown command, scoped to target ("" means all agents).
func (s *Supervisor) PublishShutdown(ctx context.Context, target string) error {
	return s.publishControl(ctx, types.ShutdownMsg{Target: target})
}

// PublishKillSwitch broadcasts a kill-switch action (trip or disable trading).
func (s *Supervisor) PublishKillSwitch(ctx context.Context, action types.KillSwitchAction, reason string) error {
	return s.publishControl(ctx, types.KillSwitchMsg{Action: action, Reason: reason})
}

// PublishResetKillSwitch broadcasts the explicit admin reset command, distinct
// from a generic kill_switch.reset action per risk_agent.py's reset_kill_switch.
func (s *Supervisor) PublishResetKillSwitch(ctx context.Context, reason string) error {
	return s.publishControl(ctx, types.ResetKillSwitchMsg{Reason: reason})
}

// PublishUnquarantine broadcasts a manual strategy unquarantine command.
// The Supervisor itself doesn't own a strategylifecycle.Manager -- cmd/
// orchestrator's lifecycle watcher subscribes to SubjectControl and applies
// this to its own in-process Manager.
func (s *Supervisor) PublishUnquarantine(ctx context.Context, strategyID, triggeredBy string) error {
	return s.publishControl(ctx, types.UnquarantineMsg{StrategyID: strategyID, TriggeredBy: triggeredBy})
}

func (s *Supervisor) publishControl(ctx context.Context, payload types.ControlMsg) error {
	msg := types.NewMessage("orchestrator", types.SubjectControl, payload, [16]byte{})
	return s.bus.Publish(ctx, msg)
}

// Snapshot returns a point-in-time health summary, grounded on
// orchestrator.go's handleStatusRequest.
type Snapshot struct {
	Agent     string
	Type      string
	Restarts  int
	LastSeen  time.Time
}

func (s *Supervisor) Snapshot() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.handles))
	for name, h := range s.handles {
		h.mu.Lock()
		out = append(out, Snapshot{Agent: name, Type: h.agent.Type(), Restarts: h.restarts, LastSeen: h.lastSeen})
		h.mu.Unlock()
	}
	return out
}
