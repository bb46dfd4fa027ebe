package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/tradectl/controlplane/internal/alerts"
	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/types"
)

const (
	// messageDrainCap bounds how long Runtime waits for one message before
	// running Cycle, per spec §4.2/§5.
	messageDrainCap = 100 * time.Millisecond
	// heartbeatInterval is how often Runtime publishes to the heartbeat
	// subject, per spec §4.2.
	heartbeatInterval = 5 * time.Second
	// shutdownTimeout bounds how long the orchestrator waits for one agent
	// to stop cooperatively, per spec §5.
	shutdownTimeout = 10 * time.Second
	// errorWindow and errorThreshold bound the "repeated exceptions" rule
	// of spec §4.2 that triggers an orchestrator restart.
	errorWindow    = time.Minute
	errorThreshold = 5
)

// Metrics holds the per-agent counters of spec §4.2, constructed with an
// explicit *prometheus.Registry rather than the teacher's package-level
// sync.Once singleton (spec §9 global-singleton redesign).
type Metrics struct {
	MessagesReceived prometheus.Counter
	MessagesSent     prometheus.Counter
	Errors           prometheus.Counter
	LastHeartbeat    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer, agentName string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name:        "agent_messages_received_total",
			Help:        "Messages received by this agent.",
			ConstLabels: prometheus.Labels{"agent": agentName},
		}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name:        "agent_messages_sent_total",
			Help:        "Messages published by this agent.",
			ConstLabels: prometheus.Labels{"agent": agentName},
		}),
		Errors: factory.NewCounter(prometheus.CounterOpts{
			Name:        "agent_errors_total",
			Help:        "Handler/cycle errors for this agent.",
			ConstLabels: prometheus.Labels{"agent": agentName},
		}),
		LastHeartbeat: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "agent_last_heartbeat_unixtime",
			Help:        "Unix timestamp of the last heartbeat published.",
			ConstLabels: prometheus.Labels{"agent": agentName},
		}),
	}
}

// Runtime drives one Agent through connect -> on_start -> main loop ->
// on_stop, grounded on internal/agents/base.go's Run method and
// internal/agents/heartbeat.go's ticker-driven publisher.
type Runtime struct {
	agent   Agent
	b       bus.Bus
	log     zerolog.Logger
	metrics *Metrics
	alerter alerts.Alerter

	paused atomic.Bool
	errs   []time.Time
	errMu  sync.Mutex

	stopped chan struct{}
}

func NewRuntime(a Agent, b bus.Bus, log zerolog.Logger, m *Metrics, alerter alerts.Alerter) *Runtime {
	return &Runtime{
		agent:   a,
		b:       b,
		log:     log.With().Str("agent_id", a.Name()).Str("agent_type", a.Type()).Logger(),
		metrics: m,
		alerter: alerter,
		stopped: make(chan struct{}),
	}
}

// Paused reports whether this agent is currently paused.
func (r *Runtime) Paused() bool { return r.paused.Load() }

// Run connects, runs on_start, then interleaves message-drain and cycle
// until ctx is cancelled or a shutdown control message arrives.
func (r *Runtime) Run(ctx context.Context) error {
	subjects := append([]types.Subject{types.SubjectControl, types.SubjectHeartbeat}, r.agent.Subjects()...)
	subs := make([]*bus.Subscription, 0, len(subjects))
	for _, s := range subjects {
		subs = append(subs, r.b.Subscribe(s))
	}
	defer func() {
		for _, s := range subs {
			s.Close()
		}
	}()

	if err := r.agent.OnStart(ctx); err != nil {
		return err
	}
	defer func() {
		_ = r.agent.OnStop(context.Background())
		close(r.stopped)
	}()

	go r.heartbeatLoop(ctx)

	ticker := time.NewTicker(r.agent.CycleInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-r.controlChan(subs):
			if r.handleControl(ctx, msg) {
				return nil
			}
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case msg := <-r.controlChan(subs):
			if r.handleControl(ctx, msg) {
				return nil
			}
		case msg := <-r.dataChan(subs):
			r.dispatch(ctx, msg)
		case <-time.After(messageDrainCap):
		}

		select {
		case <-ticker.C:
			r.runCycle(ctx)
		default:
		}
	}
}

// controlChan returns the control subscription's channel, or a nil channel
// if absent (never selected).
func (r *Runtime) controlChan(subs []*bus.Subscription) <-chan types.Message {
	for _, s := range subs {
		if s.Subject == types.SubjectControl {
			return s.C
		}
	}
	return nil
}

// dataChan multiplexes every non-control subscription into a single channel
// read per loop iteration. The always-on heartbeat subscription is included,
// so heartbeats reach HandleMessage like any other data subject (this is how
// Meta tracks agent liveness without listing heartbeat in Subjects()).
func (r *Runtime) dataChan(subs []*bus.Subscription) <-chan types.Message {
	for _, s := range subs {
		if s.Subject == types.SubjectControl {
			continue
		}
		select {
		case msg := <-s.C:
			ch := make(chan types.Message, 1)
			ch <- msg
			return ch
		default:
		}
	}
	return nil
}

func (r *Runtime) dispatch(ctx context.Context, msg types.Message) {
	r.metrics.MessagesReceived.Inc()
	if err := r.agent.HandleMessage(ctx, msg); err != nil {
		r.recordError(ctx, "handle_message", err)
	}
}

func (r *Runtime) runCycle(ctx context.Context) {
	if err := r.agent.Cycle(ctx); err != nil {
		r.recordError(ctx, "cycle", err)
	}
}

func (r *Runtime) recordError(ctx context.Context, op string, err error) {
	r.metrics.Errors.Inc()
	r.log.Error().Err(err).Str("op", op).Msg("agent error")
	if r.alerter != nil {
		r.alerter.Send(ctx, alerts.Alert{
			Severity: alerts.SeverityCritical,
			Title:    "agent error: " + r.agent.Name(),
			Message:  err.Error(),
			Source:   r.agent.Name(),
		})
	}

	r.errMu.Lock()
	now := time.Now()
	r.errs = append(r.errs, now)
	cutoff := now.Add(-errorWindow)
	kept := r.errs[:0]
	for _, t := range r.errs {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.errs = kept
	repeated := len(r.errs) > errorThreshold
	r.errMu.Unlock()

	if repeated {
		r.log.Warn().Msg("repeated errors in window, supervisor should restart this agent")
	}
}

// handleControl intercepts pause/resume/shutdown before HandleMessage, per
// spec §4.2. Every other control payload (MetaDecisionMsg,
// CapitalAllocationMsg, KillSwitchMsg, ResetKillSwitchMsg, ...) is forwarded
// to HandleMessage like any other subscribed message, since agents such as
// Risk must consult it (spec §9's veto-ordering note). Returns true if the
// agent should exit its main loop.
func (r *Runtime) handleControl(ctx context.Context, msg types.Message) bool {
	switch payload := msg.Payload.(type) {
	case types.PauseMsg:
		if payload.Target == "" || payload.Target == r.agent.Name() {
			r.paused.Store(true)
			if err := r.agent.OnPause(ctx); err != nil {
				r.recordError(ctx, "on_pause", err)
			}
		}
	case types.ResumeMsg:
		if payload.Target == "" || payload.Target == r.agent.Name() {
			r.paused.Store(false)
			if err := r.agent.OnResume(ctx); err != nil {
				r.recordError(ctx, "on_resume", err)
			}
		}
	case types.ShutdownMsg:
		if payload.Target == "" || payload.Target == r.agent.Name() {
			return true
		}
	default:
		r.dispatch(ctx, msg)
	}
	return false
}

func (r *Runtime) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.publishHeartbeat(ctx)
		}
	}
}

func (r *Runtime) publishHeartbeat(ctx context.Context) {
	status := "running"
	if r.paused.Load() {
		status = "paused"
	}
	payload := types.HeartbeatPayload{
		AgentID:   r.agent.Name(),
		AgentType: r.agent.Type(),
		Status:    status,
	}
	msg := types.NewMessage(r.agent.Name(), types.SubjectHeartbeat, payload, [16]byte{})
	if err := r.b.Publish(ctx, msg); err != nil {
		r.log.Warn().Err(err).Msg("failed to publish heartbeat")
		return
	}
	r.metrics.MessagesSent.Inc()
	r.metrics.LastHeartbeat.Set(float64(time.Now().Unix()))
}

// WaitStopped blocks until Run has fully returned, or the timeout elapses.
func (r *Runtime) WaitStopped() {
	select {
	case <-r.stopped:
	case <-time.After(shutdownTimeout):
	}
}
