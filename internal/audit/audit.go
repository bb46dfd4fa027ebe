// Package audit is the optional, externally-wired durability seam of spec
// §2.B/§6.A: it never blocks core decision-making, and the default sink is
// in-memory and non-durable. Grounded on the teacher's internal/audit/
// audit.go (Event shape, severity levels, structured-log-then-persist
// pattern) and internal/metrics for the audit counters, narrowed from an
// HTTP-API audit trail to a control-plane one (agent lifecycle, control
// commands, kill-switch and quarantine actions, order lifecycle).
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tradectl/controlplane/internal/metrics"
)

// EventType identifies the kind of control-plane action being recorded.
type EventType string

const (
	EventAgentStarted  EventType = "AGENT_STARTED"
	EventAgentStopped  EventType = "AGENT_STOPPED"
	EventAgentFailed   EventType = "AGENT_FAILED"
	EventControlPause  EventType = "CONTROL_PAUSE"
	EventControlResume EventType = "CONTROL_RESUME"
	EventKillSwitch    EventType = "KILL_SWITCH"
	EventQuarantine    EventType = "QUARANTINE"
	EventUnquarantine  EventType = "UNQUARANTINE"
	EventOrderPlaced   EventType = "ORDER_PLACED"
	EventOrderFilled   EventType = "ORDER_FILLED"
	EventOrderCanceled EventType = "ORDER_CANCELED"
	EventMetaDecision  EventType = "META_DECISION"
	EventConfigLoaded  EventType = "CONFIG_LOADED"
)

// Severity mirrors the alerting severities so a sink can route by urgency
// without re-deriving it from the event type.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Event is one audit trail entry.
type Event struct {
	ID        uuid.UUID              `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	Severity  Severity               `json:"severity"`
	Actor     string                 `json:"actor"`               // agent name or "admin" for operator-issued commands
	Resource  string                 `json:"resource,omitempty"`  // strategy ID, order ID, venue name, etc.
	Action    string                 `json:"action"`              // human-readable description
	Success   bool                   `json:"success"`
	ErrorMsg  string                 `json:"error_message,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Sink persists audit events. Implementations must never block or fail the
// caller's decision path -- Log should swallow its own I/O errors after
// recording them, not propagate them into agent control flow. It is kept
// as an interface so the Orchestrator can wire in durability (or not)
// without any agent depending on a concrete store.
type Sink interface {
	Log(ctx context.Context, event Event)
}

// NopSink discards every event. Useful in tests that don't care about the
// audit trail.
type NopSink struct{}

func (NopSink) Log(context.Context, Event) {}

// MemorySink is the default, non-durable sink: it logs every event
// through zerolog and keeps the last capacity entries in memory for
// inspection (e.g. an admin CLI "show recent audit events" command).
type MemorySink struct {
	log      zerolog.Logger
	capacity int

	mu      chan struct{} // 1-buffered channel used as the sink's lock; a second Log waits for the token
	events  []Event
}

// NewMemorySink builds a MemorySink retaining at most capacity events.
func NewMemorySink(log zerolog.Logger, capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 1000
	}
	m := &MemorySink{
		log:      log.With().Str("component", "audit").Logger(),
		capacity: capacity,
		mu:       make(chan struct{}, 1),
	}
	m.mu <- struct{}{}
	return m
}

func (m *MemorySink) Log(ctx context.Context, event Event) {
	start := time.Now()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	logEvent := m.log.With().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.EventType)).
		Str("severity", string(event.Severity)).
		Str("actor", event.Actor).
		Str("resource", event.Resource).
		Str("action", event.Action).
		Bool("success", event.Success).
		Logger()
	if event.ErrorMsg != "" {
		logEvent = logEvent.With().Str("error", event.ErrorMsg).Logger()
	}

	switch event.Severity {
	case SeverityCritical, SeverityError:
		logEvent.Error().Msg("audit event")
	case SeverityWarning:
		logEvent.Warn().Msg("audit event")
	default:
		logEvent.Info().Msg("audit event")
	}

	<-m.mu
	m.events = append(m.events, event)
	if len(m.events) > m.capacity {
		m.events = m.events[len(m.events)-m.capacity:]
	}
	m.mu <- struct{}{}

	metrics.RecordAuditLog(string(event.EventType), true, float64(time.Since(start).Milliseconds()))
}

// Recent returns a copy of the most recently logged events, newest last.
func (m *MemorySink) Recent(n int) []Event {
	<-m.mu
	defer func() { m.mu <- struct{}{} }()

	if n <= 0 || n > len(m.events) {
		n = len(m.events)
	}
	out := make([]Event, n)
	copy(out, m.events[len(m.events)-n:])
	return out
}
