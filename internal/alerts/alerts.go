// Package alerts implements the critical-alert mechanism agents publish on
// the "alerts" subject, grounded on internal/alerts/alerts.go but with the
// package-level defaultManager singleton removed per spec §9's
// global-singleton redesign note: callers construct a Manager explicitly
// and pass it to every agent that needs to send alerts.
package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	Severity  Severity
	Title     string
	Message   string
	Source    string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Alerter is implemented by every alert sink.
type Alerter interface {
	Send(ctx context.Context, a Alert) error
}

// Manager fans an alert out to every registered Alerter, grounded on
// internal/alerts/alerts.go's Manager but constructed explicitly rather
// than reached via a package-level GetDefaultManager().
type Manager struct {
	mu       sync.RWMutex
	alerters []Alerter
}

func NewManager(alerters ...Alerter) *Manager {
	return &Manager{alerters: alerters}
}

func (m *Manager) Register(a Alerter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerters = append(m.alerters, a)
}

func (m *Manager) Send(ctx context.Context, a Alert) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var firstErr error
	for _, alerter := range m.alerters {
		if err := alerter.Send(ctx, a); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LogAlerter writes alerts through a zerolog logger.
type LogAlerter struct {
	log zerolog.Logger
}

func NewLogAlerter(log zerolog.Logger) *LogAlerter {
	return &LogAlerter{log: log.With().Str("component", "alerts").Logger()}
}

func (l *LogAlerter) Send(_ context.Context, a Alert) error {
	ev := l.log.Info()
	switch a.Severity {
	case SeverityWarning:
		ev = l.log.Warn()
	case SeverityCritical:
		ev = l.log.Error()
	}
	ev.Str("source", a.Source).Str("title", a.Title).Msg(a.Message)
	return nil
}

// ConsoleAlerter writes each alert as one info-level line to a supplied
// zerolog logger (grounded on internal/alerts/alerts.go's ConsoleAlerter).
type ConsoleAlerter struct {
	log zerolog.Logger
}

func NewConsoleAlerter(log zerolog.Logger) *ConsoleAlerter {
	return &ConsoleAlerter{log: log}
}

func (c *ConsoleAlerter) Send(_ context.Context, a Alert) error {
	c.log.Info().Str("severity", string(a.Severity)).Str("source", a.Source).Msg(a.Title + ": " + a.Message)
	return nil
}
