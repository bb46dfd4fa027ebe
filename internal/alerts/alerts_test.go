package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type mockAlerter struct {
	alerts []Alert
	err    error
}

func newMockAlerter(err error) *mockAlerter {
	return &mockAlerter{err: err}
}

func (m *mockAlerter) Send(_ context.Context, a Alert) error {
	m.alerts = append(m.alerts, a)
	return m.err
}

func TestNewManager(t *testing.T) {
	a1, a2 := newMockAlerter(nil), newMockAlerter(nil)
	manager := NewManager(a1, a2)

	if manager == nil {
		t.Fatal("expected non-nil manager")
	}
	if len(manager.alerters) != 2 {
		t.Errorf("expected 2 alerters, got %d", len(manager.alerters))
	}
}

func TestManager_SendStampsTimestamp(t *testing.T) {
	mock := newMockAlerter(nil)
	manager := NewManager(mock)

	err := manager.Send(context.Background(), Alert{
		Title: "Test Alert", Message: "Test Message", Severity: SeverityInfo,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(mock.alerts))
	}
	if mock.alerts[0].CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be stamped")
	}
}

func TestManager_SendPreservesExplicitTimestamp(t *testing.T) {
	mock := newMockAlerter(nil)
	manager := NewManager(mock)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_ = manager.Send(context.Background(), Alert{Title: "t", CreatedAt: ts})

	if !mock.alerts[0].CreatedAt.Equal(ts) {
		t.Errorf("expected preserved timestamp %v, got %v", ts, mock.alerts[0].CreatedAt)
	}
}

func TestManager_SendReturnsAlerterError(t *testing.T) {
	mock := newMockAlerter(errors.New("send error"))
	manager := NewManager(mock)

	if err := manager.Send(context.Background(), Alert{Title: "t"}); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestManager_SendToMultipleAlerters(t *testing.T) {
	a1 := newMockAlerter(nil)
	a2 := newMockAlerter(errors.New("alerter2 error"))
	a3 := newMockAlerter(nil)

	manager := NewManager(a1, a2, a3)

	err := manager.Send(context.Background(), Alert{
		Title: "Multi-send Test", Severity: SeverityWarning,
	})
	if err == nil {
		t.Error("expected an error from alerter2")
	}
	for i, a := range []*mockAlerter{a1, a2, a3} {
		if len(a.alerts) != 1 {
			t.Errorf("alerter %d: expected 1 alert, got %d", i, len(a.alerts))
		}
	}
}

func TestManager_Register(t *testing.T) {
	manager := NewManager()
	mock := newMockAlerter(nil)
	manager.Register(mock)

	_ = manager.Send(context.Background(), Alert{Title: "t"})
	if len(mock.alerts) != 1 {
		t.Fatalf("expected registered alerter to receive the alert")
	}
}

func TestLogAlerter_Send(t *testing.T) {
	alerter := NewLogAlerter(zerolog.Nop())

	for _, sev := range []Severity{SeverityCritical, SeverityWarning, SeverityInfo} {
		if err := alerter.Send(context.Background(), Alert{Title: "t", Severity: sev}); err != nil {
			t.Errorf("severity %s: unexpected error: %v", sev, err)
		}
	}
}

func TestConsoleAlerter_Send(t *testing.T) {
	alerter := NewConsoleAlerter(zerolog.Nop())

	err := alerter.Send(context.Background(), Alert{
		Title:    "Console Test",
		Severity: SeverityCritical,
		Metadata: map[string]any{"symbol": "BTC-USD"},
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
