package audit_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/tradectl/controlplane/internal/audit"
)

func TestMemorySink_LogAndRecent(t *testing.T) {
	sink := audit.NewMemorySink(zerolog.Nop(), 2)
	ctx := context.Background()

	sink.Log(ctx, audit.Event{EventType: audit.EventAgentStarted, Severity: audit.SeverityInfo, Actor: "meta-1", Action: "started"})
	sink.Log(ctx, audit.Event{EventType: audit.EventKillSwitch, Severity: audit.SeverityCritical, Actor: "admin", Action: "triggered"})
	sink.Log(ctx, audit.Event{EventType: audit.EventControlResume, Severity: audit.SeverityInfo, Actor: "admin", Action: "resumed"})

	recent := sink.Recent(10)
	assert.Len(t, recent, 2) // capacity 2: oldest evicted
	assert.Equal(t, audit.EventKillSwitch, recent[0].EventType)
	assert.Equal(t, audit.EventControlResume, recent[1].EventType)
}

func TestMemorySink_AssignsIDAndTimestamp(t *testing.T) {
	sink := audit.NewMemorySink(zerolog.Nop(), 10)
	sink.Log(context.Background(), audit.Event{EventType: audit.EventOrderPlaced, Action: "placed"})

	recent := sink.Recent(1)
	assert.NotZero(t, recent[0].ID)
	assert.False(t, recent[0].Timestamp.IsZero())
}

func TestNopSink_DoesNothing(t *testing.T) {
	var s audit.Sink = audit.NopSink{}
	assert.NotPanics(t, func() { s.Log(context.Background(), audit.Event{}) })
}
