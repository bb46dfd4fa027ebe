// Package bus implements the subject-based broadcast transport of spec §4.1,
// grounded on internal/orchestrator/messagebus.go's envelope and fan-out
// design. Two Bus implementations share one interface: an in-process
// bounded-channel bus, and a NATS-backed bus for multi-process deployments
// (spec §9's "optional pluggable transport").
package bus

import (
	"context"

	"github.com/tradectl/controlplane/internal/types"
)

// bufferSize is the per-subscriber bounded buffer depth for non-critical
// subjects before drop-oldest kicks in.
const bufferSize = 256

// Subscription is a live subscriber handle returned by Subscribe.
type Subscription struct {
	Subject types.Subject
	C       <-chan types.Message
	cancel  func()
}

// Close is idempotent; after it returns no further messages are delivered
// on this subscription.
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Bus is the broadcast transport every agent talks to. Implementations must
// honor spec §4.1's backpressure rule: subscribers of a subject whose
// Critical() is false (market_data, heartbeat, signals, execution, alerts)
// may silently drop the oldest buffered message when full; for the
// critical subjects (control, risk_check, risk_approved, risk_rejected,
// fills) Publish blocks until buffer space is available.
type Bus interface {
	// Publish delivers msg to every current subscriber of msg.Subject,
	// at-least-once, preserving per-subject FIFO order to each subscriber.
	Publish(ctx context.Context, msg types.Message) error

	// Subscribe returns a Subscription whose channel receives every message
	// published to subject from this point forward.
	Subscribe(subject types.Subject) *Subscription

	// DroppedCount reports how many messages have been dropped for subject
	// across all subscribers (spec §4.1 drop counter).
	DroppedCount(subject types.Subject) uint64

	// Close shuts the bus down; all subscriptions are closed.
	Close() error
}
