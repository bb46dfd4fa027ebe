package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tradectl/controlplane/internal/types"
)

type subscriberEntry struct {
	ch     chan types.Message
	cancel context.CancelFunc
}

// MemBus is the in-process implementation of Bus: bounded per-subscriber
// Go channels, drop-oldest for non-critical subjects, blocking publish for
// critical ones. Grounded on internal/orchestrator/messagebus.go's
// subscriber fan-out, simplified to the subject/subscription model of
// spec §4.1 (no per-message TTL or correlation-reply bookkeeping — those
// belong to the agents that use this transport, not the transport itself).
type MemBus struct {
	log zerolog.Logger

	mu          sync.RWMutex
	subscribers map[types.Subject][]*subscriberEntry
	dropped     map[types.Subject]*uint64

	closed atomic.Bool
}

func NewMemBus(log zerolog.Logger) *MemBus {
	return &MemBus{
		log:         log.With().Str("component", "bus").Logger(),
		subscribers: make(map[types.Subject][]*subscriberEntry),
		dropped:     make(map[types.Subject]*uint64),
	}
}

func (b *MemBus) Subscribe(subject types.Subject) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	entry := &subscriberEntry{
		ch:     make(chan types.Message, bufferSize),
		cancel: cancel,
	}

	b.mu.Lock()
	b.subscribers[subject] = append(b.subscribers[subject], entry)
	if _, ok := b.dropped[subject]; !ok {
		var n uint64
		b.dropped[subject] = &n
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subscribers[subject]
		for i, e := range list {
			if e == entry {
				b.subscribers[subject] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(entry.ch)
	}()

	return &Subscription{Subject: subject, C: entry.ch, cancel: cancel}
}

func (b *MemBus) Publish(ctx context.Context, msg types.Message) error {
	if b.closed.Load() {
		return &types.TransientBusError{Op: "publish", Err: errClosed}
	}

	b.mu.RLock()
	entries := append([]*subscriberEntry(nil), b.subscribers[msg.Subject]...)
	b.mu.RUnlock()

	critical := msg.Subject.Critical()
	for _, e := range entries {
		if critical {
			select {
			case e.ch <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		select {
		case e.ch <- msg:
		default:
			// Drop the oldest buffered message and retry once, per §4.1.
			select {
			case <-e.ch:
				b.incrDropped(msg.Subject)
			default:
			}
			select {
			case e.ch <- msg:
			default:
				b.incrDropped(msg.Subject)
			}
		}
	}
	return nil
}

func (b *MemBus) incrDropped(subject types.Subject) {
	b.mu.RLock()
	counter := b.dropped[subject]
	b.mu.RUnlock()
	if counter != nil {
		atomic.AddUint64(counter, 1)
	}
}

func (b *MemBus) DroppedCount(subject types.Subject) uint64 {
	b.mu.RLock()
	counter := b.dropped[subject]
	b.mu.RUnlock()
	if counter == nil {
		return 0
	}
	return atomic.LoadUint64(counter)
}

func (b *MemBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, entries := range b.subscribers {
		for _, e := range entries {
			e.cancel()
		}
	}
	return nil
}

var errClosed = errClosedSentinel("bus closed")

type errClosedSentinel string

func (e errClosedSentinel) Error() string { return string(e) }
