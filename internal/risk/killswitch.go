package risk

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// errKillSwitchTrip is the sentinel failure sony/gobreaker.Execute records
// to force the breaker open; it never surfaces to callers.
var errKillSwitchTrip = errors.New("kill switch tripped")

// KillSwitch wraps the Risk agent's single trading kill switch in a
// sony/gobreaker.CircuitBreaker (grounded on internal/risk/circuit_breaker.go's
// 3-breaker exchange/llm/database setup, narrowed to one breaker), so
// trip/reset/half-open semantics come from a real breaker instead of a
// hand-rolled bool. Spec §4.6: "only cleared administratively" -- the
// breaker's Timeout is set effectively infinite so it never auto-resets;
// Reset rebuilds the breaker, the only way back to closed.
type KillSwitch struct {
	mu      sync.Mutex
	breaker *gobreaker.CircuitBreaker
	onTrip  func(reason string)
	reason  string
}

// NewKillSwitch constructs a closed kill switch. onTrip is invoked exactly
// once per trip transition (spec §4.6: publish control:pause + critical
// alert).
func NewKillSwitch(onTrip func(reason string)) *KillSwitch {
	k := &KillSwitch{onTrip: onTrip}
	k.breaker = k.newBreaker()
	return k
}

func (k *KillSwitch) newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "trading_kill_switch",
		MaxRequests: 1,
		Interval:    0,                // never periodically clears counts
		Timeout:     365 * 24 * time.Hour, // administrative reset only
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen && k.onTrip != nil {
				k.onTrip(k.reason)
			}
		},
	})
}

// Trip forces the breaker open with the given reason. Idempotent: tripping
// an already-open switch is a no-op.
func (k *KillSwitch) Trip(reason string) {
	k.mu.Lock()
	if k.breaker.State() == gobreaker.StateOpen {
		k.mu.Unlock()
		return
	}
	k.reason = reason
	k.mu.Unlock()
	_, _ = k.breaker.Execute(func() (any, error) { return nil, errKillSwitchTrip })
}

// Triggered reports whether the kill switch is currently open.
func (k *KillSwitch) Triggered() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.breaker.State() == gobreaker.StateOpen
}

// Reset is the explicit administrative action of spec §4.6 ("it is only
// cleared administratively") and the original_source's reset_kill_switch --
// rebuilds the breaker closed.
func (k *KillSwitch) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.reason = ""
	k.breaker = k.newBreaker()
}
