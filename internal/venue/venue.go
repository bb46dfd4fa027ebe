// Package venue defines the opaque venue-adapter boundary of spec §6. Real
// exchange connectivity is explicitly out of scope (spec §1); this package
// only specifies the interface the Execution agent consumes and ships the
// one implementation needed for tests: a mock adapter grounded on
// internal/exchange/mock.go's simulated fills (slippage, market impact,
// fees) but re-shaped to the Venue interface instead of exchange.Exchange.
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradectl/controlplane/internal/types"
)

// Position is one open position as reported by a venue, per spec §6's
// get_positions().
type Position struct {
	Instrument string
	Side       types.Direction
	SizeUSD    decimal.Decimal
	EntryPrice decimal.Decimal
}

// Venue is the only surface the Execution agent requires of an adapter;
// adapter internals (REST, WS, signing) are opaque (spec §6).
type Venue interface {
	ID() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// PlaceOrder fills in Status, FilledPrice, FilledSize, Slippage on the
	// returned Order. It never mutates the input Order.
	PlaceOrder(ctx context.Context, order types.Order) (types.Order, error)
	CancelOrder(ctx context.Context, venueOrderID string) error
	GetBalance(ctx context.Context) (map[string]decimal.Decimal, error)
	GetPositions(ctx context.Context) ([]Position, error)
	HealthCheck(ctx context.Context) (types.VenueHealth, error)
}

// Registry holds the set of configured venues for the Execution agent's
// selection logic (spec §4.7).
type Registry struct {
	venues         map[string]Venue
	preferred      string
	roundRobinNext int
	order          []string
}

func NewRegistry(preferred string, venues ...Venue) *Registry {
	r := &Registry{venues: make(map[string]Venue), preferred: preferred}
	for _, v := range venues {
		r.venues[v.ID()] = v
		r.order = append(r.order, v.ID())
	}
	return r
}

// Get returns a venue by ID.
func (r *Registry) Get(id string) (Venue, bool) {
	v, ok := r.venues[id]
	return v, ok
}

// Select implements spec §4.7's venue-selection rule, generalized per
// SPEC_FULL §2.C to a configured preferred venue with round-robin
// fallback: prefer the configured venue if it is enabled and healthy;
// otherwise round-robin among enabled+healthy venues; if none are
// healthy, fall back to the first enabled venue and report degraded=true
// so the caller can emit the spec-required warning alert.
func (r *Registry) Select(ctx context.Context, healthByVenue map[string]types.VenueHealth) (Venue, bool) {
	if h, ok := healthByVenue[r.preferred]; ok && h.IsEnabled && h.Status == types.VenueHealthy {
		if v, ok := r.venues[r.preferred]; ok {
			return v, false
		}
	}

	healthy := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if h, ok := healthByVenue[id]; ok && h.IsEnabled && h.Status == types.VenueHealthy {
			healthy = append(healthy, id)
		}
	}
	if len(healthy) > 0 {
		id := healthy[r.roundRobinNext%len(healthy)]
		r.roundRobinNext++
		return r.venues[id], false
	}

	for _, id := range r.order {
		if h, ok := healthByVenue[id]; ok && h.IsEnabled {
			return r.venues[id], true
		}
	}
	return nil, true
}

// HealthCheckAll polls every registered venue.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]types.VenueHealth {
	out := make(map[string]types.VenueHealth, len(r.venues))
	for id, v := range r.venues {
		h, err := v.HealthCheck(ctx)
		if err != nil {
			h = types.VenueHealth{VenueID: id, Status: types.VenueDown, LastHeartbeat: time.Now(), IsEnabled: true}
		}
		out[id] = h
	}
	return out
}
