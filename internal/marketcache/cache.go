// Package marketcache feeds the Meta-Decision agent's volatility, spread,
// and correlation inputs (spec §4.4). Grounded on internal/market/
// redis_cache.go's optional redis/go-redis/v9-backed snapshot cache -- a
// real cache-backed read path, not just in-memory maps -- and on
// internal/indicators for per-instrument statistics. Per spec §9 and
// SPEC_FULL §2.C, correlation is a configured static group membership, not
// a computed matrix, so this package does NOT compute a correlation
// matrix; it only ingests price points and reports volatility/liquidity.
package marketcache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Point is one market-data observation, matching spec §6's minimum
// market_data payload fields.
type Point struct {
	Instrument    string
	Price         float64
	Spread        float64 // fraction, e.g. 0.003 = 0.3%
	PriceChange1M float64 // fraction, 1-minute return
	// BidVolume and AskVolume are the optional order book depth fields of
	// spec §6's market_data payload; zero when the provider omits depth.
	BidVolume float64
	AskVolume float64
	Timestamp time.Time
}

// Cache holds the most recent Point per instrument, optionally mirrored
// into Redis for multi-process Meta-Decision deployments (grounded on
// internal/market/redis_cache.go). The in-memory map is always
// authoritative for reads within one process; Redis is a best-effort
// secondary store.
type Cache struct {
	mu      sync.RWMutex
	latest  map[string]Point
	history map[string][]float64
	redis   *redis.Client
	ttl     time.Duration
	keyPref string
}

// historyDepth bounds the in-memory price window kept per instrument --
// enough for the longest indicator period a signal plugin computes
// (MACD's 26-period EMA plus signal smoothing) with headroom.
const historyDepth = 200

func New(redisClient *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Cache{
		latest:  make(map[string]Point),
		history: make(map[string][]float64),
		redis:   redisClient,
		ttl:     ttl,
		keyPref: "marketcache:",
	}
}

// Ingest records one observation, overwriting the prior one for its
// instrument. This is the seam an external market-data provider calls
// (spec §6.A).
func (c *Cache) Ingest(ctx context.Context, p Point) {
	c.mu.Lock()
	c.latest[p.Instrument] = p
	h := append(c.history[p.Instrument], p.Price)
	if len(h) > historyDepth {
		h = h[len(h)-historyDepth:]
	}
	c.history[p.Instrument] = h
	c.mu.Unlock()

	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, c.keyPref+p.Instrument, raw, c.ttl).Err()
}

// Get returns the latest known Point for instrument, falling back to
// Redis if it is not held in memory (e.g. after a restart).
func (c *Cache) Get(ctx context.Context, instrument string) (Point, bool) {
	c.mu.RLock()
	p, ok := c.latest[instrument]
	c.mu.RUnlock()
	if ok {
		return p, true
	}
	if c.redis == nil {
		return Point{}, false
	}
	raw, err := c.redis.Get(ctx, c.keyPref+instrument).Bytes()
	if err != nil {
		return Point{}, false
	}
	var out Point
	if err := json.Unmarshal(raw, &out); err != nil {
		return Point{}, false
	}
	return out, true
}

// History returns up to the last historyDepth prices for instrument,
// oldest first -- the window signal plug-ins compute indicators over
// (spec §6's strategy plug-in seam). The in-memory buffer is
// process-local and does not survive a restart; a plug-in that needs
// fewer points than are available simply gets a shorter slice.
func (c *Cache) History(instrument string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.history[instrument]
	out := make([]float64, len(h))
	copy(out, h)
	return out
}

// Snapshot returns every instrument's latest Point.
func (c *Cache) Snapshot() []Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Point, 0, len(c.latest))
	for _, p := range c.latest {
		out = append(out, p)
	}
	return out
}

// Empty reports whether no market data has been ingested yet (spec
// §4.4 step 1's "no_market_data" fail-safe condition).
func (c *Cache) Empty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.latest) == 0
}

// Stale reports whether every known point is older than maxAge (spec §5's
// 30s market-data staleness timeout).
func (c *Cache) Stale(now time.Time, maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.latest) == 0 {
		return true
	}
	for _, p := range c.latest {
		if now.Sub(p.Timestamp) <= maxAge {
			return false
		}
	}
	return true
}

// AverageAbsReturn computes the mean of |price_change_1m| across every
// known instrument -- Meta's volatility-regime input (spec §4.4 step 3).
func (c *Cache) AverageAbsReturn() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.latest) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range c.latest {
		sum += math.Abs(p.PriceChange1M)
	}
	return sum / float64(len(c.latest))
}

// MaxSpread returns the largest spread (as a fraction of price) across
// every known instrument -- Meta's liquidity input (spec §4.4 step 4).
func (c *Cache) MaxSpread() (instrument string, spread float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.latest {
		if p.Spread > spread {
			spread = p.Spread
			instrument = p.Instrument
		}
	}
	return instrument, spread
}

// CorrelationGroups is a configured static adjacency map of strategy IDs
// known to move together, resolving spec §9's open question per
// SPEC_FULL §2.C: correlation is configuration, not a computed matrix.
type CorrelationGroups map[string][]string

// PairsAboveThreshold counts how many distinct strategy pairs fall within
// the same configured correlation group -- Meta's "pairwise correlations
// above threshold" check (spec §4.4 step 7) reads this count directly
// rather than computing a statistic, per the original_source resolution.
func (g CorrelationGroups) PairsAboveThreshold(activeStrategies map[string]bool) int {
	pairs := 0
	for _, members := range g {
		active := 0
		for _, m := range members {
			if activeStrategies[m] {
				active++
			}
		}
		if active >= 2 {
			// n choose 2 active members within one correlated group.
			pairs += active * (active - 1) / 2
		}
	}
	return pairs
}

// GroupOf returns the correlation group name containing strategyID, and
// true if it exists in any group (used by Capital-Allocation's
// correlation_penalty_s, spec §4.5).
func (g CorrelationGroups) GroupOf(strategyID string) (string, bool) {
	for name, members := range g {
		for _, m := range members {
			if m == strategyID {
				return name, true
			}
		}
	}
	return "", false
}

// ActiveMembersInGroup counts, from activeStrategies, how many other
// strategies share strategyID's correlation group.
func (g CorrelationGroups) ActiveMembersInGroup(strategyID string, activeStrategies map[string]bool) int {
	group, ok := g.GroupOf(strategyID)
	if !ok {
		return 0
	}
	count := 0
	for _, m := range g[group] {
		if m != strategyID && activeStrategies[m] {
			count++
		}
	}
	return count
}

func (p Point) String() string {
	return fmt.Sprintf("%s@%.4f spread=%.4f chg1m=%.4f", p.Instrument, p.Price, p.Spread, p.PriceChange1M)
}
