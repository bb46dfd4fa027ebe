package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/tradectl/controlplane/internal/types"
)

// MockFees mirrors internal/exchange/mock.go's fee/slippage model.
type MockFees struct {
	Maker        decimal.Decimal
	Taker        decimal.Decimal
	BaseSlippage decimal.Decimal
	MarketImpact decimal.Decimal
	MaxSlippage  decimal.Decimal
}

func DefaultMockFees() MockFees {
	return MockFees{
		Maker:        decimal.NewFromFloat(0.001),
		Taker:        decimal.NewFromFloat(0.001),
		BaseSlippage: decimal.NewFromFloat(0.0005),
		MarketImpact: decimal.NewFromFloat(0.0001),
		MaxSlippage:  decimal.NewFromFloat(0.003),
	}
}

// Mock simulates a venue for paper trading, grounded on
// internal/exchange/mock.go's MockExchange but re-shaped to the Venue
// interface. It optionally serves a loopback websocket feed of fill
// notifications (gorilla/websocket), exercising the same async-transport
// shape a real venue adapter would use without implementing real
// connectivity.
type Mock struct {
	id           string
	mu           sync.RWMutex
	marketPrices map[string]decimal.Decimal
	fees         MockFees
	health       types.VenueHealth
	rng          *rand.Rand

	wsMu        sync.Mutex
	wsListener  net.Listener
	wsServer    *http.Server
	wsConns     []*websocket.Conn
	wsUpgrader  websocket.Upgrader
}

func NewMock(id string, fees MockFees) *Mock {
	return &Mock{
		id:           id,
		marketPrices: make(map[string]decimal.Decimal),
		fees:         fees,
		health:       types.VenueHealth{VenueID: id, Status: types.VenueHealthy, IsEnabled: true, LastHeartbeat: time.Now()},
		rng:          rand.New(rand.NewSource(1)),
		wsUpgrader:   websocket.Upgrader{},
	}
}

func (m *Mock) ID() string { return m.id }

func (m *Mock) SetMarketPrice(instrument string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketPrices[instrument] = price
}

func (m *Mock) SetHealth(h types.VenueHealth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health = h
}

// Quote reports the venue's current reference price for instrument,
// implementing internal/arbitrage's Quoter seam so the arbitrage signal
// plug-in can compare prices across more than one registered venue.
func (m *Mock) Quote(ctx context.Context, instrument string) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.marketPrices[instrument]
	return p, ok
}

func (m *Mock) Connect(ctx context.Context) error    { return nil }
func (m *Mock) Disconnect(ctx context.Context) error { return m.stopFillStream() }

func (m *Mock) HealthCheck(ctx context.Context) (types.VenueHealth, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health, nil
}

// PlaceOrder simulates a fill with slippage and market impact, never
// mutating the input order (spec §3's Order/Fill invariants).
func (m *Mock) PlaceOrder(ctx context.Context, order types.Order) (types.Order, error) {
	m.mu.RLock()
	price, ok := m.marketPrices[order.Instrument]
	m.mu.RUnlock()
	if !ok || price.LessThanOrEqual(decimal.Zero) {
		order.Status = types.OrderFailed
		return order, fmt.Errorf("venue %s: no market price for %s", m.id, order.Instrument)
	}

	start := time.Now()
	impact := m.fees.MarketImpact.Mul(order.SizeUSD.Div(decimal.NewFromInt(10000)))
	slip := m.fees.BaseSlippage.Add(impact)
	if slip.GreaterThan(m.fees.MaxSlippage) {
		slip = m.fees.MaxSlippage
	}

	sign := decimal.NewFromInt(1)
	if order.Side == types.DirectionSell {
		sign = decimal.NewFromInt(-1)
	}
	filledPrice := price.Mul(decimal.NewFromInt(1).Add(slip.Mul(sign)))

	out := order
	out.Status = types.OrderFilled
	out.FilledPrice = filledPrice
	out.FilledSize = order.SizeUSD
	out.Slippage = slip
	out.LatencyMS = float64(time.Since(start).Microseconds()) / 1000.0
	if out.LatencyMS == 0 {
		out.LatencyMS = 1 + m.rng.Float64()*4 // simulated wire latency
	}
	out.Venue = m.id

	m.broadcastFill(out)
	return out, nil
}

func (m *Mock) CancelOrder(ctx context.Context, venueOrderID string) error { return nil }

func (m *Mock) GetBalance(ctx context.Context) (map[string]decimal.Decimal, error) {
	return map[string]decimal.Decimal{"USD": decimal.NewFromInt(1_000_000)}, nil
}

func (m *Mock) GetPositions(ctx context.Context) ([]Position, error) { return nil, nil }

// StartFillStream serves a loopback websocket endpoint that broadcasts
// every simulated fill as JSON, mirroring the async-delivery shape a real
// venue's order-update stream would use (gorilla/websocket), without
// implementing real exchange connectivity.
func (m *Mock) StartFillStream(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/fills", func(w http.ResponseWriter, r *http.Request) {
		conn, err := m.wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.wsMu.Lock()
		m.wsConns = append(m.wsConns, conn)
		m.wsMu.Unlock()
	})
	srv := &http.Server{Handler: mux}
	m.wsMu.Lock()
	m.wsListener = ln
	m.wsServer = srv
	m.wsMu.Unlock()
	go srv.Serve(ln)
	return ln.Addr().String(), nil
}

func (m *Mock) broadcastFill(order types.Order) {
	m.wsMu.Lock()
	defer m.wsMu.Unlock()
	if len(m.wsConns) == 0 {
		return
	}
	raw, err := json.Marshal(order)
	if err != nil {
		return
	}
	live := m.wsConns[:0]
	for _, c := range m.wsConns {
		if c.WriteMessage(websocket.TextMessage, raw) == nil {
			live = append(live, c)
		}
	}
	m.wsConns = live
}

func (m *Mock) stopFillStream() error {
	m.wsMu.Lock()
	defer m.wsMu.Unlock()
	for _, c := range m.wsConns {
		_ = c.Close()
	}
	m.wsConns = nil
	if m.wsServer != nil {
		return m.wsServer.Close()
	}
	return nil
}

var _ Venue = (*Mock)(nil)
