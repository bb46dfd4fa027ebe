package venue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradectl/controlplane/internal/types"
)

func TestMock_PlaceOrderFillsAndNeverMutatesInput(t *testing.T) {
	m := NewMock("mock-1", DefaultMockFees())
	m.SetMarketPrice("BTC-USD", decimal.NewFromInt(60000))

	in := types.Order{ID: uuid.New(), Instrument: "BTC-USD", Side: types.DirectionBuy, SizeUSD: decimal.NewFromInt(10000), Status: types.OrderPending}
	out, err := m.PlaceOrder(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, types.OrderPending, in.Status, "input order must never be mutated")
	assert.Equal(t, types.OrderFilled, out.Status)
	assert.True(t, out.FilledPrice.GreaterThan(decimal.Zero), "filled_price must be positive (spec §3 invariant)")
	assert.Equal(t, "mock-1", out.Venue)
}

func TestMock_PlaceOrderNoPriceFails(t *testing.T) {
	m := NewMock("mock-1", DefaultMockFees())
	out, err := m.PlaceOrder(context.Background(), types.Order{Instrument: "ETH-USD", SizeUSD: decimal.NewFromInt(1000)})
	assert.Error(t, err)
	assert.Equal(t, types.OrderFailed, out.Status)
}

func TestMock_FillStreamBroadcasts(t *testing.T) {
	m := NewMock("mock-1", DefaultMockFees())
	m.SetMarketPrice("BTC-USD", decimal.NewFromInt(60000))

	addr, err := m.StartFillStream("127.0.0.1:0")
	require.NoError(t, err)
	defer m.Disconnect(context.Background())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/fills", nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(20 * time.Millisecond) // let the server register the connection
	_, err = m.PlaceOrder(context.Background(), types.Order{ID: uuid.New(), Instrument: "BTC-USD", Side: types.DirectionBuy, SizeUSD: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "BTC-USD")
}

func TestRegistry_SelectPreferredThenRoundRobinThenDegraded(t *testing.T) {
	a := NewMock("a", DefaultMockFees())
	b := NewMock("b", DefaultMockFees())
	reg := NewRegistry("a", a, b)

	healthy := map[string]types.VenueHealth{
		"a": {VenueID: "a", Status: types.VenueHealthy, IsEnabled: true},
		"b": {VenueID: "b", Status: types.VenueHealthy, IsEnabled: true},
	}
	v, degraded := reg.Select(context.Background(), healthy)
	require.NotNil(t, v)
	assert.Equal(t, "a", v.ID())
	assert.False(t, degraded)

	onlyBHealthy := map[string]types.VenueHealth{
		"a": {VenueID: "a", Status: types.VenueDown, IsEnabled: true},
		"b": {VenueID: "b", Status: types.VenueHealthy, IsEnabled: true},
	}
	v, degraded = reg.Select(context.Background(), onlyBHealthy)
	require.NotNil(t, v)
	assert.Equal(t, "b", v.ID())
	assert.False(t, degraded)

	noneHealthy := map[string]types.VenueHealth{
		"a": {VenueID: "a", Status: types.VenueDown, IsEnabled: true},
		"b": {VenueID: "b", Status: types.VenueOffline, IsEnabled: true},
	}
	v, degraded = reg.Select(context.Background(), noneHealthy)
	require.NotNil(t, v)
	assert.True(t, degraded)
}
