package signal_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/marketcache"
	"github.com/tradectl/controlplane/internal/signal"
	"github.com/tradectl/controlplane/internal/types"
)

func TestAgent_CyclePublishesIntentFromPlugin(t *testing.T) {
	cache := marketcache.New(nil, time.Minute)
	cache.Ingest(context.Background(), marketcache.Point{Instrument: "BTC-USD", Price: 60000, Timestamp: time.Now()})

	b := bus.NewMemBus(zerolog.Nop())
	t.Cleanup(func() { _ = b.Close() })
	sub := b.Subscribe(types.SubjectRiskCheck)
	defer sub.Close()

	plugin := signal.NewAlwaysBuy("momentum", decimal.NewFromInt(5_000))
	a := signal.NewAgent("signal-1", plugin, cache, []string{"BTC-USD"}, time.Second, b, zerolog.Nop())

	require.NoError(t, a.Cycle(context.Background()))

	select {
	case msg := <-sub.C:
		intent, ok := msg.Payload.(types.TradeIntent)
		require.True(t, ok)
		assert.Equal(t, "BTC-USD", intent.Instrument)
		assert.Equal(t, "momentum", intent.StrategyID)
	default:
		t.Fatal("expected a published trade intent")
	}
}

func TestAgent_CycleSkipsUnknownInstrument(t *testing.T) {
	cache := marketcache.New(nil, time.Minute)
	b := bus.NewMemBus(zerolog.Nop())
	t.Cleanup(func() { _ = b.Close() })
	sub := b.Subscribe(types.SubjectRiskCheck)
	defer sub.Close()

	plugin := signal.NewAlwaysBuy("momentum", decimal.NewFromInt(5_000))
	a := signal.NewAgent("signal-1", plugin, cache, []string{"BTC-USD"}, time.Second, b, zerolog.Nop())
	require.NoError(t, a.Cycle(context.Background()))

	select {
	case <-sub.C:
		t.Fatal("expected no intent for an instrument with no market data")
	default:
	}
}
