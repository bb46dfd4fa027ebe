package reversion

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradectl/controlplane/internal/marketcache"
	"github.com/tradectl/controlplane/internal/signal"
)

func TestPlugin_SilentWithinNormalRange(t *testing.T) {
	cache := marketcache.New(nil, time.Minute)
	for i := 0; i < 30; i++ {
		cache.Ingest(context.Background(), marketcache.Point{Instrument: "BTC-USD", Price: 100, Timestamp: time.Now()})
	}
	p := New("reversion-1", decimal.NewFromInt(500), cache)
	intent, err := p.Evaluate(context.Background(), signal.MarketSnapshot{Instrument: "BTC-USD", Price: 100})
	require.NoError(t, err)
	assert.Nil(t, intent)
}

func TestPlugin_SellsOnSpikeAboveMean(t *testing.T) {
	cache := marketcache.New(nil, time.Minute)
	for i := 0; i < 29; i++ {
		cache.Ingest(context.Background(), marketcache.Point{Instrument: "BTC-USD", Price: 100, Timestamp: time.Now()})
	}
	cache.Ingest(context.Background(), marketcache.Point{Instrument: "BTC-USD", Price: 500, Timestamp: time.Now()})

	p := New("reversion-1", decimal.NewFromInt(500), cache)
	intent, err := p.Evaluate(context.Background(), signal.MarketSnapshot{Instrument: "BTC-USD", Price: 500})
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, "sell", string(intent.Direction))
}
