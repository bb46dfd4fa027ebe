package trend

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

func seedUptrend(cache *marketcache.Cache, instrument string, n int, start float64) {
	price := start
	for i := 0; i < n; i++ {
		cache.Ingest(context.Background(), marketcache.Point{Instrument: instrument, Price: price, Timestamp: time.Now()})
		price += 2
	}
}

func TestPlugin_SilentOnInsufficientHistory(t *testing.T) {
	cache := marketcache.New(nil, time.Minute)
	cache.Ingest(context.Background(), marketcache.Point{Instrument: "BTC-USD", Price: 100, Timestamp: time.Now()})
	p := New("trend-1", decimal.NewFromInt(1000), cache)
	intent, err := p.Evaluate(context.Background(), signal.MarketSnapshot{Instrument: "BTC-USD", Price: 100})
	require.NoError(t, err)
	assert.Nil(t, intent)
}

func TestPlugin_BuysOnSustainedUptrend(t *testing.T) {
	cache := marketcache.New(nil, time.Minute)
	seedUptrend(cache, "BTC-USD", 40, 100)
	p := New("trend-1", decimal.NewFromInt(1000), cache)
	intent, err := p.Evaluate(context.Background(), signal.MarketSnapshot{Instrument: "BTC-USD", Price: 180})
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, "buy", string(intent.Direction))
}
