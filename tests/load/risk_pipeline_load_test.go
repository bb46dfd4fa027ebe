// Package load stress-tests the control plane's hot path: a TradeIntent
// arriving on the bus, getting risk-checked, and a RiskDecision coming back
// out. The worker-pool/percentile harness here is grounded on the teacher's
// tests/load/vector_search_load_test.go, with its HTTP client calls to an
// /api/v1/decisions/search endpoint replaced by direct calls into
// internal/risk.Agent.Evaluate -- this repo has no HTTP API, so the load
// target is the risk pipeline that actually exists.
package load

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tradectl/controlplane/internal/book"
	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/risk"
	"github.com/tradectl/controlplane/internal/types"
)

const (
	defaultConcurrency = 10
	defaultIterations  = 500
)

type loadConfig struct {
	Concurrency int
	Iterations  int
}

func defaultLoadConfig() loadConfig {
	return loadConfig{Concurrency: defaultConcurrency, Iterations: defaultIterations}
}

func newLoadRiskAgent(t testing.TB) *risk.Agent {
	books := book.NewRegistry()
	books.Register(types.Book{ID: "book-1", CapitalAllocated: decimal.NewFromInt(1_000_000)})
	b := bus.NewMemBus(zerolog.Nop())
	t.Cleanup(func() { _ = b.Close() })

	limits := risk.Limits{
		MinConfidenceThreshold:  0.5,
		MaxSingleTradeUSD:       decimal.NewFromInt(25_000),
		MaxPositionSizeUSD:      decimal.NewFromInt(5_000_000),
		MaxPortfolioExposureUSD: decimal.NewFromInt(50_000_000),
		MaxDailyLossUSD:         decimal.NewFromInt(1_000_000),
		MaxConcentrationPct:     0.9,
	}
	return risk.NewAgent("risk-load", limits, books, b, zerolog.Nop(), nil)
}

func sampleIntent(bookID string) types.TradeIntent {
	return types.TradeIntent{
		ID:                 uuid.New(),
		BookID:             bookID,
		StrategyID:         "momentum",
		Instrument:         "BTC-USD",
		Direction:          types.DirectionBuy,
		TargetExposureUSD:  decimal.NewFromInt(1_000),
		Confidence:         0.9,
	}
}

// TestRiskPipeline_ConcurrentEvaluate drives concurrent TradeIntents
// through Risk.Evaluate and checks the pipeline stays fast and error-free
// under load. The test never sends a MetaDecisionMsg, so checkMetaGate's
// no_meta_decision short-circuit rejects every intent -- we assert on
// latency, not outcome.
func TestRiskPipeline_ConcurrentEvaluate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}

	cfg := defaultLoadConfig()
	agent := newLoadRiskAgent(t)

	var (
		mu        sync.Mutex
		latencies []time.Duration
	)

	var wg sync.WaitGroup
	work := make(chan int, cfg.Iterations)
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range work {
				start := time.Now()
				_ = agent.Evaluate(sampleIntent("book-1"))
				d := time.Since(start)
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}

	testStart := time.Now()
	for i := 0; i < cfg.Iterations; i++ {
		work <- i
	}
	close(work)
	wg.Wait()
	total := time.Since(testStart)

	require.Len(t, latencies, cfg.Iterations)
	avg, p95, p99 := latencyPercentiles(latencies)

	t.Logf("Risk pipeline load test results:")
	t.Logf("  Iterations: %d, concurrency: %d", cfg.Iterations, cfg.Concurrency)
	t.Logf("  Total duration: %v", total)
	t.Logf("  Throughput: %.2f evals/s", float64(cfg.Iterations)/total.Seconds())
	t.Logf("  Avg latency: %v, P95: %v, P99: %v", avg, p95, p99)

	require.Less(t, avg, 5*time.Millisecond, "average risk evaluation latency too high")
	require.Less(t, p99, 20*time.Millisecond, "p99 risk evaluation latency too high")
}

// TestRiskPipeline_Stress widens the worker pool to check Evaluate doesn't
// degrade badly under contention; with no Meta decision sent, every call
// contends on the metaMu-guarded meta gate and returns there.
func TestRiskPipeline_Stress(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	cfg := loadConfig{Concurrency: 50, Iterations: 5000}
	agent := newLoadRiskAgent(t)

	var (
		mu        sync.Mutex
		latencies []time.Duration
	)

	var wg sync.WaitGroup
	work := make(chan int, cfg.Iterations)
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range work {
				start := time.Now()
				_ = agent.Evaluate(sampleIntent("book-1"))
				mu.Lock()
				latencies = append(latencies, time.Since(start))
				mu.Unlock()
			}
		}()
	}

	testStart := time.Now()
	for i := 0; i < cfg.Iterations; i++ {
		work <- i
	}
	close(work)
	wg.Wait()
	total := time.Since(testStart)

	avg, p95, p99 := latencyPercentiles(latencies)
	t.Logf("Risk pipeline stress test: %d evals in %v (%.2f evals/s), avg=%v p95=%v p99=%v",
		cfg.Iterations, total, float64(cfg.Iterations)/total.Seconds(), avg, p95, p99)

	require.Less(t, avg, 10*time.Millisecond, "average latency degraded too much under stress")
}

func latencyPercentiles(latencies []time.Duration) (avg, p95, p99 time.Duration) {
	if len(latencies) == 0 {
		return 0, 0, 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	avg = sum / time.Duration(len(sorted))

	p95Index := min(int(float64(len(sorted))*0.95), len(sorted)-1)
	p99Index := min(int(float64(len(sorted))*0.99), len(sorted)-1)
	return avg, sorted[p95Index], sorted[p99Index]
}
