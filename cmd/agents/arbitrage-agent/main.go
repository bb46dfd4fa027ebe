// Command arbitrage-agent runs the cross-venue spread scanner as a
// standalone process. Real multi-venue connectivity is out of scope (spec
// §1); this binary seeds two venue.Mock instances at the same fixed starting
// price with the default mock fees, exercising internal/arbitrage's
// Scanner/Quoter seam the way a real deployment would with two live venue
// adapters.
package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradectl/controlplane/internal/agent"
	"github.com/tradectl/controlplane/internal/alerts"
	"github.com/tradectl/controlplane/internal/arbitrage"
	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/config"
	"github.com/tradectl/controlplane/internal/marketcache"
	"github.com/tradectl/controlplane/internal/signal"
	"github.com/tradectl/controlplane/internal/venue"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	natsURL := flag.String("nats-url", "nats://localhost:4222", "nats-server URL to connect to")
	instrument := flag.String("instrument", "BTC-USD", "instrument to evaluate")
	sizeUSD := flag.Float64("size-usd", 1000, "notional size of proposed intents")
	feeBps := flag.Float64("fee-bps", 10, "round-trip fee assumption in basis points")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	b, err := bus.NewNATSBus(config.NewLogger("bus"), cfg.Bus.SubjectPrefix, *natsURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer b.Close()

	alertMgr := alerts.NewManager(alerts.NewLogAlerter(config.NewLogger("alerts")))
	cache := marketcache.New(nil, 5*time.Minute)

	venueA := venue.NewMock("mock-a", venue.DefaultMockFees())
	venueB := venue.NewMock("mock-b", venue.DefaultMockFees())
	venueA.SetMarketPrice(*instrument, decimal.NewFromInt(50000))
	venueB.SetMarketPrice(*instrument, decimal.NewFromInt(50000))

	scanner := arbitrage.NewScanner([]string{*instrument}, *feeBps, map[string]arbitrage.Quoter{
		venueA.ID(): venueA,
		venueB.ID(): venueB,
	})
	plugin := arbitrage.NewPlugin("arbitrage-1", decimal.NewFromFloat(*sizeUSD), scanner)
	sigAgent := signal.NewAgent("arbitrage-1", plugin, cache, []string{*instrument}, 10*time.Second, b, config.NewAgentLogger("arbitrage-1", "signal"))

	reg := prometheus.NewRegistry()
	rt := agent.NewRuntime(sigAgent, b, config.NewAgentLogger("arbitrage-1", "signal"), agent.NewMetrics(reg, "arbitrage-1"), alertMgr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- rt.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("agent runtime exited")
		}
	}
}
