// Command orderbook-agent runs the bid/ask imbalance signal plug-in as a
// standalone process.
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
	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/config"
	"github.com/tradectl/controlplane/internal/marketcache"
	"github.com/tradectl/controlplane/internal/signal"
	"github.com/tradectl/controlplane/internal/signal/orderbook"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	natsURL := flag.String("nats-url", "nats://localhost:4222", "nats-server URL to connect to")
	instrument := flag.String("instrument", "BTC-USD", "instrument to evaluate")
	sizeUSD := flag.Float64("size-usd", 1000, "notional size of proposed intents")
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
	plugin := orderbook.New("orderbook-1", decimal.NewFromFloat(*sizeUSD))
	sigAgent := signal.NewAgent("orderbook-1", plugin, cache, []string{*instrument}, 10*time.Second, b, config.NewAgentLogger("orderbook-1", "signal"))

	reg := prometheus.NewRegistry()
	rt := agent.NewRuntime(sigAgent, b, config.NewAgentLogger("orderbook-1", "signal"), agent.NewMetrics(reg, "orderbook-1"), alertMgr)

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
