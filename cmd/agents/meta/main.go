// Command meta-agent runs the Meta-Decision agent as a standalone process,
// for deployments that split agents across hosts rather than running the
// monolithic cmd/orchestrator. It connects to a shared nats-server instead
// of embedding one.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tradectl/controlplane/internal/agent"
	"github.com/tradectl/controlplane/internal/alerts"
	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/config"
	"github.com/tradectl/controlplane/internal/marketcache"
	"github.com/tradectl/controlplane/internal/meta"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	natsURL := flag.String("nats-url", "nats://localhost:4222", "nats-server URL to connect to")
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

	snapshot := cfg.ToSnapshot()
	cache := marketcache.New(nil, 5*time.Minute)
	alertMgr := alerts.NewManager(alerts.NewLogAlerter(config.NewLogger("alerts")))

	metaCfg := meta.DefaultConfig()
	metaCfg.CorrelationGroups = snapshot.CorrelationGroups
	a := meta.NewAgent("meta-1", metaCfg, cache, b, config.NewAgentLogger("meta-1", "meta"), alertMgr)
	for strategyID := range cfg.Trading.BaseStrategyWeights {
		a.RegisterStrategy(strategyID)
	}

	reg := prometheus.NewRegistry()
	rt := agent.NewRuntime(a, b, config.NewAgentLogger("meta-1", "meta"), agent.NewMetrics(reg, "meta-1"), alertMgr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- rt.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
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
