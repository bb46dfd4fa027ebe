// Command allocation-agent runs the Capital-Allocation agent as a
// standalone process.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tradectl/controlplane/internal/agent"
	"github.com/tradectl/controlplane/internal/allocation"
	"github.com/tradectl/controlplane/internal/alerts"
	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/config"
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
	alertMgr := alerts.NewManager(alerts.NewLogAlerter(config.NewLogger("alerts")))

	a := allocation.NewAgent("allocation-1", snapshot.AllocationConfig, cfg.TotalCapital(), b, config.NewAgentLogger("allocation-1", "capital-allocation"), alertMgr)

	reg := prometheus.NewRegistry()
	rt := agent.NewRuntime(a, b, config.NewAgentLogger("allocation-1", "capital-allocation"), agent.NewMetrics(reg, "allocation-1"), alertMgr)

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
