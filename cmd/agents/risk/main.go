// Command risk-agent runs the Risk agent as a standalone process.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradectl/controlplane/internal/agent"
	"github.com/tradectl/controlplane/internal/alerts"
	"github.com/tradectl/controlplane/internal/book"
	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/config"
	"github.com/tradectl/controlplane/internal/risk"
	"github.com/tradectl/controlplane/internal/types"
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

	books := book.NewRegistry()
	total := cfg.TotalCapital()
	hedge := total.Mul(decimal.NewFromFloat(0.6))
	prop := total.Mul(decimal.NewFromFloat(0.4))
	books.Register(types.Book{ID: "hedge-1", Type: types.BookHedge, CapitalAllocated: hedge, MaxDrawdownLimit: hedge.Mul(decimal.NewFromFloat(0.15)), RiskTier: types.RiskTier1, Status: types.BookActive})
	books.Register(types.Book{ID: "prop-1", Type: types.BookProp, CapitalAllocated: prop, MaxDrawdownLimit: prop.Mul(decimal.NewFromFloat(0.20)), RiskTier: types.RiskTier2, Status: types.BookActive})

	a := risk.NewAgent("risk-1", snapshot.RiskLimits, books, b, config.NewAgentLogger("risk-1", "risk"), alertMgr)

	reg := prometheus.NewRegistry()
	rt := agent.NewRuntime(a, b, config.NewAgentLogger("risk-1", "risk"), agent.NewMetrics(reg, "risk-1"), alertMgr)

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
