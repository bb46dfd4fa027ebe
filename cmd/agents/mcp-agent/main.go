// Command mcp-agent runs the mcpbridge signal plug-in as a standalone
// process: it spawns an external MCP tool server over stdio, calls one
// tool on it every cycle, and turns the tool's decision into a
// TradeIntent. Grounded on internal/agents/base.go's createStdioClient/
// CallMCPTool (modelcontextprotocol/go-sdk's Client.Connect over a
// CommandTransport).
package main

import (
	"context"
	"flag"
	"os"
	"os/exec"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tradectl/controlplane/internal/agent"
	"github.com/tradectl/controlplane/internal/alerts"
	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/config"
	"github.com/tradectl/controlplane/internal/marketcache"
	"github.com/tradectl/controlplane/internal/signal"
	"github.com/tradectl/controlplane/internal/signal/mcpbridge"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	natsURL := flag.String("nats-url", "nats://localhost:4222", "nats-server URL to connect to")
	instrument := flag.String("instrument", "BTC-USD", "instrument to evaluate")
	strategyID := flag.String("strategy-id", "mcp-1", "strategy id this bridge publishes intents under; also used to look up a matching entry in config's mcp_servers list")
	toolName := flag.String("tool-name", "", "name of the tool to call on the MCP server (overrides the mcp_servers config entry)")
	serverCmd := flag.String("server-cmd", "", "command that launches the external MCP tool server (overrides the mcp_servers config entry)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	// mcp_servers lets an operator name every bridge a deployment runs in one
	// place; -server-cmd/-tool-name still win when set, for one-off local runs.
	for _, srv := range cfg.MCPServers {
		if srv.StrategyID != *strategyID {
			continue
		}
		if *serverCmd == "" {
			serverCmd = &srv.Command
		}
		if *toolName == "" {
			toolName = &srv.ToolName
		}
		break
	}
	if *toolName == "" {
		*toolName = "evaluate_market"
	}
	if *serverCmd == "" {
		log.Fatal().Str("strategy_id", *strategyID).Msg("no server command: pass -server-cmd or add a matching entry under mcp_servers in the config file")
	}

	b, err := bus.NewNATSBus(config.NewLogger("bus"), cfg.Bus.SubjectPrefix, *natsURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer b.Close()

	alertMgr := alerts.NewManager(alerts.NewLogAlerter(config.NewLogger("alerts")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	parts := strings.Fields(*serverCmd)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	client := mcp.NewClient(&mcp.Implementation{Name: *strategyID, Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		log.Fatal().Err(err).Str("server_cmd", *serverCmd).Msg("failed to connect to mcp server")
	}
	defer session.Close()

	cache := marketcache.New(nil, 5*time.Minute)
	plugin := mcpbridge.New(*strategyID, *toolName, session)
	sigAgent := signal.NewAgent(*strategyID, plugin, cache, []string{*instrument}, 10*time.Second, b, config.NewAgentLogger(*strategyID, "signal"))

	reg := prometheus.NewRegistry()
	rt := agent.NewRuntime(sigAgent, b, config.NewAgentLogger(*strategyID, "signal"), agent.NewMetrics(reg, *strategyID), alertMgr)

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
