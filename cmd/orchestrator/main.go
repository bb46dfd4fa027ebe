// Command orchestrator is the control plane's single process entry point:
// it loads configuration, constructs the bus, book registry, venue
// registry, every agent, and hands the set to an orchestrator.Supervisor
// that starts, restarts, and gracefully stops them per spec §4.3.
// Grounded on the teacher's cmd/orchestrator/main.go flag/signal/
// graceful-shutdown shape, rewired from the old orchestrator.Orchestrator
// consensus engine to the supervised-Runtime-per-agent design of spec §4/§5.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradectl/controlplane/internal/alerts"
	"github.com/tradectl/controlplane/internal/allocation"
	"github.com/tradectl/controlplane/internal/arbitrage"
	"github.com/tradectl/controlplane/internal/audit"
	"github.com/tradectl/controlplane/internal/book"
	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/config"
	"github.com/tradectl/controlplane/internal/execution"
	"github.com/tradectl/controlplane/internal/marketcache"
	"github.com/tradectl/controlplane/internal/meta"
	"github.com/tradectl/controlplane/internal/metrics"
	"github.com/tradectl/controlplane/internal/orchestrator"
	"github.com/tradectl/controlplane/internal/risk"
	strategysignal "github.com/tradectl/controlplane/internal/signal"
	"github.com/tradectl/controlplane/internal/signal/orderbook"
	"github.com/tradectl/controlplane/internal/signal/reversion"
	"github.com/tradectl/controlplane/internal/signal/sentiment"
	"github.com/tradectl/controlplane/internal/signal/technical"
	"github.com/tradectl/controlplane/internal/signal/trend"
	"github.com/tradectl/controlplane/internal/strategy"
	"github.com/tradectl/controlplane/internal/strategylifecycle"
	"github.com/tradectl/controlplane/internal/types"
	"github.com/tradectl/controlplane/internal/venue"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	useNATS := flag.Bool("nats", false, "use NATS instead of the in-process bus")
	natsURL := flag.String("nats-url", "", "nats-server URL to connect to; if empty with -nats, an embedded server is started instead")
	strategyConfigPath := flag.String("strategy-config", "", "optional path to a strategy configuration file (YAML or JSON)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().Str("environment", cfg.App.Environment).Msg("starting tradectl orchestrator")

	if *strategyConfigPath != "" {
		loadStrategyConfig(*strategyConfigPath)
	}

	snapshot := cfg.ToSnapshot()

	b, closeBus := newBus(*useNATS, *natsURL, cfg.Bus.SubjectPrefix)
	defer closeBus()

	books := newBookRegistry(cfg.Trading.TotalCapitalUSD)
	venues := newVenueRegistry(cfg)
	cache := marketcache.New(nil, 5*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	auditSink := newAuditSink(ctx, cfg)
	alertMgr := alerts.NewManager(newAlerters(cfg)...)

	sup := orchestrator.NewSupervisor(b, config.NewLogger("orchestrator"), alertMgr, reg)
	metaAgent := registerAgents(sup, cfg, snapshot, b, books, venues, cache, alertMgr)

	lifecycleMgr, err := strategylifecycle.NewManager(strategylifecycle.DefaultThresholds(), "1.0.0")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build strategy lifecycle manager")
	}
	now := time.Now().UTC()
	for strategyID := range cfg.Trading.BaseStrategyWeights {
		if err := lifecycleMgr.Register(strategyID, "1.0.0", now); err != nil {
			log.Error().Err(err).Str("strategy", strategyID).Msg("failed to register strategy lifecycle")
		}
	}

	go watchStrategyLifecycles(ctx, lifecycleMgr, metaAgent, cfg.Trading.BaseStrategyWeights, config.NewLogger("strategylifecycle"))
	go watchUnquarantineRequests(ctx, b, lifecycleMgr, config.NewLogger("strategylifecycle"))

	var metricsServer *metrics.Server
	if cfg.Monitoring.Enabled {
		metricsServer = metrics.NewServer(cfg.Monitoring.Port, config.NewLogger("metrics"))
		if err := metricsServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start metrics server")
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sup.Run(ctx); err != nil {
			log.Error().Err(err).Msg("supervisor exited with error")
		}
	}()

	auditSink.Log(ctx, audit.Event{
		EventType: audit.EventConfigLoaded,
		Severity:  audit.SeverityInfo,
		Actor:     "orchestrator",
		Action:    "configuration loaded",
		Success:   true,
		Metadata:  map[string]interface{}{"total_capital_usd": cfg.Trading.TotalCapitalUSD},
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	cancel()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("timed out waiting for agents to stop")
	}

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	log.Info().Msg("orchestrator shutdown complete")
}

// loadStrategyConfig imports, migrates, and validates a strategy
// configuration file at startup -- the orchestrator itself doesn't consume
// StrategyConfig beyond this check today, but fails fast on a malformed or
// unsupported-schema-version file rather than letting it surface later as
// a confusing runtime error in an agent that reads it.
func loadStrategyConfig(path string) {
	cfg, err := strategy.ImportFromFile(path, strategy.DefaultImportOptions())
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("failed to import strategy configuration")
	}
	if err := strategy.CheckCompatibility(cfg); err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("strategy configuration schema version is unsupported")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("strategy configuration failed validation")
	}
	log.Info().Str("path", path).Str("strategy", cfg.Metadata.Name).Msg("strategy configuration validated")
}

// watchStrategyLifecycles periodically evaluates each bundled strategy's
// lifecycle state against meta's execution-quality metric (spec §4.8).
// Edge decay, performance-vs-expectation, and drawdown are not yet fed by
// a real expectancy-tracking pipeline, so they're held at neutral values
// -- only the execution-quality leg of the quarantine trigger can fire
// today; adding the other three legs is future work once that pipeline
// exists.
func watchStrategyLifecycles(ctx context.Context, mgr *strategylifecycle.Manager, metaAgent *meta.Agent, strategies map[string]float64, log zerolog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			for strategyID := range strategies {
				quality, ok := metaAgent.StrategyExecutionQuality(strategyID)
				if !ok {
					continue
				}
				before, _ := mgr.Get(strategyID)
				after, err := mgr.Evaluate(strategyID, strategylifecycle.MetricsUpdate{
					PerformanceVsExpectation: 1.0,
					ExecutionQuality:         quality,
				}, now)
				if err != nil {
					log.Error().Err(err).Str("strategy", strategyID).Msg("strategy lifecycle evaluation failed")
					continue
				}
				if after.CurrentState != before.CurrentState {
					log.Warn().Str("strategy", strategyID).Str("from", string(before.CurrentState)).Str("to", string(after.CurrentState)).Msg("strategy lifecycle transition")
				}
			}
		}
	}
}

// watchUnquarantineRequests subscribes to SubjectControl and applies any
// UnquarantineMsg to the orchestrator's own in-process strategylifecycle
// Manager -- the only thing listening on that subject that cmd/admin
// (a separate process with no handle on the Manager) can reach.
func watchUnquarantineRequests(ctx context.Context, b bus.Bus, mgr *strategylifecycle.Manager, log zerolog.Logger) {
	sub := b.Subscribe(types.SubjectControl)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			uq, ok := msg.Payload.(types.UnquarantineMsg)
			if !ok {
				continue
			}
			if err := mgr.Unquarantine(uq.StrategyID, uq.TriggeredBy, time.Now().UTC()); err != nil {
				log.Error().Err(err).Str("strategy", uq.StrategyID).Msg("unquarantine request failed")
				continue
			}
			log.Warn().Str("strategy", uq.StrategyID).Str("triggered_by", uq.TriggeredBy).Msg("strategy manually unquarantined")
		}
	}
}

func newBus(useNATS bool, natsURL, subjectPrefix string) (bus.Bus, func()) {
	if useNATS && natsURL != "" {
		nb, err := bus.NewNATSBus(config.NewLogger("bus"), subjectPrefix, natsURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to nats")
		}
		return nb, func() { _ = nb.Close() }
	}
	if useNATS {
		nb, err := bus.NewEmbeddedNATSBus(config.NewLogger("bus"), subjectPrefix)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start embedded NATS bus")
		}
		return nb, func() { _ = nb.Close() }
	}
	mb := bus.NewMemBus(config.NewLogger("bus"))
	return mb, func() { _ = mb.Close() }
}

// newBookRegistry seeds one HEDGE and one PROP book sized off the
// configured total capital, split 60/40 -- a reasonable starting split
// until the Orchestrator reads a richer book configuration (open for a
// future configuration extension).
func newBookRegistry(totalCapitalUSD float64) *book.Registry {
	books := book.NewRegistry()
	total := decimal.NewFromFloat(totalCapitalUSD)
	hedge := total.Mul(decimal.NewFromFloat(0.6))
	prop := total.Mul(decimal.NewFromFloat(0.4))

	books.Register(types.Book{
		ID:               "hedge-1",
		Type:             types.BookHedge,
		CapitalAllocated: hedge,
		MaxDrawdownLimit: hedge.Mul(decimal.NewFromFloat(0.15)),
		RiskTier:         types.RiskTier1,
		Status:           types.BookActive,
	})
	books.Register(types.Book{
		ID:               "prop-1",
		Type:             types.BookProp,
		CapitalAllocated: prop,
		MaxDrawdownLimit: prop.Mul(decimal.NewFromFloat(0.20)),
		RiskTier:         types.RiskTier2,
		Status:           types.BookActive,
	})
	return books
}

// newAlerters builds the alert fan-out list: the structured-log alerter
// always runs, with a Telegram alerter layered on top when configured.
func newAlerters(cfg *config.Config) []alerts.Alerter {
	out := []alerts.Alerter{alerts.NewLogAlerter(config.NewLogger("alerts"))}
	if !cfg.Telegram.Enabled {
		return out
	}
	tg, err := alerts.NewTelegramAlerter(cfg.Telegram.BotToken, cfg.Telegram.ChatIDs)
	if err != nil {
		log.Error().Err(err).Msg("failed to start telegram alerter, continuing with log alerts only")
		return out
	}
	return append(out, tg)
}

// newAuditSink selects the audit trail sink per audit.driver (spec §2.B):
// "postgres" dials cfg.Audit.PostgresDSN via pgxpool, anything else
// (including the zero value) keeps the non-durable in-memory sink.
func newAuditSink(ctx context.Context, cfg *config.Config) audit.Sink {
	if cfg.Audit.Driver != "postgres" {
		return audit.NewMemorySink(config.NewLogger("audit"), 1000)
	}
	pool, err := pgxpool.New(ctx, cfg.Audit.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect audit sink to postgres")
	}
	return audit.NewPostgresSink(pool, config.NewLogger("audit"))
}

// newVenueRegistry wires one Mock venue as the execution backend. A real
// deployment swaps this for a live venue.Venue implementation without
// touching the Execution agent; resolveVenueAPIKeys is the credential step
// that deployment would run before dialing a real exchange.
func newVenueRegistry(cfg *config.Config) *venue.Registry {
	resolveVenueAPIKeys(cfg)
	mock := venue.NewMock("mock-1", venue.DefaultMockFees())
	mock.SetMarketPrice(defaultInstrument, decimal.NewFromInt(60_000))
	return venue.NewRegistry("mock-1", mock)
}

// resolveVenueAPIKeys resolves every trading.venue_api_keys entry that is a
// ${vault:path#key} placeholder, so a live venue adapter is handed a literal
// key rather than the placeholder string. A no-op when none are configured,
// which is the case for the bundled Mock venue.
func resolveVenueAPIKeys(cfg *config.Config) {
	if len(cfg.Trading.VenueAPIKeys) == 0 {
		return
	}
	resolver, err := config.NewSecretResolver(cfg.Vault.Address, cfg.Vault.Token)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build vault secret resolver for venue_api_keys")
	}
	resolved, err := resolver.ResolveVenueAPIKeys(cfg.Trading.VenueAPIKeys)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve venue_api_keys against vault")
	}
	for venueName := range resolved {
		log.Info().Str("venue", venueName).Msg("resolved venue api key")
	}
}

// defaultInstrument is the only instrument the bundled synthetic signal
// plug-ins trade; a real deployment configures one instrument set per
// strategy instead (open for a future configuration extension).
const defaultInstrument = "BTC-USD"

// registerAgents constructs every agent and hands each to the Supervisor
// in spec §4.3's canonical registration order: Meta-Decision,
// Capital-Allocation, Risk, the bundled Signal agents, Execution,
// Arbitrage, and finally one per-strategy signal agent from configured
// strategy weights.
func registerAgents(sup *orchestrator.Supervisor, cfg *config.Config, snapshot config.Snapshot, b bus.Bus, books *book.Registry, venues *venue.Registry, cache *marketcache.Cache, alertMgr *alerts.Manager) *meta.Agent {
	metaCfg := meta.DefaultConfig()
	metaCfg.CorrelationGroups = snapshot.CorrelationGroups
	metaAgent := meta.NewAgent("meta-1", metaCfg, cache, b, config.NewAgentLogger("meta-1", "meta"), alertMgr)
	for strategyID := range cfg.Trading.BaseStrategyWeights {
		metaAgent.RegisterStrategy(strategyID)
	}
	sup.Register(metaAgent)

	allocAgent := allocation.NewAgent("allocation-1", snapshot.AllocationConfig, cfg.TotalCapital(), b, config.NewAgentLogger("allocation-1", "capital-allocation"), alertMgr)
	sup.Register(allocAgent)

	riskAgent := risk.NewAgent("risk-1", snapshot.RiskLimits, books, b, config.NewAgentLogger("risk-1", "risk"), alertMgr)
	sup.Register(riskAgent)

	for _, sigAgent := range signalAgents(b, cache) {
		sup.Register(sigAgent)
	}

	execCfg := execution.DefaultConfig()
	execAgent := execution.NewAgent("execution-1", execCfg, venues, b, config.NewAgentLogger("execution-1", "execution"), alertMgr)
	sup.Register(execAgent)

	arbAgent := arbitrageAgent(b, cache)
	sup.Register(arbAgent)

	for strategyID, weight := range cfg.Trading.BaseStrategyWeights {
		size := cfg.TotalCapital().Mul(decimal.NewFromFloat(weight)).Mul(decimal.NewFromFloat(0.01))
		plugin := strategysignal.NewAlwaysBuy(strategyID, size)
		sigAgent := strategysignal.NewAgent(strategyID+"-signal", plugin, cache, []string{defaultInstrument}, 10*time.Second, b, config.NewAgentLogger(strategyID+"-signal", "signal"))
		sup.Register(sigAgent)
	}

	return metaAgent
}

// signalAgents bundles the technical/trend/reversion/sentiment/orderbook
// plug-ins into one signal.Agent each, all trading defaultInstrument off
// the shared market cache.
func signalAgents(b bus.Bus, cache *marketcache.Cache) []*strategysignal.Agent {
	return []*strategysignal.Agent{
		strategysignal.NewAgent("technical-1", technical.New("technical-1", decimal.NewFromInt(1000), cache), cache, []string{defaultInstrument}, 10*time.Second, b, config.NewAgentLogger("technical-1", "signal")),
		strategysignal.NewAgent("trend-1", trend.New("trend-1", decimal.NewFromInt(1000), cache), cache, []string{defaultInstrument}, 10*time.Second, b, config.NewAgentLogger("trend-1", "signal")),
		strategysignal.NewAgent("reversion-1", reversion.New("reversion-1", decimal.NewFromInt(1000), cache), cache, []string{defaultInstrument}, 10*time.Second, b, config.NewAgentLogger("reversion-1", "signal")),
		strategysignal.NewAgent("sentiment-1", sentiment.New("sentiment-1", decimal.NewFromInt(1000), sentiment.FixedProvider(0)), cache, []string{defaultInstrument}, 10*time.Second, b, config.NewAgentLogger("sentiment-1", "signal")),
		strategysignal.NewAgent("orderbook-1", orderbook.New("orderbook-1", decimal.NewFromInt(1000)), cache, []string{defaultInstrument}, 10*time.Second, b, config.NewAgentLogger("orderbook-1", "signal")),
	}
}

// arbitrageAgent wires a two-venue Scanner the way cmd/agents/
// arbitrage-agent does standalone, seeding both legs from the same
// starting price since real multi-venue connectivity is out of scope
// (spec §1).
func arbitrageAgent(b bus.Bus, cache *marketcache.Cache) *strategysignal.Agent {
	venueA := venue.NewMock("mock-a", venue.DefaultMockFees())
	venueB := venue.NewMock("mock-b", venue.DefaultMockFees())
	venueA.SetMarketPrice(defaultInstrument, decimal.NewFromInt(60_000))
	venueB.SetMarketPrice(defaultInstrument, decimal.NewFromInt(60_000))
	scanner := arbitrage.NewScanner([]string{defaultInstrument}, 10, map[string]arbitrage.Quoter{
		venueA.ID(): venueA,
		venueB.ID(): venueB,
	})
	plugin := arbitrage.NewPlugin("arbitrage-1", decimal.NewFromInt(1000), scanner)
	return strategysignal.NewAgent("arbitrage-1", plugin, cache, []string{defaultInstrument}, 10*time.Second, b, config.NewAgentLogger("arbitrage-1", "signal"))
}
