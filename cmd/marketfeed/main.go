// Command marketfeed publishes a synthetic random-walk price tick per
// configured instrument onto market_data, standing in for the external
// market-data ingestion service the control plane itself does not own.
// Grounded on internal/venue/mock.go's rand.Rand-driven price simulation.
package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/config"
	"github.com/tradectl/controlplane/internal/marketcache"
	"github.com/tradectl/controlplane/internal/types"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	natsURL := flag.String("nats-url", "nats://localhost:4222", "nats-server URL to connect to")
	instruments := flag.String("instruments", "BTC-USD", "comma-separated instruments to simulate")
	interval := flag.Duration("interval", 3*time.Second, "tick publish interval")
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

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	prices := make(map[string]float64)
	for _, inst := range strings.Split(*instruments, ",") {
		prices[strings.TrimSpace(inst)] = 60_000
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	log.Info().Strs("instruments", strings.Split(*instruments, ",")).Msg("marketfeed starting")

	for {
		select {
		case <-sigCh:
			log.Info().Msg("shutting down")
			return
		case <-ticker.C:
			for inst, price := range prices {
				priceChange := rng.NormFloat64() * 0.001
				newPrice := price * (1 + priceChange)
				prices[inst] = newPrice

				point := marketcache.Point{
					Instrument:    inst,
					Price:         newPrice,
					Spread:        0.0005 + rng.Float64()*0.0005,
					PriceChange1M: priceChange,
					BidVolume:     10 + rng.Float64()*40,
					AskVolume:     10 + rng.Float64()*40,
					Timestamp:     time.Now().UTC(),
				}
				msg := types.NewMessage("marketfeed", types.SubjectMarketData, point, [16]byte{})
				if err := b.Publish(ctx, msg); err != nil {
					log.Warn().Err(err).Str("instrument", inst).Msg("failed to publish tick")
				}
			}
		}
	}
}
