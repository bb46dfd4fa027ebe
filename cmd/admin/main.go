// Command admin is the operator's CLI into a running control plane: it
// dials the same nats-server the orchestrator and agents share and
// publishes one control command, then exits. Grounded on the teacher's
// raw net/http control endpoints in internal/orchestrator/orchestrator.go
// (pause/resume/shutdown/status), reimplemented here as direct NATS
// bus-publish calls through orchestrator.Supervisor's Publish* methods
// rather than an HTTP surface, since HTTP presentation is out of scope.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tradectl/controlplane/internal/bus"
	"github.com/tradectl/controlplane/internal/config"
	"github.com/tradectl/controlplane/internal/orchestrator"
	"github.com/tradectl/controlplane/internal/types"
)

const usage = `usage: admin -nats-url <url> <command> [args]

commands:
  pause [target] [reason]       pause an agent (target empty = all agents)
  resume [target]                resume an agent (target empty = all agents)
  shutdown [target]              ask an agent to exit (target empty = all agents)
  kill-switch trigger [reason]   trip the risk agent's kill switch
  kill-switch reset [reason]     clear the kill switch via the generic reset action
  reset-kill-switch [reason]     clear the kill switch via the dedicated admin reset command
  unquarantine <strategy>        force a quarantined strategy back to active
`

func main() {
	natsURL := flag.String("nats-url", "nats://localhost:4222", "nats-server URL of the running control plane")
	subjectPrefix := flag.String("subject-prefix", "tradectl", "bus subject prefix, must match the running orchestrator's bus.subject_prefix")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	config.InitLogger("info", "console")

	b, err := bus.NewNATSBus(config.NewLogger("admin"), *subjectPrefix, *natsURL)
	if err != nil {
		log.Fatal().Err(err).Str("nats_url", *natsURL).Msg("failed to connect to nats")
	}
	defer b.Close()

	sup := orchestrator.NewSupervisor(b, config.NewLogger("admin"), nil, prometheus.NewRegistry())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := dispatch(ctx, sup, args); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
	log.Info().Strs("args", args).Msg("command published")
}

func dispatch(ctx context.Context, sup *orchestrator.Supervisor, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "pause":
		target, reason := argOrEmpty(rest, 0), argOrEmpty(rest, 1)
		return sup.PublishPause(ctx, target, reason)
	case "resume":
		return sup.PublishResume(ctx, argOrEmpty(rest, 0))
	case "shutdown":
		return sup.PublishShutdown(ctx, argOrEmpty(rest, 0))
	case "kill-switch":
		if len(rest) == 0 {
			return fmt.Errorf("kill-switch requires an action: trigger|reset")
		}
		action, reason := rest[0], argOrEmpty(rest, 1)
		switch action {
		case "trigger":
			return sup.PublishKillSwitch(ctx, types.KillSwitchTrigger, reason)
		case "reset":
			return sup.PublishKillSwitch(ctx, types.KillSwitchReset, reason)
		default:
			return fmt.Errorf("unknown kill-switch action %q: want trigger|reset", action)
		}
	case "reset-kill-switch":
		return sup.PublishResetKillSwitch(ctx, argOrEmpty(rest, 0))
	case "unquarantine":
		if len(rest) == 0 {
			return fmt.Errorf("unquarantine requires a strategy id")
		}
		return sup.PublishUnquarantine(ctx, rest[0], "admin-cli")
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func argOrEmpty(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
