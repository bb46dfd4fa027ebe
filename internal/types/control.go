package types

// ControlMsg is the tagged-union redesign spec §9 asks for in place of the
// original's heterogeneous dict payloads: one variant per admin command,
// dispatched exhaustively by handlers.
type ControlMsg interface {
	controlMsg()
}

// PauseMsg asks the target (or all agents, if Target is empty) to pause.
type PauseMsg struct {
	Target string
	Reason string
}

func (PauseMsg) controlMsg() {}

// ResumeMsg clears a prior pause.
type ResumeMsg struct {
	Target string
}

func (ResumeMsg) controlMsg() {}

// ShutdownMsg asks agents to exit their main loop cooperatively.
type ShutdownMsg struct {
	Target string
}

func (ShutdownMsg) controlMsg() {}

// MetaDecisionMsg carries a freshly computed binding MetaDecision.
type MetaDecisionMsg struct {
	Decision MetaDecision
	Source   string
}

func (MetaDecisionMsg) controlMsg() {}

// CapitalAllocationMsg carries a freshly computed PortfolioAllocation.
type CapitalAllocationMsg struct {
	Allocation PortfolioAllocation
	Source     string
}

func (CapitalAllocationMsg) controlMsg() {}

// KillSwitchAction is trigger or reset.
type KillSwitchAction string

const (
	KillSwitchTrigger KillSwitchAction = "trigger"
	KillSwitchReset   KillSwitchAction = "reset"
)

// KillSwitchMsg trips or clears the Risk agent's kill switch.
type KillSwitchMsg struct {
	Action KillSwitchAction
	Reason string
}

func (KillSwitchMsg) controlMsg() {}

// ResetKillSwitchMsg is the administratively distinct reset action the
// original source exposes separately from a generic kill_switch.reset
// (original_source/backend/app/agents/risk_agent.py's reset_kill_switch).
type ResetKillSwitchMsg struct {
	Reason string
}

func (ResetKillSwitchMsg) controlMsg() {}

// UnquarantineMsg asks the orchestrator's strategy lifecycle manager to
// force a strategy back to ACTIVE from QUARANTINED, bypassing the
// automatic healing checks in Manager.Evaluate. Published by cmd/admin,
// which runs as a separate process and has no direct handle on the
// running Manager.
type UnquarantineMsg struct {
	StrategyID  string
	TriggeredBy string
}

func (UnquarantineMsg) controlMsg() {}
