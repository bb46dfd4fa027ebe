// Package mcpbridge is the strategy plug-in of SPEC_FULL §2.B/§6.A that
// proxies an external MCP tool call into a TradeIntent, grounded on
// internal/agents/base.go's CallMCPTool (modelcontextprotocol/go-sdk
// mcp.ClientSession.CallTool, mcp.CallToolParams, mcp.TextContent
// response shape).
package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/shopspring/decimal"

	"github.com/tradectl/controlplane/internal/signal"
	"github.com/tradectl/controlplane/internal/types"
)

// toolCaller is the narrow slice of *mcp.ClientSession this plug-in needs,
// so tests can substitute a fake session without a real transport.
type toolCaller interface {
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
}

// decision is the JSON shape the external tool is expected to return in
// its first text content block.
type decision struct {
	Action            string  `json:"action"` // "buy", "sell", or "hold"
	TargetExposureUSD float64 `json:"target_exposure_usd"`
	Confidence        float64 `json:"confidence"`
	IsClosingIntent   bool    `json:"is_closing_intent"`
}

// Plugin calls one tool on one MCP server and turns its decision into a
// TradeIntent.
type Plugin struct {
	strategyID string
	toolName   string
	session    toolCaller
}

func New(strategyID, toolName string, session toolCaller) *Plugin {
	return &Plugin{strategyID: strategyID, toolName: toolName, session: session}
}

func (p *Plugin) Name() string { return p.strategyID }

func (p *Plugin) Evaluate(ctx context.Context, snapshot signal.MarketSnapshot) (*types.TradeIntent, error) {
	args := map[string]any{
		"instrument":      snapshot.Instrument,
		"price":           snapshot.Price,
		"spread":          snapshot.Spread,
		"price_change_1m": snapshot.PriceChange1M,
	}

	result, err := p.session.CallTool(ctx, &mcp.CallToolParams{Name: p.toolName, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("mcpbridge: tool call failed: %w", err)
	}

	d, err := parseDecision(result)
	if err != nil {
		return nil, err
	}
	if d.Action != "buy" && d.Action != "sell" {
		return nil, nil
	}

	direction := types.DirectionBuy
	if d.Action == "sell" {
		direction = types.DirectionSell
	}

	return &types.TradeIntent{
		ID:                uuid.New(),
		StrategyID:        p.strategyID,
		Instrument:        snapshot.Instrument,
		Direction:         direction,
		TargetExposureUSD: decimal.NewFromFloat(d.TargetExposureUSD),
		Confidence:        d.Confidence,
		IsClosingIntent:   d.IsClosingIntent,
	}, nil
}

func parseDecision(result *mcp.CallToolResult) (decision, error) {
	for _, c := range result.Content {
		text, ok := c.(*mcp.TextContent)
		if !ok {
			continue
		}
		var d decision
		if err := json.Unmarshal([]byte(text.Text), &d); err != nil {
			return decision{}, fmt.Errorf("mcpbridge: invalid tool response: %w", err)
		}
		return d, nil
	}
	return decision{}, fmt.Errorf("mcpbridge: tool response had no text content")
}
