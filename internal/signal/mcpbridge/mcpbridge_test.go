package mcpbridge_test

import (
	"context"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradectl/controlplane/internal/signal"
	"github.com/tradectl/controlplane/internal/signal/mcpbridge"
)

type fakeSession struct {
	response string
	err      error
	lastArgs map[string]any
}

func (f *fakeSession) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	if args, ok := params.Arguments.(map[string]any); ok {
		f.lastArgs = args
	}
	if f.err != nil {
		return nil, f.err
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: f.response}}}, nil
}

func TestPlugin_BuyDecisionProducesIntent(t *testing.T) {
	fake := &fakeSession{response: `{"action":"buy","target_exposure_usd":5000,"confidence":0.75}`}
	p := mcpbridge.New("external-strategy", "evaluate_signal", fake)

	intent, err := p.Evaluate(context.Background(), signal.MarketSnapshot{Instrument: "BTC-USD", Price: 60000, Timestamp: time.Now()})
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, "BTC-USD", intent.Instrument)
	assert.InDelta(t, 0.75, intent.Confidence, 1e-9)
	assert.Equal(t, "BTC-USD", fake.lastArgs["instrument"])
}

func TestPlugin_HoldDecisionProducesNoIntent(t *testing.T) {
	fake := &fakeSession{response: `{"action":"hold"}`}
	p := mcpbridge.New("external-strategy", "evaluate_signal", fake)

	intent, err := p.Evaluate(context.Background(), signal.MarketSnapshot{Instrument: "BTC-USD"})
	require.NoError(t, err)
	assert.Nil(t, intent)
}

func TestPlugin_ToolCallErrorPropagates(t *testing.T) {
	fake := &fakeSession{err: assert.AnError}
	p := mcpbridge.New("external-strategy", "evaluate_signal", fake)

	_, err := p.Evaluate(context.Background(), signal.MarketSnapshot{Instrument: "BTC-USD"})
	assert.Error(t, err)
}
