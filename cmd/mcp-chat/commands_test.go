package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanghanggit/ai-trpg-sub001/trpg/config"
	ports "github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/ports"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/mcp"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/mcp/server"
)

type turnAudit map[string][]ports.ToolExecution

func (a turnAudit) RecordToolExecutions(ctx context.Context, records []ports.ToolExecution) error {
	for _, r := range records {
		a[r.TurnID] = append(a[r.TurnID], r)
	}
	return nil
}

func (a turnAudit) LoadToolExecutions(ctx context.Context, turnID string) ([]ports.ToolExecution, error) {
	return a[turnID], nil
}

func newCommands(t *testing.T) (*commands, *bytes.Buffer) {
	t.Helper()
	cfg := config.ServerConfig{Name: "sample", Version: "1.0.0"}
	srv := server.New(cfg, zerolog.Nop(), server.DefaultTools(mcp.Implementation{Name: cfg.Name, Version: cfg.Version})...)
	srv.RegisterDefaults()
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	client, err := mcp.Dial(context.Background(), config.MCPConfig{BaseURL: ts.URL, Timeout: 5 * time.Second}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(client.Disconnect)

	var out bytes.Buffer
	return &commands{client: client, out: &out}, &out
}

func TestCommands_Tools(t *testing.T) {
	cmds, out := newCommands(t)

	require.NoError(t, cmds.run(context.Background(), "/tools"))

	assert.Contains(t, out.String(), "- calculator: ")
	assert.Contains(t, out.String(), "operation: Operation to apply")
	assert.Contains(t, out.String(), "(required)")
	assert.Contains(t, out.String(), "- get_current_time: ")
}

func TestCommands_ResourcesAndPrompts(t *testing.T) {
	cmds, out := newCommands(t)
	ctx := context.Background()

	require.NoError(t, cmds.run(ctx, "/resources"))
	assert.Contains(t, out.String(), "<config://server-status>")

	out.Reset()
	require.NoError(t, cmds.run(ctx, "/read config://server-status"))
	assert.Contains(t, out.String(), `"sessions": 1`)

	out.Reset()
	require.NoError(t, cmds.run(ctx, "/prompts"))
	assert.Contains(t, out.String(), "system_analysis")

	out.Reset()
	require.NoError(t, cmds.run(ctx, "/prompt system_analysis analysis_type=troubleshooting system_data=uptime=3d"))
	assert.Contains(t, out.String(), "troubleshooting analysis")
	assert.Contains(t, out.String(), "uptime=3d")
}

func TestCommands_UsageErrors(t *testing.T) {
	cmds, _ := newCommands(t)
	ctx := context.Background()

	assert.ErrorIs(t, cmds.run(ctx, "/quit"), errQuit)
	assert.ErrorIs(t, cmds.run(ctx, "/exit"), errQuit)
	assert.ErrorContains(t, cmds.run(ctx, "/read"), "usage")
	assert.ErrorContains(t, cmds.run(ctx, "/prompt"), "usage")
	assert.ErrorContains(t, cmds.run(ctx, "/prompt system_analysis notkeyvalue"), "key=value")
	assert.ErrorContains(t, cmds.run(ctx, "/dance"), "unknown command")
	assert.Error(t, cmds.run(ctx, "/read config://missing"))
}

func TestCommands_Audit(t *testing.T) {
	cmds, out := newCommands(t)
	ctx := context.Background()

	require.NoError(t, cmds.run(ctx, "/audit"))
	assert.Contains(t, out.String(), "auditing is disabled")

	audit := turnAudit{}
	cmds.audit = audit
	out.Reset()
	require.NoError(t, cmds.run(ctx, "/audit"))
	assert.Contains(t, out.String(), "no turn yet")

	require.NoError(t, audit.RecordToolExecutions(ctx, []ports.ToolExecution{
		{TurnID: "turn-1", Seq: 0, Tool: "calculator", Success: true, Result: "7", ExecutionTime: 12 * time.Millisecond},
		{TurnID: "turn-1", Seq: 1, Tool: "get_current_time", Error: "tool execution timed out"},
	}))
	cmds.lastTurn = "turn-1"
	out.Reset()
	require.NoError(t, cmds.run(ctx, "/audit"))
	assert.Equal(t, "1. calculator ok (12ms): 7\n2. get_current_time failed (0s): tool execution timed out\n", out.String())

	cmds.lastTurn = "turn-2"
	out.Reset()
	require.NoError(t, cmds.run(ctx, "/audit"))
	assert.Equal(t, "turn turn-2 ran no tools\n", out.String())
}