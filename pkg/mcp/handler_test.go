package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ericksa/lexiclarus/internal/audit"
	"github.com/ericksa/lexiclarus/internal/config"
	"github.com/ericksa/lexiclarus/internal/gateway"
	"github.com/ericksa/lexiclarus/internal/pipeline"
	"github.com/ericksa/lexiclarus/internal/session"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lease = `Tenant shall pay a $50 late fee.

This agreement auto-renews annually unless cancelled 30 days prior.`

func connect(t *testing.T) (*mcp.ClientSession, *audit.Auditor) {
	t.Helper()
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	aud, err := audit.New(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { aud.Close() })

	gw := gateway.New(nil, gateway.Options{Timeout: time.Second})
	orch, err := pipeline.NewFromConfig(cfg, gw, session.NewRegistry(time.Hour), nil, nil)
	require.NoError(t, err)

	h := NewHandler(orch, aud, nil)
	ctx := context.Background()
	clientT, serverT := mcp.NewInMemoryTransports()
	ss, err := h.Server().Connect(ctx, serverT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs, aud
}

func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	return res
}

func text(res *mcp.CallToolResult) string {
	return res.Content[0].(*mcp.TextContent).Text
}

func TestListTools(t *testing.T) {
	cs, _ := connect(t)
	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"contract_analyze", "contract_status", "contract_clauses", "contract_ask"}, names)
}

func TestAnalyzeThenAsk(t *testing.T) {
	cs, aud := connect(t)

	res := call(t, cs, "contract_analyze", map[string]any{"text": lease, "filename": "lease.txt"})
	require.False(t, res.IsError, text(res))
	var v session.View
	require.NoError(t, json.Unmarshal([]byte(text(res)), &v))
	assert.Equal(t, session.StatusReady, v.Status)
	require.Len(t, v.Clauses, 2)
	assert.Equal(t, "fee", v.Clauses[0].Risk.Category)

	res = call(t, cs, "contract_status", map[string]any{"session_id": v.ID})
	require.False(t, res.IsError)
	assert.Contains(t, text(res), `"status":"ready"`)

	res = call(t, cs, "contract_clauses", map[string]any{"session_id": v.ID})
	require.False(t, res.IsError)
	assert.Contains(t, text(res), "auto-renewal")

	res = call(t, cs, "contract_ask", map[string]any{"session_id": v.ID, "question": "Is there a late fee?"})
	require.False(t, res.IsError)
	var entry session.QAEntry
	require.NoError(t, json.Unmarshal([]byte(text(res)), &entry))
	assert.Equal(t, session.SourceHeuristic, entry.Source)
	assert.Contains(t, entry.Answer, "late fee")

	tools, err := aud.RecentTools(10)
	require.NoError(t, err)
	require.Len(t, tools, 4)
	assert.Equal(t, "contract_ask", tools[0].Tool)
	assert.Equal(t, "contract_analyze", tools[3].Tool)
}

func TestUnknownSession(t *testing.T) {
	cs, aud := connect(t)

	res := call(t, cs, "contract_status", map[string]any{"session_id": "missing"})
	assert.True(t, res.IsError)
	assert.Contains(t, text(res), "session not found")

	tools, err := aud.RecentTools(1)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.NotEmpty(t, tools[0].Error)
}
