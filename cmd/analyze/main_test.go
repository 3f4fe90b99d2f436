package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ericksa/lexiclarus/internal/config"
	"github.com/ericksa/lexiclarus/internal/gateway"
	"github.com/ericksa/lexiclarus/internal/pipeline"
	"github.com/ericksa/lexiclarus/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeline(t *testing.T) *pipeline.Orchestrator {
	t.Helper()
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	gw := gateway.New(nil, gateway.Options{Timeout: time.Second})
	orch, err := pipeline.NewFromConfig(cfg, gw, session.NewRegistry(time.Hour), nil, nil)
	require.NoError(t, err)
	return orch
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestRun_WithQuestions(t *testing.T) {
	path := writeFile(t, "lease.txt", "Tenant shall pay a $50 late fee.\n\nLandlord may terminate this lease with 30 days notice.")

	v, err := run(context.Background(), newPipeline(t), path, []string{"Is there a late fee?"})
	require.NoError(t, err)
	assert.Equal(t, session.StatusReady, v.Status)
	assert.Equal(t, "lease.txt", v.Filename)
	require.Len(t, v.Clauses, 2)
	assert.Equal(t, "termination", v.Clauses[1].Risk.Category)
	require.Len(t, v.QAHistory, 1)
	assert.Equal(t, session.SourceHeuristic, v.QAHistory[0].Source)

	var buf bytes.Buffer
	require.NoError(t, render(&buf, "console", v))
	out := buf.String()
	assert.Contains(t, out, "# lease.txt")
	assert.Contains(t, out, "## Clause 1 [medium fee]")
	assert.Contains(t, out, "> Tenant shall pay a $50 late fee.")
	assert.Contains(t, out, "Degraded: simplify_failed, risk_failed")
	assert.Contains(t, out, "**Q:** Is there a late fee?")

	buf.Reset()
	require.NoError(t, render(&buf, "json", v))
	var decoded session.View
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, v.ID, decoded.ID)
}

func TestRun_EmptyDocument(t *testing.T) {
	path := writeFile(t, "blank.txt", "   ")
	v, err := run(context.Background(), newPipeline(t), path, []string{"Anything?"})
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, v.Status)
	assert.Empty(t, v.QAHistory)
}

func TestRun_Errors(t *testing.T) {
	orch := newPipeline(t)
	_, err := run(context.Background(), orch, filepath.Join(t.TempDir(), "missing.txt"), nil)
	assert.Error(t, err)

	_, err = run(context.Background(), orch, writeFile(t, "scan.png", "png"), nil)
	assert.Error(t, err)
}

func TestRender_UnknownFormat(t *testing.T) {
	assert.Error(t, render(&bytes.Buffer{}, "yaml", session.View{}))
}

func TestQuestionsFlag(t *testing.T) {
	var q questions
	require.NoError(t, q.Set("a?"))
	require.NoError(t, q.Set("b?"))
	assert.Equal(t, "a?; b?", q.String())
}
