package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ericksa/lexiclarus/internal/apperr"
	"github.com/ericksa/lexiclarus/internal/config"
	"github.com/ericksa/lexiclarus/internal/gateway"
	"github.com/ericksa/lexiclarus/internal/segment"
	"github.com/ericksa/lexiclarus/internal/session"
	"github.com/ericksa/lexiclarus/internal/stages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fiveClauses = `Tenant shall pay rent of $1,200 on the first day of each month.

A late fee of $50 applies to payments received after the fifth day.

The landlord shall maintain the roof and exterior walls in good repair.

This agreement auto-renews annually unless cancelled 30 days prior.

The tenant may not sublet the premises without written consent.`

var riskCfg = config.RiskConfig{
	Taxonomy: []string{"penalty", "termination", "auto-renewal", "fee", "liability", "none"},
	Triggers: []config.TriggerConfig{
		{Category: "penalty", Severity: "high", Phrases: []string{"penalty"}},
		{Category: "auto-renewal", Severity: "medium", Phrases: []string{"auto-renew"}},
		{Category: "fee", Severity: "medium", Phrases: []string{"late fee", "fee"}},
	},
}

type snapshotLog struct {
	mu       sync.Mutex
	statuses []session.Status
	views    []session.View
}

func (l *snapshotLog) Save(ctx context.Context, v session.View) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, v.Status)
	l.views = append(l.views, v)
	return nil
}

func (l *snapshotLog) Load(ctx context.Context, id string) (*session.View, error) {
	return nil, session.ErrNotFound
}

func newOrchestrator(t *testing.T, backends map[gateway.Capability]gateway.Backend, snaps session.Snapshotter) *Orchestrator {
	t.Helper()
	gw := gateway.New(backends, gateway.Options{
		Timeout:      50 * time.Millisecond,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
		Concurrency:  5,
	})
	table, err := stages.NewTable(riskCfg)
	require.NoError(t, err)
	risk, err := stages.NewRiskStage(gw, table, nil)
	require.NoError(t, err)

	return New(Deps{
		Segmenter:  segment.New(nil, segment.Options{MaxTokens: 256}, nil),
		Simplifier: stages.NewSimplifier(gw, nil),
		Risk:       risk,
		QA: stages.NewQAStage(gw, nil, config.QAConfig{
			ContextBudget:   3000,
			TopK:            2,
			HeuristicMarker: "[heuristic answer]",
			NotFoundAnswer:  "not found",
		}, nil),
		Registry:  session.NewRegistry(time.Hour),
		Snapshots: snaps,
	}, 4, nil)
}

func rewriteBackend(hang string) gateway.BackendFunc {
	return func(ctx context.Context, c gateway.Capability, p gateway.Payload) (string, error) {
		if hang != "" && strings.Contains(p.Text, hang) {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "In short: " + p.Text, nil
	}
}

func riskBackend() gateway.BackendFunc {
	return func(ctx context.Context, c gateway.Capability, p gateway.Payload) (string, error) {
		return `{"category": "none", "severity": "low", "rationale": "Routine clause."}`, nil
	}
}

func TestRun_OneRewriteTimesOut(t *testing.T) {
	snaps := &snapshotLog{}
	o := newOrchestrator(t, map[gateway.Capability]gateway.Backend{
		gateway.CapabilityRewrite: rewriteBackend("roof and exterior"),
		gateway.CapabilityRisk:    riskBackend(),
	}, snaps)

	s, err := o.Analyze(context.Background(), fiveClauses, session.Meta{Filename: "lease.txt"})
	require.NoError(t, err)
	assert.Equal(t, session.StatusReady, s.Status())

	views := s.ClauseViews()
	require.Len(t, views, 5)
	failed := 0
	for i, v := range views {
		assert.Equal(t, i, v.Index)
		require.NotNil(t, v.SimplifiedText)
		require.NotNil(t, v.Risk)
		assert.Equal(t, session.SourceModel, v.Risk.Source)
		if strings.Contains(v.OriginalText, "roof and exterior") {
			failed++
			assert.Equal(t, v.OriginalText, *v.SimplifiedText)
			assert.Equal(t, []session.StageError{session.StageSimplifyFailed}, v.StageErrors)
			continue
		}
		assert.Equal(t, "In short: "+v.OriginalText, *v.SimplifiedText)
		assert.Empty(t, v.StageErrors)
	}
	assert.Equal(t, 1, failed)

	assert.Equal(t, []session.Status{
		session.StatusCreated,
		session.StatusSegmenting,
		session.StatusProcessing,
		session.StatusReady,
	}, snaps.statuses)
}

func TestRun_EmptyDocumentFails(t *testing.T) {
	o := newOrchestrator(t, nil, nil)

	s, err := o.Analyze(context.Background(), "  \n\n ", session.Meta{})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeSegmentationFailed, apperr.CodeOf(err))
	assert.Equal(t, session.StatusFailed, s.Status())

	v := s.View()
	assert.Equal(t, apperr.CodeSegmentationFailed, v.Reason)
	assert.Empty(t, v.Clauses)

	_, err = o.Ask(context.Background(), s.ID, "Anything?")
	assert.Equal(t, apperr.CodeNotReady, apperr.CodeOf(err))
}

func TestRun_NoBackendsStillReady(t *testing.T) {
	o := newOrchestrator(t, nil, nil)
	s, err := o.Analyze(context.Background(), "Tenant shall pay a $50 late fee. This agreement auto-renews annually unless cancelled 30 days prior.", session.Meta{})
	require.NoError(t, err)
	require.Equal(t, session.StatusReady, s.Status())

	views := s.ClauseViews()
	require.Len(t, views, 1)
	assert.Equal(t, session.SourceHeuristic, views[0].Risk.Source)
	assert.Equal(t, "auto-renewal", views[0].Risk.Category)
	assert.ElementsMatch(t, []session.StageError{session.StageSimplifyFailed, session.StageRiskFailed}, views[0].StageErrors)
}

// inFlight counts calls across every stage that shares it.
type inFlight struct {
	n, peak atomic.Int32
}

func (f *inFlight) enter() {
	n := f.n.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
}

type countingStage struct {
	calls *inFlight
	field string
}

func (c *countingStage) Apply(ctx context.Context, cl *session.Clause) error {
	c.calls.enter()
	defer c.calls.n.Add(-1)
	time.Sleep(5 * time.Millisecond)
	if c.field == "risk" {
		return cl.SetRisk(session.RiskAnnotation{Category: "none", Severity: session.SeverityLow, Source: session.SourceModel}, false)
	}
	return cl.SetSimplified("ok", false)
}

func TestRun_BoundsParallelism(t *testing.T) {
	calls := &inFlight{}
	o := New(Deps{
		Segmenter:  segment.New(nil, segment.Options{MaxTokens: 8}, nil),
		Simplifier: &countingStage{calls: calls, field: "simplify"},
		Risk:       &countingStage{calls: calls, field: "risk"},
	}, 3, nil)

	s, err := o.Analyze(context.Background(), strings.Repeat("Tenant pays rent. ", 20), session.Meta{})
	require.NoError(t, err)
	assert.Equal(t, session.StatusReady, s.Status())
	assert.LessOrEqual(t, calls.peak.Load(), int32(3))
	assert.Greater(t, calls.peak.Load(), int32(1))
}

func TestAsk(t *testing.T) {
	var answerCalls atomic.Int32
	o := newOrchestrator(t, map[gateway.Capability]gateway.Backend{
		gateway.CapabilityRewrite: rewriteBackend(""),
		gateway.CapabilityRisk:    riskBackend(),
		gateway.CapabilityAnswer: gateway.BackendFunc(func(ctx context.Context, c gateway.Capability, p gateway.Payload) (string, error) {
			if answerCalls.Add(1) > 1 {
				return "", &gateway.StatusError{StatusCode: 401, Body: "bad key"}
			}
			return "The late fee is $50.", nil
		}),
	}, nil)

	s, err := o.Analyze(context.Background(), fiveClauses, session.Meta{})
	require.NoError(t, err)

	first, err := o.Ask(context.Background(), s.ID, "What is the late fee?")
	require.NoError(t, err)
	assert.Equal(t, session.SourceModel, first.Source)
	assert.Equal(t, "The late fee is $50.", first.Answer)

	second, err := o.Ask(context.Background(), s.ID, "What is the late fee?")
	require.NoError(t, err)
	assert.Equal(t, session.SourceHeuristic, second.Source)
	assert.True(t, strings.HasPrefix(second.Answer, "[heuristic answer] In short: A late fee of $50"))

	hist := s.QAHistory()
	require.Len(t, hist, 2)
	assert.Equal(t, hist[0].Question, hist[1].Question)
	assert.Equal(t, session.StatusReady, s.Status())
}

func TestAsk_Errors(t *testing.T) {
	o := newOrchestrator(t, nil, nil)
	_, err := o.Ask(context.Background(), "missing", "Q?")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	s, err := o.Analyze(context.Background(), fiveClauses, session.Meta{})
	require.NoError(t, err)
	_, err = o.Ask(context.Background(), s.ID, "")
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}

func TestStart_RunsInBackground(t *testing.T) {
	o := newOrchestrator(t, map[gateway.Capability]gateway.Backend{
		gateway.CapabilityRewrite: rewriteBackend(""),
		gateway.CapabilityRisk:    riskBackend(),
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s := o.Start(ctx, fiveClauses, session.Meta{})
	cancel()
	o.Wait()

	got, err := o.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusReady, got.Status())
	for _, v := range got.ClauseViews() {
		assert.Empty(t, v.StageErrors)
	}
}

func TestAsk_ErrNotReadyUnwraps(t *testing.T) {
	o := newOrchestrator(t, nil, nil)
	s := session.New("x", session.Meta{})
	o.Registry().Put(s)
	_, err := o.Ask(context.Background(), s.ID, "Q?")
	assert.True(t, errors.Is(err, ErrNotReady))
}

func TestAskText(t *testing.T) {
	o := newOrchestrator(t, nil, nil)

	ans, err := o.AskText(context.Background(), "How long is the term?", "This lease is for a period of 12 months.")
	require.NoError(t, err)
	assert.Equal(t, session.SourceHeuristic, ans.Source)
	assert.Contains(t, ans.Text, "The agreement duration is 12 months.")

	ans, err = o.AskText(context.Background(), "Anything?", "   ")
	require.NoError(t, err)
	assert.Equal(t, "not found", ans.Text)

	_, err = o.AskText(context.Background(), "", "text")
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
	assert.Zero(t, o.Registry().Len())
}
