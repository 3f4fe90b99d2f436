// Package pipeline drives a session through segmentation and per-clause
// processing, and serves QA once the session is ready.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/ericksa/lexiclarus/internal/apperr"
	"github.com/ericksa/lexiclarus/internal/segment"
	"github.com/ericksa/lexiclarus/internal/session"
	"github.com/ericksa/lexiclarus/internal/stages"
	"go.uber.org/zap"
)

var ErrNotReady = apperr.New(apperr.CodeNotReady, "session is not ready for questions")

// Segmenter is satisfied by *segment.Segmenter.
type Segmenter interface {
	Segment(ctx context.Context, text string) (segment.Result, error)
}

// ClauseStage fills one derived field of a clause.
type ClauseStage interface {
	Apply(ctx context.Context, c *session.Clause) error
}

type Answerer interface {
	Ask(ctx context.Context, question string, passages []stages.Passage) stages.Answer
}

type Deps struct {
	Segmenter  Segmenter
	Simplifier ClauseStage
	Risk       ClauseStage
	QA         Answerer
	Registry   *session.Registry
	// Snapshots is optional.
	Snapshots session.Snapshotter
}

type Orchestrator struct {
	deps        Deps
	maxParallel int
	log         *zap.Logger

	runs sync.WaitGroup
}

func New(deps Deps, maxParallel int, log *zap.Logger) *Orchestrator {
	if maxParallel <= 0 {
		maxParallel = 10
	}
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = session.NewRegistry(0)
	}
	return &Orchestrator{deps: deps, maxParallel: maxParallel, log: log}
}

func (o *Orchestrator) Registry() *session.Registry { return o.deps.Registry }

// Start registers a new session and processes it in the background.
// The run is detached from ctx cancellation.
func (o *Orchestrator) Start(ctx context.Context, rawText string, meta session.Meta) *session.Session {
	s := o.create(ctx, rawText, meta)
	runCtx := context.WithoutCancel(ctx)
	o.runs.Add(1)
	go func() {
		defer o.runs.Done()
		if err := o.Run(runCtx, s); err != nil {
			o.log.Warn("pipeline.run.failed", zap.String("session", s.ID), zap.Error(err))
		}
	}()
	return s
}

// Analyze registers a new session and processes it before returning.
func (o *Orchestrator) Analyze(ctx context.Context, rawText string, meta session.Meta) (*session.Session, error) {
	s := o.create(ctx, rawText, meta)
	return s, o.Run(ctx, s)
}

// Wait blocks until every background run has finished.
func (o *Orchestrator) Wait() { o.runs.Wait() }

func (o *Orchestrator) create(ctx context.Context, rawText string, meta session.Meta) *session.Session {
	s := session.New(rawText, meta)
	o.deps.Registry.Put(s)
	o.publish(ctx, s)
	return s
}

// Run moves a created session to ready or failed. The returned error is the
// fatal reason for failed sessions; degraded clauses are not errors.
func (o *Orchestrator) Run(ctx context.Context, s *session.Session) error {
	log := o.log.With(zap.String("session", s.ID))

	if err := s.Transition(session.StatusSegmenting); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "start segmentation", err)
	}
	o.publish(ctx, s)

	res, err := o.deps.Segmenter.Segment(ctx, s.RawText())
	if err == nil {
		err = s.SetClauses(res.Clauses)
	}
	if err != nil {
		code := apperr.CodeSegmentationFailed
		_ = s.Fail(code, err.Error())
		o.publish(ctx, s)
		log.Warn("pipeline.segmentation.failed", zap.Error(err))
		return apperr.Wrap(code, "segmentation", err)
	}
	log.Info("pipeline.segmented", zap.Int("clauses", len(res.Clauses)), zap.String("source", string(res.Source)))

	if err := s.Transition(session.StatusProcessing); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "start processing", err)
	}
	o.publish(ctx, s)

	o.process(ctx, s.Clauses(), log)

	if err := s.Transition(session.StatusReady); err != nil {
		_ = s.Fail(apperr.CodeInternal, err.Error())
		o.publish(ctx, s)
		return apperr.Wrap(apperr.CodeInternal, "finish processing", err)
	}
	o.publish(ctx, s)

	degraded := 0
	for _, v := range s.ClauseViews() {
		if v.Degraded {
			degraded++
		}
	}
	log.Info("pipeline.ready", zap.Int("clauses", len(res.Clauses)), zap.Int("degraded", degraded))
	return nil
}

// process runs both stages for every clause, at most maxParallel at a time.
// Each goroutine writes only its own clause field.
func (o *Orchestrator) process(ctx context.Context, clauses []*session.Clause, log *zap.Logger) {
	sem := make(chan struct{}, o.maxParallel)
	var wg sync.WaitGroup

	for _, c := range clauses {
		for _, st := range []struct {
			name  string
			stage ClauseStage
		}{
			{"simplify", o.deps.Simplifier},
			{"risk", o.deps.Risk},
		} {
			wg.Add(1)
			go func(c *session.Clause, name string, stage ClauseStage) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				if err := stage.Apply(ctx, c); err != nil {
					log.Error("pipeline.stage.apply", zap.String("stage", name), zap.Int("clause", c.Index()), zap.Error(err))
				}
			}(c, st.name, st.stage)
		}
	}
	wg.Wait()
}

// Get returns a registered session.
func (o *Orchestrator) Get(id string) (*session.Session, error) {
	return o.deps.Registry.Get(id)
}

// Delete drops a session from the registry. Snapshots expire on their own.
func (o *Orchestrator) Delete(id string) error {
	if _, err := o.deps.Registry.Get(id); err != nil {
		return err
	}
	o.deps.Registry.Delete(id)
	return nil
}

// Ask answers a question against a ready session and records it in the history.
func (o *Orchestrator) Ask(ctx context.Context, id, question string) (session.QAEntry, error) {
	if question == "" {
		return session.QAEntry{}, apperr.New(apperr.CodeInvalidInput, "question is required")
	}
	s, err := o.Get(id)
	if err != nil {
		return session.QAEntry{}, err
	}
	if st := s.Status(); st != session.StatusReady {
		return session.QAEntry{}, apperr.Wrap(apperr.CodeNotReady, fmt.Sprintf("session is %s", st), ErrNotReady)
	}
	ans := o.deps.QA.Ask(ctx, question, stages.Passages(s))
	entry := s.AppendQA(session.QAEntry{Question: question, Answer: ans.Text, Source: ans.Source})
	o.publish(ctx, s)
	return entry, nil
}

// AskText answers a question against free text without registering a session.
// Clauses are the segmenter's output with no rewrites applied.
func (o *Orchestrator) AskText(ctx context.Context, question, text string) (stages.Answer, error) {
	if question == "" {
		return stages.Answer{}, apperr.New(apperr.CodeInvalidInput, "question is required")
	}
	var passages []stages.Passage
	if res, err := o.deps.Segmenter.Segment(ctx, text); err == nil {
		passages = make([]stages.Passage, len(res.Clauses))
		for i, c := range res.Clauses {
			passages[i] = stages.Passage{Index: i, Original: c, Simplified: c}
		}
	}
	return o.deps.QA.Ask(ctx, question, passages), nil
}

func (o *Orchestrator) publish(ctx context.Context, s *session.Session) {
	if o.deps.Snapshots == nil {
		return
	}
	if err := o.deps.Snapshots.Save(context.WithoutCancel(ctx), s.View()); err != nil {
		o.log.Warn("pipeline.snapshot.failed", zap.String("session", s.ID), zap.Error(err))
	}
}
