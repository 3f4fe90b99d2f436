package pipeline

import (
	"github.com/ericksa/lexiclarus/internal/config"
	"github.com/ericksa/lexiclarus/internal/gateway"
	"github.com/ericksa/lexiclarus/internal/segment"
	"github.com/ericksa/lexiclarus/internal/session"
	"github.com/ericksa/lexiclarus/internal/stages"
	"go.uber.org/zap"
)

// NewFromConfig wires the segmenter and the three stages around gw.
func NewFromConfig(cfg *config.Config, gw *gateway.Gateway, registry *session.Registry, snapshots session.Snapshotter, log *zap.Logger) (*Orchestrator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	table, err := stages.NewTable(cfg.Risk)
	if err != nil {
		return nil, err
	}
	risk, err := stages.NewRiskStage(gw, table, log.Named("risk"))
	if err != nil {
		return nil, err
	}

	var proposer segment.Proposer
	if cfg.Segmenter.UseModel && gw.Enabled(gateway.CapabilitySegment) {
		proposer = segment.NewModelProposer(gw)
	}

	deps := Deps{
		Segmenter: segment.New(proposer, segment.Options{
			MaxTokens: cfg.Segmenter.MaxTokens,
			MinTokens: cfg.Segmenter.MinTokens,
		}, log.Named("segment")),
		Simplifier: stages.NewSimplifier(gw, log.Named("simplify")),
		Risk:       risk,
		QA:         stages.NewQAStage(gw, nil, cfg.QA, log.Named("qa")),
		Registry:   registry,
		Snapshots:  snapshots,
	}
	return New(deps, cfg.Pipeline.MaxParallel, log), nil
}
