// Package stages turns gateway calls into per-clause annotations. Every stage
// converts gateway failures into a degraded but valid result.
package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/ericksa/lexiclarus/internal/gateway"
	"github.com/ericksa/lexiclarus/internal/session"
	"go.uber.org/zap"
)

type Simplifier struct {
	gw  gateway.Invoker
	log *zap.Logger
}

func NewSimplifier(gw gateway.Invoker, log *zap.Logger) *Simplifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Simplifier{gw: gw, log: log}
}

// Simplify returns the cleaned rewrite of text or the gateway error.
func (s *Simplifier) Simplify(ctx context.Context, text string) (string, error) {
	res, err := s.gw.Invoke(ctx, gateway.CapabilityRewrite, gateway.Payload{Text: text})
	if err != nil {
		return "", err
	}
	out := CleanRewrite(res.Output)
	if out == "" {
		return "", fmt.Errorf("%w: rewrite is empty after cleanup", gateway.ErrInvalidResponse)
	}
	return out, nil
}

// Apply fills the clause's simplified text. On failure the original text is kept
// and simplify_failed is recorded.
func (s *Simplifier) Apply(ctx context.Context, c *session.Clause) error {
	text, err := s.Simplify(ctx, c.Original())
	if err != nil {
		s.log.Warn("simplify.degraded",
			zap.Int("clause", c.Index()),
			zap.String("kind", string(gateway.KindOf(err))),
			zap.Error(err))
		return c.SetSimplified("", true)
	}
	return c.SetSimplified(text, false)
}

// CleanRewrite drops an echoed instruction prefix and surrounding whitespace.
func CleanRewrite(raw string) string {
	out := strings.TrimSpace(raw)
	prefix := strings.ToLower(gateway.RewriteInstruction) + ":"
	if strings.HasPrefix(strings.ToLower(out), prefix) {
		out = strings.TrimSpace(out[len(prefix):])
	}
	return out
}
