package gateway

import (
	"fmt"
	"strings"
)

// RewriteInstruction is sent ahead of every clause. Models sometimes echo it back.
const RewriteInstruction = "Simplify this legal clause"

type prompt struct {
	system string
	user   func(p Payload) string
}

var prompts = map[Capability]prompt{
	CapabilitySegment: {
		system: "Split the following legal document into distinct clauses. " +
			"Copy every clause verbatim and in order, leaving nothing out. " +
			"Output must be a JSON list of strings only.",
		user: func(p Payload) string { return p.Text },
	},
	CapabilityRewrite: {
		system: "You rewrite contract clauses in plain language that a non-lawyer can follow. " +
			"Keep every obligation, amount and deadline. Reply with the rewrite only.",
		user: func(p Payload) string { return RewriteInstruction + ": " + p.Text },
	},
	CapabilityRisk: {
		system: "You flag risks in contract clauses. Reply with a single JSON object and nothing else: " +
			`{"category": "<label>", "severity": "low|medium|high", "rationale": "<one sentence>"}.`,
		user: func(p Payload) string {
			return fmt.Sprintf("Allowed categories: %s\n\nClause:\n%s", strings.Join(p.Labels, ", "), p.Text)
		},
	},
	CapabilityAnswer: {
		system: "Answer questions about a contract based ONLY on the text provided. " +
			"If the text does not contain the answer, say that it is not found in the document.",
		user: func(p Payload) string {
			return fmt.Sprintf("%s\n\nQ: %s\n\nA:", p.Context, p.Question)
		},
	},
}

func buildPrompt(c Capability, p Payload) (system, user string, err error) {
	pr, ok := prompts[c]
	if !ok {
		return "", "", fmt.Errorf("unknown capability %q", c)
	}
	return pr.system, pr.user(p), nil
}
