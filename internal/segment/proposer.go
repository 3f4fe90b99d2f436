package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ericksa/lexiclarus/internal/gateway"
)

// ModelProposer asks the gateway's segment capability for a JSON list of clauses.
type ModelProposer struct {
	gw gateway.Invoker
}

func NewModelProposer(gw gateway.Invoker) *ModelProposer {
	return &ModelProposer{gw: gw}
}

func (p *ModelProposer) Propose(ctx context.Context, text string) ([]string, error) {
	res, err := p.gw.Invoke(ctx, gateway.CapabilitySegment, gateway.Payload{Text: text})
	if err != nil {
		return nil, err
	}
	return ParseClauseList(res.Output)
}

// ParseClauseList decodes a JSON array of strings, tolerating markdown code fences.
func ParseClauseList(raw string) ([]string, error) {
	var clauses []string
	if err := json.Unmarshal([]byte(StripFences(raw)), &clauses); err != nil {
		return nil, fmt.Errorf("%w: clause list: %v", gateway.ErrInvalidResponse, err)
	}
	return clauses, nil
}

// StripFences removes a surrounding ``` or ```json block.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "[{") {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
