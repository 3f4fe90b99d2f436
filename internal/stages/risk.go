package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ericksa/lexiclarus/internal/config"
	"github.com/ericksa/lexiclarus/internal/gateway"
	"github.com/ericksa/lexiclarus/internal/segment"
	"github.com/ericksa/lexiclarus/internal/session"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

const CategoryNone = "none"

type trigger struct {
	category string
	severity session.Severity
	phrases  []string
	patterns []*regexp.Regexp
}

// Table is the deterministic risk classifier. Taxonomy order is category
// priority, highest first.
type Table struct {
	taxonomy []string
	priority map[string]int
	triggers []trigger
}

func NewTable(cfg config.RiskConfig) (*Table, error) {
	t := &Table{
		taxonomy: append([]string(nil), cfg.Taxonomy...),
		priority: make(map[string]int, len(cfg.Taxonomy)),
	}
	for i, c := range cfg.Taxonomy {
		t.priority[c] = i
	}
	if _, ok := t.priority[CategoryNone]; !ok {
		return nil, fmt.Errorf("risk taxonomy must include %q", CategoryNone)
	}
	for _, tc := range cfg.Triggers {
		if _, ok := t.priority[tc.Category]; !ok {
			return nil, fmt.Errorf("trigger category %q is not in the taxonomy", tc.Category)
		}
		sev := session.Severity(strings.ToLower(tc.Severity))
		if !sev.Valid() {
			return nil, fmt.Errorf("trigger %q: invalid severity %q", tc.Category, tc.Severity)
		}
		tr := trigger{category: tc.Category, severity: sev}
		for _, p := range tc.Phrases {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			tr.phrases = append(tr.phrases, p)
			tr.patterns = append(tr.patterns, phrasePattern(p))
		}
		t.triggers = append(t.triggers, tr)
	}
	return t, nil
}

// phrasePattern matches p as whole words. A trailing inflection is allowed,
// so "auto-renew" matches "auto-renews" and "fee" matches "fees" but not "feet".
func phrasePattern(p string) *regexp.Regexp {
	expr := `(?i)\b` + regexp.QuoteMeta(p)
	if r, _ := utf8.DecodeLastRuneInString(p); r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
		expr += `(?:s|es|d|ed|ing)?\b`
	}
	return regexp.MustCompile(expr)
}

func (t *Table) Taxonomy() []string { return append([]string(nil), t.taxonomy...) }

func (t *Table) Known(category string) bool {
	_, ok := t.priority[category]
	return ok
}

// Classify never fails. The highest severity match wins, ties go to the
// category listed first in the taxonomy.
func (t *Table) Classify(text string) session.RiskAnnotation {
	type hit struct {
		category string
		severity session.Severity
		phrase   string
	}
	var hits []hit
	for _, tr := range t.triggers {
		for i, re := range tr.patterns {
			if re.MatchString(text) {
				hits = append(hits, hit{tr.category, tr.severity, tr.phrases[i]})
				break
			}
		}
	}
	if len(hits) == 0 {
		return session.RiskAnnotation{
			Category:  CategoryNone,
			Severity:  session.SeverityLow,
			Rationale: "No risk trigger phrases found.",
			Source:    session.SourceHeuristic,
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if a, b := hits[i].severity.Rank(), hits[j].severity.Rank(); a != b {
			return a > b
		}
		return t.priority[hits[i].category] < t.priority[hits[j].category]
	})
	best := hits[0]
	return session.RiskAnnotation{
		Category:  best.category,
		Severity:  best.severity,
		Rationale: fmt.Sprintf("Matched trigger phrase %q.", best.phrase),
		Source:    session.SourceHeuristic,
	}
}

// RiskStage scores clauses with the risk capability and falls back to the Table.
type RiskStage struct {
	gw     gateway.Invoker
	table  *Table
	schema *jsonschema.Schema
	log    *zap.Logger
}

func NewRiskStage(gw gateway.Invoker, table *Table, log *zap.Logger) (*RiskStage, error) {
	if log == nil {
		log = zap.NewNop()
	}
	schema, err := compileRiskSchema(table.taxonomy)
	if err != nil {
		return nil, err
	}
	return &RiskStage{gw: gw, table: table, schema: schema, log: log}, nil
}

func compileRiskSchema(taxonomy []string) (*jsonschema.Schema, error) {
	doc := map[string]any{
		"type":     "object",
		"required": []string{"category", "severity"},
		"properties": map[string]any{
			"category":  map[string]any{"type": "string", "enum": taxonomy},
			"severity":  map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
			"rationale": map[string]any{"type": "string"},
		},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal risk schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("risk.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add risk schema: %w", err)
	}
	return compiler.Compile("risk.json")
}

// Score returns a model annotation, or the heuristic one with degraded=true.
func (r *RiskStage) Score(ctx context.Context, text string) (a session.RiskAnnotation, degraded bool) {
	res, err := r.gw.Invoke(ctx, gateway.CapabilityRisk, gateway.Payload{Text: text, Labels: r.table.Taxonomy()})
	if err == nil {
		a, err = r.Parse(res.Output)
	}
	if err != nil {
		r.log.Warn("risk.degraded", zap.String("kind", string(gateway.KindOf(err))), zap.Error(err))
		return r.table.Classify(text), true
	}
	return a, false
}

// Parse validates raw model output against the taxonomy.
func (r *RiskStage) Parse(raw string) (session.RiskAnnotation, error) {
	var v map[string]any
	if err := json.Unmarshal([]byte(segment.StripFences(raw)), &v); err != nil {
		return session.RiskAnnotation{}, fmt.Errorf("%w: risk output: %v", gateway.ErrInvalidResponse, err)
	}
	for _, k := range []string{"category", "severity"} {
		if s, ok := v[k].(string); ok {
			v[k] = strings.ToLower(strings.TrimSpace(s))
		}
	}
	if err := r.schema.Validate(any(v)); err != nil {
		return session.RiskAnnotation{}, fmt.Errorf("%w: %v", gateway.ErrInvalidResponse, err)
	}
	rationale, _ := v["rationale"].(string)
	return session.RiskAnnotation{
		Category:  v["category"].(string),
		Severity:  session.Severity(v["severity"].(string)),
		Rationale: strings.TrimSpace(rationale),
		Source:    session.SourceModel,
	}, nil
}

func (r *RiskStage) Apply(ctx context.Context, c *session.Clause) error {
	a, degraded := r.Score(ctx, c.Original())
	return c.SetRisk(a, degraded)
}
