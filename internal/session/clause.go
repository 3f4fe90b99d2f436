package session

import (
	"sync"
)

// Source tells trusted model output apart from local fallback output.
type Source string

const (
	SourceModel     Source = "model"
	SourceHeuristic Source = "heuristic"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

func (s Severity) Valid() bool { return s.Rank() > 0 }

type RiskAnnotation struct {
	Category  string   `json:"category"`
	Severity  Severity `json:"severity"`
	Rationale string   `json:"rationale"`
	Source    Source   `json:"source"`
}

type StageError string

const (
	StageSimplifyFailed StageError = "simplify_failed"
	StageRiskFailed     StageError = "risk_failed"
)

// Clause is one segment of the document. original is immutable; each derived
// field is written at most once and guarded by mu.
type Clause struct {
	index    int
	original string

	mu         sync.Mutex
	simplified *string
	risk       *RiskAnnotation
	simplifyKO bool
	riskKO     bool
}

func (c *Clause) Index() int       { return c.index }
func (c *Clause) Original() string { return c.original }

// SetSimplified stores the rewrite. A failed rewrite stores the original text.
func (c *Clause) SetSimplified(text string, failed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.simplified != nil {
		return ErrAlreadySet
	}
	if failed {
		text = c.original
	}
	c.simplified = &text
	c.simplifyKO = failed
	return nil
}

func (c *Clause) SetRisk(a RiskAnnotation, failed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.risk != nil {
		return ErrAlreadySet
	}
	c.risk = &a
	c.riskKO = failed
	return nil
}

// Simplified returns the rewrite, falling back to the original while unset.
func (c *Clause) Simplified() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.simplified == nil {
		return c.original
	}
	return *c.simplified
}

func (c *Clause) done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.simplified != nil && c.risk != nil
}

type ClauseView struct {
	Index          int             `json:"index"`
	OriginalText   string          `json:"original_text"`
	SimplifiedText *string         `json:"simplified_text"`
	Risk           *RiskAnnotation `json:"risk"`
	StageErrors    []StageError    `json:"stage_errors"`
	Degraded       bool            `json:"degraded"`
}

func (c *Clause) View() ClauseView {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := ClauseView{
		Index:        c.index,
		OriginalText: c.original,
		StageErrors:  []StageError{},
	}
	if c.simplified != nil {
		s := *c.simplified
		v.SimplifiedText = &s
	}
	if c.risk != nil {
		r := *c.risk
		v.Risk = &r
	}
	if c.simplifyKO {
		v.StageErrors = append(v.StageErrors, StageSimplifyFailed)
	}
	if c.riskKO {
		v.StageErrors = append(v.StageErrors, StageRiskFailed)
	}
	v.Degraded = len(v.StageErrors) > 0
	return v
}
