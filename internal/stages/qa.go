package stages

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/ericksa/lexiclarus/internal/config"
	"github.com/ericksa/lexiclarus/internal/gateway"
	"github.com/ericksa/lexiclarus/internal/segment"
	"github.com/ericksa/lexiclarus/internal/session"
	"go.uber.org/zap"
)

// Passage is the read-only view of a clause used for retrieval.
type Passage struct {
	Index      int
	Original   string
	Simplified string
}

// Ranker orders passages by relevance to a question. The returned slice holds
// positions into passages, most relevant first.
type Ranker interface {
	Rank(question string, passages []Passage) []int
}

// OverlapRanker scores passages by the number of distinct question terms they
// contain. Ties keep document order.
type OverlapRanker struct{}

func (OverlapRanker) Rank(question string, passages []Passage) []int {
	q := Terms(question)
	scores := make([]int, len(passages))
	order := make([]int, len(passages))
	for i, p := range passages {
		order[i] = i
		terms := Terms(p.Original + " " + p.Simplified)
		for t := range q {
			if _, ok := terms[t]; ok {
				scores[i]++
			}
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	return order
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {}, "can": {},
	"do": {}, "does": {}, "for": {}, "from": {}, "how": {}, "i": {}, "if": {}, "in": {}, "is": {},
	"it": {}, "me": {}, "my": {}, "of": {}, "on": {}, "or": {}, "the": {}, "this": {}, "to": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "will": {}, "with": {},
}

// Terms returns the lowercased alphanumeric terms of s minus stopwords.
func Terms(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if _, stop := stopwords[f]; !stop {
			out[f] = struct{}{}
		}
	}
	return out
}

type Answer struct {
	Text   string
	Source session.Source
}

type QAStage struct {
	gw     gateway.Invoker
	ranker Ranker
	cfg    config.QAConfig
	log    *zap.Logger
}

func NewQAStage(gw gateway.Invoker, ranker Ranker, cfg config.QAConfig, log *zap.Logger) *QAStage {
	if ranker == nil {
		ranker = OverlapRanker{}
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &QAStage{gw: gw, ranker: ranker, cfg: cfg, log: log}
}

// Ask answers question against passages. It never fails: gateway errors
// produce a heuristic answer.
func (q *QAStage) Ask(ctx context.Context, question string, passages []Passage) Answer {
	if len(passages) > 0 {
		res, err := q.gw.Invoke(ctx, gateway.CapabilityAnswer, gateway.Payload{
			Question: question,
			Context:  q.ContextWindow(question, passages),
		})
		if err == nil {
			return Answer{Text: strings.TrimSpace(res.Output), Source: session.SourceModel}
		}
		q.log.Warn("qa.degraded", zap.String("kind", string(gateway.KindOf(err))), zap.Error(err))
	}
	return Answer{Text: q.Heuristic(question, passages), Source: session.SourceHeuristic}
}

// ContextWindow concatenates clause texts in document order. Past the budget,
// clauses are admitted by rank until the next one would not fit.
func (q *QAStage) ContextWindow(question string, passages []Passage) string {
	total := 0
	for _, p := range passages {
		total += segment.EstimateTokens(p.Original)
	}
	selected := make([]bool, len(passages))
	if q.cfg.ContextBudget <= 0 || total <= q.cfg.ContextBudget {
		for i := range selected {
			selected[i] = true
		}
	} else {
		used := 0
		for _, i := range q.ranker.Rank(question, passages) {
			n := segment.EstimateTokens(passages[i].Original)
			if used+n > q.cfg.ContextBudget {
				continue
			}
			selected[i] = true
			used += n
		}
	}
	var b strings.Builder
	for i, p := range passages {
		if !selected[i] {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Clause %d: %s", p.Index+1, p.Original)
	}
	return b.String()
}

var (
	periodRe = regexp.MustCompile(`(?i)period\s+of\s+(\d{1,3})\s*(months?|years?)`)
	rangeRe  = regexp.MustCompile(`(?i)from\s+(.*?)\s+(?:to|until)\s+(.*?)(?:\.|,|$)`)
)

// durationQuestionRe matches whole words only, so "termination" is not a duration question.
var durationQuestionRe = regexp.MustCompile(`(?i)\b(?:duration|periods?|terms?|how\s+long)\b`)

// Duration extracts the agreement term from text when the question asks about it.
func Duration(question, text string) string {
	if !durationQuestionRe.MatchString(question) {
		return ""
	}
	var period string
	if m := periodRe.FindStringSubmatch(text); m != nil {
		period = m[1] + " " + m[2]
	}
	m := rangeRe.FindStringSubmatch(text)
	switch {
	case period != "" && m != nil:
		return fmt.Sprintf("The agreement duration is %s, from %s to %s.", period, m[1], m[2])
	case period != "":
		return fmt.Sprintf("The agreement duration is %s.", period)
	case m != nil:
		return fmt.Sprintf("The agreement runs from %s to %s.", m[1], m[2])
	}
	return ""
}

// Heuristic builds the local retrieval answer.
func (q *QAStage) Heuristic(question string, passages []Passage) string {
	if len(passages) == 0 {
		return q.cfg.NotFoundAnswer
	}
	var parts []string
	originals := make([]string, len(passages))
	for i, p := range passages {
		originals[i] = p.Original
	}
	if d := Duration(question, strings.Join(originals, "\n")); d != "" {
		parts = append(parts, d)
	}
	for n, i := range q.ranker.Rank(question, passages) {
		if n == q.cfg.TopK {
			break
		}
		parts = append(parts, passages[i].Simplified)
	}
	answer := strings.Join(parts, "\n\n")
	if q.cfg.HeuristicMarker != "" {
		answer = q.cfg.HeuristicMarker + " " + answer
	}
	return answer
}

// Passages snapshots the clauses of s for retrieval.
func Passages(s *session.Session) []Passage {
	clauses := s.Clauses()
	out := make([]Passage, len(clauses))
	for i, c := range clauses {
		out[i] = Passage{Index: c.Index(), Original: c.Original(), Simplified: c.Simplified()}
	}
	return out
}
