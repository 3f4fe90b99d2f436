package segment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ericksa/lexiclarus/internal/apperr"
	"go.uber.org/zap"
)

// Source names the path that produced a clause list.
type Source string

const (
	SourceModel Source = "model"
	SourceRules Source = "rules"
)

var (
	ErrEmptyProposal = errors.New("proposal has no clauses")
	ErrEmptyClause   = errors.New("proposal contains an empty clause")
	ErrClauseTooLong = errors.New("proposed clause exceeds max tokens")
	ErrCoverage      = errors.New("proposed clauses do not cover the document in order")
)

// Proposer suggests clause boundaries, usually by asking a model.
type Proposer interface {
	Propose(ctx context.Context, text string) ([]string, error)
}

type Options struct {
	MaxTokens int
	MinTokens int
}

type Segmenter struct {
	proposer Proposer
	opts     Options
	log      *zap.Logger
}

type Result struct {
	Clauses []string
	Source  Source
}

// New returns a Segmenter. A nil proposer means rules only.
func New(proposer Proposer, opts Options, log *zap.Logger) *Segmenter {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 256
	}
	if opts.MinTokens < 0 || opts.MinTokens > opts.MaxTokens {
		opts.MinTokens = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Segmenter{proposer: proposer, opts: opts, log: log}
}

// Segment splits text into whitespace-normalized clauses whose space-joined
// concatenation equals Normalize(text).
func (s *Segmenter) Segment(ctx context.Context, text string) (Result, error) {
	normalized := Normalize(text)
	if normalized == "" {
		return Result{}, apperr.New(apperr.CodeSegmentationFailed, "document has no text")
	}

	if s.proposer != nil {
		proposed, err := s.proposer.Propose(ctx, text)
		if err == nil {
			clauses := make([]string, len(proposed))
			for i, c := range proposed {
				clauses[i] = Normalize(c)
			}
			if err = s.Validate(normalized, clauses); err == nil {
				return Result{Clauses: clauses, Source: SourceModel}, nil
			}
		}
		s.log.Info("segment.proposal.rejected", zap.Error(err))
	}

	clauses := s.Split(text)
	if len(clauses) == 0 {
		return Result{}, apperr.New(apperr.CodeSegmentationFailed, "no clauses produced")
	}
	return Result{Clauses: clauses, Source: SourceRules}, nil
}

// Validate checks normalized clauses against the normalized source.
func (s *Segmenter) Validate(normalized string, clauses []string) error {
	if len(clauses) == 0 {
		return ErrEmptyProposal
	}
	cursor := 0
	for i, c := range clauses {
		if c == "" {
			return fmt.Errorf("clause %d: %w", i, ErrEmptyClause)
		}
		if EstimateTokens(c) > s.opts.MaxTokens {
			return fmt.Errorf("clause %d: %w", i, ErrClauseTooLong)
		}
		if !strings.HasPrefix(normalized[cursor:], c) {
			return fmt.Errorf("clause %d: %w", i, ErrCoverage)
		}
		cursor += len(c)
		if cursor < len(normalized) {
			// Boundaries must fall between words.
			if normalized[cursor] != ' ' {
				return fmt.Errorf("clause %d ends mid-word: %w", i, ErrCoverage)
			}
			cursor++
		}
	}
	if cursor != len(normalized) {
		return fmt.Errorf("text after clause %d: %w", len(clauses)-1, ErrCoverage)
	}
	return nil
}

var paragraphBreak = regexp.MustCompile(`\n[ \t\r\f\v]*\n`)

// Split is the deterministic fallback: paragraphs first, then sentences, then
// words, packed so no clause exceeds MaxTokens unless a single word does.
func (s *Segmenter) Split(text string) []string {
	var clauses []string
	for _, para := range paragraphBreak.Split(text, -1) {
		para = Normalize(para)
		if para == "" {
			continue
		}
		if EstimateTokens(para) <= s.opts.MaxTokens {
			clauses = append(clauses, para)
			continue
		}
		clauses = append(clauses, s.pack(sentences(para), true)...)
	}
	return s.mergeShort(clauses)
}

// pack greedily joins units while they fit; oversized sentences are split into words.
func (s *Segmenter) pack(units []string, splitLong bool) []string {
	var out []string
	current := ""
	flush := func() {
		if current != "" {
			out = append(out, current)
			current = ""
		}
	}
	for _, u := range units {
		if EstimateTokens(u) > s.opts.MaxTokens {
			flush()
			if splitLong {
				out = append(out, s.pack(strings.Split(u, " "), false)...)
			} else {
				out = append(out, u)
			}
			continue
		}
		candidate := u
		if current != "" {
			candidate = current + " " + u
		}
		if EstimateTokens(candidate) > s.opts.MaxTokens {
			flush()
			candidate = u
		}
		current = candidate
	}
	flush()
	return out
}

// mergeShort folds clauses under MinTokens into a neighbour when the result still fits.
func (s *Segmenter) mergeShort(clauses []string) []string {
	if s.opts.MinTokens == 0 || len(clauses) < 2 {
		return clauses
	}
	var out []string
	for _, c := range clauses {
		if n := len(out); n > 0 && EstimateTokens(out[n-1]) < s.opts.MinTokens {
			if merged := out[n-1] + " " + c; EstimateTokens(merged) <= s.opts.MaxTokens {
				out[n-1] = merged
				continue
			}
		}
		out = append(out, c)
	}
	if n := len(out); n > 1 && EstimateTokens(out[n-1]) < s.opts.MinTokens {
		if merged := out[n-2] + " " + out[n-1]; EstimateTokens(merged) <= s.opts.MaxTokens {
			out[n-2] = merged
			out = out[:n-1]
		}
	}
	return out
}

// sentences splits normalized text after words ending in terminal punctuation.
func sentences(text string) []string {
	words := strings.Split(text, " ")
	var out []string
	start := 0
	for i, w := range words {
		if endsSentence(w) {
			out = append(out, strings.Join(words[start:i+1], " "))
			start = i + 1
		}
	}
	if start < len(words) {
		out = append(out, strings.Join(words[start:], " "))
	}
	return out
}

func endsSentence(word string) bool {
	w := strings.TrimRight(word, `"')]”’`)
	if w == "" {
		return false
	}
	switch w[len(w)-1] {
	case '.', '!', '?', ';':
		return true
	}
	return false
}
