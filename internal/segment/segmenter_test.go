package segment

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ericksa/lexiclarus/internal/apperr"
	"github.com/ericksa/lexiclarus/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type proposerFunc func(ctx context.Context, text string) ([]string, error)

func (f proposerFunc) Propose(ctx context.Context, text string) ([]string, error) { return f(ctx, text) }

const lease = `1. Rent. Tenant shall pay rent of $1,200 on the first day of each month.

2. Late Fee. A late fee of $50 applies to payments received after the fifth day.


3. Term.   This agreement runs for a period of 12 months
from January 1, 2025 to December 31, 2025.`

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 2, EstimateTokens("合同"))
}

func TestSplit_Paragraphs(t *testing.T) {
	s := New(nil, Options{MaxTokens: 256}, nil)

	res, err := s.Segment(context.Background(), lease)
	require.NoError(t, err)
	assert.Equal(t, SourceRules, res.Source)
	require.Len(t, res.Clauses, 3)
	assert.Equal(t, "3. Term. This agreement runs for a period of 12 months from January 1, 2025 to December 31, 2025.", res.Clauses[2])
}

func TestSplit_ReconstructsSource(t *testing.T) {
	docs := []string{
		lease,
		"single clause without punctuation",
		strings.Repeat("The Lessee shall indemnify the Lessor against all claims. ", 40),
		"Word " + strings.Repeat("x", 200) + " tail.",
		"\n\n  \n Short. \n\n Also short.\n\nA much longer clause follows here with plenty of words in it.",
	}
	for _, maxTokens := range []int{8, 20, 64, 256} {
		s := New(nil, Options{MaxTokens: maxTokens, MinTokens: 3}, nil)
		for _, doc := range docs {
			res, err := s.Segment(context.Background(), doc)
			require.NoError(t, err)
			assert.Equal(t, Normalize(doc), strings.Join(res.Clauses, " "), "max=%d", maxTokens)
			for _, c := range res.Clauses {
				assert.NotEmpty(t, c)
				assert.Equal(t, Normalize(c), c)
			}
		}
	}
}

func TestSplit_RespectsMaxTokens(t *testing.T) {
	s := New(nil, Options{MaxTokens: 20}, nil)
	doc := "Tenant shall pay a $50 late fee. This agreement auto-renews annually unless cancelled 30 days prior."

	res, err := s.Segment(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Tenant shall pay a $50 late fee.",
		"This agreement auto-renews annually unless cancelled 30 days prior.",
	}, res.Clauses)
	for _, c := range res.Clauses {
		assert.LessOrEqual(t, EstimateTokens(c), 20)
	}
}

func TestSplit_MergesShortClauses(t *testing.T) {
	s := New(nil, Options{MaxTokens: 256, MinTokens: 5}, nil)
	res, err := s.Segment(context.Background(), "1.\n\nThe tenant keeps the garden tidy.\n\nEnd.")
	require.NoError(t, err)
	assert.Equal(t, []string{"1. The tenant keeps the garden tidy. End."}, res.Clauses)
}

func TestSegment_EmptyDocument(t *testing.T) {
	s := New(nil, Options{}, nil)
	for _, doc := range []string{"", "   \n\n\t  "} {
		_, err := s.Segment(context.Background(), doc)
		require.Error(t, err)
		assert.Equal(t, apperr.CodeSegmentationFailed, apperr.CodeOf(err))
	}
}

func TestSegment_AcceptsValidProposal(t *testing.T) {
	s := New(proposerFunc(func(ctx context.Context, text string) ([]string, error) {
		return []string{"Tenant shall pay a $50 late fee.", "This agreement auto-renews\nannually unless cancelled 30 days prior."}, nil
	}), Options{MaxTokens: 256}, nil)

	res, err := s.Segment(context.Background(), "Tenant shall pay a $50 late fee. This agreement auto-renews annually unless cancelled 30 days prior.")
	require.NoError(t, err)
	assert.Equal(t, SourceModel, res.Source)
	assert.Equal(t, "This agreement auto-renews annually unless cancelled 30 days prior.", res.Clauses[1])
}

func TestSegment_RejectsBadProposals(t *testing.T) {
	doc := "Alpha clause one. Beta clause two. Gamma clause three."
	tests := []struct {
		name     string
		proposal []string
		err      error
		want     error
	}{
		{"model failure", nil, errors.New("gateway down"), nil},
		{"empty list", []string{}, nil, ErrEmptyProposal},
		{"empty clause", []string{"Alpha clause one.", "", "Beta clause two. Gamma clause three."}, nil, ErrEmptyClause},
		{"gap", []string{"Alpha clause one.", "Gamma clause three."}, nil, ErrCoverage},
		{"out of order", []string{"Beta clause two.", "Alpha clause one.", "Gamma clause three."}, nil, ErrCoverage},
		{"overlap", []string{"Alpha clause one. Beta", "Beta clause two. Gamma clause three."}, nil, ErrCoverage},
		{"mid-word", []string{"Alpha cla", "use one. Beta clause two. Gamma clause three."}, nil, ErrCoverage},
		{"missing tail", []string{"Alpha clause one."}, nil, ErrCoverage},
		{"too long", []string{doc}, nil, ErrClauseTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(proposerFunc(func(ctx context.Context, text string) ([]string, error) {
				return tt.proposal, tt.err
			}), Options{MaxTokens: 10}, nil)

			if tt.want != nil {
				assert.ErrorIs(t, s.Validate(Normalize(doc), normalizeAll(tt.proposal)), tt.want)
			}

			res, err := s.Segment(context.Background(), doc)
			require.NoError(t, err)
			assert.Equal(t, SourceRules, res.Source)
			assert.Equal(t, Normalize(doc), strings.Join(res.Clauses, " "))
		})
	}
}

func normalizeAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = Normalize(s)
	}
	return out
}

type fakeInvoker struct {
	output string
	err    error
}

func (f fakeInvoker) Invoke(ctx context.Context, c gateway.Capability, p gateway.Payload) (gateway.Result, error) {
	return gateway.Result{Output: f.output}, f.err
}

func TestModelProposer(t *testing.T) {
	p := NewModelProposer(fakeInvoker{output: "```json\n[\"First.\", \"Second.\"]\n```"})
	clauses, err := p.Propose(context.Background(), "First. Second.")
	require.NoError(t, err)
	assert.Equal(t, []string{"First.", "Second."}, clauses)

	p = NewModelProposer(fakeInvoker{output: "Here are the clauses: First, Second"})
	_, err = p.Propose(context.Background(), "First. Second.")
	assert.ErrorIs(t, err, gateway.ErrInvalidResponse)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `["a"]`, StripFences("```json\n[\"a\"]\n```"))
	assert.Equal(t, `["a"]`, StripFences("```[\"a\"]```"))
	assert.Equal(t, `{"k":1}`, StripFences(`  {"k":1} `))
}
