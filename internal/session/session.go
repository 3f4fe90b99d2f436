// Package session holds the in-memory aggregate for one analyzed contract:
// its raw text, its clauses with derived annotations and the QA history.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/ericksa/lexiclarus/internal/apperr"
	"github.com/google/uuid"
)

type Status string

const (
	StatusCreated    Status = "created"
	StatusSegmenting Status = "segmenting"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

var transitions = map[Status][]Status{
	StatusCreated:    {StatusSegmenting},
	StatusSegmenting: {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusReady, StatusFailed},
}

var (
	ErrInvalidTransition = errors.New("invalid session status transition")
	ErrClausesFixed      = errors.New("clauses are already set")
	ErrNoClauses         = errors.New("cannot set an empty clause list")
	ErrIncomplete        = errors.New("clauses still lack annotations")
	ErrAlreadySet        = errors.New("clause field already set")
	ErrNotFound          = apperr.New(apperr.CodeNotFound, "session not found")
)

type Meta struct {
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

type Session struct {
	ID        string
	Meta      Meta
	CreatedAt time.Time

	raw string

	mu        sync.RWMutex
	status    Status
	reason    apperr.Code
	detail    string
	clauses   []*Clause
	qa        []QAEntry
	version   int
	updatedAt time.Time
}

// QAEntry is one answered question.
type QAEntry struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Source   Source    `json:"source"`
	AskedAt  time.Time `json:"asked_at"`
}

func New(rawText string, meta Meta) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		Meta:      meta,
		CreatedAt: now,
		raw:       rawText,
		status:    StatusCreated,
		version:   1,
		updatedAt: now,
	}
}

func (s *Session) RawText() string { return s.raw }

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Reason returns the fatal failure code of a failed session.
func (s *Session) Reason() (apperr.Code, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason, s.detail
}

// Transition moves the session to status to. Entering ready requires every
// clause to carry both a simplification and a risk annotation.
func (s *Session) Transition(to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !allowed(s.status, to) {
		return ErrInvalidTransition
	}
	if to == StatusReady && !s.completeLocked() {
		return ErrIncomplete
	}
	s.status = to
	s.touchLocked()
	return nil
}

// Fail moves the session to failed with a fatal reason.
func (s *Session) Fail(code apperr.Code, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !allowed(s.status, StatusFailed) {
		return ErrInvalidTransition
	}
	s.status = StatusFailed
	s.reason = code
	s.detail = detail
	s.touchLocked()
	return nil
}

func allowed(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SetClauses fixes the clause list. It is only legal while segmenting and only once.
func (s *Session) SetClauses(texts []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusSegmenting {
		return ErrInvalidTransition
	}
	if s.clauses != nil {
		return ErrClausesFixed
	}
	if len(texts) == 0 {
		return ErrNoClauses
	}
	s.clauses = make([]*Clause, len(texts))
	for i, t := range texts {
		s.clauses[i] = &Clause{index: i, original: t}
	}
	s.touchLocked()
	return nil
}

// Clauses returns the clauses in document order.
func (s *Session) Clauses() []*Clause {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Clause(nil), s.clauses...)
}

func (s *Session) ClauseViews() []ClauseView {
	clauses := s.Clauses()
	views := make([]ClauseView, len(clauses))
	for i, c := range clauses {
		views[i] = c.View()
	}
	return views
}

// Complete reports whether every clause has both derived fields.
func (s *Session) Complete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completeLocked()
}

func (s *Session) completeLocked() bool {
	for _, c := range s.clauses {
		if !c.done() {
			return false
		}
	}
	return true
}

// AppendQA records an answer and returns the stored entry.
func (s *Session) AppendQA(e QAEntry) QAEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.AskedAt.IsZero() {
		e.AskedAt = time.Now()
	}
	s.qa = append(s.qa, e)
	s.touchLocked()
	return e
}

func (s *Session) QAHistory() []QAEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]QAEntry(nil), s.qa...)
}

func (s *Session) touchLocked() {
	s.version++
	s.updatedAt = time.Now()
}

// View is the presentation snapshot of a session. Failed sessions carry no clause data.
type View struct {
	ID          string       `json:"id"`
	Filename    string       `json:"filename,omitempty"`
	ContentType string       `json:"content_type,omitempty"`
	Status      Status       `json:"status"`
	Reason      apperr.Code  `json:"reason,omitempty"`
	Detail      string       `json:"detail,omitempty"`
	ClauseCount int          `json:"clause_count"`
	Clauses     []ClauseView `json:"clauses"`
	QAHistory   []QAEntry    `json:"qa_history"`
	Version     int          `json:"version"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (s *Session) View() View {
	s.mu.RLock()
	v := View{
		ID:          s.ID,
		Filename:    s.Meta.Filename,
		ContentType: s.Meta.ContentType,
		Status:      s.status,
		Reason:      s.reason,
		Detail:      s.detail,
		ClauseCount: len(s.clauses),
		QAHistory:   append([]QAEntry{}, s.qa...),
		Version:     s.version,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.updatedAt,
	}
	clauses := append([]*Clause(nil), s.clauses...)
	s.mu.RUnlock()

	if v.Status == StatusFailed {
		v.ClauseCount = 0
		v.Clauses = []ClauseView{}
		return v
	}
	v.Clauses = make([]ClauseView, len(clauses))
	for i, c := range clauses {
		v.Clauses[i] = c.View()
	}
	return v
}
