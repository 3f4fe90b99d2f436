// Package api is the HTTP surface over the pipeline.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ericksa/lexiclarus/internal/apperr"
	"github.com/ericksa/lexiclarus/internal/archive"
	"github.com/ericksa/lexiclarus/internal/audit"
	"github.com/ericksa/lexiclarus/internal/config"
	"github.com/ericksa/lexiclarus/internal/extract"
	"github.com/ericksa/lexiclarus/internal/middleware"
	"github.com/ericksa/lexiclarus/internal/pipeline"
	"github.com/ericksa/lexiclarus/internal/session"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Options holds the optional collaborators. Nil fields disable their routes or side effects.
type Options struct {
	Archive   archive.Store
	Audit     *audit.Auditor
	Snapshots session.Snapshotter
	// MCP is mounted under /mcp when set.
	MCP http.Handler
}

type Server struct {
	cfg  *config.Config
	orch *pipeline.Orchestrator
	opts Options
	log  *zap.Logger
}

func New(cfg *config.Config, orch *pipeline.Orchestrator, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{cfg: cfg, orch: orch, opts: opts, log: log}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	middleware.Register(r, s.cfg, s.log)

	r.HandleFunc("/", s.root).Methods(http.MethodGet)
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	r.HandleFunc("/documents", s.upload).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/documents/{id}", s.getDocument).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}", s.deleteDocument).Methods(http.MethodDelete, http.MethodOptions)
	r.HandleFunc("/documents/{id}/clauses", s.getClauses).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}/questions", s.listQuestions).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}/questions", s.ask).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/analyze-document/", s.analyzeLegacy).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/ask-question/", s.askLegacy).Methods(http.MethodPost, http.MethodOptions)

	if s.opts.Audit != nil {
		r.HandleFunc("/audit/calls", s.auditCalls).Methods(http.MethodGet)
		r.HandleFunc("/audit/tools", s.auditTools).Methods(http.MethodGet)
	}
	if s.opts.MCP != nil {
		r.PathPrefix("/mcp").Handler(s.opts.MCP)
	}
	r.PathPrefix("/configure").Handler(config.NewConfigAPI(s.cfg).Router())
	return r
}

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "LexiClarus API running."})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type upload struct {
	filename    string
	contentType string
	data        []byte
	text        string
}

// readUpload extracts the text of the multipart "file" field.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	limit := int64(s.cfg.Server.MaxUploadMB) << 20
	if limit <= 0 {
		limit = 20 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidInput, "expected multipart form with a file field", err)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidInput, "missing file field", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidInput, "read upload", err)
	}
	u := &upload{filename: hdr.Filename, contentType: hdr.Header.Get("Content-Type"), data: data}
	if u.text, err = extract.File(u.filename, u.contentType, data); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Server) archive(r *http.Request, id string, u *upload) {
	if s.opts.Archive == nil {
		return
	}
	key, err := s.opts.Archive.Put(r.Context(), id, u.filename, u.contentType, u.data)
	if err != nil {
		s.log.Warn("archive.put.failed", zap.String("session", id), zap.Error(err))
		return
	}
	s.log.Debug("archive.put", zap.String("session", id), zap.String("key", key))
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	u, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	meta := session.Meta{Filename: u.filename, ContentType: u.contentType}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		sess, err := s.orch.Analyze(r.Context(), u.text, meta)
		s.archive(r, sess.ID, u)
		if err != nil && !apperr.Is(err, apperr.CodeSegmentationFailed) {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess.View())
		return
	}

	sess := s.orch.Start(r.Context(), u.text, meta)
	s.archive(r, sess.ID, u)
	writeJSON(w, http.StatusAccepted, map[string]any{"id": sess.ID, "status": sess.Status()})
}

// view finds a session in memory, then in the snapshot store.
func (s *Server) view(r *http.Request) (session.View, error) {
	id := mux.Vars(r)["id"]
	sess, err := s.orch.Get(id)
	if err == nil {
		return sess.View(), nil
	}
	if s.opts.Snapshots != nil {
		if v, serr := s.opts.Snapshots.Load(r.Context(), id); serr == nil {
			return *v, nil
		} else if !errors.Is(serr, session.ErrNotFound) {
			s.log.Warn("snapshot.load.failed", zap.String("session", id), zap.Error(serr))
		}
	}
	return session.View{}, err
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	v, err := s.view(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Delete(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getClauses(w http.ResponseWriter, r *http.Request) {
	v, err := s.view(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": v.ID, "status": v.Status, "clauses": v.Clauses})
}

func (s *Server) listQuestions(w http.ResponseWriter, r *http.Request) {
	v, err := s.view(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": v.ID, "qa_history": v.QAHistory})
}

type questionRequest struct {
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.CodeInvalidInput, "invalid JSON body", err)
	}
	return nil
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.orch.Ask(r.Context(), mux.Vars(r)["id"], req.Question)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type legacyClause struct {
	ClauseNumber   int                     `json:"clause_number"`
	OriginalClause string                  `json:"original_clause"`
	SimplifiedText string                  `json:"simplified_text"`
	RiskFlags      []string                `json:"risk_flags"`
	Risk           *session.RiskAnnotation `json:"risk"`
	StageErrors    []session.StageError    `json:"stage_errors"`
}

func (s *Server) analyzeLegacy(w http.ResponseWriter, r *http.Request) {
	u, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.orch.Analyze(r.Context(), u.text, session.Meta{Filename: u.filename, ContentType: u.contentType})
	s.archive(r, sess.ID, u)
	if err != nil {
		writeError(w, err)
		return
	}

	views := sess.ClauseViews()
	clauses := make([]legacyClause, len(views))
	for i, v := range views {
		lc := legacyClause{
			ClauseNumber:   v.Index + 1,
			OriginalClause: v.OriginalText,
			RiskFlags:      []string{},
			Risk:           v.Risk,
			StageErrors:    v.StageErrors,
		}
		if v.SimplifiedText != nil {
			lc.SimplifiedText = *v.SimplifiedText
		}
		if v.Risk != nil && v.Risk.Category != "none" {
			lc.RiskFlags = append(lc.RiskFlags, v.Risk.Category)
		}
		clauses[i] = lc
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           sess.ID,
		"filename":     u.filename,
		"content_type": u.contentType,
		"clauses":      clauses,
	})
}

func (s *Server) askLegacy(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ans, err := s.orch.AskText(r.Context(), req.Question, req.Context)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"question": req.Question, "answer": ans.Text, "source": ans.Source})
}

// auditLimit reads ?limit=, defaulting to 50 and capped at 500.
func auditLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 50, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("invalid limit %q", v))
	}
	return min(n, 500), nil
}

func (s *Server) auditCalls(w http.ResponseWriter, r *http.Request) {
	limit, err := auditLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}
	calls, err := s.opts.Audit.RecentCalls(limit)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInternal, "read audit log", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": calls, "count": len(calls)})
}

func (s *Server) auditTools(w http.ResponseWriter, r *http.Request) {
	limit, err := auditLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tools, err := s.opts.Audit.RecentTools(limit)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.CodeInternal, "read audit log", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools, "count": len(tools)})
}
