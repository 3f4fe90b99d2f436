// Package mcp exposes the analysis pipeline as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ericksa/lexiclarus/internal/apperr"
	"github.com/ericksa/lexiclarus/internal/audit"
	"github.com/ericksa/lexiclarus/internal/pipeline"
	"github.com/ericksa/lexiclarus/internal/session"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const Version = "1.0.0"

type Handler struct {
	orch   *pipeline.Orchestrator
	audit  *audit.Auditor
	log    *zap.Logger
	server *mcp.Server
	http   http.Handler
}

type AnalyzeInput struct {
	Text     string `json:"text" jsonschema:"full contract text"`
	Filename string `json:"filename,omitempty" jsonschema:"name of the source document"`
}

type SessionInput struct {
	SessionID string `json:"session_id" jsonschema:"id returned by contract_analyze"`
}

type AskInput struct {
	SessionID string `json:"session_id" jsonschema:"id returned by contract_analyze"`
	Question  string `json:"question" jsonschema:"question about the contract"`
}

// NewHandler registers the contract tools. aud may be nil.
func NewHandler(orch *pipeline.Orchestrator, aud *audit.Auditor, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{orch: orch, audit: aud, log: log}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "LexiClarus",
		Version: Version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "contract_analyze",
		Description: "Split a contract into clauses, simplify each clause and flag risks. Returns the finished session.",
	}, wrap(h, "contract_analyze", h.analyze))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "contract_status",
		Description: "Report the processing status of an analysis session.",
	}, wrap(h, "contract_status", h.status))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "contract_clauses",
		Description: "List the clauses of a session with simplified text and risk annotations.",
	}, wrap(h, "contract_clauses", h.clauses))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "contract_ask",
		Description: "Answer a question about an analyzed contract.",
	}, wrap(h, "contract_ask", h.ask))

	h.server = server
	h.http = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
	return h
}

// Server returns the underlying MCP server, e.g. to run it over stdio.
func (h *Handler) Server() *mcp.Server { return h.server }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.http.ServeHTTP(w, r)
}

// wrap audits a tool call and renders its result as JSON text. Tool failures
// are reported in the result, not as protocol errors.
func wrap[In any](h *Handler, name string, fn func(context.Context, In) (any, error)) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		input, _ := json.Marshal(in)
		out, err := fn(ctx, in)
		var body []byte
		if err == nil {
			body, err = json.Marshal(out)
		}
		h.audit.Log(name, input, body, err)
		if err != nil {
			h.log.Debug("mcp.tool.failed", zap.String("tool", name), zap.String("code", string(apperr.CodeOf(err))), zap.Error(err))
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{
					&mcp.TextContent{Text: err.Error()},
				},
			}, nil, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: string(body)},
			},
		}, nil, nil
	}
}

func (h *Handler) analyze(ctx context.Context, in AnalyzeInput) (any, error) {
	if in.Text == "" {
		return nil, apperr.New(apperr.CodeInvalidInput, "text is required")
	}
	s, err := h.orch.Analyze(ctx, in.Text, session.Meta{Filename: in.Filename, ContentType: "text/plain"})
	if err != nil && !apperr.Is(err, apperr.CodeSegmentationFailed) {
		return nil, err
	}
	return s.View(), nil
}

func (h *Handler) status(ctx context.Context, in SessionInput) (any, error) {
	s, err := h.orch.Get(in.SessionID)
	if err != nil {
		return nil, err
	}
	v := s.View()
	return map[string]any{
		"id":           v.ID,
		"status":       v.Status,
		"reason":       v.Reason,
		"clause_count": v.ClauseCount,
	}, nil
}

func (h *Handler) clauses(ctx context.Context, in SessionInput) (any, error) {
	s, err := h.orch.Get(in.SessionID)
	if err != nil {
		return nil, err
	}
	v := s.View()
	return map[string]any{"id": v.ID, "status": v.Status, "clauses": v.Clauses}, nil
}

func (h *Handler) ask(ctx context.Context, in AskInput) (any, error) {
	return h.orch.Ask(ctx, in.SessionID, in.Question)
}
