package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/ericksa/lexiclarus/internal/apperr"
	"github.com/ericksa/lexiclarus/internal/config"
	"github.com/ericksa/lexiclarus/internal/extract"
	"github.com/ericksa/lexiclarus/internal/gateway"
	"github.com/ericksa/lexiclarus/internal/pipeline"
	"github.com/ericksa/lexiclarus/internal/session"
	"go.uber.org/zap"
)

// questions collects repeated -q flags.
type questions []string

func (q *questions) String() string { return strings.Join(*q, "; ") }

func (q *questions) Set(v string) error {
	*q = append(*q, v)
	return nil
}

func main() {
	var (
		configDir = flag.String("config", "", "directory containing config.yaml")
		output    = flag.String("output", "console", "Output format: console or json")
		verbose   = flag.Bool("v", false, "Log pipeline progress to stderr")
		help      = flag.Bool("help", false, "Show help")
		asks      questions
	)
	flag.Var(&asks, "q", "Question to ask about the contract (repeatable)")
	flag.Parse()

	if *help || flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: analyze [-config dir] [-output console|json] [-q question]... <contract.pdf|docx|html|txt>")
		flag.PrintDefaults()
		if *help {
			return
		}
		os.Exit(2)
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		fatal("load config", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid config", err)
	}

	logger := zap.NewNop()
	if *verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			fatal("create logger", err)
		}
	}
	defer logger.Sync()

	gw, err := gateway.NewFromConfig(cfg, gateway.WithLogger(logger), gateway.WithObserver(gateway.ObserverFunc(func(o gateway.Observation) {
		logger.Debug("gateway.call",
			zap.String("capability", string(o.Capability)),
			zap.String("outcome", o.Outcome),
			zap.Int("attempts", o.Attempts),
			zap.Duration("latency", o.Latency))
	})))
	if err != nil {
		fatal("build gateway", err)
	}
	orch, err := pipeline.NewFromConfig(cfg, gw, session.NewRegistry(cfg.Sessions.TTL), nil, logger)
	if err != nil {
		fatal("build pipeline", err)
	}

	v, err := run(context.Background(), orch, flag.Arg(0), asks)
	if err != nil {
		fatal("analyze", err)
	}
	if err := render(os.Stdout, *output, v); err != nil {
		fatal("render", err)
	}
	if v.Status == session.StatusFailed {
		os.Exit(1)
	}
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "analyze: %s: %v\n", what, err)
	os.Exit(1)
}

// run analyzes the file at path and asks each question in order. A document
// that fails segmentation is returned as a failed view, not an error.
func run(ctx context.Context, orch *pipeline.Orchestrator, path string, asks []string) (session.View, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return session.View{}, err
	}
	name := filepath.Base(path)
	text, err := extract.File(name, "", data)
	if err != nil {
		return session.View{}, err
	}
	s, err := orch.Analyze(ctx, text, session.Meta{Filename: name})
	if err != nil {
		if apperr.Is(err, apperr.CodeSegmentationFailed) {
			return s.View(), nil
		}
		return session.View{}, err
	}
	for _, q := range asks {
		if _, err := orch.Ask(ctx, s.ID, q); err != nil {
			return session.View{}, err
		}
	}
	return s.View(), nil
}

func render(w io.Writer, format string, v session.View) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "console", "":
		return reportTemplate.Execute(w, v)
	}
	return fmt.Errorf("unknown output format %q", format)
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"inc":  func(i int) int { return i + 1 },
	"when": func(t time.Time) string { return t.Local().Format("Mon Jan 2, 2006 3:04 PM") },
}).Parse(`# {{if .Filename}}{{.Filename}}{{else}}Contract{{end}}

**Session:** {{.ID}}
**Status:** {{.Status}}{{if .Reason}} ({{.Reason}}){{end}}
**Analyzed:** {{when .UpdatedAt}}
{{if .Detail}}
{{.Detail}}
{{end}}
{{- range .Clauses}}
## Clause {{inc .Index}}{{if .Risk}} [{{.Risk.Severity}} {{.Risk.Category}}]{{end}}

{{.OriginalText}}
{{if .SimplifiedText}}
> {{.SimplifiedText}}
{{end}}
{{- if .Risk}}
Risk: {{.Risk.Rationale}} ({{.Risk.Source}})
{{end}}
{{- if .Degraded}}
Degraded: {{range $i, $e := .StageErrors}}{{if $i}}, {{end}}{{$e}}{{end}}
{{end}}
{{- end}}
{{- if .QAHistory}}
## Questions
{{range .QAHistory}}
**Q:** {{.Question}}
**A:** {{.Answer}} ({{.Source}})
{{end}}
{{- end}}
`))
