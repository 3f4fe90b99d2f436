// Package audit records gateway calls and MCP tool invocations in SQLite.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ericksa/lexiclarus/internal/gateway"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

type Auditor struct {
	db  *sql.DB
	log *zap.Logger
}

// CallEntry is one recorded gateway Invoke.
type CallEntry struct {
	ID         int64     `json:"id"`
	Capability string    `json:"capability"`
	Outcome    string    `json:"outcome"`
	Attempts   int       `json:"attempts"`
	LatencyMS  int64     `json:"latency_ms"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type ToolEntry struct {
	ID        int64     `json:"id"`
	Tool      string    `json:"tool"`
	Input     string    `json:"input"`
	Output    string    `json:"output"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const schema = `
CREATE TABLE IF NOT EXISTS gateway_calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	capability TEXT NOT NULL,
	outcome TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL,
	error TEXT,
	timestamp DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS tool_calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tool TEXT NOT NULL,
	input TEXT,
	output TEXT,
	error TEXT,
	timestamp DATETIME NOT NULL
);`

// New opens (or creates) the audit database at path. Use ":memory:" in tests.
func New(path string, log *zap.Logger) (*Auditor, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit tables: %w", err)
	}
	return &Auditor{db: db, log: log}, nil
}

// Observe implements gateway.Observer.
func (a *Auditor) Observe(o gateway.Observation) {
	if a == nil || a.db == nil {
		return
	}
	_, err := a.db.Exec(
		"INSERT INTO gateway_calls (capability, outcome, attempts, latency_ms, error, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
		string(o.Capability), o.Outcome, o.Attempts, o.Latency.Milliseconds(), o.Error, o.At.UTC(),
	)
	if err != nil {
		a.log.Warn("audit.observe.failed", zap.Error(err))
	}
}

// Log records one tool invocation.
func (a *Auditor) Log(tool string, input json.RawMessage, output []byte, err error) {
	if a == nil || a.db == nil {
		return
	}
	var errStr string
	if err != nil {
		errStr = err.Error()
	}
	_, err = a.db.Exec(
		"INSERT INTO tool_calls (tool, input, output, error, timestamp) VALUES (?, ?, ?, ?, ?)",
		tool, string(input), string(output), errStr, time.Now().UTC(),
	)
	if err != nil {
		a.log.Warn("audit.log.failed", zap.String("tool", tool), zap.Error(err))
	}
}

// RecentCalls returns the newest gateway calls first.
func (a *Auditor) RecentCalls(limit int) ([]CallEntry, error) {
	if a == nil || a.db == nil {
		return nil, nil
	}
	rows, err := a.db.Query(
		"SELECT id, capability, outcome, attempts, latency_ms, COALESCE(error, ''), timestamp FROM gateway_calls ORDER BY id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []CallEntry{}
	for rows.Next() {
		var e CallEntry
		if err := rows.Scan(&e.ID, &e.Capability, &e.Outcome, &e.Attempts, &e.LatencyMS, &e.Error, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (a *Auditor) RecentTools(limit int) ([]ToolEntry, error) {
	if a == nil || a.db == nil {
		return nil, nil
	}
	rows, err := a.db.Query(
		"SELECT id, tool, COALESCE(input, ''), COALESCE(output, ''), COALESCE(error, ''), timestamp FROM tool_calls ORDER BY id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []ToolEntry{}
	for rows.Next() {
		var e ToolEntry
		if err := rows.Scan(&e.ID, &e.Tool, &e.Input, &e.Output, &e.Error, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (a *Auditor) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}
