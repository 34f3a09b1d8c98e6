// Package testutil holds helpers shared by the pipeline's package tests:
// a zerolog capture, a testify executor mock and a conformance suite for
// fetchers. It imports nothing but types so any package can use it.
package testutil

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogEntry is one decoded zerolog line.
type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
}

// LogCapture is a zerolog writer that keeps every line in memory.
type LogCapture struct {
	mu    sync.Mutex
	lines []string
}

// NewLogCapture returns an empty capture.
func NewLogCapture() *LogCapture {
	return &LogCapture{}
}

func (lc *LogCapture) Write(p []byte) (int, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.lines = append(lc.lines, string(p))
	return len(p), nil
}

// Logger returns a debug-level logger writing into the capture.
func (lc *LogCapture) Logger() zerolog.Logger {
	return zerolog.New(lc).Level(zerolog.DebugLevel)
}

// String joins every captured line.
func (lc *LogCapture) String() string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return strings.Join(lc.lines, "")
}

// Entries decodes the captured lines. Lines that are not JSON are skipped.
func (lc *LogCapture) Entries() []LogEntry {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	out := make([]LogEntry, 0, len(lc.lines))
	for _, line := range lc.lines {
		fields := map[string]interface{}{}
		dec := json.NewDecoder(bytes.NewReader([]byte(line)))
		dec.UseNumber()
		if err := dec.Decode(&fields); err != nil {
			continue
		}
		e := LogEntry{Fields: fields}
		if v, ok := fields[zerolog.LevelFieldName].(string); ok {
			e.Level = v
			delete(fields, zerolog.LevelFieldName)
		}
		if v, ok := fields[zerolog.MessageFieldName].(string); ok {
			e.Message = v
			delete(fields, zerolog.MessageFieldName)
		}
		out = append(out, e)
	}
	return out
}

// Contains reports whether any entry at level carries msg. An empty level
// matches every level.
func (lc *LogCapture) Contains(level, msg string) bool {
	for _, e := range lc.Entries() {
		if (level == "" || e.Level == level) && e.Message == msg {
			return true
		}
	}
	return false
}

// Clear drops everything captured so far.
func (lc *LogCapture) Clear() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.lines = lc.lines[:0]
}
