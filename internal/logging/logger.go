// Package logging provides config-gated, categorized file-based logging
// for the orchestrator. Logs are written to .forge/logs/, one file per
// category; when debug mode is off, nothing is written.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryPipeline     Category = "pipeline"
	CategoryStateMachine Category = "statemachine"
	CategoryState        Category = "state"
	CategoryGraph        Category = "graph"
	CategoryVectorStore  Category = "vectorstore"
	CategoryGraphRAG     Category = "graphrag"
	CategoryLearning     Category = "learning"
	CategoryBuilder      Category = "builder"
	CategoryIntegration  Category = "integration"
	CategoryCost         Category = "cost"
	CategoryShutdown     Category = "shutdown"
	CategoryMCP          Category = "mcp"
)

// Entry is a single structured log line.
type Entry struct {
	Timestamp int64                  `json:"ts"`
	Category  string                 `json:"cat"`
	Level     string                 `json:"lvl"`
	Message   string                 `json:"msg"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

var (
	mu         sync.Mutex
	debugMode  bool
	jsonFormat = true
	baseDir    = ".forge/logs"
	files      = map[Category]*os.File{}
)

// Configure sets the global logging gate. Safe to call multiple times;
// typically invoked once from main() after config.Load().
func Configure(debug bool, dir string, jsonOut bool) {
	mu.Lock()
	defer mu.Unlock()
	debugMode = debug
	jsonFormat = jsonOut
	if dir != "" {
		baseDir = dir
	}
}

func fileFor(cat Category) (*os.File, error) {
	mu.Lock()
	defer mu.Unlock()
	if f, ok := files[cat]; ok {
		return f, nil
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(baseDir, string(cat)+".log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	files[cat] = f
	return f, nil
}

func write(cat Category, level, format string, args ...interface{}) {
	mu.Lock()
	on := debugMode
	mu.Unlock()
	if !on {
		return
	}
	msg := fmt.Sprintf(format, args...)
	entry := Entry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(cat),
		Level:     level,
		Message:   msg,
	}
	f, err := fileFor(cat)
	if err != nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if jsonFormat {
		b, err := json.Marshal(entry)
		if err != nil {
			return
		}
		_, _ = f.Write(append(b, '\n'))
		return
	}
	_, _ = fmt.Fprintf(f, "[%s] %s %s\n", level, cat, msg)
}

// Logger is a thin per-category handle, so callers can write
// `logging.Get(logging.CategoryGraph).Warn(...)`.
type Logger struct {
	category Category
}

// Get returns a Logger bound to the given category.
func Get(cat Category) *Logger { return &Logger{category: cat} }

func (l *Logger) Debug(format string, args ...interface{}) { write(l.category, "debug", format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { write(l.category, "info", format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { write(l.category, "warn", format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { write(l.category, "error", format, args...) }

// Timer measures a named operation and logs its duration on Stop.
type Timer struct {
	cat   Category
	op    string
	start time.Time
}

// StartTimer begins timing an operation under the given category.
func StartTimer(cat Category, op string) *Timer {
	return &Timer{cat: cat, op: op, start: time.Now()}
}

// Stop logs the elapsed duration since StartTimer.
func (t *Timer) Stop() {
	write(t.cat, "debug", "%s took %s", t.op, time.Since(t.start))
}

// Close flushes and closes all open category files. Call once at shutdown.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	for _, f := range files {
		_ = f.Close()
	}
	files = map[Category]*os.File{}
}
