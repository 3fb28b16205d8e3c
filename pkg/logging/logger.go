package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level indicates the severity of a log event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category groups events by subsystem.
type Category string

const (
	CategoryConversation Category = "conversation"
	CategoryModel        Category = "model"
	CategoryRouter       Category = "router"
	CategoryTool         Category = "tool"
	CategoryStorage      Category = "storage"
	CategoryAPI          Category = "api"
	CategoryNotify       Category = "notify"
	CategorySystem       Category = "system"
)

// Event is a single structured log record, written as one JSON line.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	Event     string         `json:"event"`
	SessionID string         `json:"session_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger writes JSONL events to a session log, mirroring errors to a
// separate file so they survive log rotation.
type Logger struct {
	mu        sync.Mutex
	sessionID string
	out       *os.File
	errOut    *os.File
	minLevel  Level
	console   bool
}

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Options configures a Logger.
type Options struct {
	Dir       string
	SessionID string
	MinLevel  Level
	Console   bool
}

// New creates a Logger writing under opts.Dir. The directory is created
// if it does not exist.
func New(opts Options) (*Logger, error) {
	if opts.Dir == "" {
		opts.Dir = filepath.Join(os.TempDir(), "deskhand-logs")
	}
	if opts.MinLevel == "" {
		opts.MinLevel = LevelInfo
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	name := opts.SessionID
	if name == "" {
		name = time.Now().UTC().Format("20060102-150405")
	}

	out, err := os.OpenFile(filepath.Join(opts.Dir, name+".jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}

	errOut, err := os.OpenFile(filepath.Join(opts.Dir, "errors.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("open error log: %w", err)
	}

	return &Logger{
		sessionID: opts.SessionID,
		out:       out,
		errOut:    errOut,
		minLevel:  opts.MinLevel,
		console:   opts.Console,
	}, nil
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *Logger {
	return &Logger{minLevel: LevelDebug}
}

// Close flushes and closes the underlying files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var first error
	if l.out != nil {
		if err := l.out.Close(); err != nil {
			first = err
		}
		l.out = nil
	}
	if l.errOut != nil {
		if err := l.errOut.Close(); err != nil && first == nil {
			first = err
		}
		l.errOut = nil
	}
	return first
}

func (l *Logger) log(level Level, cat Category, event, message string, fields map[string]any) {
	if levelRank[level] < levelRank[l.minLevel] {
		return
	}

	rec := Event{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Category:  cat,
		Event:     event,
		SessionID: l.sessionID,
		Message:   message,
		Fields:    fields,
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out != nil {
		l.out.Write(line)
	}
	if level == LevelError && l.errOut != nil {
		l.errOut.Write(line)
	}
	if l.console {
		fmt.Fprintf(os.Stderr, "[%s] %s/%s: %s\n", level, cat, event, message)
	}
}

// Debug logs a debug-level event.
func (l *Logger) Debug(cat Category, event, message string, fields map[string]any) {
	l.log(LevelDebug, cat, event, message, fields)
}

// Info logs an info-level event.
func (l *Logger) Info(cat Category, event, message string, fields map[string]any) {
	l.log(LevelInfo, cat, event, message, fields)
}

// Warn logs a warn-level event.
func (l *Logger) Warn(cat Category, event, message string, fields map[string]any) {
	l.log(LevelWarn, cat, event, message, fields)
}

// Error logs an error-level event, mirrored to the errors file.
func (l *Logger) Error(cat Category, event, message string, fields map[string]any) {
	l.log(LevelError, cat, event, message, fields)
}
