package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultWindowSize = 20

// Turn is a single conversation turn held in the window.
type Turn struct {
	Role      string         `json:"role"` // user, assistant
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Window is a bounded FIFO conversation memory. When the window is full,
// adding a turn evicts the oldest one.
type Window struct {
	mu    sync.RWMutex
	turns []Turn
	meta  map[string]any
	max   int
}

// NewWindow creates a Window holding at most max turns. max <= 0 uses the
// default of 20.
func NewWindow(max int) *Window {
	if max <= 0 {
		max = defaultWindowSize
	}
	return &Window{max: max}
}

// Add appends a turn, evicting the oldest when the window is full.
func (w *Window) Add(role, content string, metadata map[string]any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.turns = append(w.turns, Turn{
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	})
	if len(w.turns) > w.max {
		w.turns = w.turns[len(w.turns)-w.max:]
	}
}

// AddUser appends a user turn.
func (w *Window) AddUser(content string, metadata map[string]any) {
	w.Add("user", content, metadata)
}

// AddAssistant appends an assistant turn.
func (w *Window) AddAssistant(content string, metadata map[string]any) {
	w.Add("assistant", content, metadata)
}

// Context returns the turns oldest first. The returned slice is a copy.
func (w *Window) Context() []Turn {
	return w.Last(0)
}

// Last returns the most recent n turns oldest first. n <= 0 returns the
// whole window.
func (w *Window) Last(n int) []Turn {
	w.mu.RLock()
	defer w.mu.RUnlock()

	turns := w.turns
	if n > 0 && n < len(turns) {
		turns = turns[len(turns)-n:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// ContextString renders the window as "User:"/"Assistant:" lines, oldest
// first, for completion-style prompts.
func (w *Window) ContextString() string {
	return w.LastString(0)
}

// LastString renders the most recent n turns the way ContextString does.
// n <= 0 renders the whole window.
func (w *Window) LastString(n int) string {
	turns := w.Last(n)
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		label := "User"
		if turn.Role == "assistant" {
			label = "Assistant"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, turn.Content))
	}
	return strings.Join(lines, "\n")
}

// Len returns the number of turns currently held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.turns)
}

// Max returns the window capacity.
func (w *Window) Max() int {
	return w.max
}

// SetMetadata stores a session-scoped value independent of the turn
// capacity.
func (w *Window) SetMetadata(key string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.meta == nil {
		w.meta = make(map[string]any)
	}
	w.meta[key] = value
}

// GetMetadata returns the stored value for key, or def when absent.
func (w *Window) GetMetadata(key string, def any) any {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if v, ok := w.meta[key]; ok {
		return v
	}
	return def
}

// Clear drops all turns and session metadata. Clearing an empty window
// is a no-op.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = nil
	w.meta = nil
}

// ContextTokens estimates the token footprint of the current window.
func (w *Window) ContextTokens() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	total := 0
	for _, turn := range w.turns {
		// Per-turn formatting overhead plus role and content.
		total += 4
		total += CountTokens(turn.Role)
		total += CountTokens(turn.Content)
	}
	return total
}
