package memory

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/deskhand/pkg/storage"
)

// NewSessionID generates a sortable session identifier.
func NewSessionID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// Manager maintains a per-session Window backed by the message store.
// The window is the working set; the store keeps the full history.
type Manager struct {
	mu         sync.Mutex
	windows    map[string]*Window
	store      *storage.Store
	windowSize int
}

// NewManager builds a Manager. store may be nil, in which case sessions
// live only in memory.
func NewManager(store *storage.Store, windowSize int) *Manager {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	return &Manager{
		windows:    make(map[string]*Window),
		store:      store,
		windowSize: windowSize,
	}
}

// Window returns the session's window, hydrating it from the store on
// first access.
func (m *Manager) Window(ctx context.Context, sessionID string) (*Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.windows[sessionID]; ok {
		return w, nil
	}

	w := NewWindow(m.windowSize)
	if m.store != nil {
		msgs, err := m.store.GetMessages(ctx, sessionID, m.windowSize)
		if err != nil {
			return nil, err
		}
		for _, msg := range msgs {
			w.Add(msg.Role, msg.Content, nil)
		}
	}
	m.windows[sessionID] = w
	return w, nil
}

// Record appends a turn to the session window and persists it.
func (m *Manager) Record(ctx context.Context, sessionID, role, content, modelUsed string) error {
	w, err := m.Window(ctx, sessionID)
	if err != nil {
		return err
	}

	var metadata map[string]any
	if modelUsed != "" {
		metadata = map[string]any{"model_used": modelUsed}
	}
	w.Add(role, content, metadata)

	if m.store != nil {
		return m.store.AppendMessage(ctx, &storage.StoredMessage{
			SessionID: sessionID,
			Role:      role,
			Content:   content,
			ModelUsed: modelUsed,
		})
	}
	return nil
}

// Release drops the session's in-memory window. The stored history is
// kept and rehydrated on next access.
func (m *Manager) Release(sessionID string) {
	m.mu.Lock()
	delete(m.windows, sessionID)
	m.mu.Unlock()
}

// SaveSummary titles the stored session and files the summary under the
// session-summaries namespace so knowledge searches can surface it.
func (m *Manager) SaveSummary(ctx context.Context, sessionID, summary string) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SetSessionTitle(ctx, sessionID, summary); err != nil {
		return err
	}
	return m.store.PutKnowledge(ctx, storage.NamespaceSessionSummaries, sessionID, summary)
}

// Reset clears the session window and its persisted history.
func (m *Manager) Reset(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	if w, ok := m.windows[sessionID]; ok {
		w.Clear()
	}
	m.mu.Unlock()

	if m.store != nil {
		return m.store.ClearMessages(ctx, sessionID)
	}
	return nil
}
