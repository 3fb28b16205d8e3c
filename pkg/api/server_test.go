package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/deskhand/pkg/agent"
	"github.com/odvcencio/deskhand/pkg/storage"
)

type fakeAgent struct {
	reply     *agent.Reply
	err       error
	lastQuery string
	lastForce string
	resets    []string
	stream    []agent.StreamEvent
}

func (f *fakeAgent) Respond(ctx context.Context, sessionID, query, force string) (*agent.Reply, error) {
	f.lastQuery = query
	f.lastForce = force
	if f.err != nil {
		return nil, f.err
	}
	reply := *f.reply
	reply.SessionID = sessionID
	return &reply, nil
}

func (f *fakeAgent) RespondStream(ctx context.Context, sessionID, query string) (<-chan agent.StreamEvent, error) {
	f.lastQuery = query
	if f.err != nil {
		return nil, f.err
	}
	events := make(chan agent.StreamEvent, len(f.stream))
	for _, event := range f.stream {
		events <- event
	}
	close(events)
	return events, nil
}

func (f *fakeAgent) Reset(ctx context.Context, sessionID string) error {
	f.resets = append(f.resets, sessionID)
	return nil
}

func (f *fakeAgent) EndSession(ctx context.Context, sessionID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "Printer outage triage", nil
}

func newTestServer(t *testing.T, chat ChatAgent) (*Server, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s := NewServer(ServerConfig{
		Store: store,
		Agent: chat,
	})
	return s, store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestCORSHeaders(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/healthz", nil)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, PUT, PATCH, DELETE, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization, X-Api-Key", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/tickets", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCreateTicket(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/tickets", map[string]any{
		"title":       "VPN down",
		"description": "Office VPN dropping every hour",
		"priority":    storage.PriorityHigh,
		"category":    "Network",
		"customer_id": "acme",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Ticket created successfully", body["message"])

	ticket := body["ticket"].(map[string]any)
	assert.Regexp(t, `^TKT-\d{8}-[0-9A-F]{8}$`, ticket["ticket_id"])
	assert.Equal(t, storage.StatusOpen, ticket["status"])
	assert.Equal(t, storage.PriorityHigh, ticket["priority"])
}

func TestCreateTicket_Validation(t *testing.T) {
	s, _ := newTestServer(t, nil)

	cases := []struct {
		name string
		body map[string]any
		want string
	}{
		{"missing title", map[string]any{"description": "x"}, "title is required"},
		{"missing description", map[string]any{"title": "x"}, "description is required"},
		{"bad priority", map[string]any{"title": "x", "description": "y", "priority": "Urgent"}, "invalid priority"},
		{"bad category", map[string]any{"title": "x", "description": "y", "category": "Plumbing"}, "invalid category"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, s.Handler(), http.MethodPost, "/tickets", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeBody(t, rec)["error"], tc.want)
		})
	}
}

func TestGetTicket_NotFound(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/tickets/TKT-20260101-DEADBEEF", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Ticket not found: TKT-20260101-DEADBEEF", decodeBody(t, rec)["error"])
}

func TestUpdateTicket(t *testing.T) {
	s, store := newTestServer(t, nil)
	ticket := &storage.Ticket{Title: "Printer jam", Description: "Floor 2 printer"}
	require.NoError(t, store.CreateTicket(context.Background(), ticket))

	rec := doJSON(t, s.Handler(), http.MethodPatch, "/tickets/"+ticket.ID, map[string]any{
		"status": storage.StatusInProgress,
		"note":   "Technician dispatched",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Ticket updated successfully", body["message"])

	updated := body["ticket"].(map[string]any)
	assert.Equal(t, storage.StatusInProgress, updated["status"])
	notes := updated["notes"].([]any)
	require.Len(t, notes, 1)
	assert.Equal(t, "Technician dispatched", notes[0].(map[string]any)["text"])
}

func TestUpdateTicket_NoFields(t *testing.T) {
	s, store := newTestServer(t, nil)
	ticket := &storage.Ticket{Title: "a", Description: "b"}
	require.NoError(t, store.CreateTicket(context.Background(), ticket))

	rec := doJSON(t, s.Handler(), http.MethodPatch, "/tickets/"+ticket.ID, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no updates provided", decodeBody(t, rec)["error"])
}

func TestUpdateTicket_InvalidStatus(t *testing.T) {
	s, store := newTestServer(t, nil)
	ticket := &storage.Ticket{Title: "a", Description: "b"}
	require.NoError(t, store.CreateTicket(context.Background(), ticket))

	rec := doJSON(t, s.Handler(), http.MethodPatch, "/tickets/"+ticket.ID, map[string]any{
		"status": "Done",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "invalid status")
}

func TestDeleteTicket(t *testing.T) {
	s, store := newTestServer(t, nil)
	ticket := &storage.Ticket{Title: "a", Description: "b"}
	require.NoError(t, store.CreateTicket(context.Background(), ticket))

	rec := doJSON(t, s.Handler(), http.MethodDelete, "/tickets/"+ticket.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/tickets/"+ticket.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTickets(t *testing.T) {
	s, store := newTestServer(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateTicket(ctx, &storage.Ticket{
			Title:       fmt.Sprintf("ticket %d", i),
			Description: "test",
			Status:      storage.StatusOpen,
		}))
	}

	rec := doJSON(t, s.Handler(), http.MethodGet, "/tickets?status=Open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(3), body["count"])
	assert.Len(t, body["tickets"], 3)
	_, hasKey := body["last_key"]
	assert.False(t, hasKey)
}

func TestListTickets_Empty(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/tickets", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(0), body["count"])
	tickets, ok := body["tickets"].([]any)
	require.True(t, ok)
	assert.Empty(t, tickets)
}

func TestListTickets_BadQuery(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := doJSON(t, s.Handler(), http.MethodGet, "/tickets?status=Weird", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/tickets?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "limit must be a positive integer", decodeBody(t, rec)["error"])
}

func TestTicketSummary(t *testing.T) {
	s, store := newTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, store.CreateTicket(ctx, &storage.Ticket{
		Title: "a", Description: "b", Priority: storage.PriorityCritical,
	}))

	rec := doJSON(t, s.Handler(), http.MethodGet, "/tickets/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["total_tickets"])
}

func TestInvoke_ExplicitTool(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/invoke", map[string]any{
		"tool_name": "create_ticket",
		"parameters": map[string]any{
			"title":       "Mail outage",
			"description": "Exchange is down",
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Ticket created successfully", decodeBody(t, rec)["message"])
}

func TestInvoke_UnknownTool(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/invoke", map[string]any{
		"tool_name": "reboot_server",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unknown tool: reboot_server", decodeBody(t, rec)["error"])
}

func TestInvoke_Inference(t *testing.T) {
	s, store := newTestServer(t, nil)
	ctx := context.Background()
	ticket := &storage.Ticket{Title: "a", Description: "b"}
	require.NoError(t, store.CreateTicket(ctx, ticket))

	// ID plus an update field infers update_ticket.
	rec := doJSON(t, s.Handler(), http.MethodPost, "/invoke", map[string]any{
		"ticket_id": ticket.ID,
		"status":    storage.StatusResolved,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ticket updated successfully", decodeBody(t, rec)["message"])

	// ID alone infers get_ticket.
	rec = doJSON(t, s.Handler(), http.MethodPost, "/invoke", map[string]any{
		"ticket_id": ticket.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ticket.ID, decodeBody(t, rec)["ticket_id"])

	// Title plus description infers create_ticket.
	rec = doJSON(t, s.Handler(), http.MethodPost, "/invoke", map[string]any{
		"title":       "New laptop request",
		"description": "Finance needs a replacement",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	// action=summary infers get_ticket_summary.
	rec = doJSON(t, s.Handler(), http.MethodPost, "/invoke", map[string]any{
		"action": "summary",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	_, hasTotal := decodeBody(t, rec)["total_tickets"]
	assert.True(t, hasTotal)

	// Anything else lists.
	rec = doJSON(t, s.Handler(), http.MethodPost, "/invoke", map[string]any{
		"status": storage.StatusResolved,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
}

func TestChat(t *testing.T) {
	chat := &fakeAgent{reply: &agent.Reply{
		Text:      "You have 2 open tickets.",
		ModelUsed: "ollama/test",
		Tier:      "cheap",
	}}
	s, _ := newTestServer(t, chat)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/chat", map[string]any{
		"message":    "how many open tickets",
		"session_id": "sess-1",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "You have 2 open tickets.", body["response"])
	assert.Equal(t, "sess-1", body["session_id"])
	assert.Equal(t, "how many open tickets", chat.lastQuery)
}

func TestChat_GeneratesSessionID(t *testing.T) {
	chat := &fakeAgent{reply: &agent.Reply{Text: "hi"}}
	s, _ := newTestServer(t, chat)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/chat", map[string]any{
		"message": "hello",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := decodeBody(t, rec)["session_id"].(string)
	assert.Len(t, sessionID, 26)
}

func TestChat_Validation(t *testing.T) {
	chat := &fakeAgent{reply: &agent.Reply{Text: "hi"}}
	s, _ := newTestServer(t, chat)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/chat", map[string]any{"message": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "message is required", decodeBody(t, rec)["error"])
}

func TestChat_NoAgent(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/chat", map[string]any{"message": "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestChatStream(t *testing.T) {
	chat := &fakeAgent{stream: []agent.StreamEvent{
		{Delta: "Hello"},
		{Delta: " there"},
		{Done: true, ModelUsed: "anthropic/test"},
	}}
	s, _ := newTestServer(t, chat)

	req := httptest.NewRequest(http.MethodGet, "/chat/stream?message=hello&session_id=sess-1", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: session\ndata: sess-1\n\n"))
	assert.Contains(t, body, `"delta":"Hello"`)
	assert.Contains(t, body, `"done":true`)
}

func TestChatReset(t *testing.T) {
	chat := &fakeAgent{}
	s, _ := newTestServer(t, chat)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/chat/reset", map[string]any{
		"session_id": "sess-1",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Conversation reset", decodeBody(t, rec)["message"])
	assert.Equal(t, []string{"sess-1"}, chat.resets)
}

func TestChatEnd(t *testing.T) {
	chat := &fakeAgent{}
	s, _ := newTestServer(t, chat)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/chat/end", map[string]any{
		"session_id": "sess-1",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Session ended", body["message"])
	assert.Equal(t, "Printer outage triage", body["summary"])
}

func TestKnowledgeSearchEndpoint(t *testing.T) {
	s, store := newTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, store.PutKnowledge(ctx, storage.NamespaceFacts, "vpn", "Office VPN runs on WireGuard"))

	rec := doJSON(t, s.Handler(), http.MethodGet, "/knowledge?query=wireguard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])

	// No matches is a normal empty answer.
	rec = doJSON(t, s.Handler(), http.MethodGet, "/knowledge?query=kubernetes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["count"])

	// Missing query is a client error.
	rec = doJSON(t, s.Handler(), http.MethodGet, "/knowledge", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutKnowledgeEndpoint(t *testing.T) {
	s, store := newTestServer(t, nil)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/knowledge", map[string]any{
		"key":     "backup-window",
		"content": "Backups run 01:00-03:00 UTC",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec2, err := store.GetKnowledge(context.Background(), storage.NamespaceFacts, "backup-window")
	require.NoError(t, err)
	assert.Equal(t, "Backups run 01:00-03:00 UTC", rec2.Content)
}

func TestInvoke_DeleteAndKnowledge(t *testing.T) {
	s, store := newTestServer(t, nil)
	ctx := context.Background()
	ticket := &storage.Ticket{Title: "a", Description: "b"}
	require.NoError(t, store.CreateTicket(ctx, ticket))
	require.NoError(t, store.PutKnowledge(ctx, storage.NamespaceFacts, "dns", "Internal DNS is 10.0.0.53"))

	rec := doJSON(t, s.Handler(), http.MethodPost, "/invoke", map[string]any{
		"tool_name":  "delete_ticket",
		"parameters": map[string]any{"ticket_id": ticket.ID},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ticket deleted", decodeBody(t, rec)["message"])

	// A bare query parameter infers knowledge search.
	rec = doJSON(t, s.Handler(), http.MethodPost, "/invoke", map[string]any{
		"query": "dns",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
}

func TestChatReset_MissingSession(t *testing.T) {
	chat := &fakeAgent{}
	s, _ := newTestServer(t, chat)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/chat/reset", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats_NoRouter(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := doJSON(t, s.Handler(), http.MethodGet, "/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSessions(t *testing.T) {
	s, store := newTestServer(t, nil)
	ctx := context.Background()

	msg := &storage.StoredMessage{SessionID: "sess-1", Role: "user", Content: "hello"}
	require.NoError(t, store.AppendMessage(ctx, msg))

	rec := doJSON(t, s.Handler(), http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decodeBody(t, rec)["sessions"].([]any)
	require.Len(t, sessions, 1)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/sessions/sess-1/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	messages := decodeBody(t, rec)["messages"].([]any)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].(map[string]any)["content"])
}
