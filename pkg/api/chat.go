package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/deskhand/pkg/memory"
	"github.com/odvcencio/deskhand/pkg/storage"
)

type chatRequest struct {
	Message    string `json:"message"`
	SessionID  string `json:"session_id"`
	ForceModel string `json:"force_model"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = memory.NewSessionID()
	}

	reply, err := s.agent.Respond(r.Context(), req.SessionID, req.Message, req.ForceModel)
	if err != nil {
		s.logger.Error("api", "chat_failed", err.Error(), map[string]any{"session_id": req.SessionID})
		writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

// handleChatStream streams the reply as Server-Sent Events. Each event is
// a JSON StreamEvent; the final one has done set.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}

	message := strings.TrimSpace(r.URL.Query().Get("message"))
	if message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = memory.NewSessionID()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, err := s.agent.RespondStream(r.Context(), sessionID, message)
	if err != nil {
		s.logger.Error("api", "stream_failed", err.Error(), map[string]any{"session_id": sessionID})
		writeError(w, http.StatusInternalServerError, "failed to start stream")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: session\ndata: %s\n\n", sessionID)
	flusher.Flush()

	for event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

type resetRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleChatReset(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}

	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	if err := s.agent.Reset(r.Context(), req.SessionID); err != nil {
		s.logger.Error("api", "reset_failed", err.Error(), map[string]any{"session_id": req.SessionID})
		writeError(w, http.StatusInternalServerError, "failed to reset session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation reset"})
}

func (s *Server) handleChatEnd(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}

	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	summary, err := s.agent.EndSession(r.Context(), req.SessionID)
	if err != nil {
		s.logger.Error("api", "end_session_failed", err.Error(), map[string]any{"session_id": req.SessionID})
		writeError(w, http.StatusInternalServerError, "failed to end session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Session ended",
		"summary": summary,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		writeError(w, http.StatusServiceUnavailable, "routing stats are not available")
		return
	}
	writeJSON(w, http.StatusOK, s.router.Stats())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context(), 0)
	if err != nil {
		s.logger.Error("storage", "list_sessions_failed", err.Error(), nil)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []storage.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := s.store.GetMessages(r.Context(), sessionID, 0)
	if err != nil {
		s.logger.Error("storage", "get_messages_failed", err.Error(), nil)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if messages == nil {
		messages = []storage.StoredMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}
