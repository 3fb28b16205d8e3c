package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/odvcencio/deskhand/pkg/storage"
)

// handleSearchKnowledge serves the knowledge-search backend: free-text
// substring matching over stored facts and session summaries. An empty
// result set is a normal answer.
func (s *Server) handleSearchKnowledge(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.store.SearchKnowledge(r.Context(), query, limit)
	if err != nil {
		s.logger.Error("storage", "search_knowledge_failed", err.Error(), nil)
		writeError(w, http.StatusInternalServerError, "failed to search knowledge")
		return
	}
	if records == nil {
		records = []storage.KnowledgeRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": records,
		"count":   len(records),
	})
}

type putKnowledgeRequest struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Content   string `json:"content"`
}

func (s *Server) handlePutKnowledge(w http.ResponseWriter, r *http.Request) {
	var req putKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Namespace == "" {
		req.Namespace = storage.NamespaceFacts
	}
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	if err := s.store.PutKnowledge(r.Context(), req.Namespace, req.Key, req.Content); err != nil {
		s.logger.Error("storage", "put_knowledge_failed", err.Error(), nil)
		writeError(w, http.StatusInternalServerError, "failed to store knowledge")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message": "Knowledge stored"})
}
