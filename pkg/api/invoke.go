package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/odvcencio/deskhand/pkg/notify"
	"github.com/odvcencio/deskhand/pkg/storage"
	"github.com/odvcencio/deskhand/pkg/tools"
)

type invokeRequest struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

// handleInvoke is the tool-style entry point. The caller either names a
// tool explicitly or sends bare parameters and lets the handler infer the
// operation from their shape.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req := invokeRequest{Parameters: map[string]any{}}
	if name, ok := raw["tool_name"].(string); ok && name != "" {
		req.ToolName = name
		if params, ok := raw["parameters"].(map[string]any); ok {
			req.Parameters = params
		}
	} else {
		req.Parameters = raw
		req.ToolName = inferTool(raw)
	}

	switch req.ToolName {
	case tools.ToolCreateTicket:
		s.invokeCreate(w, r, req.Parameters)
	case tools.ToolGetTicket:
		s.invokeGet(w, r, req.Parameters)
	case tools.ToolUpdateTicket:
		s.invokeUpdate(w, r, req.Parameters)
	case tools.ToolListTickets:
		s.invokeList(w, r, req.Parameters)
	case tools.ToolDeleteTicket:
		s.invokeDelete(w, r, req.Parameters)
	case tools.ToolTicketSummary:
		s.handleTicketSummary(w, r)
	case tools.ToolSearchKnowledge:
		s.invokeSearchKnowledge(w, r, req.Parameters)
	default:
		writeError(w, http.StatusBadRequest, "Unknown tool: "+req.ToolName)
	}
}

// inferTool guesses the operation from bare parameters: an ID with update
// fields means update, an ID alone means get, title plus description
// means create, a query means knowledge search, action=summary means
// summary, anything else lists.
func inferTool(params map[string]any) string {
	ticketID := firstString(params, "ticket_id", "id")
	if ticketID != "" {
		for _, key := range []string{"status", "priority", "note", "assigned_to"} {
			if _, ok := params[key]; ok {
				return tools.ToolUpdateTicket
			}
		}
		return tools.ToolGetTicket
	}

	if firstString(params, "title") != "" && firstString(params, "description") != "" {
		return tools.ToolCreateTicket
	}

	if firstString(params, "query") != "" {
		return tools.ToolSearchKnowledge
	}

	if action, ok := params["action"].(string); ok && strings.EqualFold(action, "summary") {
		return tools.ToolTicketSummary
	}

	return tools.ToolListTickets
}

func (s *Server) invokeCreate(w http.ResponseWriter, r *http.Request, params map[string]any) {
	title := firstString(params, "title")
	description := firstString(params, "description")
	if title == "" || description == "" {
		writeError(w, http.StatusBadRequest, "title and description are required")
		return
	}

	priority := firstString(params, "priority")
	if priority != "" && !storage.ValidPriority(priority) {
		writeError(w, http.StatusBadRequest, invalidEnumMessage("priority", priority, storage.ValidPriorities))
		return
	}
	category := firstString(params, "category")
	if category != "" && !storage.ValidCategory(category) {
		writeError(w, http.StatusBadRequest, invalidEnumMessage("category", category, storage.ValidCategories))
		return
	}

	ticket := &storage.Ticket{
		Title:       title,
		Description: description,
		Priority:    priority,
		Category:    category,
		CustomerID:  firstString(params, "customer_id"),
		AssignedTo:  firstString(params, "assigned_to"),
	}
	if err := s.store.CreateTicket(r.Context(), ticket); err != nil {
		s.logger.Error("storage", "create_ticket_failed", err.Error(), nil)
		writeError(w, http.StatusInternalServerError, "failed to create ticket")
		return
	}

	if s.notifier != nil {
		s.notifier.TicketEvent(r.Context(), notify.EventTicketCreated, ticket, "New ticket created")
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Ticket created successfully",
		"ticket":  ticket,
	})
}

func (s *Server) invokeGet(w http.ResponseWriter, r *http.Request, params map[string]any) {
	id := firstString(params, "ticket_id", "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "ticket_id is required")
		return
	}

	ticket, err := s.store.GetTicket(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Ticket not found: "+id)
			return
		}
		s.logger.Error("storage", "get_ticket_failed", err.Error(), nil)
		writeError(w, http.StatusInternalServerError, "failed to load ticket")
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (s *Server) invokeUpdate(w http.ResponseWriter, r *http.Request, params map[string]any) {
	id := firstString(params, "ticket_id", "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "ticket_id is required")
		return
	}

	var upd storage.TicketUpdate
	if status := firstString(params, "status"); status != "" {
		if !storage.ValidStatus(status) {
			writeError(w, http.StatusBadRequest, invalidEnumMessage("status", status, storage.ValidStatuses))
			return
		}
		upd.Status = &status
	}
	if priority := firstString(params, "priority"); priority != "" {
		if !storage.ValidPriority(priority) {
			writeError(w, http.StatusBadRequest, invalidEnumMessage("priority", priority, storage.ValidPriorities))
			return
		}
		upd.Priority = &priority
	}
	if assignedTo := firstString(params, "assigned_to"); assignedTo != "" {
		upd.AssignedTo = &assignedTo
	}
	upd.Note = firstString(params, "note")
	if upd.Status == nil && upd.Priority == nil && upd.AssignedTo == nil && upd.Note == "" {
		writeError(w, http.StatusBadRequest, "no updates provided")
		return
	}

	ticket, err := s.store.UpdateTicket(r.Context(), id, upd)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Ticket not found: "+id)
			return
		}
		s.logger.Error("storage", "update_ticket_failed", err.Error(), nil)
		writeError(w, http.StatusInternalServerError, "failed to update ticket")
		return
	}

	if s.notifier != nil {
		eventType := notify.EventTicketUpdated
		if ticket.Status == storage.StatusResolved || ticket.Status == storage.StatusClosed {
			eventType = notify.EventTicketResolved
		}
		s.notifier.TicketEvent(r.Context(), eventType, ticket, "Ticket updated")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Ticket updated successfully",
		"ticket":  ticket,
	})
}

func (s *Server) invokeList(w http.ResponseWriter, r *http.Request, params map[string]any) {
	filter := storage.TicketFilter{
		Status:     firstString(params, "status"),
		Priority:   firstString(params, "priority"),
		CustomerID: firstString(params, "customer_id"),
		AssignedTo: firstString(params, "assigned_to"),
		LastKey:    firstString(params, "last_key"),
	}
	if filter.Status != "" && !storage.ValidStatus(filter.Status) {
		writeError(w, http.StatusBadRequest, invalidEnumMessage("status", filter.Status, storage.ValidStatuses))
		return
	}
	if filter.Priority != "" && !storage.ValidPriority(filter.Priority) {
		writeError(w, http.StatusBadRequest, invalidEnumMessage("priority", filter.Priority, storage.ValidPriorities))
		return
	}
	if limit, ok := params["limit"].(float64); ok && limit > 0 {
		filter.Limit = int(limit)
	}

	tickets, lastKey, err := s.store.ListTickets(r.Context(), filter)
	if err != nil {
		s.logger.Error("storage", "list_tickets_failed", err.Error(), nil)
		writeError(w, http.StatusInternalServerError, "failed to list tickets")
		return
	}
	if tickets == nil {
		tickets = []storage.Ticket{}
	}

	resp := map[string]any{
		"tickets": tickets,
		"count":   len(tickets),
	}
	if lastKey != "" {
		resp["last_key"] = lastKey
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) invokeDelete(w http.ResponseWriter, r *http.Request, params map[string]any) {
	id := firstString(params, "ticket_id", "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "ticket_id is required")
		return
	}

	if err := s.store.DeleteTicket(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Ticket not found: "+id)
			return
		}
		s.logger.Error("storage", "delete_ticket_failed", err.Error(), nil)
		writeError(w, http.StatusInternalServerError, "failed to delete ticket")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Ticket deleted"})
}

func (s *Server) invokeSearchKnowledge(w http.ResponseWriter, r *http.Request, params map[string]any) {
	query := firstString(params, "query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	limit := 0
	if n, ok := params["limit"].(float64); ok && n > 0 {
		limit = int(n)
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

func firstString(params map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := params[key].(string); ok {
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}
