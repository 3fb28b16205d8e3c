package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/deskhand/pkg/notify"
	"github.com/odvcencio/deskhand/pkg/storage"
)

type createTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Category    string `json:"category"`
	CustomerID  string `json:"customer_id"`
	AssignedTo  string `json:"assigned_to"`
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Description == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}
	if req.Priority != "" && !storage.ValidPriority(req.Priority) {
		writeError(w, http.StatusBadRequest, invalidEnumMessage("priority", req.Priority, storage.ValidPriorities))
		return
	}
	if req.Category != "" && !storage.ValidCategory(req.Category) {
		writeError(w, http.StatusBadRequest, invalidEnumMessage("category", req.Category, storage.ValidCategories))
		return
	}

	ticket := &storage.Ticket{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Category:    req.Category,
		CustomerID:  req.CustomerID,
		AssignedTo:  req.AssignedTo,
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

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "ticketID"))

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

type updateTicketRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Priority    *string `json:"priority"`
	Category    *string `json:"category"`
	AssignedTo  *string `json:"assigned_to"`
	Note        string  `json:"note"`
	NoteAuthor  string  `json:"note_author"`
}

func (s *Server) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "ticketID"))

	var req updateTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Status != nil && !storage.ValidStatus(*req.Status) {
		writeError(w, http.StatusBadRequest, invalidEnumMessage("status", *req.Status, storage.ValidStatuses))
		return
	}
	if req.Priority != nil && !storage.ValidPriority(*req.Priority) {
		writeError(w, http.StatusBadRequest, invalidEnumMessage("priority", *req.Priority, storage.ValidPriorities))
		return
	}
	if req.Category != nil && !storage.ValidCategory(*req.Category) {
		writeError(w, http.StatusBadRequest, invalidEnumMessage("category", *req.Category, storage.ValidCategories))
		return
	}
	if req.Title == nil && req.Description == nil && req.Status == nil &&
		req.Priority == nil && req.Category == nil && req.AssignedTo == nil && req.Note == "" {
		writeError(w, http.StatusBadRequest, "no updates provided")
		return
	}

	ticket, err := s.store.UpdateTicket(r.Context(), id, storage.TicketUpdate{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		Category:    req.Category,
		AssignedTo:  req.AssignedTo,
		Note:        req.Note,
		NoteAuthor:  req.NoteAuthor,
	})
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

func (s *Server) handleDeleteTicket(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "ticketID"))

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

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := storage.TicketFilter{
		Status:     q.Get("status"),
		Priority:   q.Get("priority"),
		Category:   q.Get("category"),
		CustomerID: q.Get("customer_id"),
		AssignedTo: q.Get("assigned_to"),
		LastKey:    q.Get("last_key"),
	}
	if filter.Status != "" && !storage.ValidStatus(filter.Status) {
		writeError(w, http.StatusBadRequest, invalidEnumMessage("status", filter.Status, storage.ValidStatuses))
		return
	}
	if filter.Priority != "" && !storage.ValidPriority(filter.Priority) {
		writeError(w, http.StatusBadRequest, invalidEnumMessage("priority", filter.Priority, storage.ValidPriorities))
		return
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
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

func (s *Server) handleTicketSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.Summarize(r.Context())
	if err != nil {
		s.logger.Error("storage", "summary_failed", err.Error(), nil)
		writeError(w, http.StatusInternalServerError, "failed to summarize tickets")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func invalidEnumMessage(field, value string, allowed []string) string {
	return fmt.Sprintf("invalid %s %q, must be one of: %s", field, value, strings.Join(allowed, ", "))
}
