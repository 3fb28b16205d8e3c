package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ticket statuses.
const (
	StatusOpen       = "Open"
	StatusInProgress = "In Progress"
	StatusResolved   = "Resolved"
	StatusClosed     = "Closed"
)

// Ticket priorities.
const (
	PriorityLow      = "Low"
	PriorityMedium   = "Medium"
	PriorityHigh     = "High"
	PriorityCritical = "Critical"
)

// ValidStatuses lists the allowed ticket statuses.
var ValidStatuses = []string{StatusOpen, StatusInProgress, StatusResolved, StatusClosed}

// ValidPriorities lists the allowed ticket priorities.
var ValidPriorities = []string{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// ValidCategories lists the allowed ticket categories.
var ValidCategories = []string{"Network", "Hardware", "Software", "Security", "General"}

// Ticket is a support ticket.
type Ticket struct {
	ID          string    `json:"ticket_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	Category    string    `json:"category"`
	CustomerID  string    `json:"customer_id,omitempty"`
	AssignedTo  string    `json:"assigned_to,omitempty"`
	Notes       []Note    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Note is an append-only annotation on a ticket.
type Note struct {
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

// TicketUpdate carries the mutable fields of a ticket. Nil pointers leave
// the field unchanged; Note appends.
type TicketUpdate struct {
	Title       *string
	Description *string
	Status      *string
	Priority    *string
	Category    *string
	AssignedTo  *string
	Note        string
	NoteAuthor  string
}

// TicketFilter narrows ListTickets results.
type TicketFilter struct {
	Status     string
	Priority   string
	Category   string
	CustomerID string
	AssignedTo string
	Limit      int
	LastKey    string
}

// NewTicketID generates a ticket identifier of the form
// TKT-YYYYMMDD-XXXXXXXX.
func NewTicketID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("TKT-%s-%s", now.UTC().Format("20060102"), suffix)
}

// ValidStatus reports whether s is an allowed ticket status.
func ValidStatus(s string) bool { return contains(ValidStatuses, s) }

// ValidPriority reports whether p is an allowed ticket priority.
func ValidPriority(p string) bool { return contains(ValidPriorities, p) }

// ValidCategory reports whether c is an allowed ticket category.
func ValidCategory(c string) bool { return contains(ValidCategories, c) }

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// CreateTicket inserts a new ticket. Zero-value status, priority and
// category fall back to Open/Medium/General.
func (s *Store) CreateTicket(ctx context.Context, t *Ticket) error {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = NewTicketID(now)
	}
	if t.Status == "" {
		t.Status = StatusOpen
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Category == "" {
		t.Category = "General"
	}
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, title, description, status, priority, category, customer_id, assigned_to, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, t.Status, t.Priority, t.Category, t.CustomerID, t.AssignedTo, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}

	for i := range t.Notes {
		if err := s.appendNote(ctx, t.ID, t.Notes[i].Text, t.Notes[i].Author, now); err != nil {
			return err
		}
		t.Notes[i].Timestamp = now
	}
	return nil
}

// GetTicket loads a ticket with its notes. Returns ErrNotFound when the
// ticket does not exist.
func (s *Store) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, status, priority, category, customer_id, assigned_to, created_at, updated_at
		FROM tickets WHERE id = ?`, id)

	t, err := scanTicket(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query ticket: %w", err)
	}

	notes, err := s.listNotes(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Notes = notes
	return t, nil
}

// UpdateTicket applies a partial update and bumps updated_at. Returns the
// updated ticket, or ErrNotFound.
func (s *Store) UpdateTicket(ctx context.Context, id string, upd TicketUpdate) (*Ticket, error) {
	sets := []string{"updated_at = ?"}
	now := time.Now().UTC()
	args := []any{now}

	appendSet := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, *v)
		}
	}
	appendSet("title", upd.Title)
	appendSet("description", upd.Description)
	appendSet("status", upd.Status)
	appendSet("priority", upd.Priority)
	appendSet("category", upd.Category)
	appendSet("assigned_to", upd.AssignedTo)

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE tickets SET %s WHERE id = ?", strings.Join(sets, ", ")), args...)
	if err != nil {
		return nil, fmt.Errorf("update ticket: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	if upd.Note != "" {
		author := upd.NoteAuthor
		if author == "" {
			author = "system"
		}
		if err := s.appendNote(ctx, id, upd.Note, author, now); err != nil {
			return nil, err
		}
	}

	return s.GetTicket(ctx, id)
}

// DeleteTicket removes a ticket and its notes.
func (s *Store) DeleteTicket(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tickets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddNote appends a note to a ticket and bumps updated_at.
func (s *Store) AddNote(ctx context.Context, ticketID, text, author string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, "UPDATE tickets SET updated_at = ? WHERE id = ?", now, ticketID)
	if err != nil {
		return fmt.Errorf("touch ticket: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return s.appendNote(ctx, ticketID, text, author, now)
}

func (s *Store) appendNote(ctx context.Context, ticketID, text, author string, at time.Time) error {
	if author == "" {
		author = "system"
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO ticket_notes (ticket_id, note, author, created_at) VALUES (?, ?, ?, ?)",
		ticketID, text, author, at)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *Store) listNotes(ctx context.Context, ticketID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT note, author, created_at FROM ticket_notes WHERE ticket_id = ? ORDER BY id", ticketID)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.Text, &n.Author, &n.Timestamp); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

const maxListLimit = 100

// ListTickets returns tickets matching the filter, ordered by ID, with
// cursor pagination. The returned key is empty when there are no more
// pages.
func (s *Store) ListTickets(ctx context.Context, f TicketFilter) ([]Ticket, string, error) {
	limit := f.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	where := []string{"1=1"}
	var args []any
	addEq := func(col, v string) {
		if v != "" {
			where = append(where, col+" = ?")
			args = append(args, v)
		}
	}
	addEq("status", f.Status)
	addEq("priority", f.Priority)
	addEq("category", f.Category)
	addEq("customer_id", f.CustomerID)
	addEq("assigned_to", f.AssignedTo)

	if f.LastKey != "" {
		where = append(where, "id > ?")
		args = append(args, f.LastKey)
	}

	// Fetch one extra row to detect whether another page exists.
	args = append(args, limit+1)
	query := fmt.Sprintf(`
		SELECT id, title, description, status, priority, category, customer_id, assigned_to, created_at, updated_at
		FROM tickets WHERE %s ORDER BY id LIMIT ?`, strings.Join(where, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, "", err
		}
		tickets = append(tickets, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextKey := ""
	if len(tickets) > limit {
		tickets = tickets[:limit]
		nextKey = tickets[limit-1].ID
	}
	return tickets, nextKey, nil
}

// TicketSummary aggregates the ticket backlog.
type TicketSummary struct {
	Total      int            `json:"total_tickets"`
	ByStatus   map[string]int `json:"by_status"`
	ByPriority map[string]int `json:"by_priority"`
	ByCategory map[string]int `json:"by_category"`
	Recent     []Ticket       `json:"recent_tickets"`
}

// Summarize computes counts by status, priority and category, plus the
// five most recent tickets created in the last 24 hours.
func (s *Store) Summarize(ctx context.Context) (*TicketSummary, error) {
	summary := &TicketSummary{
		ByStatus:   make(map[string]int),
		ByPriority: make(map[string]int),
		ByCategory: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, priority, category FROM tickets")
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, priority, category string
		if err := rows.Scan(&status, &priority, &category); err != nil {
			return nil, err
		}
		summary.Total++
		summary.ByStatus[status]++
		summary.ByPriority[priority]++
		summary.ByCategory[category]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	recent, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, status, priority, category, customer_id, assigned_to, created_at, updated_at
		FROM tickets WHERE created_at >= ? ORDER BY created_at DESC LIMIT 5`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query recent tickets: %w", err)
	}
	defer recent.Close()

	for recent.Next() {
		t, err := scanTicket(recent)
		if err != nil {
			return nil, err
		}
		summary.Recent = append(summary.Recent, *t)
	}
	return summary, recent.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.Category,
		&t.CustomerID, &t.AssignedTo, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
