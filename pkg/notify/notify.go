// Package notify publishes ticket lifecycle events to external channels.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/odvcencio/deskhand/pkg/logging"
	"github.com/odvcencio/deskhand/pkg/storage"
)

// EventType identifies a ticket lifecycle event.
type EventType string

const (
	EventTicketCreated  EventType = "ticket.created"
	EventTicketUpdated  EventType = "ticket.updated"
	EventTicketResolved EventType = "ticket.resolved"
)

// Event is a ticket lifecycle notification.
type Event struct {
	Type      EventType       `json:"type"`
	TicketID  string          `json:"ticket_id"`
	Title     string          `json:"title"`
	Status    string          `json:"status"`
	Priority  string          `json:"priority"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Ticket    *storage.Ticket `json:"ticket,omitempty"`
}

// JSON renders the event as JSON.
func (e *Event) JSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

// Publisher delivers events to one channel.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// Fanout delivers events to all configured publishers. Delivery failures
// are logged, never propagated to the caller.
type Fanout struct {
	publishers []Publisher
	logger     *logging.Logger
}

// NewFanout builds a Fanout over the given publishers.
func NewFanout(logger *logging.Logger, publishers ...Publisher) *Fanout {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Fanout{publishers: publishers, logger: logger}
}

// TicketEvent builds and publishes an event for a ticket.
func (f *Fanout) TicketEvent(ctx context.Context, eventType EventType, t *storage.Ticket, message string) {
	event := &Event{
		Type:      eventType,
		TicketID:  t.ID,
		Title:     t.Title,
		Status:    t.Status,
		Priority:  t.Priority,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Ticket:    t,
	}

	for _, pub := range f.publishers {
		if err := pub.Publish(ctx, event); err != nil {
			f.logger.Warn(logging.CategoryNotify, "publish_failed", err.Error(), map[string]any{
				"publisher": pub.Name(),
				"ticket_id": t.ID,
			})
		}
	}
}

// Close closes all publishers.
func (f *Fanout) Close() error {
	var first error
	for _, pub := range f.publishers {
		if err := pub.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
