package tools

import (
	"github.com/odvcencio/deskhand/pkg/model"
	"github.com/odvcencio/deskhand/pkg/storage"
)

// Tool names dispatched by the agent.
const (
	ToolCreateTicket    = "create_ticket"
	ToolGetTicket       = "get_ticket"
	ToolUpdateTicket    = "update_ticket"
	ToolListTickets     = "list_tickets"
	ToolDeleteTicket    = "delete_ticket"
	ToolTicketSummary   = "get_ticket_summary"
	ToolSearchKnowledge = "search_knowledge_base"
)

// Definition describes a tool offered to the model.
type Definition struct {
	Name        string
	Description string
	Schema      Schema
}

// Definitions returns the ticket tools in dispatch order.
func Definitions() []Definition {
	return []Definition{
		{
			Name:        ToolCreateTicket,
			Description: "Create a new support ticket",
			Schema: ObjectSchema(map[string]Property{
				"title":       StringProperty("Short summary of the issue"),
				"description": StringProperty("Full description of the issue"),
				"priority":    StringEnumProperty("Ticket priority", storage.ValidPriorities...),
				"category":    StringEnumProperty("Ticket category", storage.ValidCategories...),
				"customer_id": StringProperty("Identifier of the affected customer"),
			}, "title", "description"),
		},
		{
			Name:        ToolGetTicket,
			Description: "Fetch a single ticket by its ID, including notes",
			Schema: ObjectSchema(map[string]Property{
				"ticket_id": StringProperty("Ticket ID, e.g. TKT-20250101-AB12CD34"),
			}, "ticket_id"),
		},
		{
			Name:        ToolUpdateTicket,
			Description: "Update a ticket's status, priority or assignee, or append a note",
			Schema: ObjectSchema(map[string]Property{
				"ticket_id":   StringProperty("Ticket ID to update"),
				"status":      StringEnumProperty("New status", storage.ValidStatuses...),
				"priority":    StringEnumProperty("New priority", storage.ValidPriorities...),
				"note":        StringProperty("Note to append to the ticket"),
				"assigned_to": StringProperty("Technician to assign"),
			}, "ticket_id"),
		},
		{
			Name:        ToolListTickets,
			Description: "List tickets, optionally filtered by status, priority or customer",
			Schema: ObjectSchema(map[string]Property{
				"status":      StringEnumProperty("Filter by status", storage.ValidStatuses...),
				"priority":    StringEnumProperty("Filter by priority", storage.ValidPriorities...),
				"customer_id": StringProperty("Filter by customer"),
				"limit":       IntProperty("Maximum tickets to return (default 20, max 100)"),
			}),
		},
		{
			Name:        ToolDeleteTicket,
			Description: "Delete a ticket permanently",
			Schema: ObjectSchema(map[string]Property{
				"ticket_id": StringProperty("Ticket ID to delete"),
			}, "ticket_id"),
		},
		{
			Name:        ToolTicketSummary,
			Description: "Summarize the ticket backlog: counts by status, priority and category, plus recent tickets",
			Schema:      ObjectSchema(map[string]Property{}),
		},
		{
			Name:        ToolSearchKnowledge,
			Description: "Search saved notes, facts and past session summaries",
			Schema: ObjectSchema(map[string]Property{
				"query": StringProperty("Free-text search query"),
				"limit": IntProperty("Maximum results to return (default 10)"),
			}, "query"),
		},
	}
}

// ModelDefinitions renders the tools in the shape providers expect.
func ModelDefinitions() []model.ToolDefinition {
	defs := Definitions()
	out := make([]model.ToolDefinition, 0, len(defs))
	for _, def := range defs {
		out = append(out, model.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.Schema.ToMap(),
		})
	}
	return out
}
