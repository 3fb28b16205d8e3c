package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/deskhand/pkg/logging"
	"github.com/odvcencio/deskhand/pkg/storage"
)

// Result is the outcome of a tool invocation. Exactly one of Data and
// Error is meaningful, depending on Success.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func failure(msg string) Result {
	return Result{Success: false, Error: msg}
}

// Dispatcher validates tool parameters and executes them against the
// ticket API over HTTP.
type Dispatcher struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewDispatcher builds a Dispatcher targeting the given ticket API.
func NewDispatcher(endpoint, apiKey string, timeout time.Duration, logger *logging.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Dispatch validates the parameters and executes the named tool.
// Validation failures never hit the network.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, params map[string]any) Result {
	start := time.Now()

	var result Result
	switch name {
	case ToolCreateTicket:
		result = d.createTicket(ctx, params)
	case ToolGetTicket:
		result = d.getTicket(ctx, params)
	case ToolUpdateTicket:
		result = d.updateTicket(ctx, params)
	case ToolListTickets:
		result = d.listTickets(ctx, params)
	case ToolDeleteTicket:
		result = d.deleteTicket(ctx, params)
	case ToolTicketSummary:
		result = d.ticketSummary(ctx)
	case ToolSearchKnowledge:
		result = d.searchKnowledge(ctx, params)
	default:
		result = failure("Unknown tool: " + name)
	}

	d.logger.Info(logging.CategoryTool, "dispatch", "tool executed", map[string]any{
		"tool":        name,
		"success":     result.Success,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return result
}

func (d *Dispatcher) createTicket(ctx context.Context, params map[string]any) Result {
	title := stringParam(params, "title")
	description := stringParam(params, "description")
	if title == "" {
		return failure("title is required")
	}
	if description == "" {
		return failure("description is required")
	}
	if priority := stringParam(params, "priority"); priority != "" && !storage.ValidPriority(priority) {
		return failure(fmt.Sprintf("invalid priority %q, must be one of: %s", priority, strings.Join(storage.ValidPriorities, ", ")))
	}
	if category := stringParam(params, "category"); category != "" && !storage.ValidCategory(category) {
		return failure(fmt.Sprintf("invalid category %q, must be one of: %s", category, strings.Join(storage.ValidCategories, ", ")))
	}

	body := map[string]any{
		"title":       title,
		"description": description,
	}
	for _, key := range []string{"priority", "category", "customer_id"} {
		if v := stringParam(params, key); v != "" {
			body[key] = v
		}
	}

	return d.call(ctx, http.MethodPost, "/tickets", nil, body)
}

func (d *Dispatcher) getTicket(ctx context.Context, params map[string]any) Result {
	ticketID := stringParam(params, "ticket_id")
	if ticketID == "" {
		return failure("ticket_id is required")
	}
	return d.call(ctx, http.MethodGet, "/tickets/"+url.PathEscape(ticketID), nil, nil)
}

func (d *Dispatcher) updateTicket(ctx context.Context, params map[string]any) Result {
	ticketID := stringParam(params, "ticket_id")
	if ticketID == "" {
		return failure("ticket_id is required")
	}
	if status := stringParam(params, "status"); status != "" && !storage.ValidStatus(status) {
		return failure(fmt.Sprintf("invalid status %q, must be one of: %s", status, strings.Join(storage.ValidStatuses, ", ")))
	}
	if priority := stringParam(params, "priority"); priority != "" && !storage.ValidPriority(priority) {
		return failure(fmt.Sprintf("invalid priority %q, must be one of: %s", priority, strings.Join(storage.ValidPriorities, ", ")))
	}

	body := map[string]any{}
	for _, key := range []string{"status", "priority", "note", "assigned_to"} {
		if v := stringParam(params, key); v != "" {
			body[key] = v
		}
	}
	if len(body) == 0 {
		return failure("no updates provided; set status, priority, note or assigned_to")
	}

	return d.call(ctx, http.MethodPatch, "/tickets/"+url.PathEscape(ticketID), nil, body)
}

func (d *Dispatcher) listTickets(ctx context.Context, params map[string]any) Result {
	if status := stringParam(params, "status"); status != "" && !storage.ValidStatus(status) {
		return failure(fmt.Sprintf("invalid status %q, must be one of: %s", status, strings.Join(storage.ValidStatuses, ", ")))
	}
	if priority := stringParam(params, "priority"); priority != "" && !storage.ValidPriority(priority) {
		return failure(fmt.Sprintf("invalid priority %q, must be one of: %s", priority, strings.Join(storage.ValidPriorities, ", ")))
	}

	query := url.Values{}
	for _, key := range []string{"status", "priority", "customer_id"} {
		if v := stringParam(params, key); v != "" {
			query.Set(key, v)
		}
	}
	if limit := intParam(params, "limit"); limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	return d.call(ctx, http.MethodGet, "/tickets", query, nil)
}

func (d *Dispatcher) deleteTicket(ctx context.Context, params map[string]any) Result {
	ticketID := stringParam(params, "ticket_id")
	if ticketID == "" {
		return failure("ticket_id is required")
	}
	return d.call(ctx, http.MethodDelete, "/tickets/"+url.PathEscape(ticketID), nil, nil)
}

func (d *Dispatcher) ticketSummary(ctx context.Context) Result {
	return d.call(ctx, http.MethodGet, "/tickets/summary", nil, nil)
}

func (d *Dispatcher) searchKnowledge(ctx context.Context, params map[string]any) Result {
	q := stringParam(params, "query")
	if q == "" {
		return failure("query is required")
	}

	query := url.Values{}
	query.Set("query", q)
	if limit := intParam(params, "limit"); limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	return d.call(ctx, http.MethodGet, "/knowledge", query, nil)
}

func (d *Dispatcher) call(ctx context.Context, method, path string, query url.Values, body any) Result {
	reqURL := d.endpoint + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return failure("encode request: " + err.Error())
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return failure("build request: " + err.Error())
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if d.apiKey != "" {
		req.Header.Set("X-Api-Key", d.apiKey)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return failure("API request timed out")
		}
		return failure("API request failed: " + err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure("read response: " + err.Error())
	}

	if resp.StatusCode >= 400 {
		return failure(errorFromBody(resp.StatusCode, raw))
	}

	return Result{Success: true, Data: raw}
}

// errorFromBody extracts the error field from a JSON error payload,
// falling back to the raw body.
func errorFromBody(status int, body []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fmt.Sprintf("API returned status %d", status)
	}
	return text
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return 0
}
