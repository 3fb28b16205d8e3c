// Package agent orchestrates a support conversation: it records turns,
// routes each query to a model tier, and drives the tool loop for
// ticket operations.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/odvcencio/deskhand/pkg/logging"
	"github.com/odvcencio/deskhand/pkg/memory"
	"github.com/odvcencio/deskhand/pkg/model"
	"github.com/odvcencio/deskhand/pkg/router"
	"github.com/odvcencio/deskhand/pkg/tools"
)

// maxToolIterations caps the dispatch loop for a single query.
const maxToolIterations = 10

const systemPrompt = `You are an IT support assistant for a managed service provider.
You help technicians and customers manage support tickets: creating them, checking status, updating priority and assignment, and summarizing the backlog.
Use the available tools for any ticket operation. Be concise and factual. When a tool fails, report the failure instead of guessing.`

// ModelClient is the slice of the model manager the agent needs.
type ModelClient interface {
	Invoke(ctx context.Context, tier model.Tier, req model.InvokeRequest) (*model.InvokeResponse, error)
	InvokeStream(ctx context.Context, tier model.Tier, req model.InvokeRequest) (<-chan model.StreamChunk, <-chan error)
	ModelID(tier model.Tier) string
}

// ToolDispatcher executes a named tool.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, name string, params map[string]any) tools.Result
}

// Agent ties memory, routing, models and tools together.
type Agent struct {
	models     ModelClient
	router     *router.Router
	memory     *memory.Manager
	dispatcher ToolDispatcher
	logger     *logging.Logger
}

// New creates an Agent.
func New(models ModelClient, rt *router.Router, mem *memory.Manager, dispatcher ToolDispatcher, logger *logging.Logger) *Agent {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Agent{
		models:     models,
		router:     rt,
		memory:     mem,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Reply is the outcome of one conversation turn.
type Reply struct {
	Text       string `json:"response"`
	ModelUsed  string `json:"model_used"`
	Tier       string `json:"tier"`
	Reason     string `json:"routing_reason"`
	ToolCalls  int    `json:"tool_calls"`
	SessionID  string `json:"session_id"`
	InputToks  int    `json:"input_tokens,omitempty"`
	OutputToks int    `json:"output_tokens,omitempty"`
}

// Respond handles a single user query. Errors are folded into an apology
// reply so the conversation stays coherent; the apology is recorded as
// the assistant turn.
func (a *Agent) Respond(ctx context.Context, sessionID, query, force string) (*Reply, error) {
	window, err := a.memory.Window(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history := window.Context()

	if err := a.memory.Record(ctx, sessionID, "user", query, ""); err != nil {
		return nil, err
	}

	// Context length includes the user turn just recorded.
	decision := a.router.Route(ctx, query, len(history)+1, force)
	modelID := a.models.ModelID(decision.Tier)

	reply, err := a.converse(ctx, history, decision.Tier, query)
	if err != nil {
		apology := fmt.Sprintf("I apologize, but I encountered an error: %v", err)
		a.logger.Error(logging.CategoryConversation, "respond_failed", apology, map[string]any{
			"session_id": sessionID,
			"tier":       string(decision.Tier),
		})
		if recErr := a.memory.Record(ctx, sessionID, "assistant", apology, modelID); recErr != nil {
			return nil, recErr
		}
		return &Reply{
			Text:      apology,
			ModelUsed: modelID,
			Tier:      string(decision.Tier),
			Reason:    decision.Reason,
			SessionID: sessionID,
		}, nil
	}

	if err := a.memory.Record(ctx, sessionID, "assistant", reply.Text, modelID); err != nil {
		return nil, err
	}

	reply.ModelUsed = modelID
	reply.Tier = string(decision.Tier)
	reply.Reason = decision.Reason
	reply.SessionID = sessionID
	return reply, nil
}

// converse runs the model, dispatching tools until the model stops asking
// for them. Tools are only offered to the capable tier.
func (a *Agent) converse(ctx context.Context, history []memory.Turn, tier model.Tier, query string) (*Reply, error) {
	messages := historyMessages(history, query)

	req := model.InvokeRequest{
		System:   systemPrompt,
		Messages: messages,
	}
	if tier == model.TierCapable {
		req.Tools = tools.ModelDefinitions()
	}

	toolCalls := 0
	var usage model.Usage

	for iteration := 0; ; iteration++ {
		resp, err := a.models.Invoke(ctx, tier, req)
		if err != nil {
			return nil, err
		}
		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens

		uses := resp.ToolUses()
		if resp.StopReason != model.StopToolUse || len(uses) == 0 {
			return &Reply{
				Text:       resp.Text(),
				ToolCalls:  toolCalls,
				InputToks:  usage.InputTokens,
				OutputToks: usage.OutputTokens,
			}, nil
		}

		if iteration >= maxToolIterations {
			return nil, fmt.Errorf("tool loop exceeded %d iterations", maxToolIterations)
		}

		results := make([]model.ContentBlock, 0, len(uses))
		for _, use := range uses {
			toolCalls++
			results = append(results, a.runTool(ctx, use))
		}

		req.Messages = append(req.Messages, resp.AssistantMessage())
		req.Messages = append(req.Messages, model.Message{Role: "user", Content: results})
	}
}

func (a *Agent) runTool(ctx context.Context, use model.ContentBlock) model.ContentBlock {
	var params map[string]any
	if len(use.Input) > 0 {
		if err := json.Unmarshal(use.Input, &params); err != nil {
			return model.ToolResultBlock(use.ID, "invalid tool input: "+err.Error(), true)
		}
	}
	if params == nil {
		params = map[string]any{}
	}

	result := a.dispatcher.Dispatch(ctx, use.Name, params)
	if !result.Success {
		return model.ToolResultBlock(use.ID, result.Error, true)
	}
	return model.ToolResultBlock(use.ID, string(result.Data), false)
}

// historyMessages converts prior turns into model messages, with the
// current query as the final user turn. The history snapshot is taken
// before the query is recorded, so the query appears exactly once.
func historyMessages(turns []memory.Turn, query string) []model.Message {
	messages := make([]model.Message, 0, len(turns)+1)
	for _, turn := range turns {
		messages = append(messages, model.TextMessage(turn.Role, turn.Content))
	}
	messages = append(messages, model.TextMessage("user", query))
	return messages
}
