package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/deskhand/pkg/memory"
	"github.com/odvcencio/deskhand/pkg/model"
	"github.com/odvcencio/deskhand/pkg/router"
	"github.com/odvcencio/deskhand/pkg/tools"
)

type fakeModels struct {
	responses []*model.InvokeResponse
	err       error
	requests  []model.InvokeRequest
	streamed  []model.StreamChunk
	streamErr error
}

func (f *fakeModels) Invoke(ctx context.Context, tier model.Tier, req model.InvokeRequest) (*model.InvokeResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return textResponse("out of scripted responses"), nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeModels) InvokeStream(ctx context.Context, tier model.Tier, req model.InvokeRequest) (<-chan model.StreamChunk, <-chan error) {
	f.requests = append(f.requests, req)
	chunks := make(chan model.StreamChunk, len(f.streamed)+1)
	errs := make(chan error, 1)
	if f.streamErr != nil {
		errs <- f.streamErr
	} else {
		for _, chunk := range f.streamed {
			chunks <- chunk
		}
	}
	close(chunks)
	close(errs)
	return chunks, errs
}

func (f *fakeModels) ModelID(tier model.Tier) string {
	if tier == model.TierCapable {
		return "anthropic/claude-test"
	}
	return "ollama/test"
}

type fakeDispatcher struct {
	results map[string]tools.Result
	calls   []string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, name string, params map[string]any) tools.Result {
	f.calls = append(f.calls, name)
	if result, ok := f.results[name]; ok {
		return result
	}
	return tools.Result{Success: true, Data: json.RawMessage(`{"ok":true}`)}
}

func textResponse(text string) *model.InvokeResponse {
	return &model.InvokeResponse{
		Content:    []model.ContentBlock{{Type: model.BlockText, Text: text}},
		StopReason: model.StopEndTurn,
	}
}

func toolUseResponse(id, name, input string) *model.InvokeResponse {
	return &model.InvokeResponse{
		Content: []model.ContentBlock{
			{Type: model.BlockToolUse, ID: id, Name: name, Input: json.RawMessage(input)},
		},
		StopReason: model.StopToolUse,
	}
}

func newTestAgent(models ModelClient, dispatcher ToolDispatcher) *Agent {
	rt := router.New(router.Options{})
	mem := memory.NewManager(nil, 20)
	return New(models, rt, mem, dispatcher, nil)
}

func TestRespond_SimpleReply(t *testing.T) {
	models := &fakeModels{responses: []*model.InvokeResponse{textResponse("You have 3 open tickets.")}}
	a := newTestAgent(models, &fakeDispatcher{})

	reply, err := a.Respond(context.Background(), "sess-1", "how many open tickets", "")
	require.NoError(t, err)

	assert.Equal(t, "You have 3 open tickets.", reply.Text)
	assert.Equal(t, "cheap", reply.Tier)
	assert.Equal(t, "ollama/test", reply.ModelUsed)
	assert.Equal(t, 0, reply.ToolCalls)
}

func TestRespond_ToolsOnlyForCapable(t *testing.T) {
	models := &fakeModels{responses: []*model.InvokeResponse{textResponse("ok")}}
	a := newTestAgent(models, &fakeDispatcher{})

	// Cheap-routed query: no tools in the request.
	_, err := a.Respond(context.Background(), "sess-1", "list tickets", "")
	require.NoError(t, err)
	require.Len(t, models.requests, 1)
	assert.Empty(t, models.requests[0].Tools)

	// Capable-routed query: tools attached.
	models.responses = []*model.InvokeResponse{textResponse("ok")}
	_, err = a.Respond(context.Background(), "sess-2", "troubleshoot the VPN drops happening every afternoon", "")
	require.NoError(t, err)
	require.Len(t, models.requests, 2)
	assert.Len(t, models.requests[1].Tools, 7)
}

func TestRespond_ToolLoop(t *testing.T) {
	models := &fakeModels{responses: []*model.InvokeResponse{
		toolUseResponse("tu_1", tools.ToolGetTicket, `{"ticket_id":"TKT-1"}`),
		textResponse("The ticket is open."),
	}}
	dispatcher := &fakeDispatcher{results: map[string]tools.Result{
		tools.ToolGetTicket: {Success: true, Data: json.RawMessage(`{"status":"Open"}`)},
	}}
	a := newTestAgent(models, dispatcher)

	reply, err := a.Respond(context.Background(), "sess-1", "troubleshoot ticket TKT-1 for me please today", "")
	require.NoError(t, err)

	assert.Equal(t, "The ticket is open.", reply.Text)
	assert.Equal(t, 1, reply.ToolCalls)
	assert.Equal(t, []string{tools.ToolGetTicket}, dispatcher.calls)

	// Second request carries the assistant turn and the tool result.
	require.Len(t, models.requests, 2)
	second := models.requests[1]
	last := second.Messages[len(second.Messages)-1]
	require.Len(t, last.Content, 1)
	assert.Equal(t, model.BlockToolResult, last.Content[0].Type)
	assert.Equal(t, "tu_1", last.Content[0].ToolUseID)
	assert.Equal(t, `{"status":"Open"}`, last.Content[0].Content)
}

func TestRespond_ToolFailureFedBack(t *testing.T) {
	models := &fakeModels{responses: []*model.InvokeResponse{
		toolUseResponse("tu_1", tools.ToolGetTicket, `{}`),
		textResponse("I could not find that ticket."),
	}}
	dispatcher := &fakeDispatcher{results: map[string]tools.Result{
		tools.ToolGetTicket: {Success: false, Error: "ticket_id is required"},
	}}
	a := newTestAgent(models, dispatcher)

	reply, err := a.Respond(context.Background(), "sess-1", "investigate the missing ticket from yesterday please", "")
	require.NoError(t, err)
	assert.Equal(t, "I could not find that ticket.", reply.Text)

	second := models.requests[1]
	last := second.Messages[len(second.Messages)-1]
	assert.True(t, last.Content[0].IsError)
	assert.Equal(t, "ticket_id is required", last.Content[0].Content)
}

func TestRespond_ToolLoopCap(t *testing.T) {
	// The model asks for a tool forever.
	var responses []*model.InvokeResponse
	for i := 0; i < 20; i++ {
		responses = append(responses, toolUseResponse(fmt.Sprintf("tu_%d", i), tools.ToolTicketSummary, `{}`))
	}
	models := &fakeModels{responses: responses}
	dispatcher := &fakeDispatcher{}
	a := newTestAgent(models, dispatcher)

	reply, err := a.Respond(context.Background(), "sess-1", "analyze the whole backlog in detail right now", "")
	require.NoError(t, err)

	// The loop error is folded into the apology.
	assert.Contains(t, reply.Text, "I apologize, but I encountered an error")
	assert.Contains(t, reply.Text, "tool loop exceeded")
	assert.LessOrEqual(t, len(dispatcher.calls), 10)
}

func TestRespond_ModelErrorBecomesApology(t *testing.T) {
	models := &fakeModels{err: errors.New("provider unavailable")}
	a := newTestAgent(models, &fakeDispatcher{})

	reply, err := a.Respond(context.Background(), "sess-1", "list tickets", "")
	require.NoError(t, err)

	assert.Equal(t, "I apologize, but I encountered an error: provider unavailable", reply.Text)
	assert.NotEmpty(t, reply.Tier)
}

func TestRespond_ApologyRecordedInMemory(t *testing.T) {
	models := &fakeModels{err: errors.New("boom")}
	a := newTestAgent(models, &fakeDispatcher{})
	ctx := context.Background()

	_, err := a.Respond(ctx, "sess-1", "list tickets", "")
	require.NoError(t, err)

	w, err := a.memory.Window(ctx, "sess-1")
	require.NoError(t, err)
	turns := w.Context()
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "assistant", turns[1].Role)
	assert.Contains(t, turns[1].Content, "I apologize")
}

func TestRespond_HistoryFlowsIntoRequest(t *testing.T) {
	models := &fakeModels{responses: []*model.InvokeResponse{
		textResponse("first"),
		textResponse("second"),
	}}
	a := newTestAgent(models, &fakeDispatcher{})
	ctx := context.Background()

	_, err := a.Respond(ctx, "sess-1", "hello there", "")
	require.NoError(t, err)
	_, err = a.Respond(ctx, "sess-1", "and again", "")
	require.NoError(t, err)

	second := models.requests[1]
	// Prior user turn, prior assistant turn, current query.
	require.Len(t, second.Messages, 3)
	assert.Equal(t, "hello there", second.Messages[0].Content[0].Text)
	assert.Equal(t, "first", second.Messages[1].Content[0].Text)
	assert.Equal(t, "and again", second.Messages[2].Content[0].Text)
}

func TestRespond_DeepSessionEscalates(t *testing.T) {
	models := &fakeModels{responses: []*model.InvokeResponse{textResponse("Looking into it.")}}
	a := newTestAgent(models, &fakeDispatcher{})
	ctx := context.Background()

	// Ten prior turns; the incoming user message is the eleventh, which
	// crosses the context-depth threshold.
	for i := 0; i < 5; i++ {
		require.NoError(t, a.memory.Record(ctx, "sess-1", "user", fmt.Sprintf("question %d", i), ""))
		require.NoError(t, a.memory.Record(ctx, "sess-1", "assistant", fmt.Sprintf("answer %d", i), ""))
	}

	reply, err := a.Respond(ctx, "sess-1", "the office wifi keeps dropping for several users today", "")
	require.NoError(t, err)
	assert.Equal(t, "capable", reply.Tier)
}

func TestRespond_ForceModel(t *testing.T) {
	models := &fakeModels{responses: []*model.InvokeResponse{textResponse("ok")}}
	a := newTestAgent(models, &fakeDispatcher{})

	reply, err := a.Respond(context.Background(), "sess-1", "list tickets", "capable")
	require.NoError(t, err)
	assert.Equal(t, "capable", reply.Tier)
	assert.Equal(t, "anthropic/claude-test", reply.ModelUsed)
}

func TestRespondStream_DeltasAndFinal(t *testing.T) {
	models := &fakeModels{streamed: []model.StreamChunk{
		{Delta: "Hello"},
		{Delta: " there"},
		{StopReason: model.StopEndTurn},
	}}
	a := newTestAgent(models, &fakeDispatcher{})
	ctx := context.Background()

	events, err := a.RespondStream(ctx, "sess-1", "say hello to the customer for me")
	require.NoError(t, err)

	var deltas string
	var final StreamEvent
	for event := range events {
		deltas += event.Delta
		if event.Done {
			final = event
		}
	}

	assert.Equal(t, "Hello there", deltas)
	assert.True(t, final.Done)
	assert.False(t, final.Error)
	assert.Equal(t, "anthropic/claude-test", final.ModelUsed)

	// The assembled text is recorded as the assistant turn.
	w, err := a.memory.Window(ctx, "sess-1")
	require.NoError(t, err)
	turns := w.Context()
	require.Len(t, turns, 2)
	assert.Equal(t, "Hello there", turns[1].Content)
}

func TestRespondStream_ErrorYieldsFinalErrorEvent(t *testing.T) {
	models := &fakeModels{streamErr: errors.New("stream broke")}
	a := newTestAgent(models, &fakeDispatcher{})

	events, err := a.RespondStream(context.Background(), "sess-1", "say hello please")
	require.NoError(t, err)

	var all []StreamEvent
	for event := range events {
		all = append(all, event)
	}

	require.Len(t, all, 1)
	assert.True(t, all[0].Done)
	assert.True(t, all[0].Error)
	assert.Contains(t, all[0].Delta, "I apologize, but I encountered an error")
	assert.Contains(t, all[0].Delta, "stream broke")
}

func TestSummarizeSession(t *testing.T) {
	models := &fakeModels{responses: []*model.InvokeResponse{
		textResponse("ok"),
		textResponse(`"Printer outage triage"`),
	}}
	a := newTestAgent(models, &fakeDispatcher{})
	ctx := context.Background()

	_, err := a.Respond(ctx, "sess-1", "the printer is on fire", "")
	require.NoError(t, err)

	title, err := a.SummarizeSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Printer outage triage", title)
}

func TestSummarizeSession_EmptySession(t *testing.T) {
	a := newTestAgent(&fakeModels{}, &fakeDispatcher{})

	_, err := a.SummarizeSession(context.Background(), "empty-sess")
	assert.Error(t, err)
}

func TestStartSession(t *testing.T) {
	a := newTestAgent(&fakeModels{}, &fakeDispatcher{})

	first := a.StartSession()
	second := a.StartSession()
	assert.Len(t, first, 26)
	assert.NotEqual(t, first, second)
}

func TestEndSession(t *testing.T) {
	models := &fakeModels{responses: []*model.InvokeResponse{
		textResponse("ok"),
		textResponse("Printer outage triage"),
	}}
	a := newTestAgent(models, &fakeDispatcher{})
	ctx := context.Background()

	_, err := a.Respond(ctx, "sess-1", "the printer is jammed", "")
	require.NoError(t, err)

	summary, err := a.EndSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Printer outage triage", summary)

	window, err := a.memory.Window(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 0, window.Len())
}

func TestSessionStats(t *testing.T) {
	models := &fakeModels{responses: []*model.InvokeResponse{textResponse("ok")}}
	a := newTestAgent(models, &fakeDispatcher{})
	ctx := context.Background()

	_, err := a.Respond(ctx, "sess-1", "hello", "")
	require.NoError(t, err)

	stats, err := a.SessionStats(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", stats.SessionID)
	assert.Equal(t, 2, stats.Messages)
	assert.Equal(t, 1, stats.Routing.TotalRequests)
}

func TestReset(t *testing.T) {
	models := &fakeModels{responses: []*model.InvokeResponse{textResponse("ok")}}
	a := newTestAgent(models, &fakeDispatcher{})
	ctx := context.Background()

	_, err := a.Respond(ctx, "sess-1", "hello", "")
	require.NoError(t, err)
	require.NoError(t, a.Reset(ctx, "sess-1"))

	w, err := a.memory.Window(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 0, w.Len())
}
