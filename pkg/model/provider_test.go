package model

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenMessages(t *testing.T) {
	messages := []Message{
		TextMessage("user", "my printer is broken"),
		TextMessage("assistant", "Which printer?"),
		{Role: "user", Content: []ContentBlock{
			ToolResultBlock("tu_1", `{"status":"Open"}`, false),
		}},
	}

	prompt := flattenMessages(messages)
	assert.Equal(t,
		"User: my printer is broken\nAssistant: Which printer?\nUser: [tool result] {\"status\":\"Open\"}\nAssistant:",
		prompt)
}

func TestNormalizeModelForProvider(t *testing.T) {
	assert.Equal(t, "llama3.2", normalizeModelForProvider("ollama/llama3.2", "ollama"))
	assert.Equal(t, "llama3.2", normalizeModelForProvider("llama3.2", "ollama"))
	assert.Equal(t, "ollama/llama3.2", normalizeModelForProvider("ollama/llama3.2", "anthropic"))
}

func TestMapStopReason(t *testing.T) {
	assert.Equal(t, StopToolUse, mapStopReason("tool_use"))
	assert.Equal(t, StopMaxTokens, mapStopReason("max_tokens"))
	assert.Equal(t, StopEndTurn, mapStopReason("end_turn"))
	assert.Equal(t, StopEndTurn, mapStopReason(""))
}

func TestAnthropicResponseConversion(t *testing.T) {
	raw := `{
		"id": "msg_1",
		"model": "claude-sonnet-4-20250514",
		"content": [
			{"type": "text", "text": "Let me check."},
			{"type": "tool_use", "id": "tu_1", "name": "get_ticket", "input": {"ticket_id": "TKT-1"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 100, "output_tokens": 25}
	}`
	var anthResp anthropicResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &anthResp))

	resp := anthResp.toInvokeResponse()
	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", resp.Model)
	assert.Equal(t, StopToolUse, resp.StopReason)
	assert.Equal(t, "Let me check.", resp.Text())
	assert.Equal(t, 125, resp.Usage.TotalTokens)

	uses := resp.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "get_ticket", uses[0].Name)
	assert.JSONEq(t, `{"ticket_id":"TKT-1"}`, string(uses[0].Input))
}

func TestAPIErrorFromResponse(t *testing.T) {
	resp := &http.Response{
		StatusCode: 429,
		Header:     http.Header{"Retry-After": []string{"3"}},
		Body:       io.NopCloser(strings.NewReader(`{"error":{"type":"rate_limit_error","message":"Too many requests"}}`)),
	}

	apiErr := apiErrorFromResponse(resp)
	assert.Equal(t, 429, apiErr.StatusCode)
	assert.Equal(t, "Too many requests", apiErr.Message)
	assert.Equal(t, "rate_limit_error", apiErr.Type)
	assert.True(t, apiErr.Retryable)
	assert.Equal(t, "3s", apiErr.RetryAfter.String())
}

func TestAPIErrorFromResponse_RawBody(t *testing.T) {
	resp := &http.Response{
		StatusCode: 400,
		Body:       io.NopCloser(strings.NewReader("bad request")),
	}

	apiErr := apiErrorFromResponse(resp)
	assert.Equal(t, "bad request", apiErr.Message)
	assert.Empty(t, apiErr.Type)
	assert.False(t, apiErr.Retryable)
}

func TestAnthropicInvoke(t *testing.T) {
	var got anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_1",
			"model":       "claude-sonnet-4-20250514",
			"content":     []map[string]any{{"type": "text", "text": "Done."}},
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 10, "output_tokens": 2},
		})
	}))
	defer server.Close()

	p := NewAnthropicProvider("test-key", server.URL)
	resp, err := p.Invoke(context.Background(), InvokeRequest{
		Model:    "anthropic/claude-sonnet-4-20250514",
		System:   "be brief",
		Messages: []Message{TextMessage("user", "hi")},
		Tools: []ToolDefinition{
			{Name: "get_ticket", Description: "look up a ticket", InputSchema: map[string]any{"type": "object"}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Done.", resp.Text())
	assert.Equal(t, "claude-sonnet-4-20250514", got.Model)
	assert.Equal(t, "be brief", got.System)
	assert.Equal(t, 4096, got.MaxTokens)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "get_ticket", got.Tools[0].Name)
}

func TestAnthropicInvoke_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer server.Close()

	p := NewAnthropicProvider("test-key", server.URL)
	_, err := p.Invoke(context.Background(), InvokeRequest{
		Messages: []Message{TextMessage("user", "hi")},
	})
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, "Overloaded", apiErr.Message)
	assert.True(t, apiErr.Retryable)
}

func TestAnthropicInvokeStream(t *testing.T) {
	events := strings.Join([]string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"usage":{"input_tokens":12}}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}`,
		``,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`,
		``,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":4}}`,
		``,
		`data: {"type":"message_stop"}`,
		``,
	}, "\n")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, events)
	}))
	defer server.Close()

	p := NewAnthropicProvider("test-key", server.URL)
	chunks, errs := p.InvokeStream(context.Background(), InvokeRequest{
		Messages: []Message{TextMessage("user", "hi")},
	})

	var text string
	var final StreamChunk
	for chunk := range chunks {
		text += chunk.Delta
		if chunk.StopReason != "" {
			final = chunk
		}
	}
	require.NoError(t, <-errs)

	assert.Equal(t, "Hello", text)
	assert.Equal(t, StopEndTurn, final.StopReason)
	require.NotNil(t, final.Usage)
	assert.Equal(t, 12, final.Usage.InputTokens)
	assert.Equal(t, 4, final.Usage.OutputTokens)
	assert.Equal(t, 16, final.Usage.TotalTokens)
}

func TestOllamaInvoke(t *testing.T) {
	var got ollamaGenerateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(ollamaGenerateResponse{
			Model:           "llama3.2",
			Response:        "  Two open tickets.  ",
			Done:            true,
			PromptEvalCount: 30,
			EvalCount:       6,
		})
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL)
	resp, err := p.Invoke(context.Background(), InvokeRequest{
		Model:       "ollama/llama3.2",
		System:      "be brief",
		MaxTokens:   256,
		Temperature: 0.3,
		Messages:    []Message{TextMessage("user", "how many open tickets")},
	})
	require.NoError(t, err)

	assert.Equal(t, "Two open tickets.", resp.Text())
	assert.Equal(t, "ollama/llama3.2", resp.Model)
	assert.Equal(t, StopEndTurn, resp.StopReason)
	assert.Equal(t, 36, resp.Usage.TotalTokens)

	assert.Equal(t, "llama3.2", got.Model)
	assert.Equal(t, "User: how many open tickets\nAssistant:", got.Prompt)
	assert.False(t, got.Stream)
	assert.Equal(t, float64(256), got.Options["num_predict"])
	assert.Equal(t, 0.3, got.Options["temperature"])
}

func TestOllamaInvokeStream(t *testing.T) {
	lines := []string{
		`{"model":"llama3.2","response":"One "}`,
		`{"model":"llama3.2","response":"moment."}`,
		`{"model":"llama3.2","response":"","done":true,"prompt_eval_count":8,"eval_count":3}`,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, line := range lines {
			io.WriteString(w, line+"\n")
		}
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL)
	chunks, errs := p.InvokeStream(context.Background(), InvokeRequest{
		Messages: []Message{TextMessage("user", "hi")},
	})

	var text string
	var final StreamChunk
	for chunk := range chunks {
		text += chunk.Delta
		if chunk.StopReason != "" {
			final = chunk
		}
	}
	require.NoError(t, <-errs)

	assert.Equal(t, "One moment.", text)
	require.NotNil(t, final.Usage)
	assert.Equal(t, 11, final.Usage.TotalTokens)
}

func TestOllamaInvoke_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"model not found"}`)
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL)
	_, err := p.Invoke(context.Background(), InvokeRequest{
		Messages: []Message{TextMessage("user", "hi")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama generate failed (404)")
}
