package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const anthropicBaseURL = "https://api.anthropic.com"

// AnthropicProvider calls the Claude Messages API.
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	version    string
}

// NewAnthropicProvider builds an Anthropic provider.
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	return &AnthropicProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		version: "2023-06-01",
	}
}

// ID returns provider identifier.
func (p *AnthropicProvider) ID() string {
	return "anthropic"
}

// SetTimeout updates the client timeout (0 disables timeout).
func (p *AnthropicProvider) SetTimeout(timeout time.Duration) {
	if p.httpClient != nil {
		p.httpClient.Timeout = timeout
	}
}

// Invoke executes a non-streaming request.
func (p *AnthropicProvider) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResponse, error) {
	anthReq := p.toAnthropicRequest(req, false)

	body, err := json.Marshal(anthReq)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiErrorFromResponse(resp)
	}

	var anthResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&anthResp); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}

	return anthResp.toInvokeResponse(), nil
}

// InvokeStream streams text deltas over the Messages API SSE protocol.
func (p *AnthropicProvider) InvokeStream(ctx context.Context, req InvokeRequest) (<-chan StreamChunk, <-chan error) {
	chunkChan := make(chan StreamChunk, 10)
	errChan := make(chan error, 1)

	anthReq := p.toAnthropicRequest(req, true)

	body, err := json.Marshal(anthReq)
	if err != nil {
		errChan <- fmt.Errorf("marshal anthropic request: %w", err)
		close(chunkChan)
		close(errChan)
		return chunkChan, errChan
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		errChan <- err
		close(chunkChan)
		close(errChan)
		return chunkChan, errChan
	}
	p.setHeaders(httpReq)
	httpReq.Header.Set("accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		errChan <- err
		close(chunkChan)
		close(errChan)
		return chunkChan, errChan
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := apiErrorFromResponse(resp)
		resp.Body.Close()
		errChan <- apiErr
		close(chunkChan)
		close(errChan)
		return chunkChan, errChan
	}

	go func() {
		defer resp.Body.Close()
		defer close(chunkChan)
		defer close(errChan)

		var usage Usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					usage.InputTokens = event.Message.Usage.InputTokens
				}
			case "content_block_delta":
				if event.Delta != nil && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
					chunkChan <- StreamChunk{Delta: event.Delta.Text}
				}
			case "message_delta":
				if event.Delta != nil && event.Delta.StopReason != "" {
					usage.OutputTokens = event.Usage.OutputTokens
					usage.TotalTokens = usage.InputTokens + usage.OutputTokens
					chunkChan <- StreamChunk{
						StopReason: mapStopReason(event.Delta.StopReason),
						Usage:      &usage,
					}
				}
			case "error":
				msg := "stream error"
				if event.Error != nil {
					msg = event.Error.Message
				}
				errChan <- fmt.Errorf("anthropic stream: %s", msg)
				return
			case "message_stop":
				return
			}
		}

		if err := scanner.Err(); err != nil && err != io.EOF {
			errChan <- err
		}
	}()

	return chunkChan, errChan
}

func (p *AnthropicProvider) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", p.version)
	req.Header.Set("content-type", "application/json")
}

func (p *AnthropicProvider) toAnthropicRequest(req InvokeRequest, stream bool) *anthropicRequest {
	anthReq := &anthropicRequest{
		Model:       normalizeModelForProvider(req.Model, "anthropic"),
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if anthReq.MaxTokens == 0 {
		anthReq.MaxTokens = 4096
	}

	for _, msg := range req.Messages {
		anthReq.Messages = append(anthReq.Messages, anthropicMessage{
			Role:    msg.Role,
			Content: toAnthropicBlocks(msg.Content),
		})
	}

	for _, tool := range req.Tools {
		anthReq.Tools = append(anthReq.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}

	return anthReq
}

func toAnthropicBlocks(blocks []ContentBlock) []anthropicContent {
	out := make([]anthropicContent, 0, len(blocks))
	for _, block := range blocks {
		switch block.Type {
		case BlockText:
			out = append(out, anthropicContent{Type: "text", Text: block.Text})
		case BlockToolUse:
			out = append(out, anthropicContent{
				Type:  "tool_use",
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		case BlockToolResult:
			out = append(out, anthropicContent{
				Type:      "tool_result",
				ToolUseID: block.ToolUseID,
				Content:   block.Content,
				IsError:   block.IsError,
			})
		}
	}
	return out
}

func apiErrorFromResponse(resp *http.Response) *APIError {
	body, _ := io.ReadAll(resp.Body)

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		Retryable:  resp.StatusCode == 429 || resp.StatusCode >= 500,
	}

	var parsed struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		apiErr.Message = parsed.Error.Message
		apiErr.Type = parsed.Error.Type
	}

	if retryAfter := resp.Header.Get("retry-after"); retryAfter != "" {
		if d, err := time.ParseDuration(retryAfter + "s"); err == nil {
			apiErr.RetryAfter = d
		}
	}

	return apiErr
}

func mapStopReason(reason string) StopReason {
	switch reason {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}

// anthropicRequest maps to the messages payload.
type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta,omitempty"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a anthropicResponse) toInvokeResponse() *InvokeResponse {
	blocks := make([]ContentBlock, 0, len(a.Content))
	for _, c := range a.Content {
		switch c.Type {
		case "text":
			blocks = append(blocks, ContentBlock{Type: BlockText, Text: c.Text})
		case "tool_use":
			blocks = append(blocks, ContentBlock{
				Type:  BlockToolUse,
				ID:    c.ID,
				Name:  c.Name,
				Input: c.Input,
			})
		}
	}

	return &InvokeResponse{
		ID:         a.ID,
		Model:      "anthropic/" + a.Model,
		Content:    blocks,
		StopReason: mapStopReason(a.StopReason),
		Usage: Usage{
			InputTokens:  a.Usage.InputTokens,
			OutputTokens: a.Usage.OutputTokens,
			TotalTokens:  a.Usage.InputTokens + a.Usage.OutputTokens,
		},
	}
}
