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

const ollamaBaseURL = "http://localhost:11434"

const defaultTimeout = 120 * time.Second

// OllamaProvider implements Provider for local Ollama instances. It is the
// cheap tier backend: it accepts no tools, and the conversation is
// flattened into a single completion-style prompt.
type OllamaProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaProvider builds an Ollama provider.
func NewOllamaProvider(baseURL string) *OllamaProvider {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = ollamaBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &OllamaProvider{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// ID returns provider identifier.
func (p *OllamaProvider) ID() string {
	return "ollama"
}

// SetTimeout updates the client timeout (0 disables timeout).
func (p *OllamaProvider) SetTimeout(timeout time.Duration) {
	if p.httpClient != nil {
		p.httpClient.Timeout = timeout
	}
}

// Invoke executes a non-streaming completion request.
func (p *OllamaProvider) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResponse, error) {
	ollamaReq := p.buildRequest(req, false)

	body, err := json.Marshal(ollamaReq)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama generate failed (%d): %s", resp.StatusCode, string(body))
	}

	var genResp ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}

	return &InvokeResponse{
		Model:      "ollama/" + genResp.Model,
		Content:    []ContentBlock{{Type: BlockText, Text: strings.TrimSpace(genResp.Response)}},
		StopReason: StopEndTurn,
		Usage:      usageFromOllama(genResp.PromptEvalCount, genResp.EvalCount),
	}, nil
}

// InvokeStream streams NDJSON completion chunks from Ollama.
func (p *OllamaProvider) InvokeStream(ctx context.Context, req InvokeRequest) (<-chan StreamChunk, <-chan error) {
	chunkChan := make(chan StreamChunk, 10)
	errChan := make(chan error, 1)

	ollamaReq := p.buildRequest(req, true)

	body, err := json.Marshal(ollamaReq)
	if err != nil {
		errChan <- fmt.Errorf("marshal ollama request: %w", err)
		close(chunkChan)
		close(errChan)
		return chunkChan, errChan
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		errChan <- err
		close(chunkChan)
		close(errChan)
		return chunkChan, errChan
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		errChan <- err
		close(chunkChan)
		close(errChan)
		return chunkChan, errChan
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		errChan <- fmt.Errorf("ollama stream failed (%d): %s", resp.StatusCode, string(body))
		close(chunkChan)
		close(errChan)
		return chunkChan, errChan
	}

	go func() {
		defer resp.Body.Close()
		defer close(chunkChan)
		defer close(errChan)

		reader := bufio.NewReader(resp.Body)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					return
				}
				errChan <- err
				return
			}

			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}

			var chunkResp ollamaGenerateResponse
			if err := json.Unmarshal(line, &chunkResp); err != nil {
				continue
			}

			if chunkResp.Response != "" {
				chunkChan <- StreamChunk{Delta: chunkResp.Response}
			}

			if chunkResp.Done {
				usage := usageFromOllama(chunkResp.PromptEvalCount, chunkResp.EvalCount)
				chunkChan <- StreamChunk{
					StopReason: StopEndTurn,
					Usage:      &usage,
				}
				return
			}
		}
	}()

	return chunkChan, errChan
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (p *OllamaProvider) buildRequest(req InvokeRequest, stream bool) *ollamaGenerateRequest {
	options := map[string]any{}
	if req.Temperature != 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if len(options) == 0 {
		options = nil
	}

	return &ollamaGenerateRequest{
		Model:   normalizeModelForProvider(req.Model, "ollama"),
		Prompt:  flattenMessages(req.Messages),
		System:  req.System,
		Stream:  stream,
		Options: options,
	}
}

func usageFromOllama(promptTokens, completionTokens int) Usage {
	return Usage{
		InputTokens:  promptTokens,
		OutputTokens: completionTokens,
		TotalTokens:  promptTokens + completionTokens,
	}
}
