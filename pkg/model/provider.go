package model

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/deskhand/pkg/config"
)

// Provider defines the behavior required for an LLM backend.
type Provider interface {
	ID() string
	Invoke(ctx context.Context, req InvokeRequest) (*InvokeResponse, error)
	InvokeStream(ctx context.Context, req InvokeRequest) (<-chan StreamChunk, <-chan error)
}

// TimeoutConfigurer is an optional interface for providers that can adjust request timeouts.
type TimeoutConfigurer interface {
	SetTimeout(timeout time.Duration)
}

// providerFactory builds the configured providers from config.
func providerFactory(cfg *config.Config) (map[string]Provider, error) {
	providers := make(map[string]Provider)

	if cfg.Models.Anthropic.APIKey != "" {
		provider := NewAnthropicProvider(cfg.Models.Anthropic.APIKey, cfg.Models.Anthropic.BaseURL)
		if cfg.Models.Anthropic.Timeout > 0 {
			provider.SetTimeout(cfg.Models.Anthropic.Timeout)
		}
		providers["anthropic"] = provider
	}

	ollama := NewOllamaProvider(cfg.Models.Ollama.BaseURL)
	if cfg.Models.Ollama.Timeout > 0 {
		ollama.SetTimeout(cfg.Models.Ollama.Timeout)
	}
	providers["ollama"] = ollama

	for _, tier := range []config.ModelConfig{cfg.Models.Capable, cfg.Models.Cheap} {
		if _, ok := providers[tier.Provider]; !ok {
			return nil, fmt.Errorf("provider %q for model %q is not configured; set ANTHROPIC_API_KEY or point the tier at ollama", tier.Provider, tier.Model)
		}
	}

	return providers, nil
}

// normalizeModelForProvider strips provider prefixes (anthropic/, ollama/)
// before sending requests to the underlying APIs.
func normalizeModelForProvider(modelID, providerID string) string {
	prefix := providerID + "/"
	if strings.HasPrefix(modelID, prefix) {
		return strings.TrimPrefix(modelID, prefix)
	}
	return modelID
}

// flattenMessages renders a conversation as a plain text prompt for
// completion-style backends that do not accept structured turns.
func flattenMessages(messages []Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		label := "User"
		if msg.Role == "assistant" {
			label = "Assistant"
		}
		for _, block := range msg.Content {
			switch block.Type {
			case BlockText:
				fmt.Fprintf(&sb, "%s: %s\n", label, block.Text)
			case BlockToolResult:
				fmt.Fprintf(&sb, "%s: [tool result] %s\n", label, block.Content)
			}
		}
	}
	sb.WriteString("Assistant:")
	return sb.String()
}
