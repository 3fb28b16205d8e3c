package model

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/odvcencio/deskhand/pkg/config"
	"github.com/odvcencio/deskhand/pkg/errors"
)

// Tier selects between the two configured model tiers.
type Tier string

const (
	TierCapable Tier = "capable"
	TierCheap   Tier = "cheap"
)

// Manager resolves tiers to providers and paces outbound calls.
type Manager struct {
	providers map[string]Provider
	tiers     map[Tier]config.ModelConfig
	limiter   *rate.Limiter
}

// NewManager builds a Manager from configuration.
func NewManager(cfg *config.Config) (*Manager, error) {
	providers, err := providerFactory(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "build model providers")
	}

	return &Manager{
		providers: providers,
		tiers: map[Tier]config.ModelConfig{
			TierCapable: cfg.Models.Capable,
			TierCheap:   cfg.Models.Cheap,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}, nil
}

// NewManagerWithProviders builds a Manager over explicit providers. Used in tests.
func NewManagerWithProviders(providers map[string]Provider, capable, cheap config.ModelConfig) *Manager {
	return &Manager{
		providers: providers,
		tiers: map[Tier]config.ModelConfig{
			TierCapable: capable,
			TierCheap:   cheap,
		},
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
}

// ModelID returns the configured model name for a tier.
func (m *Manager) ModelID(tier Tier) string {
	return m.tiers[tier].Model
}

func (m *Manager) resolve(tier Tier) (Provider, config.ModelConfig, error) {
	tc, ok := m.tiers[tier]
	if !ok {
		return nil, tc, errors.New(errors.ErrCodeModelNotFound, fmt.Sprintf("unknown model tier %q", tier))
	}
	provider, ok := m.providers[tc.Provider]
	if !ok {
		return nil, tc, errors.New(errors.ErrCodeModelNotFound, fmt.Sprintf("provider %q not configured", tc.Provider)).
			WithContext("tier", string(tier))
	}
	return provider, tc, nil
}

// Invoke sends a request to the tier's provider, filling in the tier's
// model, max tokens and temperature.
func (m *Manager) Invoke(ctx context.Context, tier Tier, req InvokeRequest) (*InvokeResponse, error) {
	provider, tc, err := m.resolve(tier)
	if err != nil {
		return nil, err
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req.Model = tc.Model
	if req.MaxTokens == 0 {
		req.MaxTokens = tc.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = tc.Temp
	}

	resp, err := provider.Invoke(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeModelAPIError, "model invocation failed").
			WithContext("provider", provider.ID()).
			WithContext("model", tc.Model).
			WithRetryable(isRetryable(err))
	}
	return resp, nil
}

// InvokeStream streams from the tier's provider.
func (m *Manager) InvokeStream(ctx context.Context, tier Tier, req InvokeRequest) (<-chan StreamChunk, <-chan error) {
	provider, tc, err := m.resolve(tier)
	if err != nil {
		chunkChan := make(chan StreamChunk)
		errChan := make(chan error, 1)
		errChan <- err
		close(chunkChan)
		close(errChan)
		return chunkChan, errChan
	}

	if err := m.limiter.Wait(ctx); err != nil {
		chunkChan := make(chan StreamChunk)
		errChan := make(chan error, 1)
		errChan <- err
		close(chunkChan)
		close(errChan)
		return chunkChan, errChan
	}

	req.Model = tc.Model
	if req.MaxTokens == 0 {
		req.MaxTokens = tc.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = tc.Temp
	}

	return provider.InvokeStream(ctx, req)
}

func isRetryable(err error) bool {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.Retryable
	}
	return false
}
