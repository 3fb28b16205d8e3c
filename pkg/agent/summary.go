package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/odvcencio/deskhand/pkg/memory"
	"github.com/odvcencio/deskhand/pkg/model"
	"github.com/odvcencio/deskhand/pkg/router"
)

const titlePrompt = `Write a short title (at most six words) for this IT support conversation.
Respond with the title only, no quotes.

%s`

// SummarizeSession asks the cheap model for a short session title based on
// the conversation window.
func (a *Agent) SummarizeSession(ctx context.Context, sessionID string) (string, error) {
	window, err := a.memory.Window(ctx, sessionID)
	if err != nil {
		return "", err
	}

	// The last few turns are enough for a title.
	transcript := window.LastString(10)
	if strings.TrimSpace(transcript) == "" {
		return "", fmt.Errorf("session %s has no conversation to summarize", sessionID)
	}

	resp, err := a.models.Invoke(ctx, model.TierCheap, model.InvokeRequest{
		Messages:  []model.Message{model.TextMessage("user", fmt.Sprintf(titlePrompt, transcript))},
		MaxTokens: 30,
	})
	if err != nil {
		return "", err
	}

	title := strings.TrimSpace(strings.Trim(resp.Text(), `"`))
	if title == "" {
		return "", fmt.Errorf("model returned an empty title")
	}
	return title, nil
}

// StartSession allocates a fresh session id. The session row itself is
// created on the first recorded turn.
func (a *Agent) StartSession() string {
	return memory.NewSessionID()
}

// EndSession closes out a session: the cheap model produces a short
// summary, which becomes the stored session title and a long-term memory
// record, and the working window is released. The stored transcript is
// kept.
func (a *Agent) EndSession(ctx context.Context, sessionID string) (string, error) {
	summary, err := a.SummarizeSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if err := a.memory.SaveSummary(ctx, sessionID, summary); err != nil {
		return "", err
	}
	a.memory.Release(sessionID)
	return summary, nil
}

// SessionStats reports the session's message count together with the
// router's tier counters.
func (a *Agent) SessionStats(ctx context.Context, sessionID string) (*SessionStats, error) {
	window, err := a.memory.Window(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionStats{
		SessionID: sessionID,
		Messages:  window.Len(),
		Routing:   a.router.Stats(),
	}, nil
}

// SessionStats summarizes one session's activity.
type SessionStats struct {
	SessionID string       `json:"session_id"`
	Messages  int          `json:"message_count"`
	Routing   router.Stats `json:"routing"`
}

// Reset clears the session's conversation memory.
func (a *Agent) Reset(ctx context.Context, sessionID string) error {
	return a.memory.Reset(ctx, sessionID)
}
