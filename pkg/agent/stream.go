package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/odvcencio/deskhand/pkg/logging"
	"github.com/odvcencio/deskhand/pkg/model"
)

// StreamEvent is one increment of a streaming reply. Done is set on the
// final event, which also carries the routing metadata.
type StreamEvent struct {
	Delta     string `json:"delta,omitempty"`
	Done      bool   `json:"done,omitempty"`
	ModelUsed string `json:"model_used,omitempty"`
	Error     bool   `json:"error,omitempty"`
}

// RespondStream streams a reply for a single query. Streaming always uses
// the capable tier and offers no tools. Failures surface as a single
// final event carrying the apology text.
func (a *Agent) RespondStream(ctx context.Context, sessionID, query string) (<-chan StreamEvent, error) {
	window, err := a.memory.Window(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history := window.Context()

	if err := a.memory.Record(ctx, sessionID, "user", query, ""); err != nil {
		return nil, err
	}

	// Count the turn in routing stats even though the tier is fixed.
	a.router.Route(ctx, query, len(history), string(model.TierCapable))
	modelID := a.models.ModelID(model.TierCapable)

	events := make(chan StreamEvent, 10)

	go func() {
		defer close(events)

		chunks, errs := a.models.InvokeStream(ctx, model.TierCapable, model.InvokeRequest{
			System:   systemPrompt,
			Messages: historyMessages(history, query),
		})

		var sb strings.Builder
		fail := func(err error) {
			apology := fmt.Sprintf("I apologize, but I encountered an error: %v", err)
			a.logger.Error(logging.CategoryConversation, "stream_failed", apology, map[string]any{
				"session_id": sessionID,
			})
			a.memory.Record(ctx, sessionID, "assistant", apology, modelID)
			events <- StreamEvent{Delta: apology, Done: true, ModelUsed: modelID, Error: true}
		}

		for chunks != nil || errs != nil {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					chunks = nil
					continue
				}
				if chunk.Delta != "" {
					sb.WriteString(chunk.Delta)
					events <- StreamEvent{Delta: chunk.Delta}
				}
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				if err != nil {
					fail(err)
					return
				}
			case <-ctx.Done():
				fail(ctx.Err())
				return
			}
		}

		text := sb.String()
		if err := a.memory.Record(ctx, sessionID, "assistant", text, modelID); err != nil {
			a.logger.Error(logging.CategoryConversation, "record_failed", err.Error(), map[string]any{
				"session_id": sessionID,
			})
		}
		events <- StreamEvent{Done: true, ModelUsed: modelID}
	}()

	return events, nil
}
