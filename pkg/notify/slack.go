package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SlackPublisher sends ticket events via a Slack incoming webhook.
type SlackPublisher struct {
	webhookURL string
	client     *http.Client
}

// NewSlackPublisher creates a Slack publisher.
func NewSlackPublisher(webhookURL string) (*SlackPublisher, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	return &SlackPublisher{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Name returns the publisher name.
func (s *SlackPublisher) Name() string {
	return "slack"
}

// Publish posts the event as a Slack attachment.
func (s *SlackPublisher) Publish(ctx context.Context, event *Event) error {
	var emoji, color string
	switch event.Type {
	case EventTicketCreated:
		emoji = ":ticket:"
		color = "#0066FF"
	case EventTicketResolved:
		emoji = ":white_check_mark:"
		color = "#00AA00"
	default:
		emoji = ":pencil:"
		color = "#FFAA00"
	}

	payload := map[string]any{
		"username":   "Deskhand",
		"icon_emoji": ":robot_face:",
		"attachments": []map[string]any{
			{
				"color":  color,
				"title":  fmt.Sprintf("%s %s: %s", emoji, event.TicketID, event.Title),
				"text":   event.Message,
				"footer": fmt.Sprintf("%s | %s priority", event.Status, event.Priority),
				"ts":     event.Timestamp.Unix(),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack webhook error: %s", string(body))
	}
	return nil
}

// Close closes the publisher.
func (s *SlackPublisher) Close() error {
	return nil
}
