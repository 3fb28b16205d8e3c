package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes ticket events to NATS subjects.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	URL string

	// Subject is the base subject; the event type is appended.
	Subject string

	ConnectTimeout time.Duration
}

// NewNATSPublisher creates a NATS publisher.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = "deskhand.tickets"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name("deskhand"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSPublisher{conn: conn, subject: cfg.Subject}, nil
}

// Name returns the publisher name.
func (p *NATSPublisher) Name() string {
	return "nats"
}

// Publish publishes the event to <subject>.<event type>.
func (p *NATSPublisher) Publish(ctx context.Context, event *Event) error {
	subject := fmt.Sprintf("%s.%s", p.subject, event.Type)
	return p.conn.Publish(subject, event.JSON())
}

// Close flushes pending publishes and drops the connection.
func (p *NATSPublisher) Close() error {
	err := p.conn.Flush()
	p.conn.Close()
	return err
}
