// Package nats publishes incident notifications to a NATS subject, either as
// core messages or through JetStream.
package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bissquit/incident-tracker/internal/notifications"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const driverName = "nats"

// Header names set on every message.
const (
	HeaderSeverity = "Severity"
	HeaderSubject  = "Subject"
)

// Config holds NATS publisher configuration.
type Config struct {
	Subject string
	// JetStream switches to acknowledged publishes into Stream.
	JetStream bool
	Stream    string
}

// Publisher publishes JSON-encoded IncidentCreated messages.
type Publisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewPublisher creates a publisher on nc. With JetStream enabled the stream
// is created or updated to capture the subject.
func NewPublisher(ctx context.Context, nc *nats.Conn, cfg Config) (*Publisher, error) {
	if cfg.Subject == "" {
		return nil, fmt.Errorf("nats publisher: %w", notifications.ErrEmptyTarget)
	}

	p := &Publisher{nc: nc, subject: cfg.Subject}
	if !cfg.JetStream {
		return p, nil
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject},
	}); err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}
	p.js = js
	return p, nil
}

// Name returns the driver name.
func (p *Publisher) Name() string { return driverName }

// PublishIncidentCreated sends msg with severity as a header so consumers can
// filter without decoding the body. The incident ID doubles as the JetStream
// deduplication ID.
func (p *Publisher) PublishIncidentCreated(ctx context.Context, msg notifications.IncidentCreated) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	m := nats.NewMsg(p.subject)
	m.Data = data
	m.Header.Set(HeaderSeverity, msg.Severity)
	m.Header.Set(HeaderSubject, msg.Subject())
	m.Header.Set(nats.MsgIdHdr, msg.IncidentID)

	if p.js != nil {
		if _, err := p.js.PublishMsg(ctx, m); err != nil {
			return &notifications.RetryableError{Driver: driverName, Message: fmt.Sprintf("jetstream publish: %v", err)}
		}
		return nil
	}

	if err := p.nc.PublishMsg(m); err != nil {
		return &notifications.RetryableError{Driver: driverName, Message: fmt.Sprintf("publish: %v", err)}
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return &notifications.RetryableError{Driver: driverName, Message: fmt.Sprintf("flush: %v", err)}
	}
	return nil
}
