// Package slack publishes incident notifications to a Slack incoming webhook.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/incident-tracker/internal/notifications"
	"github.com/slack-go/slack"
)

const (
	driverName     = "slack"
	defaultTimeout = 10 * time.Second
)

// Config holds Slack publisher configuration.
type Config struct {
	WebhookURL string
	Username   string
	IconURL    string
	Timeout    time.Duration
}

// Publisher posts one attachment per incident, coloured by severity.
type Publisher struct {
	config     Config
	renderer   *notifications.Renderer
	httpClient *http.Client
}

// NewPublisher creates a new Slack publisher.
func NewPublisher(config Config, renderer *notifications.Renderer) (*Publisher, error) {
	if config.WebhookURL == "" {
		return nil, fmt.Errorf("slack publisher: %w", notifications.ErrEmptyTarget)
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &Publisher{
		config:     config,
		renderer:   renderer,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Name returns the driver name.
func (p *Publisher) Name() string { return driverName }

// PublishIncidentCreated sends msg with severity as an attachment field.
func (p *Publisher) PublishIncidentCreated(ctx context.Context, msg notifications.IncidentCreated) error {
	text, err := p.renderer.Render(notifications.FormatSlack, msg)
	if err != nil {
		return fmt.Errorf("render message: %w", err)
	}

	webhook := &slack.WebhookMessage{
		Username: p.config.Username,
		IconURL:  p.config.IconURL,
		Text:     msg.Subject(),
		Attachments: []slack.Attachment{{
			Color:      notifications.SeverityColor(msg.Severity),
			Fallback:   msg.Subject(),
			Text:       text,
			MarkdownIn: []string{"text"},
			Fields: []slack.AttachmentField{
				{Title: "Severity", Value: msg.Severity, Short: true},
				{Title: "Status", Value: msg.Status, Short: true},
			},
			Ts: jsonNumber(msg.CreatedAt),
		}},
	}

	if err := slack.PostWebhookCustomHTTPContext(ctx, p.config.WebhookURL, p.httpClient, webhook); err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	var rateErr *slack.RateLimitedError
	if errors.As(err, &rateErr) {
		return &notifications.RetryableError{
			Driver:  driverName,
			Code:    http.StatusTooManyRequests,
			Message: fmt.Sprintf("rate limited, retry after %s", rateErr.RetryAfter),
		}
	}

	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		if statusErr.Code >= 500 || statusErr.Code == http.StatusTooManyRequests {
			return &notifications.RetryableError{Driver: driverName, Code: statusErr.Code, Message: statusErr.Status}
		}
		return &notifications.PermanentError{Driver: driverName, Code: statusErr.Code, Message: statusErr.Status}
	}

	return &notifications.RetryableError{Driver: driverName, Message: err.Error()}
}

func jsonNumber(t time.Time) json.Number {
	return json.Number(strconv.FormatInt(t.Unix(), 10))
}
