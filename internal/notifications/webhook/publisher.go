// Package webhook publishes incident notifications to a Mattermost-compatible
// incoming webhook.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bissquit/incident-tracker/internal/notifications"
	"golang.org/x/time/rate"
)

const (
	driverName      = "webhook"
	defaultTimeout  = 10 * time.Second
	defaultUsername = "IncidentTracker"
)

// Config holds webhook publisher configuration.
type Config struct {
	URL      string
	Username string  // display name, default "IncidentTracker"
	IconURL  string  // optional
	Timeout  time.Duration
	// RateLimit is messages per second. Zero means unlimited.
	RateLimit float64
}

// Publisher posts markdown messages to an incoming webhook.
type Publisher struct {
	config     Config
	renderer   *notifications.Renderer
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewPublisher creates a new webhook publisher.
func NewPublisher(config Config, renderer *notifications.Renderer) (*Publisher, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("webhook publisher: %w", notifications.ErrEmptyTarget)
	}
	if config.Username == "" {
		config.Username = defaultUsername
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	return &Publisher{
		config:     config,
		renderer:   renderer,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
	}, nil
}

// Name returns the driver name.
func (p *Publisher) Name() string { return driverName }

type webhookPayload struct {
	Text     string            `json:"text"`
	Username string            `json:"username,omitempty"`
	IconURL  string            `json:"icon_url,omitempty"`
	Props    map[string]string `json:"props,omitempty"`
}

// PublishIncidentCreated posts msg to the webhook. Severity is carried in
// props so receivers can filter on it.
func (p *Publisher) PublishIncidentCreated(ctx context.Context, msg notifications.IncidentCreated) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return &notifications.RetryableError{Driver: driverName, Message: fmt.Sprintf("rate limit wait: %v", err)}
	}

	text, err := p.renderer.Render(notifications.FormatMarkdown, msg)
	if err != nil {
		return fmt.Errorf("render message: %w", err)
	}

	body, err := json.Marshal(webhookPayload{
		Text:     text,
		Username: p.config.Username,
		IconURL:  p.config.IconURL,
		Props: map[string]string{
			"incident_id": msg.IncidentID,
			"severity":    msg.Severity,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &notifications.RetryableError{Driver: driverName, Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return p.handleResponse(resp)
}

func (p *Publisher) handleResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		slog.Debug("webhook message sent", "webhook", maskURL(p.config.URL))
		return nil

	case resp.StatusCode == http.StatusBadRequest:
		return &notifications.PermanentError{Driver: driverName, Code: resp.StatusCode, Message: fmt.Sprintf("bad request: %s", body)}

	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &notifications.PermanentError{Driver: driverName, Code: resp.StatusCode, Message: "invalid or expired webhook"}

	case resp.StatusCode == http.StatusNotFound:
		return &notifications.PermanentError{Driver: driverName, Code: resp.StatusCode, Message: "webhook not found"}

	case resp.StatusCode == http.StatusTooManyRequests:
		return &notifications.RetryableError{Driver: driverName, Code: resp.StatusCode, Message: "rate limited"}

	case resp.StatusCode >= 500:
		return &notifications.RetryableError{Driver: driverName, Code: resp.StatusCode, Message: fmt.Sprintf("server error: %s", body)}

	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
}

// maskURL hides the secret part of a webhook URL for logging.
func maskURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-10:]
	}
	return url
}
