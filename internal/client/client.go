// Package client is a Go client for the incident HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/incidents"
	"github.com/bissquit/incident-tracker/internal/pkg/httputil"
)

const defaultTimeout = 15 * time.Second

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
	Detail     string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%d %s: %s", e.StatusCode, e.Kind, e.Message)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client calls the incident API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithAPIKey sends key in the X-Api-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewIncident is the body of a create request. Nil Tags omits the field.
type NewIncident struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    string   `json:"severity"`
	ReportedBy  string   `json:"reported_by"`
	Tags        []string `json:"tags,omitempty"`
}

// CreateIncident creates an incident. A 202 is not an error; the warning is
// returned in the response.
func (c *Client) CreateIncident(ctx context.Context, req NewIncident) (*incidents.CreateIncidentResponse, error) {
	var resp incidents.CreateIncidentResponse
	if err := c.do(ctx, http.MethodPost, "/incidents", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetIncident fetches one incident.
func (c *Client) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	var inc domain.Incident
	if err := c.do(ctx, http.MethodGet, "/incidents/"+url.PathEscape(id), nil, &inc); err != nil {
		return nil, err
	}
	return &inc, nil
}

// ListIncidents lists incidents. Empty severity or status means no filter.
func (c *Client) ListIncidents(ctx context.Context, severity, status string) ([]*domain.Incident, error) {
	q := url.Values{}
	if severity != "" {
		q.Set("severity", severity)
	}
	if status != "" {
		q.Set("status", status)
	}
	path := "/incidents"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp incidents.ListIncidentsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// UpdateStatus sets the status of an incident.
func (c *Client) UpdateStatus(ctx context.Context, id, status string) (*domain.Incident, error) {
	var inc domain.Incident
	body := incidents.UpdateStatusRequest{Status: status}
	if err := c.do(ctx, http.MethodPatch, "/incidents/"+url.PathEscape(id), body, &inc); err != nil {
		return nil, err
	}
	return &inc, nil
}

// Stats returns incident counts.
func (c *Client) Stats(ctx context.Context) (*incidents.Stats, error) {
	var stats incidents.Stats
	if err := c.do(ctx, http.MethodGet, "/incidents/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(httputil.APIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody httputil.ErrorBody
		if json.Unmarshal(data, &errBody) == nil && errBody.Error != "" {
			apiErr.Kind = errBody.Error
			apiErr.Message = errBody.Message
			apiErr.Detail = errBody.Detail
		} else {
			apiErr.Kind = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
