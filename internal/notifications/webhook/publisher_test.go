package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bissquit/incident-tracker/internal/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPublisher(t *testing.T, cfg Config) *Publisher {
	t.Helper()
	renderer, err := notifications.NewRenderer()
	require.NoError(t, err)
	p, err := NewPublisher(cfg, renderer)
	require.NoError(t, err)
	return p
}

func sampleMessage() notifications.IncidentCreated {
	return notifications.IncidentCreated{
		IncidentID: "inc-7",
		Severity:   "high",
		Title:      "Queue backlog",
		Status:     "open",
		CreatedAt:  time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestNewPublisher(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := newTestPublisher(t, Config{URL: "http://example.com/hooks/x"})
		assert.Equal(t, defaultUsername, p.config.Username)
		assert.Equal(t, defaultTimeout, p.config.Timeout)
		assert.Equal(t, "webhook", p.Name())
	})

	t.Run("requires url", func(t *testing.T) {
		_, err := NewPublisher(Config{}, nil)
		assert.ErrorIs(t, err, notifications.ErrEmptyTarget)
	})
}

func TestPublisher_PublishIncidentCreated(t *testing.T) {
	var got webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := newTestPublisher(t, Config{URL: server.URL, Username: "bot", IconURL: "https://example.com/i.png"})
	require.NoError(t, p.PublishIncidentCreated(context.Background(), sampleMessage()))

	assert.Equal(t, "bot", got.Username)
	assert.Equal(t, "https://example.com/i.png", got.IconURL)
	assert.Contains(t, got.Text, "New incident: inc-7 (high)")
	assert.Equal(t, "high", got.Props["severity"])
	assert.Equal(t, "inc-7", got.Props["incident_id"])
}

func TestPublisher_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		typed     bool
		contains  string
	}{
		{name: "bad request", status: http.StatusBadRequest, body: "invalid payload", typed: true, contains: "invalid payload"},
		{name: "unauthorized", status: http.StatusUnauthorized, typed: true, contains: "invalid or expired webhook"},
		{name: "forbidden", status: http.StatusForbidden, typed: true, contains: "invalid or expired webhook"},
		{name: "not found", status: http.StatusNotFound, typed: true, contains: "webhook not found"},
		{name: "rate limited", status: http.StatusTooManyRequests, typed: true, retryable: true, contains: "rate limited"},
		{name: "server error", status: http.StatusBadGateway, body: "upstream", typed: true, retryable: true, contains: "server error: upstream"},
		{name: "unexpected", status: http.StatusTeapot, body: "teapot", contains: "unexpected status 418"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := newTestPublisher(t, Config{URL: server.URL}).PublishIncidentCreated(context.Background(), sampleMessage())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
			assert.Equal(t, tt.retryable, notifications.IsRetryable(err))

			if tt.typed && !tt.retryable {
				var permErr *notifications.PermanentError
				require.ErrorAs(t, err, &permErr)
				assert.Equal(t, tt.status, permErr.Code)
			}
		})
	}
}

func TestPublisher_NetworkError(t *testing.T) {
	p := newTestPublisher(t, Config{URL: "http://127.0.0.1:1/hooks", Timeout: 200 * time.Millisecond})

	err := p.PublishIncidentCreated(context.Background(), sampleMessage())
	var retryErr *notifications.RetryableError
	require.ErrorAs(t, err, &retryErr)
	assert.Contains(t, retryErr.Message, "send request")
}

func TestPublisher_RateLimitHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := newTestPublisher(t, Config{URL: server.URL, RateLimit: 0.001})
	require.NoError(t, p.PublishIncidentCreated(context.Background(), sampleMessage()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.PublishIncidentCreated(ctx, sampleMessage())
	require.Error(t, err)
	assert.True(t, notifications.IsRetryable(err))
}

func TestMaskURL(t *testing.T) {
	assert.Equal(t, "http://example.com/hook", maskURL("http://example.com/hook"))
	assert.Equal(t, "https://mattermost.e...u901vwx234",
		maskURL("https://mattermost.example.com/hooks/abc123def456ghi789jkl012mno345pqr678stu901vwx234"))
}
