package notifications

import (
	"context"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/pkg/ctxlog"
	"github.com/bissquit/incident-tracker/internal/pkg/metrics"
)

// Publisher delivers incident-created messages to one channel.
type Publisher interface {
	PublishIncidentCreated(ctx context.Context, msg IncidentCreated) error
	// Name identifies the driver in logs and metrics.
	Name() string
}

// Notifier adapts a Publisher to the incidents service, adding metrics and
// logging around each publish.
type Notifier struct {
	publisher Publisher
	timeout   time.Duration
}

// NewNotifier creates a notifier. A positive timeout bounds each publish.
func NewNotifier(publisher Publisher, timeout time.Duration) *Notifier {
	return &Notifier{publisher: publisher, timeout: timeout}
}

// NotifyIncidentCreated publishes a message for incident.
func (n *Notifier) NotifyIncidentCreated(ctx context.Context, incident *domain.Incident) error {
	msg := NewIncidentCreated(incident)

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	start := time.Now()
	err := n.publisher.PublishIncidentCreated(ctx, msg)
	elapsed := time.Since(start)
	metrics.ObservePublish(n.publisher.Name(), err, elapsed)

	logger := ctxlog.FromContext(ctx)
	if err != nil {
		logger.Warn("failed to publish incident notification",
			"driver", n.publisher.Name(),
			"incident_id", msg.IncidentID,
			"retryable", IsRetryable(err),
			"error", err,
		)
		return err
	}

	logger.Debug("incident notification published",
		"driver", n.publisher.Name(),
		"incident_id", msg.IncidentID,
		"severity", msg.Severity,
		"duration", elapsed,
	)
	return nil
}
