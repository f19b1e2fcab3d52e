package incidents

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/pkg/ctxlog"
	"github.com/google/uuid"
)

// Notifier announces newly created incidents. Delivery is best effort.
type Notifier interface {
	NotifyIncidentCreated(ctx context.Context, incident *domain.Incident) error
}

// CreateIncidentInput holds validated fields for a new incident.
type CreateIncidentInput struct {
	Title       string
	Description string
	Severity    domain.Severity
	ReportedBy  string
	Tags        []string
}

// CreateResult is the outcome of a create. NotifyErr is set when the record
// was stored but the notification could not be published.
type CreateResult struct {
	Incident  *domain.Incident
	NotifyErr error
}

// ListFilter narrows ListIncidents. Nil fields match everything.
type ListFilter struct {
	Severity *domain.Severity
	Status   *domain.Status
}

func (f ListFilter) matches(inc *domain.Incident) bool {
	if f.Severity != nil && inc.Severity != *f.Severity {
		return false
	}
	if f.Status != nil && inc.Status != *f.Status {
		return false
	}
	return true
}

// Service provides incident business logic.
type Service struct {
	repo     Repository
	notifier Notifier
	now      func() time.Time
	newID    func() string
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides incident ID generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService creates a new incidents service.
func NewService(repo Repository, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateIncident stores a new open incident and then publishes a
// notification. A publish failure does not undo the stored record.
func (s *Service) CreateIncident(ctx context.Context, input CreateIncidentInput) (*CreateResult, error) {
	incident := &domain.Incident{
		ID:          s.newID(),
		Title:       input.Title,
		Description: input.Description,
		Severity:    input.Severity,
		ReportedBy:  input.ReportedBy,
		Tags:        input.Tags,
		Status:      domain.StatusOpen,
		CreatedAt:   s.now(),
	}

	if err := s.repo.CreateIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	result := &CreateResult{Incident: incident}

	if s.notifier != nil {
		if err := s.notifier.NotifyIncidentCreated(ctx, incident); err != nil {
			ctxlog.FromContext(ctx).Warn("incident stored but notification failed",
				"incident_id", incident.ID,
				"error", err,
			)
			result.NotifyErr = err
		}
	}

	return result, nil
}

// GetIncident returns an incident by ID.
func (s *Service) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return s.repo.GetIncident(ctx, id)
}

// ListIncidents returns every stored incident matching filter, in store order.
func (s *Service) ListIncidents(ctx context.Context, filter ListFilter) ([]*domain.Incident, error) {
	all, err := s.repo.ListIncidents(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]*domain.Incident, 0, len(all))
	for _, inc := range all {
		if filter.matches(inc) {
			items = append(items, inc)
		}
	}
	return items, nil
}

// UpdateIncidentStatus sets a new status. Every transition is allowed,
// including to the current status; updated_at advances either way.
func (s *Service) UpdateIncidentStatus(ctx context.Context, id string, status domain.Status) (*domain.Incident, error) {
	return s.repo.UpdateIncidentStatus(ctx, id, status, s.now())
}

// Stats summarises stored incidents.
type Stats struct {
	Total      int                     `json:"total"`
	BySeverity map[domain.Severity]int `json:"by_severity"`
	ByStatus   map[domain.Status]int   `json:"by_status"`
}

// Stats counts incidents by severity and status.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	all, err := s.repo.ListIncidents(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Total:      len(all),
		BySeverity: make(map[domain.Severity]int, len(domain.Severities)),
		ByStatus:   make(map[domain.Status]int, len(domain.Statuses)),
	}
	for _, sev := range domain.Severities {
		stats.BySeverity[sev] = 0
	}
	for _, st := range domain.Statuses {
		stats.ByStatus[st] = 0
	}
	for _, inc := range all {
		stats.BySeverity[inc.Severity]++
		stats.ByStatus[inc.Status]++
	}
	return stats, nil
}

// Ping checks the record store.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
