// Package incidents provides HTTP handlers and business logic for incident
// records.
package incidents

import (
	"context"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
)

// Repository defines the interface for incident storage.
//
// CreateIncident must only succeed when no record with the same ID exists
// (ErrIncidentExists otherwise). UpdateIncidentStatus must only succeed on an
// existing record (ErrIncidentNotFound otherwise). ListIncidents returns every
// record, following store pagination until exhausted, in no particular order.
type Repository interface {
	CreateIncident(ctx context.Context, incident *domain.Incident) error
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	ListIncidents(ctx context.Context) ([]*domain.Incident, error)
	UpdateIncidentStatus(ctx context.Context, id string, status domain.Status, updatedAt time.Time) (*domain.Incident, error)
	Ping(ctx context.Context) error
}
