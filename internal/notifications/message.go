// Package notifications publishes "incident created" messages through a
// configured Publisher. Delivery is best effort.
package notifications

import (
	"fmt"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
)

// IncidentCreated is the structured message sent for a new incident.
type IncidentCreated struct {
	IncidentID string    `json:"incident_id"`
	Severity   string    `json:"severity"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewIncidentCreated builds the message for incident.
func NewIncidentCreated(incident *domain.Incident) IncidentCreated {
	return IncidentCreated{
		IncidentID: incident.ID,
		Severity:   string(incident.Severity),
		Title:      incident.Title,
		Status:     string(incident.Status),
		CreatedAt:  incident.CreatedAt,
	}
}

// Subject returns the one-line summary used as a message subject.
func (m IncidentCreated) Subject() string {
	return fmt.Sprintf("New incident: %s (%s)", m.IncidentID, m.Severity)
}
