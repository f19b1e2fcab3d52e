package incidents

import (
	"context"
	"errors"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/pkg/metrics"
)

type instrumentedRepository struct {
	next   Repository
	driver string
}

// Instrument wraps repo so every call is recorded in the store metrics.
func Instrument(repo Repository, driver string) Repository {
	return &instrumentedRepository{next: repo, driver: driver}
}

func (r *instrumentedRepository) observe(op string, start time.Time, err error) {
	metrics.ObserveStoreOperation(r.driver, op, outcome(err), time.Since(start))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrIncidentNotFound):
		return "not_found"
	case errors.Is(err, ErrIncidentExists):
		return "conflict"
	default:
		return "error"
	}
}

func (r *instrumentedRepository) CreateIncident(ctx context.Context, incident *domain.Incident) (err error) {
	defer func(start time.Time) { r.observe("create", start, err) }(time.Now())
	return r.next.CreateIncident(ctx, incident)
}

func (r *instrumentedRepository) GetIncident(ctx context.Context, id string) (_ *domain.Incident, err error) {
	defer func(start time.Time) { r.observe("get", start, err) }(time.Now())
	return r.next.GetIncident(ctx, id)
}

func (r *instrumentedRepository) ListIncidents(ctx context.Context) (_ []*domain.Incident, err error) {
	defer func(start time.Time) { r.observe("list", start, err) }(time.Now())
	return r.next.ListIncidents(ctx)
}

func (r *instrumentedRepository) UpdateIncidentStatus(ctx context.Context, id string, status domain.Status, updatedAt time.Time) (_ *domain.Incident, err error) {
	defer func(start time.Time) { r.observe("update_status", start, err) }(time.Now())
	return r.next.UpdateIncidentStatus(ctx, id, status, updatedAt)
}

func (r *instrumentedRepository) Ping(ctx context.Context) (err error) {
	defer func(start time.Time) { r.observe("ping", start, err) }(time.Now())
	return r.next.Ping(ctx)
}
