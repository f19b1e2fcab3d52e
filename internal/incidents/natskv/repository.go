// Package natskv provides a NATS JetStream key-value implementation of the
// incidents repository. Each incident is one JSON value keyed by its ID.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/incidents"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	defaultPageSize      = 100
	defaultUpdateRetries = 5
)

// ErrUpdateConflict is returned when a status update keeps losing the
// revision check to concurrent writers.
var ErrUpdateConflict = errors.New("incident was modified concurrently")

// Options tunes the repository.
type Options struct {
	// PageSize is the number of keys resolved per batch when listing.
	PageSize int
	// UpdateRetries bounds compare-and-set attempts on a status update.
	UpdateRetries int
}

// Repository implements incidents.Repository on a JetStream KV bucket.
type Repository struct {
	kv   jetstream.KeyValue
	opts Options
}

// NewRepository binds to bucket, creating it when missing.
func NewRepository(ctx context.Context, nc *nats.Conn, bucket string, opts Options) (*Repository, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "incident records",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("bind kv bucket %s: %w", bucket, err)
	}

	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.UpdateRetries <= 0 {
		opts.UpdateRetries = defaultUpdateRetries
	}

	return &Repository{kv: kv, opts: opts}, nil
}

// CreateIncident stores the incident unless the key already exists.
func (r *Repository) CreateIncident(ctx context.Context, incident *domain.Incident) error {
	value, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("encode incident: %w", err)
	}

	if _, err := r.kv.Create(ctx, incident.ID, value); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return incidents.ErrIncidentExists
		}
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// GetIncident retrieves an incident by ID.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	inc, _, err := r.get(ctx, id)
	return inc, err
}

func (r *Repository) get(ctx context.Context, id string) (*domain.Incident, uint64, error) {
	entry, err := r.kv.Get(ctx, id)
	if err != nil {
		// A key the bucket would reject can never have been stored.
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrInvalidKey) {
			return nil, 0, incidents.ErrIncidentNotFound
		}
		return nil, 0, fmt.Errorf("get incident: %w", err)
	}

	var inc domain.Incident
	if err := json.Unmarshal(entry.Value(), &inc); err != nil {
		return nil, 0, fmt.Errorf("decode incident %s: %w", id, err)
	}
	return &inc, entry.Revision(), nil
}

// ListIncidents streams every key in the bucket and resolves them in
// batches of PageSize.
func (r *Repository) ListIncidents(ctx context.Context) ([]*domain.Incident, error) {
	lister, err := r.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list incident keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	result := make([]*domain.Incident, 0)
	page := make([]string, 0, r.opts.PageSize)

	flush := func() error {
		for _, key := range page {
			inc, _, err := r.get(ctx, key)
			if errors.Is(err, incidents.ErrIncidentNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			result = append(result, inc)
		}
		page = page[:0]
		return nil
	}

	for key := range lister.Keys() {
		page = append(page, key)
		if len(page) == r.opts.PageSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateIncidentStatus rewrites an existing incident with compare-and-set on
// its revision, re-reading and retrying when another writer got there first.
func (r *Repository) UpdateIncidentStatus(ctx context.Context, id string, status domain.Status, updatedAt time.Time) (*domain.Incident, error) {
	for attempt := 1; attempt <= r.opts.UpdateRetries; attempt++ {
		inc, revision, err := r.get(ctx, id)
		if err != nil {
			return nil, err
		}

		inc.Status = status
		ts := updatedAt.UTC()
		inc.UpdatedAt = &ts

		value, err := json.Marshal(inc)
		if err != nil {
			return nil, fmt.Errorf("encode incident: %w", err)
		}

		_, err = r.kv.Update(ctx, id, value, revision)
		if err == nil {
			return inc, nil
		}
		if !isRevisionConflict(err) {
			return nil, fmt.Errorf("update incident status: %w", err)
		}
	}
	return nil, fmt.Errorf("update incident %s after %d attempts: %w", id, r.opts.UpdateRetries, ErrUpdateConflict)
}

func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

// Ping checks that the bucket is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	if _, err := r.kv.Status(ctx); err != nil {
		return fmt.Errorf("kv status: %w", err)
	}
	return nil
}
