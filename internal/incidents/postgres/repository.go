// Package postgres provides a PostgreSQL implementation of the incidents
// repository. Incidents are kept as JSONB documents in the shared records
// table, namespaced by collection.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/incidents"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPageSize = 100

// Repository implements incidents.Repository using PostgreSQL.
type Repository struct {
	db         *pgxpool.Pool
	collection string
	pageSize   int
}

// NewRepository creates a repository over collection. List reads pageSize
// rows per query.
func NewRepository(db *pgxpool.Pool, collection string, pageSize int) *Repository {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Repository{db: db, collection: collection, pageSize: pageSize}
}

// CreateIncident inserts the incident unless its ID is already taken.
func (r *Repository) CreateIncident(ctx context.Context, incident *domain.Incident) error {
	value, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("encode incident: %w", err)
	}

	query := `
		INSERT INTO records (collection, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, key) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, r.collection, incident.ID, value)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return incidents.ErrIncidentExists
	}
	return nil
}

// GetIncident retrieves an incident by ID.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT value FROM records WHERE collection = $1 AND key = $2`

	var raw []byte
	if err := r.db.QueryRow(ctx, query, r.collection, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return decode(raw)
}

// ListIncidents reads the whole collection in key order, one page at a time,
// until a short page signals the end.
func (r *Repository) ListIncidents(ctx context.Context) ([]*domain.Incident, error) {
	query := `
		SELECT key, value FROM records
		WHERE collection = $1 AND key > $2
		ORDER BY key
		LIMIT $3
	`

	result := make([]*domain.Incident, 0)
	after := ""
	for {
		rows, err := r.db.Query(ctx, query, r.collection, after, r.pageSize)
		if err != nil {
			return nil, fmt.Errorf("list incidents: %w", err)
		}

		n := 0
		for rows.Next() {
			var (
				key string
				raw []byte
			)
			if err := rows.Scan(&key, &raw); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan incident: %w", err)
			}
			inc, err := decode(raw)
			if err != nil {
				rows.Close()
				return nil, err
			}
			result = append(result, inc)
			after = key
			n++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate incidents: %w", err)
		}

		if n < r.pageSize {
			return result, nil
		}
	}
}

// UpdateIncidentStatus sets status and updated_at on an existing incident in
// a single conditional statement.
func (r *Repository) UpdateIncidentStatus(ctx context.Context, id string, status domain.Status, updatedAt time.Time) (*domain.Incident, error) {
	query := `
		UPDATE records
		SET value = value || jsonb_build_object('status', $3::text, 'updated_at', $4::text)
		WHERE collection = $1 AND key = $2
		RETURNING value
	`
	stamp := updatedAt.UTC().Format(time.RFC3339Nano)

	var raw []byte
	err := r.db.QueryRow(ctx, query, r.collection, id, string(status), stamp).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("update incident status: %w", err)
	}
	return decode(raw)
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func decode(raw []byte) (*domain.Incident, error) {
	var inc domain.Incident
	if err := json.Unmarshal(raw, &inc); err != nil {
		return nil, fmt.Errorf("decode incident: %w", err)
	}
	return &inc, nil
}
