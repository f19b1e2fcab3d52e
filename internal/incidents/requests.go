package incidents

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/pkg/httputil"
	"github.com/go-playground/validator/v10"
)

// CreateIncidentRequest represents the request body for creating an incident.
type CreateIncidentRequest struct {
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description" validate:"required"`
	Severity    string   `json:"severity" validate:"required,oneof=low medium high critical"`
	ReportedBy  string   `json:"reported_by" validate:"required"`
	// Tags is kept raw so an absent field, null and a wrong type can be told apart.
	Tags json.RawMessage `json:"tags,omitempty"`
}

const msgTagsNotList = "must be a list of strings"

// Normalize trims free-text fields so blank values fail "required".
func (r *CreateIncidentRequest) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.ReportedBy = strings.TrimSpace(r.ReportedBy)
}

// ParseTags decodes the optional tags list. It returns nil when the field was
// absent and a non-nil slice, possibly empty, when a list was sent.
func (r *CreateIncidentRequest) ParseTags() ([]string, *httputil.FieldError) {
	raw := bytes.TrimSpace(r.Tags)
	if len(raw) == 0 {
		return nil, nil
	}

	invalid := &httputil.FieldError{Field: "tags", Message: msgTagsNotList}
	if raw[0] != '[' {
		return nil, invalid
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, invalid
	}

	tags := make([]string, 0, len(items))
	for _, item := range items {
		var tag string
		if err := json.Unmarshal(item, &tag); err != nil || bytes.Equal(bytes.TrimSpace(item), []byte("null")) {
			return nil, invalid
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// ToInput converts the request to service input.
func (r *CreateIncidentRequest) ToInput(tags []string) CreateIncidentInput {
	return CreateIncidentInput{
		Title:       r.Title,
		Description: r.Description,
		Severity:    domain.Severity(r.Severity),
		ReportedBy:  r.ReportedBy,
		Tags:        tags,
	}
}

// UpdateStatusRequest represents the request body for a status update.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=open in_progress resolved closed"`
}

// ToStatus converts the validated request status.
func (r *UpdateStatusRequest) ToStatus() domain.Status {
	return domain.Status(r.Status)
}

// CreateIncidentResponse is returned by a successful create.
// Warning and NotificationError are only set on a 202.
type CreateIncidentResponse struct {
	IncidentID        string    `json:"incident_id"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	Warning           string    `json:"warning,omitempty"`
	NotificationError string    `json:"notification_error,omitempty"`
}

// ListIncidentsResponse wraps the list of incidents.
type ListIncidentsResponse struct {
	Items []*domain.Incident `json:"items"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldErrors flattens validator output into response field errors.
func fieldErrors(err error) []httputil.FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []httputil.FieldError{{Field: "body", Message: err.Error()}}
	}

	out := make([]httputil.FieldError, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, httputil.FieldError{
			Field:   e.Field(),
			Message: describeFieldError(e),
		})
	}
	return out
}

func describeFieldError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return httputil.MessageRequired
	case "oneof":
		return "must be one of: " + sortedOptions(strings.Fields(e.Param()))
	default:
		return "failed " + e.Tag() + " validation"
	}
}

func sortedOptions(opts []string) string {
	sorted := append([]string(nil), opts...)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}

// parseListFilter reads the optional severity and status query parameters.
func parseListFilter(q map[string][]string) (ListFilter, []httputil.FieldError) {
	var (
		filter ListFilter
		errs   []httputil.FieldError
	)

	if raw := firstValue(q, "severity"); raw != "" {
		sev := domain.Severity(raw)
		if !sev.IsValid() {
			errs = append(errs, httputil.FieldError{
				Field:   "severity",
				Message: "must be one of: " + sortedOptions(severityNames()),
			})
		} else {
			filter.Severity = &sev
		}
	}

	if raw := firstValue(q, "status"); raw != "" {
		st := domain.Status(raw)
		if !st.IsValid() {
			errs = append(errs, httputil.FieldError{
				Field:   "status",
				Message: "must be one of: " + sortedOptions(statusNames()),
			})
		} else {
			filter.Status = &st
		}
	}

	return filter, errs
}

func firstValue(q map[string][]string, key string) string {
	if v := q[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func severityNames() []string {
	out := make([]string, 0, len(domain.Severities))
	for _, s := range domain.Severities {
		out = append(out, string(s))
	}
	return out
}

func statusNames() []string {
	out := make([]string, 0, len(domain.Statuses))
	for _, s := range domain.Statuses {
		out = append(out, string(s))
	}
	return out
}
