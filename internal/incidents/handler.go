package incidents

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bissquit/incident-tracker/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Messages for store failures, reported with the error text as detail.
const (
	msgCreateFailed = "Failed to create incident"
	msgGetFailed    = "Failed to fetch incident"
	msgListFailed   = "Failed to list incidents"
	msgUpdateFailed = "Failed to update incident status"
	msgStatsFailed  = "Failed to compute incident stats"

	notificationWarning = "Incident stored but notification failed"
)

// Handler handles HTTP requests for incidents.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: newValidator(),
	}
}

// RegisterRoutes registers incident routes. Unlisted verbs on these paths
// fall through to the router's MethodNotAllowed handler.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents", func(r chi.Router) {
		r.Get("/", h.ListIncidents)
		r.Post("/", h.CreateIncident)
		r.Get("/stats", h.GetStats)
		r.Get("/{id}", h.GetIncident)
		r.Patch("/{id}", h.UpdateIncidentStatus)
		r.Put("/{id}", h.UpdateIncidentStatus)
	})
}

// CreateIncident handles POST /incidents.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.handleDecodeError(w, err)
		return
	}

	req.Normalize()
	var errs []httputil.FieldError
	if err := h.validator.Struct(req); err != nil {
		errs = fieldErrors(err)
	}
	tags, tagsErr := req.ParseTags()
	if tagsErr != nil {
		errs = append(errs, *tagsErr)
	}
	if len(errs) > 0 {
		httputil.ValidationError(w, errs)
		return
	}

	result, err := h.service.CreateIncident(r.Context(), req.ToInput(tags))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, msgCreateFailed, nil)
		return
	}

	resp := CreateIncidentResponse{
		IncidentID: result.Incident.ID,
		Status:     "created",
		CreatedAt:  result.Incident.CreatedAt,
	}

	if result.NotifyErr != nil {
		resp.Warning = notificationWarning
		resp.NotificationError = result.NotifyErr.Error()
		httputil.JSON(w, http.StatusAccepted, resp)
		return
	}

	httputil.JSON(w, http.StatusCreated, resp)
}

// GetIncident handles GET /incidents/{id}.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r)
	if !ok {
		return
	}

	incident, err := h.service.GetIncident(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, msgGetFailed, notFoundMapping(id))
		return
	}

	httputil.JSON(w, http.StatusOK, incident)
}

// ListIncidents handles GET /incidents.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	filter, errs := parseListFilter(r.URL.Query())
	if len(errs) > 0 {
		httputil.ValidationError(w, errs)
		return
	}

	items, err := h.service.ListIncidents(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, msgListFailed, nil)
		return
	}

	httputil.JSON(w, http.StatusOK, ListIncidentsResponse{Items: items})
}

// UpdateIncidentStatus handles PATCH and PUT /incidents/{id}.
func (h *Handler) UpdateIncidentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.handleDecodeError(w, err)
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, fieldErrors(err))
		return
	}

	incident, err := h.service.UpdateIncidentStatus(r.Context(), id, req.ToStatus())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, msgUpdateFailed, notFoundMapping(id))
		return
	}

	httputil.JSON(w, http.StatusOK, incident)
}

// GetStats handles GET /incidents/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, msgStatsFailed, nil)
		return
	}

	httputil.JSON(w, http.StatusOK, stats)
}

func (h *Handler) handleDecodeError(w http.ResponseWriter, err error) {
	var typeErr *httputil.FieldTypeError
	if errors.As(err, &typeErr) {
		httputil.ValidationError(w, []httputil.FieldError{{
			Field:   typeErr.Field,
			Message: "must be " + typeErr.Expected,
		}})
		return
	}
	httputil.Error(w, http.StatusBadRequest, httputil.KindBadRequest, err.Error())
}

func requireID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := httputil.PathParam(r, "id")
	if id == "" {
		httputil.Error(w, http.StatusBadRequest, httputil.KindBadRequest, "path parameter 'id' is required")
		return "", false
	}
	return id, true
}

func notFoundMapping(id string) []httputil.ErrorMapping {
	return []httputil.ErrorMapping{
		{
			Error:   ErrIncidentNotFound,
			Status:  http.StatusNotFound,
			Kind:    httputil.KindNotFound,
			Message: fmt.Sprintf("incident '%s' not found", id),
		},
	}
}
