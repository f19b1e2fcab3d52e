package incidents

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFixture struct {
	repo     *mockRepository
	notifier *mockNotifier
	router   http.Handler
	clock    *time.Time
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := &handlerFixture{
		repo:     newMockRepository(),
		notifier: &mockNotifier{},
		clock:    &now,
	}

	svc := NewService(f.repo, f.notifier, WithClock(func() time.Time { return *f.clock }))

	r := chi.NewRouter()
	r.Use(httputil.CORSMiddleware)
	r.MethodNotAllowed(httputil.MethodNotAllowed)
	r.NotFound(httputil.NotFound)
	NewHandler(svc).RegisterRoutes(r)
	f.router = r

	return f
}

func (f *handlerFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorBody {
	t.Helper()
	var body httputil.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

const validCreateBody = `{"title":"DB down","description":"primary unreachable","severity":"critical","reported_by":"alice","tags":["db"]}`

func TestHandler_CreateIncident(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(http.MethodPost, "/incidents", validCreateBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp CreateIncidentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.IncidentID)
	assert.Equal(t, "created", resp.Status)
	assert.Empty(t, resp.Warning)

	stored, err := f.repo.GetIncident(t.Context(), resp.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, stored.Status)
	assert.Equal(t, []string{"db"}, stored.Tags)
	assert.Equal(t, []string{resp.IncidentID}, f.notifier.notified)
}

func TestHandler_CreateIncident_Tags(t *testing.T) {
	tests := []struct {
		name     string
		tags     string
		wantJSON string
		want     []string
	}{
		{name: "absent", tags: "", wantJSON: "", want: nil},
		{name: "empty list", tags: `,"tags":[]`, wantJSON: `[]`, want: []string{}},
		{name: "values", tags: `,"tags":["db","eu-west"]`, wantJSON: `["db","eu-west"]`, want: []string{"db", "eu-west"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			body := `{"title":"t","description":"d","severity":"low","reported_by":"r"` + tt.tags + `}`

			rec := f.do(http.MethodPost, "/incidents", body)
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			var resp CreateIncidentResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

			stored, err := f.repo.GetIncident(t.Context(), resp.IncidentID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stored.Tags)

			get := f.do(http.MethodGet, "/incidents/"+resp.IncidentID, "")
			require.Equal(t, http.StatusOK, get.Code)
			var fields map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(get.Body.Bytes(), &fields))
			raw, ok := fields["tags"]
			if tt.wantJSON == "" {
				assert.False(t, ok, "tags should be omitted: %s", get.Body.String())
				return
			}
			require.True(t, ok, get.Body.String())
			assert.JSONEq(t, tt.wantJSON, string(raw))
		})
	}
}

func TestHandler_CreateIncident_Base64Body(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/incidents",
		strings.NewReader(base64.StdEncoding.EncodeToString([]byte(validCreateBody))))
	req.Header.Set("X-Body-Encoding", "base64")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHandler_CreateIncident_NotificationFailure(t *testing.T) {
	f := newHandlerFixture(t)
	f.notifier.err = errors.New("nats: no responders available")

	rec := f.do(http.MethodPost, "/incidents", validCreateBody)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp CreateIncidentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, notificationWarning, resp.Warning)
	assert.Contains(t, resp.NotificationError, "no responders")

	get := f.do(http.MethodGet, "/incidents/"+resp.IncidentID, "")
	assert.Equal(t, http.StatusOK, get.Code)
}

func TestHandler_CreateIncident_BadInput(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantKind    string
		wantMessage string
	}{
		{
			name:     "empty body",
			body:     "",
			wantKind: httputil.KindBadRequest,
		},
		{
			name:     "malformed json",
			body:     `{"title":`,
			wantKind: httputil.KindBadRequest,
		},
		{
			name:        "missing every field",
			body:        `{}`,
			wantKind:    httputil.KindValidationError,
			wantMessage: "missing fields: description, reported_by, severity, title",
		},
		{
			name:        "missing one field",
			body:        `{"title":"t","description":"d","severity":"low"}`,
			wantKind:    httputil.KindValidationError,
			wantMessage: "missing fields: reported_by",
		},
		{
			name:        "blank title",
			body:        `{"title":"   ","description":"d","severity":"low","reported_by":"r"}`,
			wantKind:    httputil.KindValidationError,
			wantMessage: "missing fields: title",
		},
		{
			name:        "unknown severity",
			body:        `{"title":"t","description":"d","severity":"urgent","reported_by":"r"}`,
			wantKind:    httputil.KindValidationError,
			wantMessage: "severity must be one of: critical, high, low, medium",
		},
		{
			name:        "tags not a list",
			body:        `{"title":"t","description":"d","severity":"low","reported_by":"r","tags":"db"}`,
			wantKind:    httputil.KindValidationError,
			wantMessage: "tags must be a list of strings",
		},
		{
			name:        "tags null",
			body:        `{"title":"t","description":"d","severity":"low","reported_by":"r","tags":null}`,
			wantKind:    httputil.KindValidationError,
			wantMessage: "tags must be a list of strings",
		},
		{
			name:        "tags with a number",
			body:        `{"title":"t","description":"d","severity":"low","reported_by":"r","tags":["a",1]}`,
			wantKind:    httputil.KindValidationError,
			wantMessage: "tags must be a list of strings",
		},
		{
			name:        "tags object",
			body:        `{"title":"t","description":"d","severity":"low","reported_by":"r","tags":{"a":"b"}}`,
			wantKind:    httputil.KindValidationError,
			wantMessage: "tags must be a list of strings",
		},
		{
			name:        "missing field and bad tags",
			body:        `{"description":"d","severity":"low","reported_by":"r","tags":7}`,
			wantKind:    httputil.KindValidationError,
			wantMessage: "missing fields: title",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			rec := f.do(http.MethodPost, "/incidents", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.wantKind, body.Error)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, body.Message)
			}
			assert.Empty(t, f.repo.records)
			assert.Empty(t, f.notifier.notified)
		})
	}
}

func TestHandler_CreateIncident_StoreFailure(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.createErr = errors.New("connection refused")

	rec := f.do(http.MethodPost, "/incidents", validCreateBody)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	body := decodeError(t, rec)
	assert.Equal(t, httputil.KindInternalServerError, body.Error)
	assert.Equal(t, msgCreateFailed, body.Message)
	assert.Contains(t, body.Detail, "connection refused")
}

func TestHandler_GetIncident(t *testing.T) {
	f := newHandlerFixture(t)
	created := f.do(http.MethodPost, "/incidents", validCreateBody)
	var resp CreateIncidentResponse
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &resp))

	t.Run("found", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/incidents/"+resp.IncidentID, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var inc domain.Incident
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inc))
		assert.Equal(t, resp.IncidentID, inc.ID)
		assert.Equal(t, "DB down", inc.Title)
		assert.Equal(t, domain.SeverityCritical, inc.Severity)
	})

	t.Run("not found", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/incidents/does-not-exist", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, httputil.KindNotFound, body.Error)
		assert.Equal(t, "incident 'does-not-exist' not found", body.Message)
	})
}

func TestHandler_ListIncidents(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(http.MethodGet, "/incidents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[]}`, rec.Body.String())

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/incidents", validCreateBody).Code)
	}
	f.repo.pageSize = 2

	rec = f.do(http.MethodGet, "/incidents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListIncidentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Items, 5)

	t.Run("filter", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/incidents?severity=low", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"items":[]}`, rec.Body.String())
	})

	t.Run("invalid filter", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/incidents?status=archived", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, httputil.KindValidationError, decodeError(t, rec).Error)
	})

	t.Run("store failure", func(t *testing.T) {
		f.repo.listErr = errors.New("scan failed")
		defer func() { f.repo.listErr = nil }()

		rec := f.do(http.MethodGet, "/incidents", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, msgListFailed, body.Message)
		assert.Equal(t, "scan failed", body.Detail)
	})
}

func TestHandler_UpdateIncidentStatus(t *testing.T) {
	f := newHandlerFixture(t)
	created := f.do(http.MethodPost, "/incidents", validCreateBody)
	var resp CreateIncidentResponse
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &resp))

	later := f.clock.Add(time.Hour)
	*f.clock = later

	for _, method := range []string{http.MethodPatch, http.MethodPut} {
		t.Run(method, func(t *testing.T) {
			rec := f.do(method, "/incidents/"+resp.IncidentID, `{"status":"resolved"}`)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var inc domain.Incident
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inc))
			assert.Equal(t, domain.StatusResolved, inc.Status)
			require.NotNil(t, inc.UpdatedAt)
			assert.True(t, inc.UpdatedAt.Equal(later))
			assert.False(t, inc.UpdatedAt.Before(inc.CreatedAt))
		})
	}

	t.Run("unknown id", func(t *testing.T) {
		rec := f.do(http.MethodPatch, "/incidents/ghost", `{"status":"closed"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, httputil.KindNotFound, decodeError(t, rec).Error)
	})

	t.Run("invalid status never reaches store", func(t *testing.T) {
		f.repo.updateErr = errors.New("should not be called")
		defer func() { f.repo.updateErr = nil }()

		rec := f.do(http.MethodPatch, "/incidents/"+resp.IncidentID, `{"status":"archived"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, httputil.KindValidationError, body.Error)
		assert.Equal(t, "status must be one of: closed, in_progress, open, resolved", body.Message)
	})

	t.Run("missing status", func(t *testing.T) {
		rec := f.do(http.MethodPatch, "/incidents/"+resp.IncidentID, `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "missing fields: status", decodeError(t, rec).Message)
	})

	t.Run("missing body", func(t *testing.T) {
		rec := f.do(http.MethodPatch, "/incidents/"+resp.IncidentID, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, httputil.KindBadRequest, decodeError(t, rec).Error)
	})

	t.Run("store failure", func(t *testing.T) {
		f.repo.updateErr = errors.New("throughput exceeded")
		defer func() { f.repo.updateErr = nil }()

		rec := f.do(http.MethodPut, "/incidents/"+resp.IncidentID, `{"status":"closed"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, msgUpdateFailed, decodeError(t, rec).Message)
	})
}

func TestHandler_GetStats(t *testing.T) {
	f := newHandlerFixture(t)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/incidents", validCreateBody).Code)

	rec := f.do(http.MethodGet, "/incidents/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.BySeverity[domain.SeverityCritical])
	assert.Equal(t, 1, stats.ByStatus[domain.StatusOpen])
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodDelete, "/incidents"},
		{http.MethodPut, "/incidents"},
		{http.MethodPost, "/incidents/abc"},
		{http.MethodDelete, "/incidents/abc"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			f := newHandlerFixture(t)
			f.repo.listErr = errors.New("store must not be touched")

			rec := f.do(tt.method, tt.path, `{"status":"open"}`)
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, httputil.KindMethodNotAllowed, decodeError(t, rec).Error)
			assert.Empty(t, f.repo.records)
		})
	}
}

func TestHandler_Preflight(t *testing.T) {
	f := newHandlerFixture(t)

	for _, path := range []string{"/incidents", "/incidents/abc", "/nowhere"} {
		rec := f.do(http.MethodOptions, path, "")
		assert.Equal(t, http.StatusNoContent, rec.Code, path)
		assert.Empty(t, rec.Body.String())
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestHandler_FullLifecycle(t *testing.T) {
	f := newHandlerFixture(t)

	created := f.do(http.MethodPost, "/incidents", validCreateBody)
	require.Equal(t, http.StatusCreated, created.Code)
	var resp CreateIncidentResponse
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &resp))

	for _, st := range []string{"in_progress", "resolved", "closed", "open"} {
		*f.clock = f.clock.Add(time.Minute)
		rec := f.do(http.MethodPatch, "/incidents/"+resp.IncidentID, `{"status":"`+st+`"}`)
		require.Equal(t, http.StatusOK, rec.Code, st)
	}

	rec := f.do(http.MethodGet, "/incidents/"+resp.IncidentID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var inc domain.Incident
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inc))
	assert.Equal(t, domain.StatusOpen, inc.Status)
	assert.Equal(t, "alice", inc.ReportedBy)
}
