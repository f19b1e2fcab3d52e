package httputil

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

func newRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/incidents", strings.NewReader(body))
}

func TestDecodeJSON_Success(t *testing.T) {
	var p samplePayload
	err := DecodeJSON(newRequest(`{"title":"db down","tags":["db"]}`), &p)
	require.NoError(t, err)
	assert.Equal(t, "db down", p.Title)
	assert.Equal(t, []string{"db"}, p.Tags)
}

func TestDecodeJSON_Base64Body(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(`{"title":"encoded"}`))
	req := newRequest(encoded)
	req.Header.Set("Content-Transfer-Encoding", "base64")

	var p samplePayload
	require.NoError(t, DecodeJSON(req, &p))
	assert.Equal(t, "encoded", p.Title)
}

func TestDecodeJSON_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		base64 bool
		check  func(t *testing.T, err error)
	}{
		{
			name: "empty body",
			body: "   ",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrBodyRequired)
			},
		},
		{
			name: "malformed json",
			body: `{"title":`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrInvalidJSON)
			},
		},
		{
			name: "array instead of object",
			body: `[1,2]`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrInvalidJSON)
			},
		},
		{
			name:   "invalid base64",
			body:   "!!!not-base64",
			base64: true,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrInvalidJSON)
			},
		},
		{
			name: "wrong field type",
			body: `{"tags":"db"}`,
			check: func(t *testing.T, err error) {
				var typeErr *FieldTypeError
				require.ErrorAs(t, err, &typeErr)
				assert.Equal(t, "tags", typeErr.Field)
				assert.Equal(t, "a list of strings", typeErr.Expected)
				assert.NotErrorIs(t, err, ErrInvalidJSON)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(tt.body)
			if tt.base64 {
				req.Header.Set("X-Body-Encoding", "base64")
			}
			var p samplePayload
			err := DecodeJSON(req, &p)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestDecodeJSON_TooLarge(t *testing.T) {
	body := `{"title":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	var p samplePayload
	err := DecodeJSON(newRequest(body), &p)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestJSON_NilBodyIsEmptyObject(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusOK, nil)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestErrorWithDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrorWithDetail(rec, http.StatusInternalServerError, KindInternalServerError, "Failed to list incidents", "connection refused")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"InternalServerError","message":"Failed to list incidents","detail":"connection refused"}`, rec.Body.String())
}

func TestValidationError_MissingFieldsSummarised(t *testing.T) {
	rec := httptest.NewRecorder()
	ValidationError(rec, []FieldError{
		{Field: "title", Message: MessageRequired},
		{Field: "severity", Message: "must be one of: critical, high, low, medium"},
		{Field: "description", Message: MessageRequired},
	})

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, KindValidationError, body.Error)
	assert.Equal(t, "missing fields: description, title", body.Message)
	assert.Len(t, body.Details, 3)
}

func TestValidationMessage_FirstFieldWhenNothingMissing(t *testing.T) {
	msg := ValidationMessage([]FieldError{{Field: "status", Message: "must be one of: closed, in_progress, open, resolved"}})
	assert.Equal(t, "status must be one of: closed, in_progress, open, resolved", msg)
}

func TestCORSMiddleware(t *testing.T) {
	called := false
	handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("preflight short-circuits", func(t *testing.T) {
		called = false
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/anything/at/all", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())
		assert.False(t, called)
		assert.Equal(t, CORSAllowMethods, rec.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("headers on regular responses", func(t *testing.T) {
		called = false
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/incidents", nil))

		assert.True(t, called)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, CORSAllowHeaders, rec.Header().Get("Access-Control-Allow-Headers"))
	})
}

func TestAPIKeyMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("disabled without keys", func(t *testing.T) {
		rec := httptest.NewRecorder()
		APIKeyMiddleware(nil)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/incidents", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects missing key", func(t *testing.T) {
		rec := httptest.NewRecorder()
		APIKeyMiddleware([]string{"secret"})(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/incidents", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), KindUnauthorized)
	})

	t.Run("accepts any configured key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/incidents", nil)
		req.Header.Set(APIKeyHeader, "second")
		rec := httptest.NewRecorder()
		APIKeyMiddleware([]string{"first", "second"})(ok).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestMethodNotAllowed_ViaRouter(t *testing.T) {
	r := chi.NewRouter()
	r.MethodNotAllowed(MethodNotAllowed)
	r.Get("/incidents", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/incidents", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Allow"))
	assert.JSONEq(t, `{"error":"MethodNotAllowed","message":"method DELETE is not supported for this resource"}`, rec.Body.String())
}

func TestMethodNotAllowed_AllowFromSubrouter(t *testing.T) {
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

	r := chi.NewRouter()
	r.MethodNotAllowed(MethodNotAllowed)
	r.Group(func(r chi.Router) {
		r.Route("/incidents", func(r chi.Router) {
			r.Get("/", ok)
			r.Post("/", ok)
			r.Get("/{id}", ok)
			r.Patch("/{id}", ok)
			r.Put("/{id}", ok)
		})
	})

	tests := []struct {
		method    string
		path      string
		wantAllow string
	}{
		{http.MethodDelete, "/incidents", "GET, POST, OPTIONS"},
		{http.MethodPost, "/incidents/abc", "GET, PUT, PATCH, OPTIONS"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, tt.wantAllow, rec.Header().Get("Allow"))
		})
	}
}
