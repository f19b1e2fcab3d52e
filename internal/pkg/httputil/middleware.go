package httputil

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// CORS headers attached to every response.
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "OPTIONS,GET,POST,PATCH,PUT,DELETE"
	CORSAllowHeaders = "Content-Type,Authorization,X-Api-Key"
)

// APIKeyHeader carries the client API key.
const APIKeyHeader = "X-Api-Key"

// CORSMiddleware adds the permissive CORS headers to every response and
// answers preflight OPTIONS requests with an empty 204 before routing.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		h.Set("Access-Control-Allow-Methods", CORSAllowMethods)
		h.Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// APIKeyMiddleware rejects requests without one of the configured keys.
// With no keys configured every request passes.
func APIKeyMiddleware(keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !keyAllowed(keys, r.Header.Get(APIKeyHeader)) {
				Error(w, http.StatusUnauthorized, KindUnauthorized, "missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func keyAllowed(keys []string, got string) bool {
	if got == "" {
		return false
	}
	ok := false
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(got)) == 1 {
			ok = true
		}
	}
	return ok
}

// routableMethods are probed when building the Allow header.
var routableMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete,
}

// MethodNotAllowed answers requests whose verb is not served by the route.
// The Allow header lists the verbs the router does serve for the path.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	if allowed := allowedMethods(r); len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	Error(w, http.StatusMethodNotAllowed, KindMethodNotAllowed,
		fmt.Sprintf("method %s is not supported for this resource", strings.ToUpper(r.Method)))
}

func allowedMethods(r *http.Request) []string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.Routes == nil {
		return nil
	}

	var allowed []string
	for _, m := range routableMethods {
		if rctx.Routes.Match(chi.NewRouteContext(), m, r.URL.Path) {
			allowed = append(allowed, m)
		}
	}
	if len(allowed) > 0 {
		// Preflight is answered for every path.
		allowed = append(allowed, http.MethodOptions)
	}
	return allowed
}

// NotFound answers requests for unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	Error(w, http.StatusNotFound, KindNotFound, fmt.Sprintf("no route for %s", r.URL.Path))
}
