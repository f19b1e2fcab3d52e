package httputil

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
)

// MaxBodyBytes caps the size of decoded request bodies.
const MaxBodyBytes = 1 << 20

// Body decoding errors. They are reported to clients as BadRequest.
var (
	ErrBodyRequired = errors.New("request body is required")
	ErrInvalidJSON  = errors.New("request body must be valid JSON")
	ErrBodyTooLarge = errors.New("request body is too large")
)

// FieldTypeError reports a JSON value whose type does not match the field.
type FieldTypeError struct {
	Field    string
	Expected string
}

func (e *FieldTypeError) Error() string {
	return fmt.Sprintf("%s must be %s", e.Field, e.Expected)
}

// IsBase64Encoded reports whether the client sent the body base64 encoded.
func IsBase64Encoded(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Content-Transfer-Encoding"), "base64") ||
		strings.EqualFold(r.Header.Get("X-Body-Encoding"), "base64")
}

// DecodeJSON reads the request body into dst. The body is required.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return ErrBodyRequired
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if len(raw) > MaxBodyBytes {
		return ErrBodyTooLarge
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ErrBodyRequired
	}

	if IsBase64Encoded(r) {
		decoded, err := base64.StdEncoding.DecodeString(string(raw))
		if err != nil {
			return fmt.Errorf("%w: body is not valid base64", ErrInvalidJSON)
		}
		raw = decoded
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			if typeErr.Field == "" {
				return fmt.Errorf("%w: expected a JSON object", ErrInvalidJSON)
			}
			return &FieldTypeError{Field: typeErr.Field, Expected: describeType(typeErr.Type)}
		}
		return ErrInvalidJSON
	}

	return nil
}

func describeType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.String {
			return "a list of strings"
		}
		return "a list"
	case reflect.Map, reflect.Struct:
		return "an object"
	case reflect.Bool:
		return "a boolean"
	default:
		return "a number"
	}
}

// PathParam returns a trimmed URL parameter.
func PathParam(r *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(r, name))
}
