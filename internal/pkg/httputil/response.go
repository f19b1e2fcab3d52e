// Package httputil provides the request/response envelope shared by all
// HTTP handlers: JSON encoding, error kinds, body decoding and middleware.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
)

// Error kinds reported in the "error" field of error responses.
const (
	KindBadRequest          = "BadRequest"
	KindValidationError     = "ValidationError"
	KindMethodNotAllowed    = "MethodNotAllowed"
	KindNotFound            = "NotFound"
	KindUnauthorized        = "Unauthorized"
	KindInternalServerError = "InternalServerError"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string       `json:"error"`
	Message string       `json:"message"`
	Detail  string       `json:"detail,omitempty"`
	Details []FieldError `json:"details,omitempty"`
}

// FieldError describes one invalid field of a request payload.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var emptyObject = struct{}{}

// JSON writes data as a JSON response. A nil body is written as {}.
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if statusCode == http.StatusNoContent {
		return
	}
	if data == nil {
		data = emptyObject
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Error writes an {"error": kind, "message": message} response.
func Error(w http.ResponseWriter, status int, kind, message string) {
	JSON(w, status, ErrorBody{Error: kind, Message: message})
}

// ErrorWithDetail writes an error response carrying the underlying error text.
func ErrorWithDetail(w http.ResponseWriter, status int, kind, message, detail string) {
	JSON(w, status, ErrorBody{Error: kind, Message: message, Detail: detail})
}

// ValidationError writes a 400 ValidationError response listing every
// invalid field. Missing fields are summarised in the message.
func ValidationError(w http.ResponseWriter, fieldErrors []FieldError) {
	JSON(w, http.StatusBadRequest, ErrorBody{
		Error:   KindValidationError,
		Message: ValidationMessage(fieldErrors),
		Details: fieldErrors,
	})
}

// ValidationMessage builds the human readable summary of field errors.
func ValidationMessage(fieldErrors []FieldError) string {
	var missing []string
	for _, fe := range fieldErrors {
		if fe.Message == MessageRequired {
			missing = append(missing, fe.Field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "missing fields: " + strings.Join(missing, ", ")
	}
	if len(fieldErrors) > 0 {
		return fieldErrors[0].Field + " " + fieldErrors[0].Message
	}
	return "validation error"
}

// MessageRequired is the FieldError message used for absent or blank fields.
const MessageRequired = "is required"
