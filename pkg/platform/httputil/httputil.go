// Package httputil centralizes JSON encoding and error translation for
// transport handlers, keeping the error envelope consistent across endpoints.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "openbadger/pkg/domain-errors"
)

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders a domain error as a JSON envelope. Internal errors omit
// the description so infrastructure details never reach clients.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeInternal
	message := ""

	var de *dErrors.Error
	if errors.As(err, &de) {
		code = de.Code
		message = de.Message
	}

	body := map[string]string{"error": string(code)}
	if code != dErrors.CodeInternal && message != "" {
		body["error_description"] = message
	}

	WriteJSON(w, dErrors.ToHTTPStatus(code), body)
}

// Decode parses the request body into dst, reporting a bad_request on failure.
// The bool result tells the handler whether to continue.
func Decode[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var dst T
	if err := json.NewDecoder(r.Body).Decode(&dst); err != nil {
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return dst, false
	}
	return dst, true
}
