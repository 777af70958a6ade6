// Package httputil writes JSON and OAuth error responses.
package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the OAuth 2.0 error body.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteNoStoreJSON is WriteJSON for responses carrying credentials.
func WriteNoStoreJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	WriteJSON(w, status, v)
}

// WriteError writes an OAuth error. Server errors never carry a description.
func WriteError(w http.ResponseWriter, status int, code, description string) {
	if status >= http.StatusInternalServerError {
		description = ""
	}
	WriteNoStoreJSON(w, status, ErrorResponse{Error: code, ErrorDescription: description})
}
