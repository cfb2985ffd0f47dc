// Package httpresp provides the JSON response envelope used across the
// gateway's public and internal HTTP endpoints.
package httpresp

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorBody is the JSON error envelope every spec-named error response uses:
// {"error": "invalid_slug"} and similar.
type ErrorBody struct {
	Error string `json:"error"`
}

// RespondError writes {"error": code} with the given status code.
func RespondError(w http.ResponseWriter, status int, code string) {
	Respond(w, status, ErrorBody{Error: code})
}
