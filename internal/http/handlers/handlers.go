// Package handlers contains the HTTP handlers for the ttshub API.
//
// JSON operations register through huma so they appear in the OpenAPI
// document; streaming, multipart, and binary endpoints mount directly on
// the chi router with the same error envelope.
package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/jmylchreest/ttshub/internal/apperr"
)

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRaw writes a pre-encoded JSON document, as handed back by the
// sidecar proxies.
func writeRaw(w http.ResponseWriter, status int, doc []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(doc)
}

// writeError writes err in the API error envelope. Server-side failures
// get logged; client errors are the caller's problem.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := apperr.StatusOf(err)
	if status >= 500 && logger != nil {
		logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]any{
		"error":  apperr.MessageOf(err),
		"status": status,
	})
}

// decodeJSONObject reads the request body as a JSON object. Raw chi
// handlers use it; huma operations decode through their input structs.
func decodeJSONObject(r *http.Request) (map[string]any, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, "could not read the request body", err)
	}
	var out map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, apperr.BadRequestf("Invalid JSON payload: %v", err)
		}
	}
	if out == nil {
		return nil, apperr.BadRequest("JSON payload must be an object.")
	}
	return out, nil
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
