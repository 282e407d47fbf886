package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/markjakearzadon/folio-gobackend/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response_encode_failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps err to its HTTP status and caller-safe message.
func writeAppError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		logger.Error("request_failed", "kind", kind, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": apperr.MessageOf(err)})
}
