package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/markjakearzadon/folio-gobackend/internal/middleware"
	"github.com/markjakearzadon/folio-gobackend/internal/models"
	"github.com/markjakearzadon/folio-gobackend/internal/services"
)

type DownloadHandler struct {
	gate   *services.DownloadGate
	logger *slog.Logger
}

func NewDownloadHandler(gate *services.DownloadGate, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{gate: gate, logger: logger}
}

func (h *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	grant, err := h.gate.Authorize(r.Context(), p.UserID, mux.Vars(r)["bookID"])
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (h *DownloadHandler) History(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	list, err := h.gate.History(r.Context(), p.UserID)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []models.Download{}
	}
	writeJSON(w, http.StatusOK, list)
}
