package httpapi

import (
	"log/slog"
	"net/http"

	"outreach-engine/internal/store"
)

type DBHandler struct {
	Store *store.Store
	Log   *slog.Logger
}

// Checkpoint flushes the sqlite WAL so the database file can be copied.
func (h DBHandler) Checkpoint(w http.ResponseWriter, r *http.Request) {
	if !isLocal(r) {
		WriteError(w, r, http.StatusForbidden, "forbidden", "forbidden")
		return
	}
	if err := h.Store.Checkpoint(r.Context()); err != nil {
		WriteDomainError(w, r, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
