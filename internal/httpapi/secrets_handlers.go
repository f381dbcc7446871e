package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"outreach-engine/internal/secrets"
)

type SecretsHandler struct {
	Secrets SecretStore
	Log     *slog.Logger
}

type setSecretReq struct {
	Value string `json:"value"`
}

// Set stores one credential (DATABASE_URL, APIFY_API_TOKEN or OPENAI_API_KEY) in the OS keyring.
func (h SecretsHandler) Set(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !secrets.Known(name) {
		WriteError(w, r, http.StatusNotFound, "not_found", "unknown credential "+name)
		return
	}
	var req setSecretReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Secrets.Set(name, req.Value); err != nil {
		WriteError(w, r, http.StatusBadRequest, "validation", "failed to store credential: "+err.Error())
		return
	}
	h.Log.Info("credential stored", "name", name)
	w.WriteHeader(http.StatusNoContent)
}

func (h SecretsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := h.Secrets.Delete(name)
	if errors.Is(err, secrets.ErrUnknownName) {
		WriteError(w, r, http.StatusNotFound, "not_found", "unknown credential "+name)
		return
	}
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "internal", "failed to remove credential: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h SecretsHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Secrets.Status())
}
