package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"outreach-engine/internal/store"
)

type AvatarsHandler struct {
	Store *store.Store
}

func (h AvatarsHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if key == "" {
		WriteError(w, r, http.StatusBadRequest, "validation", "missing key")
		return
	}

	ct, b, err := h.Store.Avatar(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	if ct == "" {
		ct = "image/*"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "public, max-age=604800")
	_, _ = w.Write(b)
}
