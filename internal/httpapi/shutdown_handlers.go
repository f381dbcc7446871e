package httpapi

import (
	"crypto/subtle"
	"net/http"
)

type ShutdownHandler struct {
	Token string
	Stop  func()
}

// Shutdown is accepted only over loopback with the token printed at startup.
func (h ShutdownHandler) Shutdown(w http.ResponseWriter, r *http.Request) {
	if !isLocal(r) {
		WriteError(w, r, http.StatusForbidden, "forbidden", "forbidden")
		return
	}

	got := r.Header.Get("X-Shutdown-Token")
	if h.Token == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.Token)) != 1 {
		WriteError(w, r, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}

	// Respond first; Stop only begins the graceful shutdown.
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("shutting down\n"))
	if h.Stop != nil {
		go h.Stop()
	}
}
