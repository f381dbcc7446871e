package httpapi

import (
	"net/http"
	"time"
)

type HealthHandler struct {
	Inflight func() int
}

func (h HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"ok": true, "time": time.Now().UTC().Format(time.RFC3339)}
	if h.Inflight != nil {
		out["monitors"] = h.Inflight()
	}
	writeJSON(w, out)
}
