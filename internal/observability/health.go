package observability

import (
	"io"
	"net/http"
	"sync/atomic"
)

// Health tracks process readiness for the probe endpoints.
type Health struct {
	ready atomic.Bool
}

// SetReady marks the collector as ready to receive traffic.
func (h *Health) SetReady(v bool) {
	h.ready.Store(v)
}

// Register installs /healthz and /readyz on mux.
func (h *Health) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "ok\n")
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !h.ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "ready\n")
	})
}
