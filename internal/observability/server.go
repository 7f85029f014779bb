package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// NewServer builds a listener that only exposes /metrics, for processes
// without an HTTP API of their own.
func NewServer(addr string, m *Metrics) *http.Server {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", m.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
