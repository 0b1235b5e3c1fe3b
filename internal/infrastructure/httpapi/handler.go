package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/davarch/ci-dashboard/internal/domain"
	"go.uber.org/zap"
)

// SnapshotSource is the single access pattern the read path is allowed:
// one composite snapshot per inbound request.
type SnapshotSource interface {
	Snapshot() domain.StateSnapshot
}

// Handler serves the dashboard's read API. Every endpoint takes exactly
// one snapshot and serializes a view of it; nothing here mutates state.
type Handler struct {
	source SnapshotSource
	cache  domain.DataCache
	log    *zap.Logger
	mux    *http.ServeMux
}

func New(source SnapshotSource, cache domain.DataCache, webDir string, log *zap.Logger) http.Handler {
	h := &Handler{source: source, cache: cache, log: log, mux: http.NewServeMux()}

	h.mux.HandleFunc("/healthz", h.healthz)
	h.mux.HandleFunc("/api/v1/snapshot", h.jsonView(func(s domain.StateSnapshot) any { return s }))
	h.mux.HandleFunc("/api/v1/projects", h.jsonView(func(s domain.StateSnapshot) any { return s.Projects }))
	h.mux.HandleFunc("/api/v1/pipelines", h.jsonView(func(s domain.StateSnapshot) any { return s.Pipelines }))
	h.mux.HandleFunc("/api/v1/summary", h.jsonView(func(s domain.StateSnapshot) any { return s.Summary }))

	if webDir != "" {
		h.mux.Handle("/", http.FileServer(http.Dir(webDir)))
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// jsonView builds a GET handler that serializes one view of the current
// snapshot, memoized through the cache keyed by request path.
func (h *Handler) jsonView(view func(domain.StateSnapshot) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		key := r.URL.Path
		if h.cache != nil {
			if b, ok := h.cache.Get(key); ok {
				writeJSON(w, http.StatusOK, b)
				return
			}
		}

		b, err := json.Marshal(view(h.source.Snapshot()))
		if err != nil {
			h.log.Error("marshal snapshot view", zap.String("path", key), zap.Error(err))
			jsonErr(w, http.StatusInternalServerError, "internal error")
			return
		}

		if h.cache != nil {
			h.cache.Set(key, b)
		}
		writeJSON(w, http.StatusOK, b)
	}
}

type healthzResponse struct {
	Status      domain.ServiceStatus `json:"status"`
	LastUpdated *string              `json:"last_updated"`
	Error       string               `json:"error,omitempty"`
}

// healthz reports the most recent cycle's outcome. Always 200: stale but
// available data is preferred over no data, so an ingest error is a body
// field, not an HTTP failure.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap := h.source.Snapshot()
	resp := healthzResponse{Status: snap.Status, Error: snap.Error}
	if snap.LastUpdated != nil {
		s := snap.LastUpdated.UTC().Format(time.RFC3339)
		resp.LastUpdated = &s
	}

	b, _ := json.Marshal(resp)
	writeJSON(w, http.StatusOK, b)
}

func writeJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	b, _ := json.Marshal(map[string]string{"error": msg})
	writeJSON(w, code, b)
}
