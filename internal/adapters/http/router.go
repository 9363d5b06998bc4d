package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
	"github.com/kirillkom/conversation-insights/internal/core/ports"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// Router serves the ops endpoints of a long-running classifier.
type Router struct {
	history ports.RunHistory
	metrics http.Handler
	logger  *slog.Logger
}

func NewRouter(history ports.RunHistory, metrics http.Handler, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{history: history, metrics: metrics, logger: logger}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics)
	}
	mux.HandleFunc("GET /v1/runs", rt.listRuns)
	mux.HandleFunc("GET /v1/runs/{job_id}", rt.getRun)
	return requestIDMiddleware(accessLogMiddleware(rt.logger, mux))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "list runs", errors.New("limit must be a positive integer")))
			return
		}
		limit = min(n, maxRunsLimit)
	}

	entries, err := rt.history.ListRecent(r.Context(), limit)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": entries})
}

func (rt *Router) getRun(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	entry, err := rt.history.GetByJobID(r.Context(), jobID)
	if err == nil && entry == nil {
		err = domain.WrapError(domain.ErrRunNotFound, "get run", errors.New("job "+jobID+" is not recorded"))
	}
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("ops_request_failed", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
