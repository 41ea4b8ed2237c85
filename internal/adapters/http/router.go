package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
	"github.com/kirillkom/retrieval-engine/internal/core/ports"
)

const (
	defaultMode = domain.ModeSemantic
	defaultTopK = 10
)

type Router struct {
	retriever ports.Retriever
	logger    *slog.Logger
}

func NewRouter(retriever ports.Retriever, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{retriever: retriever, logger: logger}
}

// Options carries the traffic-control knobs applied around the route mux.
// Zero values disable the corresponding gate.
type Options struct {
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration
}

func (rt *Router) Handler(opts Options) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/retrieve", rt.retrieve)

	var handler http.Handler = mux
	if opts.RateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, opts.RateLimitRPS, opts.RateLimitBurst)
	}
	if opts.MaxInFlight > 0 {
		handler = backpressureMiddleware(handler, opts.MaxInFlight, opts.BackpressureWait)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req domain.RetrievalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Mode == "" {
		req.Mode = defaultMode
	}
	if req.TopK == 0 {
		req.TopK = defaultTopK
	}

	response, err := rt.retriever.Retrieve(r.Context(), req)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		if status >= http.StatusInternalServerError {
			rt.logger.Error("retrieve_failed",
				"request_id", requestIDFromContext(r.Context()),
				"mode", req.Mode,
				"status", status,
				"error", err,
			)
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
