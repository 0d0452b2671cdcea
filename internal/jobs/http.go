package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

// Handler exposes a Service over HTTP.
type Handler struct {
	svc     *Service
	metrics *Metrics
	log     *slog.Logger
}

// NewHandler returns a Handler for svc. metrics may be nil.
func NewHandler(svc *Service, metrics *Metrics, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, metrics: metrics, log: log.With("component", "jobs-http")}
}

// Register installs the job routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /jobs", h.withMetrics("/jobs", h.handleSubmit))
	mux.HandleFunc("GET /jobs/{id}", h.withMetrics("/jobs/{id}", h.handleStatus))
	mux.HandleFunc("GET /artifacts/{id}", h.withMetrics("/artifacts/{id}", h.handleFetch))
	mux.HandleFunc("DELETE /artifacts/{id}", h.withMetrics("/artifacts/{id}", h.handleDelete))
	mux.HandleFunc("POST /synthesize", h.withMetrics("/synthesize", h.handleSynthesize))
	mux.HandleFunc("GET /models/info", h.withMetrics("/models/info", h.handleModelInfo))
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *Handler) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), time.Since(start).Seconds())
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (SubmitRequest, bool) {
	var req SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("%w: malformed body: %v", ErrInvalidRequest, err))
		return req, false
	}
	return req, true
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	id, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{JobID: id, Status: StatusPending})
}

func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	job, err := h.svc.SynthesizeNow(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if job.Status == StatusFailed {
		writeJSON(w, http.StatusInternalServerError, job)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Status(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) handleFetch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := h.svc.FetchArtifact(id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	ctype := "audio/wav"
	if job, err := h.svc.Status(id); err == nil && job.Format == FormatMP3 {
		ctype = "audio/mpeg"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log.Warn("write artifact", "job", id, "error", err)
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteArtifact(r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Info())
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Jobs:      h.svc.Len(),
		Backend:   h.svc.Info(),
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidRequest):
		code = http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ErrShuttingDown):
		code = http.StatusServiceUnavailable
	default:
		h.log.Error("request failed", "error", err)
	}
	writeJSON(w, code, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
