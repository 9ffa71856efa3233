package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Krish-Gupta07/Litmus-AI/internal/domain"
	"github.com/Krish-Gupta07/Litmus-AI/internal/health"
	"github.com/Krish-Gupta07/Litmus-AI/internal/queue"
	"github.com/Krish-Gupta07/Litmus-AI/internal/storage"
)

// Pool is the worker-pool admin surface exposed over HTTP.
type Pool interface {
	Concurrency() int
	Resize(n int) error
}

type Handlers struct {
	queue  *queue.Queue
	pool   Pool
	health *health.Monitor
	store  *storage.Store
	log    *zap.Logger
}

func New(q *queue.Queue, pool Pool, h *health.Monitor, store *storage.Store, log *zap.Logger) *Handlers {
	return &Handlers{queue: q, pool: pool, health: h, store: store, log: log}
}

func (h *Handlers) Router() chi.Router {
	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID)
	rtr.Use(middleware.Recoverer)

	rtr.Get("/health", h.getHealth)
	rtr.Route("/api/analysis", func(r chi.Router) {
		r.Post("/analyze", h.submit)
		r.Get("/status/{jobID}", h.status)
		r.Get("/jobs/{ownerID}", h.listJobs)
		r.Route("/queue", func(r chi.Router) {
			r.Get("/stats", h.stats)
			r.Post("/pause", h.pause)
			r.Post("/resume", h.resume)
			r.Post("/clean", h.clean)
			r.Post("/concurrency", h.concurrency)
		})
	})
	return rtr
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *Handlers) respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: status < 400, Data: data}); err != nil {
		h.log.Warn("response encode failed", zap.Error(err))
	}
}

func (h *Handlers) fail(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: msg})
}

type submitRequest struct {
	OwnerID   string `json:"ownerId"`
	InputKind string `json:"inputKind"`
	Payload   string `json:"payload"`
	Priority  *int   `json:"priority,omitempty"`
}

func (r submitRequest) validate() error {
	if r.OwnerID == "" {
		return errors.New("ownerId is required")
	}
	if r.Payload == "" {
		return errors.New("payload is required")
	}
	if k := domain.InputKind(r.InputKind); k != domain.InputURL && k != domain.InputText {
		return errors.New(`inputKind must be "url" or "text"`)
	}
	if r.Priority != nil {
		if p := domain.Priority(*r.Priority); p < domain.PriorityLow || p > domain.PriorityHigh {
			return errors.New("priority out of range")
		}
	}
	return nil
}

func (h *Handlers) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		h.fail(w, http.StatusBadRequest, err.Error())
		return
	}

	sub := queue.SubmitRequest{
		OwnerID:   req.OwnerID,
		InputKind: domain.InputKind(req.InputKind),
		Payload:   req.Payload,
	}
	if req.Priority != nil {
		p := domain.Priority(*req.Priority)
		sub.Priority = &p
	}

	id, err := h.queue.Submit(r.Context(), sub)
	if err != nil {
		var full *domain.QueueFullError
		switch {
		case errors.Is(err, domain.ErrBackendUnavailable):
			h.fail(w, http.StatusServiceUnavailable, err.Error())
		case errors.As(err, &full):
			h.fail(w, http.StatusTooManyRequests, err.Error())
		default:
			h.log.Error("submit failed", zap.Error(err))
			h.fail(w, http.StatusInternalServerError, "failed to create analysis job")
		}
		return
	}
	h.respond(w, http.StatusAccepted, map[string]any{
		"jobId":  id,
		"status": string(domain.StatusQueued),
	})
}

func (h *Handlers) status(w http.ResponseWriter, r *http.Request) {
	view, err := h.queue.Status(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.fail(w, http.StatusNotFound, "job not found")
			return
		}
		h.log.Error("status query failed", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, "failed to get job status")
		return
	}
	h.respond(w, http.StatusOK, view)
}

func (h *Handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.fail(w, http.StatusNotImplemented, "job history is not available")
		return
	}
	jobs, err := h.store.ListByOwner(r.Context(), chi.URLParam(r, "ownerID"), 50)
	if err != nil {
		h.log.Error("owner listing failed", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"jobs": jobs, "total": len(jobs)})
}

func (h *Handlers) stats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.queue.Snapshot(r.Context())
	if err != nil {
		h.log.Error("stats query failed", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, "failed to get queue statistics")
		return
	}
	h.respond(w, http.StatusOK, snap)
}

func (h *Handlers) getHealth(w http.ResponseWriter, r *http.Request) {
	state := h.health.State()
	status := "healthy"
	code := http.StatusOK
	if !state.Healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	h.respond(w, code, map[string]any{
		"status":           status,
		"backendConnected": state.Healthy,
		"circuitOpen":      state.CircuitOpen,
		"concurrency":      h.pool.Concurrency(),
	})
}

func (h *Handlers) pause(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Pause(r.Context()); err != nil {
		h.log.Error("pause failed", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, "failed to pause queue")
		return
	}
	h.respond(w, http.StatusOK, map[string]string{"message": "queue paused"})
}

func (h *Handlers) resume(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Resume(r.Context()); err != nil {
		h.log.Error("resume failed", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, "failed to resume queue")
		return
	}
	h.respond(w, http.StatusOK, map[string]string{"message": "queue resumed"})
}

func (h *Handlers) clean(w http.ResponseWriter, r *http.Request) {
	removed, err := h.queue.CleanOldJobs(r.Context())
	if err != nil {
		h.log.Error("clean failed", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, "failed to clean queue")
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"removed": removed})
}

func (h *Handlers) concurrency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Concurrency int `json:"concurrency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.pool.Resize(req.Concurrency); err != nil {
		h.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respond(w, http.StatusOK, map[string]int{"concurrency": h.pool.Concurrency()})
}

// Serve runs the HTTP server until ctx is done, then shuts it down
// gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("http server listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Wrap(srv.Shutdown(shutdownCtx), "http shutdown")
}
