package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/carreto/dispatch/internal/repository"
	"github.com/carreto/dispatch/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is anything the health check should reach, such as Redis.
type Pinger func(ctx context.Context) error

type HealthHandler struct {
	store  repository.Store
	checks map[string]Pinger
}

func NewHealthHandler(store repository.Store, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{store: store, checks: checks}
}

func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())
}

// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := map[string]string{"store": "ok"}
	if err := h.store.Health(ctx); err != nil {
		deps["store"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	for name, ping := range h.checks {
		deps[name] = "ok"
		if err := ping(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}
	utils.JSON(w, status, map[string]interface{}{
		"status":       state,
		"dependencies": deps,
		"time":         time.Now().UTC().Format(time.RFC3339),
	})
}
