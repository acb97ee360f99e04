package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "carvalue/internal/errors"
	"carvalue/internal/services"
)

// HealthHandler handles health check HTTP requests
type HealthHandler struct {
	service *services.PricingService
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service *services.PricingService, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers the health routes
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
}

// Health reports store reachability and model inventory.
// GET /api/v1/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := h.service.Health(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "health check failed",
			slog.String("error", err.Error()))
		apierrors.WriteError(w, apierrors.ErrServiceUnavailable)
		return
	}

	render.JSON(w, r, status)
}
