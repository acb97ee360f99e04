package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "carvalue/internal/errors"
	"carvalue/internal/pricing"
	"carvalue/internal/services"
)

// ModelsResponse wraps the stored model list.
type ModelsResponse struct {
	Count  int                   `json:"count"`
	Models []pricing.FittedModel `json:"models"`
}

// ModelsHandler handles stored model inspection requests
type ModelsHandler struct {
	service *services.PricingService
	logger  *slog.Logger
}

// NewModelsHandler creates a new models handler
func NewModelsHandler(service *services.PricingService, logger *slog.Logger) *ModelsHandler {
	return &ModelsHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers the model inspection routes
func (h *ModelsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/models", h.ListModels)
}

// ListModels returns every stored fitted model.
// GET /api/v1/models
func (h *ModelsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	models, err := h.service.ListModels(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "model list request failed",
			slog.String("error", err.Error()))
		apierrors.WriteError(w, apierrors.StoreError("list", err))
		return
	}

	render.JSON(w, r, ModelsResponse{Count: len(models), Models: models})
}
