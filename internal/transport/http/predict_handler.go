package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "carvalue/internal/errors"
	"carvalue/internal/middleware"
	"carvalue/internal/pricing"
	"carvalue/internal/services"
)

// PredictHandler handles price estimation HTTP requests
type PredictHandler struct {
	service   *services.PricingService
	validator *middleware.RequestValidator
	logger    *slog.Logger
}

// NewPredictHandler creates a new predict handler
func NewPredictHandler(service *services.PricingService, validator *middleware.RequestValidator, logger *slog.Logger) *PredictHandler {
	return &PredictHandler{
		service:   service,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes registers the prediction routes
func (h *PredictHandler) RegisterRoutes(r chi.Router) {
	r.Get("/predict", h.Predict)
}

// Predict resolves a single price query from query parameters.
// GET /api/v1/predict?make=toyota&model=corolla&year=2019&kilometers=60000
func (h *PredictHandler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	yearStr := r.URL.Query().Get("year")
	if yearStr == "" {
		apierrors.WriteError(w, apierrors.ErrValidation("year", "year is required"))
		return
	}
	year, ok := h.validator.ValidateIntParam(w, r, "year", pricing.MinModelYear, 2100, 0)
	if !ok {
		return
	}
	// Both the long and short odometer parameter names are accepted.
	kmParam := "kilometers"
	if r.URL.Query().Get(kmParam) == "" && r.URL.Query().Get("km") != "" {
		kmParam = "km"
	}
	kilometers, ok := h.validator.ValidateFloatParam(w, r, kmParam, 0, 0)
	if !ok {
		return
	}

	query := pricing.Query{
		Make:       strings.TrimSpace(r.URL.Query().Get("make")),
		Model:      strings.TrimSpace(r.URL.Query().Get("model")),
		Year:       year,
		Kilometers: kilometers,
	}

	prediction, err := h.service.Predict(ctx, query)
	if err != nil {
		h.logger.ErrorContext(ctx, "prediction request failed",
			slog.String("error", err.Error()))
		apierrors.WriteError(w, apierrors.StoreError("lookup", err))
		return
	}

	render.JSON(w, r, prediction)
}
