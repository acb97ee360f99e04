package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "carvalue/internal/errors"
	"carvalue/internal/pricing"
	"carvalue/internal/services"
)

// TrainRequest is the payload for a training run.
type TrainRequest struct {
	Observations []pricing.Observation `json:"observations"`
}

// TrainHandler handles training run HTTP requests
type TrainHandler struct {
	service *services.PricingService
	logger  *slog.Logger
}

// NewTrainHandler creates a new train handler
func NewTrainHandler(service *services.PricingService, logger *slog.Logger) *TrainHandler {
	return &TrainHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers the training routes
func (h *TrainHandler) RegisterRoutes(r chi.Router) {
	r.Post("/train", h.Train)
	r.Post("/retrain", h.Retrain)
}

// Train runs an incremental training pass over the posted observations.
// POST /api/v1/train
func (h *TrainHandler) Train(w http.ResponseWriter, r *http.Request) {
	h.runTraining(w, r, false)
}

// Retrain wipes the store and trains from scratch.
// POST /api/v1/retrain
func (h *TrainHandler) Retrain(w http.ResponseWriter, r *http.Request) {
	h.runTraining(w, r, true)
}

func (h *TrainHandler) runTraining(w http.ResponseWriter, r *http.Request, full bool) {
	ctx := r.Context()

	var req TrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, apierrors.InvalidRequestWithError(err))
		return
	}
	if len(req.Observations) == 0 {
		apierrors.WriteError(w, apierrors.ErrValidation("observations", "at least one observation is required"))
		return
	}

	var (
		summary *pricing.TrainSummary
		err     error
	)
	if full {
		summary, err = h.service.Retrain(ctx, req.Observations)
	} else {
		summary, err = h.service.Train(ctx, req.Observations)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "training request failed",
			slog.Bool("full_retrain", full),
			slog.String("error", err.Error()))
		apierrors.WriteError(w, apierrors.TrainingError(err))
		return
	}

	render.JSON(w, r, summary)
}
