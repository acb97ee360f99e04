package http

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carvalue/internal/middleware"
	"carvalue/internal/pricing"
	"carvalue/internal/services"
	"carvalue/internal/store"
)

func newTestRouter(t *testing.T) (*chi.Mux, *services.PricingService) {
	t.Helper()

	st := store.NewMemory()
	logger := slog.Default()
	trainer := pricing.NewTrainer(pricing.DefaultParams(), pricing.NewRouter(nil, nil), st, logger)
	resolver := pricing.NewResolver(st, nil, logger)
	svc := services.NewPricingService(trainer, resolver, st, nil, logger)
	svc.SetClock(func() time.Time {
		return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	})

	validator := middleware.NewRequestValidator(logger)
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		NewPredictHandler(svc, validator, logger).RegisterRoutes(r)
		NewTrainHandler(svc, logger).RegisterRoutes(r)
		NewModelsHandler(svc, logger).RegisterRoutes(r)
		NewHealthHandler(svc, logger).RegisterRoutes(r)
	})
	return r, svc
}

func trainingPayload(t *testing.T, n int) *bytes.Buffer {
	t.Helper()

	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	observations := make([]pricing.Observation, 0, n)
	for i := 0; i < n; i++ {
		km := 30000 + 8000*float64(i)
		price := 3_600_000 - 65_000*math.Log1p(km)
		if i%2 == 0 {
			price += 25_000
		} else {
			price -= 25_000
		}
		observations = append(observations, pricing.Observation{
			MakeKey:    "volkswagen",
			ModelKey:   "golf",
			Year:       2019,
			Kilometers: km,
			Price:      price,
			ObservedAt: asOf.AddDate(0, 0, -3*i),
		})
	}

	body, err := json.Marshal(TrainRequest{Observations: observations})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestPredictEndpointRequiresYear(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/predict?make=toyota&model=corolla", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "year")
}

func TestPredictEndpointRejectsImplausibleYear(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/predict?year=1500", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictEndpointReturnsNullEstimateWhenNoModels(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/predict?make=toyota&model=corolla&year=2019&kilometers=60000", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var pred pricing.Prediction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pred))
	assert.Nil(t, pred.Estimate)
	assert.Equal(t, pricing.TierNone, pred.TierUsed)
}

func TestTrainThenPredictEndToEnd(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/train", trainingPayload(t, 20)))
	require.Equal(t, http.StatusOK, rec.Code)

	var summary pricing.TrainSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 4, summary.Updated)
	assert.NotEmpty(t, summary.RunID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/predict?make=volkswagen&model=golf&year=2019&kilometers=60000", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var pred pricing.Prediction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pred))
	require.NotNil(t, pred.Estimate)
	assert.Equal(t, pricing.TierModelYear, pred.TierUsed)
	assert.NotNil(t, pred.Band)
	assert.GreaterOrEqual(t, pred.Band.Low, 0.0)
}

func TestTrainEndpointRejectsEmptyBody(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/train", bytes.NewBufferString(`{"observations":[]}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/train", bytes.NewBufferString("not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModelsEndpointListsStoredModels(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/train", trainingPayload(t, 20)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ModelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.Count)
	assert.Len(t, resp.Models, 4)
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status services.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "degraded", status.Status)
	assert.Zero(t, status.ModelCount)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/train", trainingPayload(t, 20)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, 4, status.ModelCount)
}
