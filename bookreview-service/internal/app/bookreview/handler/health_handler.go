package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"bookreview/bookreview-service/internal/app/bookreview/service"
	"bookreview/pkg/logger"
)

// DependencyCheck - проверка одной внешней зависимости воркера (MongoDB, PostgreSQL)
type DependencyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthCheckHandler - HTTP-эндпоинты воркера рейтингов
type HealthCheckHandler struct {
	checks     []DependencyCheck
	historySvc service.RatingHistoryServiceInterface
}

func NewHealthCheckHandler(historySvc service.RatingHistoryServiceInterface, checks ...DependencyCheck) *HealthCheckHandler {
	return &HealthCheckHandler{
		checks:     checks,
		historySvc: historySvc,
	}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp time.Time         `json:"timestamp"`
}

func (h *HealthCheckHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	overallStatus := "healthy"

	for _, dep := range h.checks {
		if err := dep.Check(ctx); err != nil {
			checks[dep.Name] = "unhealthy: " + err.Error()
			overallStatus = "unhealthy"
		} else {
			checks[dep.Name] = "healthy"
		}
	}

	status := http.StatusOK
	if overallStatus != "healthy" {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, HealthResponse{
		Status:    overallStatus,
		Checks:    checks,
		Timestamp: time.Now().UTC(),
	})
}

func (h *HealthCheckHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for _, dep := range h.checks {
		if err := dep.Check(ctx); err != nil {
			http.Error(w, dep.Name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (h *HealthCheckHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}

// RatingHistory GET /books/{id}/rating-history?limit=
func (h *HealthCheckHandler) RatingHistory(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	history, err := h.historySvc.History(r.Context(), bookID, limit)
	if err != nil {
		if errors.Is(err, service.ErrInvalidID) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid book id"})
			return
		}
		logger.Error().Err(err).Str("book_id", bookID).Msg("Failed to load rating history")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bookId":  bookID,
		"history": history,
	})
}

func (h *HealthCheckHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /health/readiness", h.Readiness)
	mux.HandleFunc("GET /health/liveness", h.Liveness)
	mux.HandleFunc("GET /books/{id}/rating-history", h.RatingHistory)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}
