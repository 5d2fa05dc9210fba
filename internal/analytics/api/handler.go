package analytics_api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-booking/internal/analytics"
	"ms-booking/internal/events"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
)

const (
	apiKeyHeader   = "X-API-Key"
	cacheKeyPrefix = "sales_report:"
)

type SalesService interface {
	GetEventSales(ctx context.Context, eventID string, status models.OrderStatus) (*analytics.EventSales, error)
}

type EventReader interface {
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
}

// Handler serves operator sales reports. Requests carry a static API key
// rather than a buyer token.
type Handler struct {
	Service     SalesService
	Events      EventReader
	APIKey      string
	RedisClient *redis.Client
	CacheTTL    time.Duration
	Logger      *logger.Logger
}

func NewHandler(service SalesService, eventReader EventReader, apiKey string, log *logger.Logger) *Handler {
	return &Handler{Service: service, Events: eventReader, APIKey: apiKey, Logger: log}
}

// NewHandlerWithRedis caches reports in Redis for ttl.
func NewHandlerWithRedis(service SalesService, eventReader EventReader, apiKey string, log *logger.Logger, redisClient *redis.Client, ttl time.Duration) *Handler {
	h := NewHandler(service, eventReader, apiKey, log)
	h.RedisClient = redisClient
	h.CacheTTL = ttl
	return h
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(h.requireAPIKey).Get("/internal/events/{eventId}/sales", h.GetEventSales)
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(apiKeyHeader)
		if h.APIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.APIKey)) != 1 {
			h.Logger.LogSecurity("INVALID_API_KEY", fmt.Sprintf("sales report requested from %s", r.RemoteAddr))
			_ = utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "missing or invalid API key").WithCode("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) GetEventSales(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	status := models.OrderStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.OrderSettled
	}
	switch status {
	case models.OrderCreated, models.OrderAwaitingPayment, models.OrderSettled, models.OrderFailed, models.OrderCancelled:
	default:
		_ = utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Validation failed", "unknown order status").WithCode("validation_failed"))
		return
	}

	if _, err := h.Events.GetEvent(r.Context(), eventID); err != nil {
		if errors.Is(err, events.ErrEventNotFound) {
			_ = utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Event not found", "event not found").WithCode("not_found"))
			return
		}
		h.Logger.Error("ANALYTICS", fmt.Sprintf("Failed to load event %s: %v", eventID, err))
		_ = utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Internal server error", "").WithCode("internal"))
		return
	}

	cacheKey := cacheKeyPrefix + eventID + ":" + string(status)
	if report, ok := h.cached(r.Context(), cacheKey); ok {
		_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Sales report", report))
		return
	}

	report, err := h.Service.GetEventSales(r.Context(), eventID, status)
	if err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("Error building sales report for %s: %v", eventID, err))
		_ = utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Internal server error", "").WithCode("internal"))
		return
	}
	h.store(r.Context(), cacheKey, report)

	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Sales report", report))
}

func (h *Handler) cached(ctx context.Context, key string) (*analytics.EventSales, bool) {
	if h.RedisClient == nil {
		return nil, false
	}
	raw, err := h.RedisClient.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			h.Logger.Warn("REDIS", fmt.Sprintf("Sales report cache read failed: %v", err))
		}
		return nil, false
	}
	var report analytics.EventSales
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, false
	}
	return &report, true
}

func (h *Handler) store(ctx context.Context, key string, report *analytics.EventSales) {
	if h.RedisClient == nil || h.CacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := h.RedisClient.Set(ctx, key, raw, h.CacheTTL).Err(); err != nil {
		h.Logger.Warn("REDIS", fmt.Sprintf("Sales report cache write failed: %v", err))
	}
}
