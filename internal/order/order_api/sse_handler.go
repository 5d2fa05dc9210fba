package order_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"ms-booking/internal/auth"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/go-chi/chi/v5"
)

// OrderReader is what the stream needs to authorize a subscriber.
type OrderReader interface {
	GetOrder(ctx context.Context, buyerID, orderID string) (*models.OrderDetails, error)
}

// Subscriber hands out per-order status channels.
type Subscriber interface {
	Subscribe(ctx context.Context, orderID string) <-chan models.OrderEvent
}

// SSEHandler streams order status changes to the buyer who owns the order.
type SSEHandler struct {
	Orders  OrderReader
	Events  Subscriber
	Logger  *logger.Logger
	onError func(w http.ResponseWriter, op string, err error)
}

func NewSSEHandler(orders OrderReader, events Subscriber, log *logger.Logger) *SSEHandler {
	errHandler := &Handler{Logger: log}
	return &SSEHandler{Orders: orders, Events: events, Logger: log, onError: errHandler.writeError}
}

func (h *SSEHandler) RegisterRoutes(r chi.Router) {
	r.Get("/tickets/orders/{orderId}/events", h.HandleOrderEvents)
}

// HandleOrderEvents sends the current status, then every change until the
// order reaches a terminal status or the client disconnects.
func (h *SSEHandler) HandleOrderEvents(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Subscribe before the snapshot so no change between the two is lost.
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	eventChan := h.Events.Subscribe(subCtx, orderID)

	details, err := h.Orders.GetOrder(ctx, auth.UserID(ctx), orderID)
	if err != nil {
		h.onError(w, "HandleOrderEvents", err)
		return
	}

	h.setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	snapshot := models.NewOrderEvent(details.Order, "")
	if details.Ticket != nil {
		snapshot.TicketID = details.Ticket.TicketID
	}
	if !h.send(w, "status", snapshot) {
		return
	}
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Client subscribed to order %s", orderID))

	if snapshot.Status.IsTerminal() {
		return
	}

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if !h.send(w, "status", event) {
				return
			}
			flusher.Flush()
			if event.Status.IsTerminal() {
				return
			}
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from order %s", orderID))
			return
		}
	}
}

func (h *SSEHandler) send(w http.ResponseWriter, name string, event models.OrderEvent) bool {
	jsonData, err := json.Marshal(event)
	if err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize order event: %v", err))
		return false
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, jsonData); err != nil {
		return false
	}
	return true
}

// Helper function to set up SSE headers
func (h *SSEHandler) setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
