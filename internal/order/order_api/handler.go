package order_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"ms-booking/internal/auth"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/order"
	"ms-booking/internal/utils"

	"github.com/go-chi/chi/v5"
)

// OrderService is the slice of order.OrderService the HTTP layer calls.
type OrderService interface {
	PlaceOrder(ctx context.Context, buyerID string, req models.CreateOrderRequest) (*models.CreateOrderResponse, error)
	ConfirmPayment(ctx context.Context, req models.ConfirmRequest) (*models.ConfirmResponse, error)
	GetOrder(ctx context.Context, buyerID, orderID string) (*models.OrderDetails, error)
	ListOrders(ctx context.Context, buyerID string) ([]models.Order, error)
	CancelOrder(ctx context.Context, buyerID, orderID string) (*models.Order, error)
	ReverseSettlement(ctx context.Context, buyerID, orderID, reason string) (*models.Order, error)
}

const maxBodyBytes = 1 << 20

type Handler struct {
	OrderService OrderService
	Webhook      WebhookVerifier
	Sandbox      SandboxPayer
	Logger       *logger.Logger
}

func NewHandler(orderService OrderService, log *logger.Logger) *Handler {
	return &Handler{OrderService: orderService, Logger: log}
}

// RegisterPublicRoutes mounts the gateway-facing routes. They carry their
// own signatures instead of a bearer token.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/tickets/confirm", h.ConfirmPayment)
	if h.Webhook != nil {
		r.Post("/tickets/webhooks/stripe", h.StripeWebhook)
	}
	if h.Sandbox != nil {
		r.Post("/tickets/sandbox/{externalOrderId}/pay", h.SandboxPay)
	}
}

// RegisterRoutes mounts the buyer routes; the caller applies auth.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/tickets/order", h.PlaceOrder)
	r.Get("/tickets/orders", h.ListOrders)
	r.Get("/tickets/orders/{orderId}", h.GetOrder)
	r.Delete("/tickets/orders/{orderId}", h.DeleteOrder)
	r.Post("/tickets/orders/{orderId}/reverse", h.ReverseOrder)
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	buyerID := auth.UserID(r.Context())

	var req models.CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.Logger.Info("API", fmt.Sprintf("PlaceOrder: buyer=%s event=%s class=%s qty=%d", buyerID, req.EventID, req.TicketClassID, req.Quantity))

	resp, err := h.OrderService.PlaceOrder(r.Context(), buyerID, req)
	if err != nil {
		h.writeError(w, "PlaceOrder", err)
		return
	}

	h.respond(w, http.StatusCreated, utils.SuccessResponse("Order created", resp))
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req models.ConfirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.Logger.Info("API", fmt.Sprintf("ConfirmPayment: external_order=%s", req.ExternalOrderID))

	resp, err := h.OrderService.ConfirmPayment(r.Context(), req)
	if err != nil {
		h.writeError(w, "ConfirmPayment", err)
		return
	}

	message := "Payment confirmed"
	if resp.Replayed {
		message = "Payment already confirmed"
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse(message, resp))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	details, err := h.OrderService.GetOrder(r.Context(), auth.UserID(r.Context()), orderID)
	if err != nil {
		h.writeError(w, "GetOrder", err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Order retrieved", details))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.OrderService.ListOrders(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "ListOrders", err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Orders retrieved", orders))
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.Logger.Info("API", fmt.Sprintf("DeleteOrder: orderId=%s", orderID))

	cancelled, err := h.OrderService.CancelOrder(r.Context(), auth.UserID(r.Context()), orderID)
	if err != nil {
		h.writeError(w, "DeleteOrder", err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Order cancelled", cancelled))
}

func (h *Handler) ReverseOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	var req models.ReverseRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	if len(req.Reason) > 255 {
		h.respond(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request", "reason: must be at most 255").WithCode("validation_failed"))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("ReverseOrder: orderId=%s", orderID))

	reversed, err := h.OrderService.ReverseSettlement(r.Context(), auth.UserID(r.Context()), orderID, req.Reason)
	if err != nil {
		h.writeError(w, "ReverseOrder", err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Settlement reversed", reversed))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	return h.decodeBody(w, r, dst, false)
}

// decodeOptional accepts an empty body.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	return h.decodeBody(w, r, dst, true)
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if optional && errors.Is(err, io.EOF) {
		return true
	}
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("%s %s: invalid body: %v", r.Method, r.URL.Path, err))
		h.respond(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()).WithCode("invalid_body"))
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, status int, body utils.APIResponse) {
	if err := utils.WriteJSON(w, status, body); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		h.respond(w, status, utils.ErrorResponse("Internal error", "internal error").WithCode(code))
		return
	}
	h.Logger.Warn("API", fmt.Sprintf("%s: %v", op, err))

	resp := utils.ErrorResponse(http.StatusText(status), err.Error()).WithCode(code)
	var verr *order.ValidationError
	if errors.As(err, &verr) {
		resp.Data = verr.Fields
	}
	var serr *order.SettlementError
	if errors.As(err, &serr) {
		resp.Data = serr
	}
	h.respond(w, status, resp)
}

// classify maps service errors to an HTTP status and a stable error code.
func classify(err error) (int, string) {
	var (
		verr *order.ValidationError
		terr *order.TrustError
		serr *order.SettlementError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "validation_failed"
	case errors.As(err, &terr):
		return http.StatusBadRequest, "invalid_signature"
	case errors.As(err, &serr):
		return http.StatusConflict, serr.Reason
	case errors.Is(err, order.ErrEventNotFound),
		errors.Is(err, order.ErrTicketClassNotFound),
		errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, order.ErrTicketNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, order.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, order.ErrSoldOut):
		return http.StatusConflict, "sold_out"
	case errors.Is(err, order.ErrOrderClosed):
		return http.StatusConflict, "order_closed"
	case errors.Is(err, order.ErrAlreadySettled):
		return http.StatusConflict, "already_settled"
	case errors.Is(err, order.ErrConfirmationInProgress):
		return http.StatusConflict, "confirmation_in_progress"
	case errors.Is(err, order.ErrGateway):
		return http.StatusBadGateway, "gateway_error"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
