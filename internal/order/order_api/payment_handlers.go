package order_api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"ms-booking/internal/models"
	"ms-booking/internal/order"
	"ms-booking/internal/payment"
	"ms-booking/internal/utils"

	"github.com/go-chi/chi/v5"
)

const maxWebhookBytes = 64 << 10

// WebhookVerifier turns a provider webhook into a signed confirmation.
type WebhookVerifier interface {
	Confirmation(payload []byte, signatureHeader string) (models.ConfirmRequest, bool, error)
}

// SandboxPayer simulates a buyer completing payment at the sandbox gateway.
type SandboxPayer interface {
	Pay(externalOrderID string) (models.ConfirmRequest, error)
}

// StripeWebhook handles webhook events from Stripe
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		h.respond(w, http.StatusBadRequest, utils.ErrorResponse("Invalid webhook", err.Error()))
		return
	}

	req, ok, err := h.Webhook.Confirmation(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payment.ErrWebhookSignature) {
			h.Logger.LogSecurity("WEBHOOK_SIGNATURE", fmt.Sprintf("rejected Stripe webhook from %s", r.RemoteAddr))
		} else {
			h.Logger.Warn("API", fmt.Sprintf("StripeWebhook: %v", err))
		}
		h.respond(w, http.StatusBadRequest, utils.ErrorResponse("Invalid webhook", err.Error()).WithCode("invalid_webhook"))
		return
	}
	if !ok {
		h.respond(w, http.StatusOK, utils.SuccessResponse("Event ignored", nil))
		return
	}

	resp, err := h.OrderService.ConfirmPayment(r.Context(), req)
	if err != nil {
		if order.Retryable(err) {
			// Stripe redelivers on any non-2xx.
			h.writeError(w, "StripeWebhook", err)
			return
		}
		_, code := classify(err)
		// The outcome is recorded; a retry would only replay it.
		h.Logger.Warn("API", fmt.Sprintf("StripeWebhook: confirmation for %s not applied: %v", req.ExternalOrderID, err))
		h.respond(w, http.StatusOK, utils.SuccessResponse("Event processed", map[string]string{"outcome": code}))
		return
	}

	h.Logger.Info("API", fmt.Sprintf("StripeWebhook: order %s is %s", resp.Order.OrderID, resp.Order.Status))
	h.respond(w, http.StatusOK, utils.SuccessResponse("Event processed", resp))
}

// SandboxPay completes a sandbox payment and feeds the signed confirmation
// through the normal confirmation path.
func (h *Handler) SandboxPay(w http.ResponseWriter, r *http.Request) {
	externalOrderID := chi.URLParam(r, "externalOrderId")

	req, err := h.Sandbox.Pay(externalOrderID)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, payment.ErrUnknownSandboxOrder) {
			status = http.StatusNotFound
		}
		h.respond(w, status, utils.ErrorResponse("Sandbox payment failed", err.Error()))
		return
	}

	resp, err := h.OrderService.ConfirmPayment(r.Context(), req)
	if err != nil {
		h.writeError(w, "SandboxPay", err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Payment confirmed", resp))
}
