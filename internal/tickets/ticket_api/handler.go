package ticket_api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"ms-booking/internal/auth"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	ticketdb "ms-booking/internal/tickets/db"
	qr "ms-booking/internal/tickets/qr_genrator"
	tickets "ms-booking/internal/tickets/service"
	"ms-booking/internal/utils"

	"github.com/go-chi/chi/v5"
)

type TicketService interface {
	GetOwnedTicket(ctx context.Context, buyerID, ticketID string) (*models.Ticket, error)
	GetScanPayload(ctx context.Context, buyerID, ticketID string) (*models.ScanPayloadResponse, error)
	GetTotalTicketsCount(ctx context.Context) (int, error)
}

// AvailabilityReader is the inventory ledger's read side.
type AvailabilityReader interface {
	Availability(ctx context.Context, eventID string) ([]models.ClassAvailability, error)
}

type EventReader interface {
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
}

type Handler struct {
	TicketService TicketService
	Inventory     AvailabilityReader
	Events        EventReader
	QRGenerator   *qr.QRGenerator
	Logger        *logger.Logger
}

func NewHandler(ticketService TicketService, inventory AvailabilityReader, events EventReader, generator *qr.QRGenerator, log *logger.Logger) *Handler {
	return &Handler{
		TicketService: ticketService,
		Inventory:     inventory,
		Events:        events,
		QRGenerator:   generator,
		Logger:        log,
	}
}

func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/tickets/events/{eventId}/availability", h.GetAvailability)
	r.Get("/tickets/count", h.GetTotalTicketsCount)
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/tickets/{ticketId}/scan-payload", h.GetScanPayload)
}

// GetScanPayload returns the payload gate scanners read, as JSON or, with
// ?format=png, as the QR image.
func (h *Handler) GetScanPayload(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketId")
	buyerID := auth.UserID(r.Context())

	if r.URL.Query().Get("format") == "png" {
		h.writeQR(w, r, buyerID, ticketID)
		return
	}

	payload, err := h.TicketService.GetScanPayload(r.Context(), buyerID, ticketID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Scan payload", payload))
}

func (h *Handler) writeQR(w http.ResponseWriter, r *http.Request, buyerID, ticketID string) {
	ticket, err := h.TicketService.GetOwnedTicket(r.Context(), buyerID, ticketID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	png := ticket.QRCode
	if len(png) == 0 {
		png, err = h.QRGenerator.Encode(ticket.ScanPayload)
		if err != nil {
			h.writeError(w, fmt.Errorf("render qr for ticket %s: %w", ticketID, err))
			return
		}
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("failed to write qr for ticket %s: %v", ticketID, err))
	}
}

// GetAvailability reports remaining capacity per ticket class. It is advisory;
// settlement re-checks capacity atomically.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	if _, err := h.Events.GetEvent(r.Context(), eventID); err != nil {
		h.writeError(w, err)
		return
	}

	classes, err := h.Inventory.Availability(r.Context(), eventID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if classes == nil {
		classes = []models.ClassAvailability{}
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Availability", classes))
}

func (h *Handler) respond(w http.ResponseWriter, status int, body utils.APIResponse) {
	if err := utils.WriteJSON(w, status, body); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ticketdb.ErrTicketNotFound), errors.Is(err, errEventNotFound):
		h.respond(w, http.StatusNotFound, utils.ErrorResponse("Not Found", err.Error()).WithCode("not_found"))
	case errors.Is(err, tickets.ErrNotTicketOwner):
		h.respond(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", err.Error()).WithCode("forbidden"))
	default:
		h.Logger.Error("API", err.Error())
		h.respond(w, http.StatusInternalServerError, utils.ErrorResponse("Internal error", "internal error").WithCode("internal"))
	}
}
