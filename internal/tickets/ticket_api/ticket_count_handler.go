package ticket_api

import (
	"net/http"

	"ms-booking/internal/events"
	"ms-booking/internal/utils"
)

var errEventNotFound = events.ErrEventNotFound

// TicketCountResponse is the response format for the GetTotalTicketsCount endpoint
type TicketCountResponse struct {
	TotalCount int `json:"total_count"`
}

// GetTotalTicketsCount handles the request to get the total ticket count
func (h *Handler) GetTotalTicketsCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.TicketService.GetTotalTicketsCount(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Ticket count", TicketCountResponse{TotalCount: count}))
}
