package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Ticket is the immutable admission record issued for exactly one settled order.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	TicketID    string    `bun:"ticket_id,pk" json:"ticket_id"`
	OrderID     string    `bun:"order_id,notnull,unique" json:"order_id"`
	HolderName  string    `bun:"holder_name" json:"holder_name"`
	Quantity    int       `bun:"quantity,notnull" json:"quantity"`
	ScanPayload string    `bun:"scan_payload,notnull" json:"scan_payload"`
	QRCode      []byte    `bun:"qr_code" json:"-"`
	IssuedAt    time.Time `bun:"issued_at,notnull" json:"issued_at"`
}

type ScanPayloadResponse struct {
	TicketID    string `json:"ticket_id"`
	OrderID     string `json:"order_id"`
	ScanPayload string `json:"scan_payload"`
	Quantity    int    `json:"quantity"`
}
