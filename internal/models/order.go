package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderCreated         OrderStatus = "created"
	OrderAwaitingPayment OrderStatus = "awaiting_payment"
	OrderSettled         OrderStatus = "settled"
	OrderFailed          OrderStatus = "failed"
	OrderCancelled       OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed, except
// settled -> cancelled through an explicit reversal.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderSettled || s == OrderFailed || s == OrderCancelled
}

const (
	ReasonGatewayError        = "gateway_error"
	ReasonSignatureMismatch   = "signature_mismatch"
	ReasonSoldOutAfterPayment = "sold_out_after_payment"
	ReasonPaymentTimeout      = "payment_timeout"
	ReasonCancelledByBuyer    = "cancelled_by_buyer"
	ReasonSettlementReversed  = "settlement_reversed"
	ReasonSoldOut             = "sold_out"
	FreeConfirmationPaymentID = "free"
	freeExternalOrderPrefix   = "free_"
)

// FreeExternalOrderID is the synthetic gateway reference used for free classes.
func FreeExternalOrderID(orderID string) string {
	return freeExternalOrderPrefix + orderID
}

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderID                       string      `bun:"order_id,pk" json:"order_id"`
	BuyerID                       string      `bun:"buyer_id,notnull" json:"buyer_id"`
	EventID                       string      `bun:"event_id,notnull" json:"event_id"`
	TicketClassID                 string      `bun:"ticket_class_id,notnull" json:"ticket_class_id"`
	Quantity                      int         `bun:"quantity,notnull" json:"quantity"`
	SelectedDate                  string      `bun:"selected_date,notnull" json:"selected_date"`
	HolderName                    string      `bun:"holder_name" json:"holder_name"`
	Currency                      string      `bun:"currency,notnull" json:"currency"`
	Subtotal                      int64       `bun:"subtotal,notnull" json:"subtotal"`
	Fees                          int64       `bun:"fees,notnull" json:"fees"`
	Tax                           int64       `bun:"tax,notnull" json:"tax"`
	Discount                      int64       `bun:"discount,notnull" json:"discount"`
	Total                         int64       `bun:"total,notnull" json:"total"`
	DiscountTier                  GuestTier   `bun:"discount_tier" json:"discount_tier,omitempty"`
	ExternalPaymentOrderID        string      `bun:"external_payment_order_id,nullzero" json:"external_payment_order_id,omitempty"`
	ExternalPaymentConfirmationID string      `bun:"external_payment_confirmation_id,nullzero" json:"external_payment_confirmation_id,omitempty"`
	Status                        OrderStatus `bun:"status,notnull" json:"status"`
	FailureReason                 string      `bun:"failure_reason,nullzero" json:"failure_reason,omitempty"`
	RefundPending                 bool        `bun:"refund_pending,notnull" json:"refund_pending"`
	CreatedAt                     time.Time   `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt                     time.Time   `bun:"updated_at,notnull" json:"updated_at"`
	SettledAt                     time.Time   `bun:"settled_at,nullzero" json:"settled_at,omitempty"`
}

// PriceBreakdown is the client-facing view of an order's amounts.
type PriceBreakdown struct {
	Subtotal int64  `json:"subtotal"`
	Fees     int64  `json:"fees"`
	Tax      int64  `json:"tax"`
	Discount int64  `json:"discount"`
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

func (o *Order) Breakdown() PriceBreakdown {
	return PriceBreakdown{
		Subtotal: o.Subtotal,
		Fees:     o.Fees,
		Tax:      o.Tax,
		Discount: o.Discount,
		Total:    o.Total,
		Currency: o.Currency,
	}
}

type CreateOrderRequest struct {
	EventID       string `json:"event_id" validate:"required,max=64"`
	TicketClassID string `json:"ticket_class_id" validate:"required,max=64"`
	Quantity      int    `json:"quantity" validate:"required,min=1,max=50"`
	SelectedDate  string `json:"selected_date" validate:"required,datetime=2006-01-02"`
	HolderName    string `json:"holder_name" validate:"max=120"`
}

type CreateOrderResponse struct {
	OrderID         string         `json:"order_id"`
	ExternalOrderID string         `json:"external_order_id"`
	Status          OrderStatus    `json:"status"`
	Breakdown       PriceBreakdown `json:"breakdown"`
	DiscountTier    GuestTier      `json:"discount_tier,omitempty"`
	Ticket          *Ticket        `json:"ticket,omitempty"`
}

// ConfirmRequest is the gateway's asynchronous payment confirmation.
type ConfirmRequest struct {
	ExternalOrderID   string `json:"external_order_id" validate:"required,max=255"`
	ExternalPaymentID string `json:"external_payment_id" validate:"required,max=255"`
	Signature         string `json:"signature" validate:"required,hexadecimal"`
}

type ConfirmResponse struct {
	Order    *Order  `json:"order"`
	Ticket   *Ticket `json:"ticket,omitempty"`
	Replayed bool    `json:"replayed"`
}

type ReverseRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// OrderEvent is published to Kafka and streamed to SSE subscribers on every
// order status change.
type OrderEvent struct {
	OrderID       string      `json:"order_id"`
	BuyerID       string      `json:"buyer_id"`
	EventID       string      `json:"event_id"`
	TicketClassID string      `json:"ticket_class_id"`
	Quantity      int         `json:"quantity"`
	Status        OrderStatus `json:"status"`
	Total         int64       `json:"total"`
	Currency      string      `json:"currency"`
	FailureReason string      `json:"failure_reason,omitempty"`
	RefundPending bool        `json:"refund_pending"`
	TicketID      string      `json:"ticket_id,omitempty"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

func NewOrderEvent(o *Order, ticketID string) OrderEvent {
	return OrderEvent{
		OrderID:       o.OrderID,
		BuyerID:       o.BuyerID,
		EventID:       o.EventID,
		TicketClassID: o.TicketClassID,
		Quantity:      o.Quantity,
		Status:        o.Status,
		Total:         o.Total,
		Currency:      o.Currency,
		FailureReason: o.FailureReason,
		RefundPending: o.RefundPending,
		TicketID:      ticketID,
		OccurredAt:    time.Now().UTC(),
	}
}

// OrderDetails is an order with its ticket, once issued.
type OrderDetails struct {
	Order  *Order  `json:"order"`
	Ticket *Ticket `json:"ticket,omitempty"`
}
