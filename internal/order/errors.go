package order

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"ms-booking/internal/events"
	"ms-booking/internal/order/db"
	ticketdb "ms-booking/internal/tickets/db"

	"github.com/go-playground/validator/v10"
)

var (
	ErrEventNotFound       = events.ErrEventNotFound
	ErrTicketClassNotFound = events.ErrTicketClassNotFound
	ErrOrderNotFound       = db.ErrOrderNotFound
	ErrTicketNotFound      = ticketdb.ErrTicketNotFound

	ErrInvalidSignature       = errors.New("invalid payment signature")
	ErrSoldOut                = errors.New("ticket class sold out")
	ErrOrderClosed            = errors.New("order is not awaiting payment")
	ErrAlreadySettled         = errors.New("order already settled by a different payment")
	ErrConfirmationInProgress = errors.New("confirmation already in progress")
	ErrForbidden              = errors.New("order belongs to another buyer")
	ErrGateway                = errors.New("payment gateway error")
)

// ValidationError reports bad input. No order state exists beyond what was
// already persisted when it is returned.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// TrustError is a confirmation whose signature did not verify.
type TrustError struct {
	ExternalOrderID string
}

func (e *TrustError) Error() string {
	return fmt.Sprintf("confirmation for %s rejected: %v", e.ExternalOrderID, ErrInvalidSignature)
}

func (e *TrustError) Unwrap() error { return ErrInvalidSignature }

// SettlementError is the post-payment capacity failure. Money has moved, so
// the order is flagged for refund instead of simply rejected.
type SettlementError struct {
	OrderID       string `json:"order_id"`
	Reason        string `json:"reason"`
	RefundPending bool   `json:"refund_pending"`
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("order %s: %s: payment received, refund pending", e.OrderID, e.Reason)
}

// Retryable reports whether a failed confirmation may still succeed when
// delivered again. Validation, signature and order-state outcomes are final;
// storage and lock failures are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		verr *ValidationError
		terr *TrustError
		serr *SettlementError
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &terr), errors.As(err, &serr):
		return false
	case errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrOrderClosed),
		errors.Is(err, ErrAlreadySettled):
		return false
	default:
		return true
	}
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: map[string]string{"request": err.Error()}}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = describe(fe)
	}
	return &ValidationError{Fields: fields}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "datetime":
		return "must be a date formatted " + fe.Param()
	case "hexadecimal":
		return "must be hex encoded"
	default:
		return "is invalid"
	}
}
