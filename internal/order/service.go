package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-booking/internal/inventory"
	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/models"
	"ms-booking/internal/order/db"
	"ms-booking/internal/payment"
	"ms-booking/internal/pricing"
	"ms-booking/internal/tickets"
	ticketdb "ms-booking/internal/tickets/db"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const dateLayout = "2006-01-02"

type Catalog interface {
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
	GetTicketClass(ctx context.Context, eventID, ticketClassID string) (*models.TicketClass, error)
}

type TierResolver interface {
	ResolveTier(ctx context.Context, buyerID, eventID string) models.GuestTier
}

type RedisLock interface {
	LockOrder(ctx context.Context, orderID string) (string, bool, error)
	UnlockOrder(ctx context.Context, orderID, token string) error
}

type KafkaPublisher interface {
	PublishStatus(ctx context.Context, event models.OrderEvent) error
	PublishRefundRequired(ctx context.Context, event models.OrderEvent) error
}

type StatusNotifier interface {
	Emit(event models.OrderEvent)
}

// Settings are the pricing and payment knobs the coordinator needs.
type Settings struct {
	PlatformFee     int64
	TaxRateBps      int64
	SharedSecret    string
	PaymentTimeout  time.Duration
	DefaultCurrency string
}

// OrderService owns the order state machine. Redis, Kafka and Notifier are
// optional; everything else is required.
type OrderService struct {
	DB       *db.DB
	Ledger   *inventory.Ledger
	Tickets  *ticketdb.DB
	Issuer   *tickets.Issuer
	Catalog  Catalog
	Tiers    TierResolver
	Gateway  payment.Gateway
	Redis    RedisLock
	Kafka    KafkaPublisher
	Notifier StatusNotifier
	Settings Settings
	Logger   *logger.Logger
	Now      func() time.Time
}

func NewOrderService(store *db.DB, ledger *inventory.Ledger, ticketStore *ticketdb.DB, issuer *tickets.Issuer,
	catalog Catalog, tiers TierResolver, gateway payment.Gateway, settings Settings, log *logger.Logger) *OrderService {
	return &OrderService{
		DB:       store,
		Ledger:   ledger,
		Tickets:  ticketStore,
		Issuer:   issuer,
		Catalog:  catalog,
		Tiers:    tiers,
		Gateway:  gateway,
		Settings: settings,
		Logger:   log,
	}
}

var errNotAwaiting = errors.New("order left awaiting_payment")

func (s *OrderService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// ---------------- PLACE ----------------

// PlaceOrder validates and prices the request, persists the order and opens
// a payment with the gateway. Free and zero-total orders settle immediately.
func (s *OrderService) PlaceOrder(ctx context.Context, buyerID string, req models.CreateOrderRequest) (*models.CreateOrderResponse, error) {
	if strings.TrimSpace(buyerID) == "" {
		return nil, newValidationError("buyer_id", "is required")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	event, err := s.Catalog.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	class, err := s.Catalog.GetTicketClass(ctx, req.EventID, req.TicketClassID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := checkPurchasable(event, class, req, now); err != nil {
		return nil, err
	}

	tier := s.Tiers.ResolveTier(ctx, buyerID, event.ID)

	breakdown := pricing.Free()
	if !class.IsFree() {
		breakdown = pricing.Price(pricing.Input{
			UnitPrice:   class.UnitPrice,
			Quantity:    req.Quantity,
			Discount:    event.DiscountSchedule.Lookup(tier),
			PlatformFee: s.Settings.PlatformFee,
			TaxRateBps:  s.Settings.TaxRateBps,
		})
	}

	currency := event.Currency
	if currency == "" {
		currency = s.Settings.DefaultCurrency
	}

	order := &models.Order{
		OrderID:       uuid.NewString(),
		BuyerID:       buyerID,
		EventID:       event.ID,
		TicketClassID: class.ID,
		Quantity:      req.Quantity,
		SelectedDate:  req.SelectedDate,
		HolderName:    strings.TrimSpace(req.HolderName),
		Currency:      currency,
		DiscountTier:  tier,
		Status:        models.OrderCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	pricing.Apply(order, breakdown)

	if err := s.DB.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}
	metrics.OrdersPlacedTotal.WithLabelValues(string(class.Kind)).Inc()
	s.Logger.LogOrder("CREATED", order.OrderID, fmt.Sprintf("buyer=%s class=%s qty=%d total=%d %s",
		buyerID, class.ID, order.Quantity, order.Total, order.Currency))
	s.publish(ctx, order, "")

	if class.IsFree() || order.Total == 0 {
		return s.settleWithoutPayment(ctx, order)
	}

	externalID, err := s.Gateway.CreateOrder(ctx, order.Total, order.Currency, order.OrderID)
	if err != nil {
		s.Logger.Error("PAYMENT", fmt.Sprintf("Gateway %s failed for order %s: %v", s.Gateway.Name(), order.OrderID, err))
		s.fail(ctx, order, []models.OrderStatus{models.OrderCreated}, models.ReasonGatewayError, false)
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	ok, err := s.DB.AttachExternalOrder(ctx, order.OrderID, externalID, s.now())
	if err != nil {
		return nil, fmt.Errorf("attach external order: %w", err)
	}
	if !ok {
		// The reaper or the buyer closed the order while the gateway call was in flight.
		s.cancelAtGateway(ctx, externalID)
		return nil, ErrOrderClosed
	}
	order.ExternalPaymentOrderID = externalID
	order.Status = models.OrderAwaitingPayment
	s.Logger.LogOrder("AWAITING_PAYMENT", order.OrderID, "external order "+externalID)
	s.publish(ctx, order, "")

	return newCreateResponse(order, nil), nil
}

func checkPurchasable(event *models.Event, class *models.TicketClass, req models.CreateOrderRequest, now time.Time) error {
	if !event.HasOccurrence(req.SelectedDate) {
		return newValidationError("selected_date", "is not a scheduled date of the event")
	}
	if req.SelectedDate < now.Format(dateLayout) {
		return newValidationError("selected_date", "is in the past")
	}
	if class.Status == models.TicketClassComingSoon || !class.SalesOpen(now) {
		return newValidationError("ticket_class_id", "is not on sale")
	}
	if class.Status == models.TicketClassSoldOut || class.Remaining() < req.Quantity {
		return ErrSoldOut
	}
	return nil
}

// settleWithoutPayment runs the free path: a synthetic external order and
// confirmation, settled in the same transaction as a paid one.
func (s *OrderService) settleWithoutPayment(ctx context.Context, order *models.Order) (*models.CreateOrderResponse, error) {
	externalID := models.FreeExternalOrderID(order.OrderID)
	ok, err := s.DB.AttachExternalOrder(ctx, order.OrderID, externalID, s.now())
	if err != nil {
		return nil, fmt.Errorf("attach external order: %w", err)
	}
	if !ok {
		return nil, ErrOrderClosed
	}
	order.ExternalPaymentOrderID = externalID
	order.Status = models.OrderAwaitingPayment

	ticket, err := s.settle(ctx, order, models.FreeConfirmationPaymentID)
	if err != nil {
		if errors.Is(err, inventory.ErrInsufficientCapacity) {
			s.fail(ctx, order, []models.OrderStatus{models.OrderAwaitingPayment}, models.ReasonSoldOut, false)
			return nil, ErrSoldOut
		}
		return nil, fmt.Errorf("settle free order %s: %w", order.OrderID, err)
	}
	return newCreateResponse(order, ticket), nil
}

func newCreateResponse(order *models.Order, ticket *models.Ticket) *models.CreateOrderResponse {
	return &models.CreateOrderResponse{
		OrderID:         order.OrderID,
		ExternalOrderID: order.ExternalPaymentOrderID,
		Status:          order.Status,
		Breakdown:       order.Breakdown(),
		DiscountTier:    order.DiscountTier,
		Ticket:          ticket,
	}
}

// ---------------- CONFIRM ----------------

// ConfirmPayment applies a signed gateway confirmation. Redelivery of an
// already applied confirmation returns the original outcome.
func (s *OrderService) ConfirmPayment(ctx context.Context, req models.ConfirmRequest) (*models.ConfirmResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	order, err := s.DB.GetOrderByExternalID(ctx, req.ExternalOrderID)
	if err != nil {
		return nil, err
	}

	if !payment.VerifySignature(s.Settings.SharedSecret, req.ExternalOrderID, req.ExternalPaymentID, req.Signature) {
		return nil, s.rejectSignature(ctx, order, req)
	}

	if resp, err := s.preflight(ctx, order, req.ExternalPaymentID); resp != nil || err != nil {
		return resp, err
	}

	if s.Redis != nil {
		token, ok, err := s.Redis.LockOrder(ctx, order.OrderID)
		if err != nil {
			return nil, fmt.Errorf("acquire order lock: %w", err)
		}
		if !ok {
			metrics.ConfirmationsTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
			return nil, ErrConfirmationInProgress
		}
		defer func() {
			if err := s.Redis.UnlockOrder(context.Background(), order.OrderID, token); err != nil {
				s.Logger.Warn("REDIS", fmt.Sprintf("Failed to release lock for order %s: %v", order.OrderID, err))
			}
		}()

		order, err = s.DB.GetOrderByID(ctx, order.OrderID)
		if err != nil {
			return nil, err
		}
		if resp, err := s.preflight(ctx, order, req.ExternalPaymentID); resp != nil || err != nil {
			return resp, err
		}
	}

	if s.overdue(order) {
		s.expire(ctx, order)
		metrics.ConfirmationsTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, ErrOrderClosed
	}

	ticket, err := s.settle(ctx, order, req.ExternalPaymentID)
	switch {
	case err == nil:
		metrics.ConfirmationsTotal.WithLabelValues(metrics.OutcomeSettled).Inc()
		return &models.ConfirmResponse{Order: order, Ticket: ticket}, nil
	case errors.Is(err, inventory.ErrInsufficientCapacity):
		return nil, s.failAfterPayment(ctx, order, req.ExternalPaymentID)
	case errors.Is(err, errNotAwaiting):
		// Lost a race with another confirmation or the reaper.
		current, gerr := s.DB.GetOrderByID(ctx, order.OrderID)
		if gerr != nil {
			return nil, gerr
		}
		if resp, perr := s.preflight(ctx, current, req.ExternalPaymentID); resp != nil || perr != nil {
			return resp, perr
		}
		return nil, ErrOrderClosed
	default:
		return nil, fmt.Errorf("settle order %s: %w", order.OrderID, err)
	}
}

// HandlePaymentConfirmed adapts ConfirmPayment to the Kafka consumer. Final
// outcomes are logged and swallowed so the message is committed; an error
// means the confirmation must be delivered again.
func (s *OrderService) HandlePaymentConfirmed(ctx context.Context, event models.PaymentConfirmedEvent) error {
	_, err := s.ConfirmPayment(ctx, event.ConfirmRequest())
	if err != nil && !Retryable(err) {
		s.Logger.Warn("KAFKA", fmt.Sprintf("Payment confirmation %s not applied: %v", event.ExternalOrderID, err))
		return nil
	}
	return err
}

// preflight decides what a verified confirmation means for the order's
// current status. A nil response and nil error means the order is
// awaiting payment and settlement should proceed.
func (s *OrderService) preflight(ctx context.Context, order *models.Order, paymentID string) (*models.ConfirmResponse, error) {
	switch order.Status {
	case models.OrderAwaitingPayment:
		return nil, nil
	case models.OrderSettled:
		if order.ExternalPaymentConfirmationID != paymentID {
			s.Logger.LogSecurity("CONFLICTING_CONFIRMATION", fmt.Sprintf("order %s settled by %s, got %s",
				order.OrderID, order.ExternalPaymentConfirmationID, paymentID))
			metrics.ConfirmationsTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
			return nil, ErrAlreadySettled
		}
		ticket, err := s.Tickets.GetTicketByOrderID(ctx, order.OrderID)
		if err != nil {
			return nil, fmt.Errorf("load ticket for replayed confirmation: %w", err)
		}
		metrics.ConfirmationsTotal.WithLabelValues(metrics.OutcomeReplayed).Inc()
		s.Logger.LogOrder("REPLAYED", order.OrderID, "confirmation "+paymentID+" already applied")
		return &models.ConfirmResponse{Order: order, Ticket: ticket, Replayed: true}, nil
	case models.OrderFailed:
		if order.FailureReason == models.ReasonSoldOutAfterPayment && order.ExternalPaymentConfirmationID == paymentID {
			metrics.ConfirmationsTotal.WithLabelValues(metrics.OutcomeReplayed).Inc()
			return nil, &SettlementError{OrderID: order.OrderID, Reason: order.FailureReason, RefundPending: order.RefundPending}
		}
	}
	metrics.ConfirmationsTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
	return nil, ErrOrderClosed
}

func (s *OrderService) rejectSignature(ctx context.Context, order *models.Order, req models.ConfirmRequest) error {
	s.Logger.LogSecurity("SIGNATURE_MISMATCH", fmt.Sprintf("order=%s external_order=%s external_payment=%s status=%s",
		order.OrderID, req.ExternalOrderID, req.ExternalPaymentID, order.Status))
	metrics.ConfirmationsTotal.WithLabelValues(metrics.OutcomeInvalidSignature).Inc()

	if order.Status == models.OrderAwaitingPayment {
		s.fail(ctx, order, []models.OrderStatus{models.OrderAwaitingPayment}, models.ReasonSignatureMismatch, false)
	}
	return &TrustError{ExternalOrderID: req.ExternalOrderID}
}

// settle issues the ticket and, in one transaction, marks the order settled,
// takes capacity from the ledger and stores the ticket. Any failure rolls
// all three back.
func (s *OrderService) settle(ctx context.Context, order *models.Order, paymentID string) (*models.Ticket, error) {
	ticket, err := s.Issuer.Issue(order, order.HolderName)
	if err != nil {
		return nil, err
	}

	now := s.now()
	started := time.Now()
	err = s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		ok, err := s.DB.WithTx(tx).MarkSettled(ctx, order.OrderID, paymentID, now)
		if err != nil {
			return fmt.Errorf("mark settled: %w", err)
		}
		if !ok {
			return errNotAwaiting
		}
		if _, err := s.Ledger.WithTx(tx).ReserveIfAvailable(ctx, order.TicketClassID, order.Quantity); err != nil {
			return err
		}
		return s.Tickets.WithTx(tx).CreateTicket(ctx, ticket)
	})
	metrics.SettlementDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}

	order.Status = models.OrderSettled
	order.ExternalPaymentConfirmationID = paymentID
	order.SettledAt = now
	order.UpdatedAt = now
	s.Logger.LogInventory("RESERVED", order.TicketClassID, fmt.Sprintf("%d for order %s", order.Quantity, order.OrderID))
	s.Logger.LogOrder("SETTLED", order.OrderID, "ticket "+ticket.TicketID)
	s.publish(ctx, order, ticket.TicketID)
	return ticket, nil
}

func (s *OrderService) failAfterPayment(ctx context.Context, order *models.Order, paymentID string) error {
	now := s.now()
	ok, err := s.DB.MarkRefundPending(ctx, order.OrderID, paymentID, now)
	if err != nil {
		return fmt.Errorf("flag refund for order %s: %w", order.OrderID, err)
	}
	if !ok {
		return ErrOrderClosed
	}

	order.Status = models.OrderFailed
	order.FailureReason = models.ReasonSoldOutAfterPayment
	order.ExternalPaymentConfirmationID = paymentID
	order.RefundPending = true
	order.UpdatedAt = now

	metrics.ConfirmationsTotal.WithLabelValues(metrics.OutcomeSoldOutAfterPayment).Inc()
	s.Logger.Error("ORDER", fmt.Sprintf("Order %s paid by %s but class %s is sold out, refund pending",
		order.OrderID, paymentID, order.TicketClassID))
	s.publish(ctx, order, "")
	s.publishRefund(ctx, order)

	return &SettlementError{OrderID: order.OrderID, Reason: order.FailureReason, RefundPending: true}
}

// ---------------- CANCEL / REVERSE ----------------

// CancelOrder withdraws an unpaid order. Cancelling twice is a no-op.
func (s *OrderService) CancelOrder(ctx context.Context, buyerID, orderID string) (*models.Order, error) {
	order, err := s.ownedOrder(ctx, buyerID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderCancelled {
		return order, nil
	}

	open := []models.OrderStatus{models.OrderCreated, models.OrderAwaitingPayment}
	if !s.transition(ctx, order, open, models.OrderCancelled, models.ReasonCancelledByBuyer, false) {
		return nil, ErrOrderClosed
	}
	s.cancelAtGateway(ctx, order.ExternalPaymentOrderID)
	return order, nil
}

// ReverseSettlement cancels a settled order and returns its capacity to the
// ledger. Paid orders are flagged for refund.
func (s *OrderService) ReverseSettlement(ctx context.Context, buyerID, orderID, reason string) (*models.Order, error) {
	order, err := s.ownedOrder(ctx, buyerID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderSettled {
		return nil, ErrOrderClosed
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = models.ReasonSettlementReversed
	}
	refund := order.Total > 0

	now := s.now()
	err = s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		ok, err := s.DB.WithTx(tx).Transition(ctx, order.OrderID, []models.OrderStatus{models.OrderSettled},
			models.OrderCancelled, reason, refund, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrOrderClosed
		}
		_, err = s.Ledger.WithTx(tx).Release(ctx, order.TicketClassID, order.Quantity)
		return err
	})
	if err != nil {
		return nil, err
	}

	order.Status = models.OrderCancelled
	order.FailureReason = reason
	order.RefundPending = refund
	order.UpdatedAt = now
	s.Logger.LogInventory("RELEASED", order.TicketClassID, fmt.Sprintf("%d from reversed order %s", order.Quantity, order.OrderID))
	s.Logger.LogOrder("REVERSED", order.OrderID, reason)
	s.publish(ctx, order, "")
	if refund {
		s.publishRefund(ctx, order)
	}
	return order, nil
}

// ---------------- READ ----------------

func (s *OrderService) GetOrder(ctx context.Context, buyerID, orderID string) (*models.OrderDetails, error) {
	order, err := s.ownedOrder(ctx, buyerID, orderID)
	if err != nil {
		return nil, err
	}
	details := &models.OrderDetails{Order: order}
	if order.Status == models.OrderSettled {
		ticket, err := s.Tickets.GetTicketByOrderID(ctx, order.OrderID)
		if err != nil && !errors.Is(err, ErrTicketNotFound) {
			return nil, err
		}
		details.Ticket = ticket
	}
	return details, nil
}

func (s *OrderService) ListOrders(ctx context.Context, buyerID string) ([]models.Order, error) {
	return s.DB.ListOrdersByBuyer(ctx, buyerID)
}

func (s *OrderService) ownedOrder(ctx context.Context, buyerID, orderID string) (*models.Order, error) {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		s.Logger.LogSecurity("ORDER_ACCESS_DENIED", fmt.Sprintf("buyer %s requested order %s", buyerID, orderID))
		return nil, ErrForbidden
	}
	return order, nil
}

// ---------------- EXPIRY ----------------

// ExpireStale fails every open order older than the payment timeout and
// returns how many were expired.
func (s *OrderService) ExpireStale(ctx context.Context) (int, error) {
	if s.Settings.PaymentTimeout <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.Settings.PaymentTimeout)

	const batch = 100
	expired := 0
	for {
		stale, err := s.DB.ListStale(ctx, cutoff, batch)
		if err != nil {
			return expired, err
		}
		progressed := false
		for i := range stale {
			if s.expire(ctx, &stale[i]) {
				expired++
				progressed = true
			}
		}
		if len(stale) < batch || !progressed {
			return expired, nil
		}
	}
}

func (s *OrderService) overdue(order *models.Order) bool {
	return s.Settings.PaymentTimeout > 0 && s.now().Sub(order.CreatedAt) > s.Settings.PaymentTimeout
}

func (s *OrderService) expire(ctx context.Context, order *models.Order) bool {
	open := []models.OrderStatus{models.OrderCreated, models.OrderAwaitingPayment}
	if !s.fail(ctx, order, open, models.ReasonPaymentTimeout, false) {
		return false
	}
	metrics.OrdersExpiredTotal.Inc()
	s.cancelAtGateway(ctx, order.ExternalPaymentOrderID)
	return true
}

// ---------------- HELPERS ----------------

func (s *OrderService) fail(ctx context.Context, order *models.Order, from []models.OrderStatus, reason string, refund bool) bool {
	return s.transition(ctx, order, from, models.OrderFailed, reason, refund)
}

func (s *OrderService) transition(ctx context.Context, order *models.Order, from []models.OrderStatus, to models.OrderStatus, reason string, refund bool) bool {
	now := s.now()
	ok, err := s.DB.Transition(ctx, order.OrderID, from, to, reason, refund, now)
	if err != nil {
		s.Logger.Error("ORDER", fmt.Sprintf("Failed to move order %s to %s: %v", order.OrderID, to, err))
		return false
	}
	if !ok {
		return false
	}
	order.Status = to
	order.FailureReason = reason
	order.RefundPending = order.RefundPending || refund
	order.UpdatedAt = now
	s.Logger.LogOrder(strings.ToUpper(string(to)), order.OrderID, reason)
	s.publish(ctx, order, "")
	return true
}

func (s *OrderService) cancelAtGateway(ctx context.Context, externalOrderID string) {
	if externalOrderID == "" || strings.HasPrefix(externalOrderID, models.FreeExternalOrderID("")) {
		return
	}
	if err := s.Gateway.CancelOrder(ctx, externalOrderID); err != nil {
		s.Logger.Warn("PAYMENT", fmt.Sprintf("Failed to cancel %s at %s: %v", externalOrderID, s.Gateway.Name(), err))
	}
}

// publish runs after commit. A broker failure is logged and never undoes the
// state change.
func (s *OrderService) publish(ctx context.Context, order *models.Order, ticketID string) {
	event := models.NewOrderEvent(order, ticketID)
	if s.Notifier != nil {
		s.Notifier.Emit(event)
	}
	if s.Kafka == nil {
		return
	}
	if err := s.Kafka.PublishStatus(ctx, event); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish %s for order %s: %v", order.Status, order.OrderID, err))
	}
}

func (s *OrderService) publishRefund(ctx context.Context, order *models.Order) {
	if s.Kafka == nil {
		return
	}
	if err := s.Kafka.PublishRefundRequired(ctx, models.NewOrderEvent(order, "")); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish refund for order %s: %v", order.OrderID, err))
	}
}
