package order_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"ms-booking/internal/events"
	"ms-booking/internal/guests"
	"ms-booking/internal/inventory"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/order"
	orderdb "ms-booking/internal/order/db"
	"ms-booking/internal/payment"
	"ms-booking/internal/tickets"
	ticketdb "ms-booking/internal/tickets/db"
	qr "ms-booking/internal/tickets/qr_genrator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const testSecret = "shared-test-secret"

// Mock implementations
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Name() string { return "mock" }

func (m *MockGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, reference string) (string, error) {
	args := m.Called(amountMinor, currency, reference)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) CancelOrder(ctx context.Context, externalOrderID string) error {
	args := m.Called(externalOrderID)
	return args.Error(0)
}

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []models.OrderStatus
	refunds  []string
}

func (p *recordingPublisher) PublishStatus(ctx context.Context, event models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, event.Status)
	return nil
}

func (p *recordingPublisher) PublishRefundRequired(ctx context.Context, event models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunds = append(p.refunds, event.OrderID)
	return nil
}

type busyLock struct{}

func (busyLock) LockOrder(ctx context.Context, orderID string) (string, bool, error) {
	return "", false, nil
}

func (busyLock) UnlockOrder(ctx context.Context, orderID, token string) error { return nil }

type failingLock struct{}

func (failingLock) LockOrder(ctx context.Context, orderID string) (string, bool, error) {
	return "", false, errors.New("dial tcp 127.0.0.1:6379: connection refused")
}

func (failingLock) UnlockOrder(ctx context.Context, orderID, token string) error { return nil }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *order.OrderService
	db      *bun.DB
	gateway *MockGateway
	kafka   *recordingPublisher
	clock   *clock
}

func setupService(t *testing.T) *fixture {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	ctx := context.Background()
	for _, model := range []interface{}{
		(*models.Event)(nil),
		(*models.Occurrence)(nil),
		(*models.TicketClass)(nil),
		(*models.Order)(nil),
		(*models.Ticket)(nil),
		(*models.GuestTierAssignment)(nil),
	} {
		_, err := bunDB.NewCreateTable().Model(model).Exec(ctx)
		require.NoError(t, err)
	}

	event := &models.Event{
		ID:       "evt-1",
		Name:     "Harbour Lights",
		Currency: "lkr",
		DiscountSchedule: models.DiscountSchedule{
			models.TierLevel1: {Type: models.PERCENTAGE, PercentBps: 1000},
		},
		CreatedAt: time.Date(2029, 12, 1, 0, 0, 0, 0, time.UTC),
	}
	_, err = bunDB.NewInsert().Model(event).Exec(ctx)
	require.NoError(t, err)
	_, err = bunDB.NewInsert().Model(&models.Occurrence{EventID: "evt-1", OccursOn: "2030-01-15"}).Exec(ctx)
	require.NoError(t, err)

	log := logger.NewConsoleLogger(io.Discard)
	gateway := new(MockGateway)
	kafka := &recordingPublisher{}
	clk := &clock{now: time.Date(2030, 1, 10, 12, 0, 0, 0, time.UTC)}

	svc := order.NewOrderService(
		&orderdb.DB{Bun: bunDB},
		inventory.NewLedger(bunDB),
		&ticketdb.DB{Bun: bunDB},
		tickets.NewIssuer(qr.NewQRGenerator(64)),
		events.NewRepository(bunDB),
		guests.NewResolver(bunDB, log),
		gateway,
		order.Settings{
			PlatformFee:     5,
			TaxRateBps:      400,
			SharedSecret:    testSecret,
			PaymentTimeout:  15 * time.Minute,
			DefaultCurrency: "lkr",
		},
		log,
	)
	svc.Kafka = kafka
	svc.Now = clk.Now

	return &fixture{svc: svc, db: bunDB, gateway: gateway, kafka: kafka, clock: clk}
}

func (f *fixture) seedClass(t *testing.T, id string, kind models.TicketClassKind, unitPrice int64, capacity int) {
	t.Helper()
	class := &models.TicketClass{
		ID:            id,
		EventID:       "evt-1",
		ClassName:     id,
		Kind:          kind,
		UnitPrice:     unitPrice,
		TotalCapacity: capacity,
		Status:        models.TicketClassOnSale,
	}
	_, err := f.db.NewInsert().Model(class).Exec(context.Background())
	require.NoError(t, err)
}

func (f *fixture) approveTier(t *testing.T, buyer string, tier models.GuestTier) {
	t.Helper()
	_, err := f.db.NewInsert().Model(&models.GuestTierAssignment{
		BuyerID:   buyer,
		EventID:   "evt-1",
		Tier:      tier,
		Status:    models.GuestApproved,
		UpdatedAt: f.clock.Now(),
	}).Exec(context.Background())
	require.NoError(t, err)
}

func (f *fixture) soldCount(t *testing.T, classID string) int {
	t.Helper()
	var class models.TicketClass
	err := f.db.NewSelect().Model(&class).Where("id = ?", classID).Scan(context.Background())
	require.NoError(t, err)
	return class.SoldCount
}

func (f *fixture) loadOrder(t *testing.T, orderID string) *models.Order {
	t.Helper()
	o, err := (&orderdb.DB{Bun: f.db}).GetOrderByID(context.Background(), orderID)
	require.NoError(t, err)
	return o
}

func request(classID string, qty int) models.CreateOrderRequest {
	return models.CreateOrderRequest{
		EventID:       "evt-1",
		TicketClassID: classID,
		Quantity:      qty,
		SelectedDate:  "2030-01-15",
		HolderName:    "Ada Lovelace",
	}
}

func signed(externalOrderID, externalPaymentID string) models.ConfirmRequest {
	return models.ConfirmRequest{
		ExternalOrderID:   externalOrderID,
		ExternalPaymentID: externalPaymentID,
		Signature:         payment.Sign(testSecret, externalOrderID, externalPaymentID),
	}
}

func (f *fixture) placePaid(t *testing.T, buyer, classID string, qty int, externalID string) *models.CreateOrderResponse {
	t.Helper()
	f.gateway.On("CreateOrder", mock.Anything, "lkr", mock.Anything).Return(externalID, nil).Once()
	resp, err := f.svc.PlaceOrder(context.Background(), buyer, request(classID, qty))
	require.NoError(t, err)
	return resp
}

func TestPlaceOrderAppliesGuestDiscount(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 10)
	f.approveTier(t, "buyer-1", models.TierLevel1)

	f.gateway.On("CreateOrder", int64(307), "lkr", mock.Anything).Return("ext-1", nil).Once()

	resp, err := f.svc.PlaceOrder(context.Background(), "buyer-1", request("general", 3))
	require.NoError(t, err)

	assert.Equal(t, models.OrderAwaitingPayment, resp.Status)
	assert.Equal(t, "ext-1", resp.ExternalOrderID)
	assert.Equal(t, models.TierLevel1, resp.DiscountTier)
	assert.Equal(t, models.PriceBreakdown{Subtotal: 300, Fees: 5, Tax: 12, Discount: 10, Total: 307, Currency: "lkr"}, resp.Breakdown)
	assert.Equal(t, 0, f.soldCount(t, "general"), "capacity is taken only at settlement")
	assert.Equal(t, []models.OrderStatus{models.OrderCreated, models.OrderAwaitingPayment}, f.kafka.statuses)
	f.gateway.AssertExpectations(t)
}

func TestPlaceOrderWithoutTierPaysFullPrice(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 10)

	resp := f.placePaid(t, "buyer-1", "general", 3, "ext-1")

	assert.Equal(t, int64(317), resp.Breakdown.Total)
	assert.Equal(t, models.TierNone, resp.DiscountTier)
}

func TestPlaceOrderValidation(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 10)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   models.CreateOrderRequest
		field string
	}{
		{"zero quantity", request("general", 0), "quantity"},
		{"too many", request("general", 51), "quantity"},
		{"bad date", func() models.CreateOrderRequest { r := request("general", 1); r.SelectedDate = "15/01/2030"; return r }(), "selected_date"},
		{"unscheduled date", func() models.CreateOrderRequest { r := request("general", 1); r.SelectedDate = "2030-01-16"; return r }(), "selected_date"},
		{"missing class", models.CreateOrderRequest{EventID: "evt-1", Quantity: 1, SelectedDate: "2030-01-15"}, "ticket_class_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.PlaceOrder(ctx, "buyer-1", tt.req)
			var verr *order.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
	f.gateway.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestPlaceOrderRejectsPastOccurrence(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 10)
	f.clock.Advance(10 * 24 * time.Hour)

	_, err := f.svc.PlaceOrder(context.Background(), "buyer-1", request("general", 1))

	var verr *order.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "is in the past", verr.Fields["selected_date"])
}

func TestPlaceOrderUnknownEventAndClass(t *testing.T) {
	f := setupService(t)

	req := request("general", 1)
	req.EventID = "evt-missing"
	_, err := f.svc.PlaceOrder(context.Background(), "buyer-1", req)
	assert.ErrorIs(t, err, order.ErrEventNotFound)

	_, err = f.svc.PlaceOrder(context.Background(), "buyer-1", request("ghost", 1))
	assert.ErrorIs(t, err, order.ErrTicketClassNotFound)
}

func TestPlaceOrderSoldOutAdvisory(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 2)

	_, err := f.svc.PlaceOrder(context.Background(), "buyer-1", request("general", 3))

	assert.ErrorIs(t, err, order.ErrSoldOut)
	f.gateway.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestPlaceOrderGatewayFailureFailsOrder(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 10)
	f.gateway.On("CreateOrder", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("connection reset")).Once()

	_, err := f.svc.PlaceOrder(context.Background(), "buyer-1", request("general", 1))
	require.ErrorIs(t, err, order.ErrGateway)

	orders, err := f.svc.ListOrders(context.Background(), "buyer-1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderFailed, orders[0].Status)
	assert.Equal(t, models.ReasonGatewayError, orders[0].FailureReason)
}

func TestFreeClassBypassesGateway(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "community", models.TicketClassFree, 0, 5)

	resp, err := f.svc.PlaceOrder(context.Background(), "buyer-1", request("community", 2))
	require.NoError(t, err)

	assert.Equal(t, models.OrderSettled, resp.Status)
	assert.Equal(t, models.FreeExternalOrderID(resp.OrderID), resp.ExternalOrderID)
	assert.Equal(t, int64(0), resp.Breakdown.Total)
	require.NotNil(t, resp.Ticket)
	assert.Equal(t, 2, resp.Ticket.Quantity)
	assert.Equal(t, 2, f.soldCount(t, "community"))

	stored := f.loadOrder(t, resp.OrderID)
	assert.Equal(t, models.FreeConfirmationPaymentID, stored.ExternalPaymentConfirmationID)
	f.gateway.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirmPaymentSettlesAndIssuesTicket(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 10)
	placed := f.placePaid(t, "buyer-1", "general", 2, "ext-1")

	resp, err := f.svc.ConfirmPayment(context.Background(), signed("ext-1", "pay-1"))
	require.NoError(t, err)

	assert.False(t, resp.Replayed)
	assert.Equal(t, models.OrderSettled, resp.Order.Status)
	require.NotNil(t, resp.Ticket)
	assert.Equal(t, placed.OrderID, resp.Ticket.OrderID)
	assert.Equal(t, resp.Ticket.TicketID+"|2|AdaLovelace", resp.Ticket.ScanPayload)
	assert.Equal(t, 2, f.soldCount(t, "general"))
	assert.Contains(t, f.kafka.statuses, models.OrderSettled)
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 10)
	f.placePaid(t, "buyer-1", "general", 2, "ext-1")
	ctx := context.Background()

	first, err := f.svc.ConfirmPayment(ctx, signed("ext-1", "pay-1"))
	require.NoError(t, err)

	second, err := f.svc.ConfirmPayment(ctx, signed("ext-1", "pay-1"))
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Ticket.TicketID, second.Ticket.TicketID)
	assert.Equal(t, 2, f.soldCount(t, "general"), "replay must not take capacity twice")

	_, err = f.svc.ConfirmPayment(ctx, signed("ext-1", "pay-2"))
	assert.ErrorIs(t, err, order.ErrAlreadySettled)
}

func TestConfirmPaymentRejectsBadSignature(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 10)
	placed := f.placePaid(t, "buyer-1", "general", 2, "ext-1")

	req := signed("ext-1", "pay-1")
	req.Signature = payment.Sign("wrong-secret", "ext-1", "pay-1")

	_, err := f.svc.ConfirmPayment(context.Background(), req)

	var trustErr *order.TrustError
	require.ErrorAs(t, err, &trustErr)
	assert.ErrorIs(t, err, order.ErrInvalidSignature)
	assert.Equal(t, 0, f.soldCount(t, "general"))

	stored := f.loadOrder(t, placed.OrderID)
	assert.Equal(t, models.OrderFailed, stored.Status)
	assert.Equal(t, models.ReasonSignatureMismatch, stored.FailureReason)

	// A correctly signed confirmation can no longer settle it.
	_, err = f.svc.ConfirmPayment(context.Background(), signed("ext-1", "pay-1"))
	assert.ErrorIs(t, err, order.ErrOrderClosed)
}

func TestConfirmPaymentUnknownOrder(t *testing.T) {
	f := setupService(t)

	_, err := f.svc.ConfirmPayment(context.Background(), signed("ext-missing", "pay-1"))

	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestConfirmPaymentSoldOutAfterPayment(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 2)
	f.placePaid(t, "buyer-1", "general", 2, "ext-1")
	late := f.placePaid(t, "buyer-2", "general", 2, "ext-2")
	ctx := context.Background()

	_, err := f.svc.ConfirmPayment(ctx, signed("ext-1", "pay-1"))
	require.NoError(t, err)

	_, err = f.svc.ConfirmPayment(ctx, signed("ext-2", "pay-2"))

	var settleErr *order.SettlementError
	require.ErrorAs(t, err, &settleErr)
	assert.True(t, settleErr.RefundPending)
	assert.Equal(t, models.ReasonSoldOutAfterPayment, settleErr.Reason)
	assert.Equal(t, 2, f.soldCount(t, "general"))

	stored := f.loadOrder(t, late.OrderID)
	assert.Equal(t, models.OrderFailed, stored.Status)
	assert.True(t, stored.RefundPending)
	assert.Equal(t, []string{late.OrderID}, f.kafka.refunds)

	// Redelivery gets the same answer without a second refund event.
	_, err = f.svc.ConfirmPayment(ctx, signed("ext-2", "pay-2"))
	require.ErrorAs(t, err, &settleErr)
	assert.Len(t, f.kafka.refunds, 1)

	_, err = (&ticketdb.DB{Bun: f.db}).GetTicketByOrderID(ctx, late.OrderID)
	assert.ErrorIs(t, err, order.ErrTicketNotFound)
}

func TestConfirmPaymentLockBusy(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 10)
	f.placePaid(t, "buyer-1", "general", 1, "ext-1")
	f.svc.Redis = busyLock{}

	_, err := f.svc.ConfirmPayment(context.Background(), signed("ext-1", "pay-1"))

	assert.ErrorIs(t, err, order.ErrConfirmationInProgress)
	assert.Equal(t, 0, f.soldCount(t, "general"))
}

func TestConfirmPaymentAfterTimeoutExpiresOrder(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 10)
	placed := f.placePaid(t, "buyer-1", "general", 1, "ext-1")
	f.gateway.On("CancelOrder", "ext-1").Return(nil).Once()
	f.clock.Advance(16 * time.Minute)

	_, err := f.svc.ConfirmPayment(context.Background(), signed("ext-1", "pay-1"))

	assert.ErrorIs(t, err, order.ErrOrderClosed)
	stored := f.loadOrder(t, placed.OrderID)
	assert.Equal(t, models.OrderFailed, stored.Status)
	assert.Equal(t, models.ReasonPaymentTimeout, stored.FailureReason)
	f.gateway.AssertExpectations(t)
}

func TestExpireStale(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 10)
	stale := f.placePaid(t, "buyer-1", "general", 1, "ext-1")
	f.clock.Advance(10 * time.Minute)
	fresh := f.placePaid(t, "buyer-2", "general", 1, "ext-2")
	f.clock.Advance(6 * time.Minute)
	f.gateway.On("CancelOrder", "ext-1").Return(nil).Once()

	n, err := f.svc.ExpireStale(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, models.OrderFailed, f.loadOrder(t, stale.OrderID).Status)
	assert.Equal(t, models.OrderAwaitingPayment, f.loadOrder(t, fresh.OrderID).Status)

	n, err = f.svc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	f.gateway.AssertExpectations(t)
}

func TestCancelOrder(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 10)
	placed := f.placePaid(t, "buyer-1", "general", 1, "ext-1")
	ctx := context.Background()

	_, err := f.svc.CancelOrder(ctx, "buyer-2", placed.OrderID)
	assert.ErrorIs(t, err, order.ErrForbidden)

	f.gateway.On("CancelOrder", "ext-1").Return(nil).Once()
	cancelled, err := f.svc.CancelOrder(ctx, "buyer-1", placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, cancelled.Status)

	again, err := f.svc.CancelOrder(ctx, "buyer-1", placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, again.Status)
	f.gateway.AssertExpectations(t)

	_, err = f.svc.ConfirmPayment(ctx, signed("ext-1", "pay-1"))
	assert.ErrorIs(t, err, order.ErrOrderClosed)
}

func TestCancelSettledOrderIsRejected(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 10)
	placed := f.placePaid(t, "buyer-1", "general", 1, "ext-1")
	_, err := f.svc.ConfirmPayment(context.Background(), signed("ext-1", "pay-1"))
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(context.Background(), "buyer-1", placed.OrderID)

	assert.ErrorIs(t, err, order.ErrOrderClosed)
}

func TestReverseSettlementReleasesCapacity(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 2)
	placed := f.placePaid(t, "buyer-1", "general", 2, "ext-1")
	ctx := context.Background()
	_, err := f.svc.ConfirmPayment(ctx, signed("ext-1", "pay-1"))
	require.NoError(t, err)
	require.Equal(t, 2, f.soldCount(t, "general"))

	reversed, err := f.svc.ReverseSettlement(ctx, "buyer-1", placed.OrderID, "")
	require.NoError(t, err)

	assert.Equal(t, models.OrderCancelled, reversed.Status)
	assert.Equal(t, models.ReasonSettlementReversed, reversed.FailureReason)
	assert.True(t, reversed.RefundPending)
	assert.Equal(t, 0, f.soldCount(t, "general"))
	assert.Equal(t, []string{placed.OrderID}, f.kafka.refunds)

	_, err = f.svc.ReverseSettlement(ctx, "buyer-1", placed.OrderID, "")
	assert.ErrorIs(t, err, order.ErrOrderClosed)
}

func TestGetOrderIncludesTicket(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 10)
	placed := f.placePaid(t, "buyer-1", "general", 1, "ext-1")
	ctx := context.Background()

	details, err := f.svc.GetOrder(ctx, "buyer-1", placed.OrderID)
	require.NoError(t, err)
	assert.Nil(t, details.Ticket)

	_, err = f.svc.ConfirmPayment(ctx, signed("ext-1", "pay-1"))
	require.NoError(t, err)

	details, err = f.svc.GetOrder(ctx, "buyer-1", placed.OrderID)
	require.NoError(t, err)
	require.NotNil(t, details.Ticket)
	assert.Equal(t, placed.OrderID, details.Ticket.OrderID)

	_, err = f.svc.GetOrder(ctx, "buyer-2", placed.OrderID)
	assert.ErrorIs(t, err, order.ErrForbidden)
}

func TestHandlePaymentConfirmed(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 10)
	placed := f.placePaid(t, "buyer-1", "general", 1, "ext-1")
	req := signed("ext-1", "pay-1")

	err := f.svc.HandlePaymentConfirmed(context.Background(), models.PaymentConfirmedEvent{
		ExternalOrderID:   req.ExternalOrderID,
		ExternalPaymentID: req.ExternalPaymentID,
		Signature:         req.Signature,
		Provider:          "sandbox",
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderSettled, f.loadOrder(t, placed.OrderID).Status)
}

func TestHandlePaymentConfirmedSwallowsFinalOutcomes(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 10)
	f.placePaid(t, "buyer-1", "general", 1, "ext-1")
	ctx := context.Background()

	event := func(req models.ConfirmRequest) models.PaymentConfirmedEvent {
		return models.PaymentConfirmedEvent{
			ExternalOrderID:   req.ExternalOrderID,
			ExternalPaymentID: req.ExternalPaymentID,
			Signature:         req.Signature,
		}
	}

	assert.NoError(t, f.svc.HandlePaymentConfirmed(ctx, event(signed("ext-missing", "pay-1"))))

	forged := signed("ext-1", "pay-1")
	forged.Signature = payment.Sign("wrong-secret", "ext-1", "pay-1")
	assert.NoError(t, f.svc.HandlePaymentConfirmed(ctx, event(forged)))

	// The order failed on the forged signature, so this is final too.
	assert.NoError(t, f.svc.HandlePaymentConfirmed(ctx, event(signed("ext-1", "pay-1"))))
}

func TestHandlePaymentConfirmedReturnsTransientFailures(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 10)
	placed := f.placePaid(t, "buyer-1", "general", 1, "ext-1")
	req := signed("ext-1", "pay-1")
	event := models.PaymentConfirmedEvent{
		ExternalOrderID:   req.ExternalOrderID,
		ExternalPaymentID: req.ExternalPaymentID,
		Signature:         req.Signature,
	}

	f.svc.Redis = failingLock{}
	err := f.svc.HandlePaymentConfirmed(context.Background(), event)
	require.Error(t, err)
	assert.True(t, order.Retryable(err))
	assert.Equal(t, models.OrderAwaitingPayment, f.loadOrder(t, placed.OrderID).Status)

	// Redelivery once Redis is back settles the order.
	f.svc.Redis = nil
	require.NoError(t, f.svc.HandlePaymentConfirmed(context.Background(), event))
	assert.Equal(t, models.OrderSettled, f.loadOrder(t, placed.OrderID).Status)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", &order.ValidationError{Fields: map[string]string{"signature": "is required"}}, false},
		{"forged", &order.TrustError{ExternalOrderID: "ext-1"}, false},
		{"sold out after payment", &order.SettlementError{OrderID: "o-1", Reason: models.ReasonSoldOutAfterPayment, RefundPending: true}, false},
		{"unknown order", order.ErrOrderNotFound, false},
		{"closed", order.ErrOrderClosed, false},
		{"settled elsewhere", order.ErrAlreadySettled, false},
		{"lock held", order.ErrConfirmationInProgress, true},
		{"storage", fmt.Errorf("settle order o-1: %w", errors.New("sql: database is closed")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, order.Retryable(tt.err))
		})
	}
}

func TestConcurrentConfirmationsForLastUnit(t *testing.T) {
	f := setupService(t)
	f.seedClass(t, "general", models.TicketClassPaid, 100, 1)
	first := f.placePaid(t, "buyer-1", "general", 1, "ext-1")
	second := f.placePaid(t, "buyer-2", "general", 1, "ext-2")

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
	)
	for i, ext := range []string{"ext-1", "ext-2"} {
		wg.Add(1)
		go func(i int, ext string) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.ConfirmPayment(context.Background(), signed(ext, "pay-"+ext))
		}(i, ext)
	}
	close(start)
	wg.Wait()

	settled, soldOut := 0, 0
	for _, err := range errs {
		var settleErr *order.SettlementError
		switch {
		case err == nil:
			settled++
		case errors.As(err, &settleErr):
			assert.Equal(t, models.ReasonSoldOutAfterPayment, settleErr.Reason)
			assert.True(t, settleErr.RefundPending)
			soldOut++
		default:
			t.Fatalf("unexpected confirmation error: %v", err)
		}
	}
	assert.Equal(t, 1, settled)
	assert.Equal(t, 1, soldOut)
	assert.Equal(t, 1, f.soldCount(t, "general"))

	statuses := []models.OrderStatus{
		f.loadOrder(t, first.OrderID).Status,
		f.loadOrder(t, second.OrderID).Status,
	}
	assert.ElementsMatch(t, []models.OrderStatus{models.OrderSettled, models.OrderFailed}, statuses)
	assert.Len(t, f.kafka.refunds, 1)

	count, err := (&ticketdb.DB{Bun: f.db}).GetTotalTicketsCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
