package analytics

import (
	"context"
	"sort"

	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

// Service builds sales reports for an event from the orders table.
type Service struct {
	db bun.IDB
}

func NewService(db bun.IDB) *Service {
	return &Service{db: db}
}

// EventSales aggregates an event's orders. Amounts are minor currency units.
type EventSales struct {
	EventID          string              `json:"event_id"`
	Status           models.OrderStatus  `json:"status"`
	Orders           int                 `json:"orders"`
	TotalRevenue     int64               `json:"total_revenue"`
	TotalBeforeDisc  int64               `json:"total_before_discounts"`
	TotalDiscounts   int64               `json:"total_discounts"`
	TotalFees        int64               `json:"total_fees"`
	TotalTax         int64               `json:"total_tax"`
	TotalTicketsSold int                 `json:"total_tickets_sold"`
	RefundsPending   int                 `json:"refunds_pending"`
	DailySales       []DailySalesMetrics `json:"daily_sales"`
	SalesByClass     []ClassSalesMetrics `json:"sales_by_class"`
	DiscountUsage    []DiscountUsage     `json:"discount_usage"`
}

type DailySalesMetrics struct {
	Date        string `json:"date"`
	Revenue     int64  `json:"revenue"`
	TicketsSold int    `json:"tickets_sold"`
}

type ClassSalesMetrics struct {
	TicketClassID string `json:"ticket_class_id"`
	ClassName     string `json:"class_name"`
	TicketsSold   int    `json:"tickets_sold"`
	Revenue       int64  `json:"revenue"`
}

// DiscountUsage counts orders priced with a guest-tier discount.
type DiscountUsage struct {
	Tier          models.GuestTier `json:"tier"`
	UsageCount    int              `json:"usage_count"`
	TotalDiscount int64            `json:"total_discount_amount"`
}

// GetEventSales reports on the event's orders in the given status. Daily
// buckets use the settlement date for settled orders and the creation date
// otherwise, both in UTC.
func (s *Service) GetEventSales(ctx context.Context, eventID string, status models.OrderStatus) (*EventSales, error) {
	if status == "" {
		status = models.OrderSettled
	}

	var orders []models.Order
	err := s.db.NewSelect().
		Model(&orders).
		Where("event_id = ?", eventID).
		Where("status = ?", status).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	var classes []models.TicketClass
	err = s.db.NewSelect().
		Model(&classes).
		Column("id", "class_name").
		Where("event_id = ?", eventID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	classNames := make(map[string]string, len(classes))
	for _, c := range classes {
		classNames[c.ID] = c.ClassName
	}

	result := &EventSales{
		EventID:       eventID,
		Status:        status,
		Orders:        len(orders),
		DailySales:    []DailySalesMetrics{},
		SalesByClass:  []ClassSalesMetrics{},
		DiscountUsage: []DiscountUsage{},
	}

	daily := map[string]*DailySalesMetrics{}
	byClass := map[string]*ClassSalesMetrics{}
	byTier := map[models.GuestTier]*DiscountUsage{}

	for _, o := range orders {
		result.TotalRevenue += o.Total
		result.TotalBeforeDisc += o.Subtotal + o.Fees + o.Tax
		result.TotalDiscounts += o.Discount
		result.TotalFees += o.Fees
		result.TotalTax += o.Tax
		result.TotalTicketsSold += o.Quantity
		if o.RefundPending {
			result.RefundsPending++
		}

		day := o.CreatedAt
		if !o.SettledAt.IsZero() {
			day = o.SettledAt
		}
		key := day.UTC().Format("2006-01-02")
		d, ok := daily[key]
		if !ok {
			d = &DailySalesMetrics{Date: key}
			daily[key] = d
		}
		d.Revenue += o.Total
		d.TicketsSold += o.Quantity

		c, ok := byClass[o.TicketClassID]
		if !ok {
			c = &ClassSalesMetrics{TicketClassID: o.TicketClassID, ClassName: classNames[o.TicketClassID]}
			byClass[o.TicketClassID] = c
		}
		c.Revenue += o.Total
		c.TicketsSold += o.Quantity

		if o.DiscountTier != models.TierNone && o.Discount > 0 {
			u, ok := byTier[o.DiscountTier]
			if !ok {
				u = &DiscountUsage{Tier: o.DiscountTier}
				byTier[o.DiscountTier] = u
			}
			u.UsageCount++
			u.TotalDiscount += o.Discount
		}
	}

	for _, d := range daily {
		result.DailySales = append(result.DailySales, *d)
	}
	sort.Slice(result.DailySales, func(i, j int) bool { return result.DailySales[i].Date < result.DailySales[j].Date })

	for _, c := range byClass {
		result.SalesByClass = append(result.SalesByClass, *c)
	}
	sort.Slice(result.SalesByClass, func(i, j int) bool {
		return result.SalesByClass[i].TicketClassID < result.SalesByClass[j].TicketClassID
	})

	for _, u := range byTier {
		result.DiscountUsage = append(result.DiscountUsage, *u)
	}
	sort.Slice(result.DiscountUsage, func(i, j int) bool { return result.DiscountUsage[i].Tier < result.DiscountUsage[j].Tier })

	return result, nil
}
