// Package analytics reports sales, refunds and attendance for an event.
package analytics

import (
	"context"
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/auth"
	"ms-ticket-orders/internal/db"
	"ms-ticket-orders/internal/models"
	"sort"

	"github.com/shopspring/decimal"
)

// Service handles analytics operations
type Service struct {
	db *db.DB
}

func NewService(d *db.DB) *Service {
	return &Service{db: d}
}

// EventSales is the organizer's view of an event's money and tickets.
// Revenue is what was captured minus what has been refunded.
type EventSales struct {
	EventID          string          `json:"eventId"`
	Revenue          decimal.Decimal `json:"revenue"`
	GrossBeforeDisc  decimal.Decimal `json:"grossBeforeDiscounts"`
	Discounts        decimal.Decimal `json:"discounts"`
	Fees             decimal.Decimal `json:"fees"`
	Refunded         decimal.Decimal `json:"refunded"`
	TicketsSold      int             `json:"ticketsSold"`
	TicketsCheckedIn int             `json:"ticketsCheckedIn"`
	OrdersByStatus   map[string]int  `json:"ordersByStatus"`
	SalesByTier      []TierSales     `json:"salesByTier"`
	DailySales       []DailySales    `json:"dailySales"`
	DiscountUsage    []DiscountUsage `json:"discountUsage"`
}

// TierSales contains sales metrics for one ticket type
type TierSales struct {
	TicketTypeID string          `json:"ticketTypeId"`
	Name         string          `json:"name"`
	Capacity     int             `json:"capacity"`
	Sold         int             `json:"sold"`
	Reserved     int             `json:"reserved"`
	HalfPrice    int             `json:"halfPriceSold"`
	Revenue      decimal.Decimal `json:"revenue"`
}

// DailySales contains metrics for a single UTC day
type DailySales struct {
	Date        string          `json:"date"`
	Revenue     decimal.Decimal `json:"revenue"`
	TicketsSold int             `json:"ticketsSold"`
}

type DiscountUsage struct {
	Code          string          `json:"code"`
	Uses          int             `json:"uses"`
	TotalDiscount decimal.Decimal `json:"totalDiscount"`
}

// paidStatuses are the order states whose money was captured at some point.
var paidStatuses = []models.OrderStatus{
	models.OrderConfirmed,
	models.OrderCompleted,
	models.OrderPartialRefund,
	models.OrderRefunded,
}

// EventSales builds the report. Only the event organizer or an admin may
// read it.
func (s *Service) EventSales(ctx context.Context, eventID string, p auth.Principal) (*EventSales, error) {
	ev, err := s.db.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && ev.OrganizerID != p.UserID {
		return nil, apperr.Forbidden()
	}

	orders, err := s.db.ListEventOrdersWithItems(ctx, eventID, paidStatuses...)
	if err != nil {
		return nil, err
	}
	refunds, err := s.db.ListEventRefunds(ctx, eventID, models.RefundCompleted)
	if err != nil {
		return nil, err
	}
	types, err := s.db.ListEventTicketTypes(ctx, eventID)
	if err != nil {
		return nil, err
	}
	orderCounts, err := s.db.CountEventOrders(ctx, eventID)
	if err != nil {
		return nil, err
	}
	ticketCounts, err := s.db.CountEventTickets(ctx, eventID)
	if err != nil {
		return nil, err
	}

	out := &EventSales{
		EventID:         eventID,
		Revenue:         decimal.Zero,
		GrossBeforeDisc: decimal.Zero,
		Discounts:       decimal.Zero,
		Fees:            decimal.Zero,
		Refunded:        decimal.Zero,
		OrdersByStatus:  make(map[string]int, len(orderCounts)),
		SalesByTier:     make([]TierSales, 0, len(types)),
		DailySales:      []DailySales{},
		DiscountUsage:   []DiscountUsage{},
	}
	for _, c := range orderCounts {
		out.OrdersByStatus[c.Status] = c.Count
	}
	for _, c := range ticketCounts {
		switch models.TicketStatus(c.Status) {
		case models.TicketActive, models.TicketTransferred:
			out.TicketsSold += c.Count
		case models.TicketCheckedIn:
			out.TicketsSold += c.Count
			out.TicketsCheckedIn += c.Count
		}
	}

	tierRevenue := make(map[string]decimal.Decimal, len(types))
	days := make(map[string]*DailySales)
	promoUses := make(map[string]*DiscountUsage)
	for _, o := range orders {
		out.Revenue = out.Revenue.Add(o.Total)
		out.GrossBeforeDisc = out.GrossBeforeDisc.Add(o.Subtotal)
		out.Discounts = out.Discounts.Add(o.Discount)
		out.Fees = out.Fees.Add(o.FeeAmount())

		day := o.CreatedAt.UTC().Format("2006-01-02")
		ds, ok := days[day]
		if !ok {
			ds = &DailySales{Date: day, Revenue: decimal.Zero}
			days[day] = ds
		}
		ds.Revenue = ds.Revenue.Add(o.Total)

		for _, it := range o.Items {
			ds.TicketsSold += it.Quantity
			rev, ok := tierRevenue[it.TicketTypeID]
			if !ok {
				rev = decimal.Zero
			}
			tierRevenue[it.TicketTypeID] = rev.Add(it.TotalPrice)
		}

		if o.PromoCodeID != "" {
			u, ok := promoUses[o.PromoCodeID]
			if !ok {
				u = &DiscountUsage{TotalDiscount: decimal.Zero}
				promoUses[o.PromoCodeID] = u
			}
			u.Uses++
			u.TotalDiscount = u.TotalDiscount.Add(o.Discount)
		}
	}
	for _, r := range refunds {
		out.Refunded = out.Refunded.Add(r.RefundedValue())
	}
	out.Revenue = out.Revenue.Sub(out.Refunded)

	for _, tt := range types {
		rev, ok := tierRevenue[tt.ID]
		if !ok {
			rev = decimal.Zero
		}
		out.SalesByTier = append(out.SalesByTier, TierSales{
			TicketTypeID: tt.ID,
			Name:         tt.Name,
			Capacity:     tt.Quantity,
			Sold:         tt.QuantitySold,
			Reserved:     tt.QuantityReserved,
			HalfPrice:    tt.HalfPriceSold,
			Revenue:      rev,
		})
	}

	for _, ds := range days {
		out.DailySales = append(out.DailySales, *ds)
	}
	sort.Slice(out.DailySales, func(i, j int) bool { return out.DailySales[i].Date < out.DailySales[j].Date })

	if len(promoUses) > 0 {
		ids := make([]string, 0, len(promoUses))
		for id := range promoUses {
			ids = append(ids, id)
		}
		promos, err := s.db.GetPromos(ctx, ids)
		if err != nil {
			return nil, err
		}
		for id, u := range promoUses {
			if p, ok := promos[id]; ok {
				u.Code = p.Code
			}
			out.DiscountUsage = append(out.DiscountUsage, *u)
		}
		sort.Slice(out.DiscountUsage, func(i, j int) bool { return out.DiscountUsage[i].Code < out.DiscountUsage[j].Code })
	}
	return out, nil
}
