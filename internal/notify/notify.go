// Package notify carries best-effort side effects: buyer notifications and
// domain events. Nothing here can fail the operation that triggered it.
package notify

import (
	"context"
	"fmt"
	"ms-ticket-orders/internal/logger"
	"ms-ticket-orders/internal/models"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Notifier tells buyers what happened to their order.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, o *models.Order) error
	SendPaymentWaiting(ctx context.Context, o *models.Order) error
	SendTicketsReady(ctx context.Context, o *models.Order, tickets []*models.TicketInstance) error
}

// Publisher writes one message to a topic. kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic, msgType, key string, v any) error
}

// Dispatcher runs side effects in the background with their own deadline,
// detached from the request that started them.
type Dispatcher struct {
	log     *logger.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(log *logger.Logger) *Dispatcher {
	return &Dispatcher{log: log, timeout: 10 * time.Second}
}

func (d *Dispatcher) Go(what string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.log.Warn("NOTIFY", fmt.Sprintf("%s failed: %v", what, err))
		}
	}()
}

// Wait blocks until every dispatched side effect has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// ---------------- Kafka-backed notifier ----------------

const (
	TemplateOrderConfirmation = "ORDER_CONFIRMATION"
	TemplatePaymentWaiting    = "PAYMENT_WAITING"
	TemplateTicketsReady      = "TICKETS_READY"
)

// Message is what the mail service renders.
type Message struct {
	Template    string          `json:"template"`
	UserID      string          `json:"userId"`
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	Total       decimal.Decimal `json:"total"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
	Tickets     []TicketLine    `json:"tickets,omitempty"`
}

type TicketLine struct {
	Code          string `json:"code"`
	AttendeeName  string `json:"attendeeName"`
	AttendeeEmail string `json:"attendeeEmail"`
}

// KafkaNotifier hands notifications to the mail service over a topic.
type KafkaNotifier struct {
	pub   Publisher
	topic string
}

func NewKafkaNotifier(pub Publisher, topic string) *KafkaNotifier {
	return &KafkaNotifier{pub: pub, topic: topic}
}

func (n *KafkaNotifier) send(ctx context.Context, template string, o *models.Order, tickets []*models.TicketInstance) error {
	msg := Message{
		Template:    template,
		UserID:      o.BuyerID,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Total:       o.Total,
		ExpiresAt:   o.ExpiresAt,
	}
	for _, t := range tickets {
		msg.Tickets = append(msg.Tickets, TicketLine{Code: t.Code, AttendeeName: t.AttendeeName, AttendeeEmail: t.AttendeeEmail})
	}
	return n.pub.Publish(ctx, n.topic, template, o.ID, msg)
}

func (n *KafkaNotifier) SendOrderConfirmation(ctx context.Context, o *models.Order) error {
	return n.send(ctx, TemplateOrderConfirmation, o, nil)
}

func (n *KafkaNotifier) SendPaymentWaiting(ctx context.Context, o *models.Order) error {
	return n.send(ctx, TemplatePaymentWaiting, o, nil)
}

func (n *KafkaNotifier) SendTicketsReady(ctx context.Context, o *models.Order, tickets []*models.TicketInstance) error {
	return n.send(ctx, TemplateTicketsReady, o, tickets)
}

// ---------------- Domain events ----------------

const (
	OrderCreated    = "order.created"
	OrderConfirmed  = "order.confirmed"
	OrderCancelled  = "order.cancelled"
	OrderExpired    = "order.expired"
	RefundRequested = "refund.requested"
	RefundCompleted = "refund.completed"
	RefundRejected  = "refund.rejected"
	RefundCancelled = "refund.cancelled"
	EventCancelled  = "event.cancelled"
)

// Broadcaster pushes events to clients watching one event live.
// sse.Feed satisfies it.
type Broadcaster interface {
	Broadcast(eventID, kind string, v any)
}

// Events publishes domain events for other services. Live is optional.
type Events struct {
	pub         Publisher
	orderTopic  string
	refundTopic string
	dispatcher  *Dispatcher
	Live        Broadcaster
}

func NewEvents(pub Publisher, orderTopic, refundTopic string, d *Dispatcher) *Events {
	return &Events{pub: pub, orderTopic: orderTopic, refundTopic: refundTopic, dispatcher: d}
}

func (e *Events) Order(kind string, o *models.Order) {
	snapshot := *o
	snapshot.Items, snapshot.Tickets = nil, nil
	if e.Live != nil {
		e.Live.Broadcast(o.EventID, kind, snapshot)
	}
	e.dispatcher.Go(kind+" "+o.ID, func(ctx context.Context) error {
		return e.pub.Publish(ctx, e.orderTopic, kind, o.ID, snapshot)
	})
}

func (e *Events) Refund(kind string, r *models.Refund) {
	snapshot := *r
	e.dispatcher.Go(kind+" "+r.ID, func(ctx context.Context) error {
		return e.pub.Publish(ctx, e.refundTopic, kind, r.OrderID, snapshot)
	})
}

func (e *Events) Event(kind, eventID string, refunds int) {
	if e.Live != nil {
		e.Live.Broadcast(eventID, kind, map[string]any{"eventId": eventID, "refundsCreated": refunds})
	}
	e.dispatcher.Go(kind+" "+eventID, func(ctx context.Context) error {
		return e.pub.Publish(ctx, e.orderTopic, kind, eventID, map[string]any{"eventId": eventID, "refundsCreated": refunds})
	})
}

// LogPublisher stands in for Kafka when it is disabled.
type LogPublisher struct {
	Log *logger.Logger
}

func (p LogPublisher) Publish(_ context.Context, topic, msgType, key string, _ any) error {
	p.Log.Debug("NOTIFY", fmt.Sprintf("kafka disabled, dropped %s %s for %s", msgType, key, topic))
	return nil
}
