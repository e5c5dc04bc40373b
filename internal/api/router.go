// Package api exposes the order and refund engine over HTTP.
package api

import (
	"ms-ticket-orders/internal/analytics"
	"ms-ticket-orders/internal/auth"
	"ms-ticket-orders/internal/event"
	"ms-ticket-orders/internal/logger"
	"ms-ticket-orders/internal/order"
	"ms-ticket-orders/internal/payment"
	"ms-ticket-orders/internal/refund"
	"ms-ticket-orders/internal/sse"
	"ms-ticket-orders/internal/tickets"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handler struct {
	Orders    *order.Service
	Refunds   *refund.Service
	Events    *event.Service
	Tickets   *tickets.Service
	Payments  *payment.Service
	Analytics *analytics.Service
	Live      *sse.Feed
	Log       *logger.Logger
}

func NewRouter(h *Handler, verifier auth.Verifier) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLog)

	// --- Public Routes ---
	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/payments/stripe/webhook", h.StripeWebhook)

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier))

		r.Route("/api", func(r chi.Router) {
			r.Route("/orders", func(r chi.Router) {
				r.Post("/", h.CreateOrder)
				r.Get("/{orderId}", h.GetOrder)
				r.Post("/{orderId}/cancel", h.CancelOrder)
			})

			r.Route("/refunds", func(r chi.Router) {
				r.Post("/", h.CreateRefund)
				r.Post("/{refundId}/approve", h.ApproveRefund)
				r.Post("/{refundId}/reject", h.RejectRefund)
				r.Post("/{refundId}/cancel", h.CancelRefund)
			})

			r.Route("/events/{eventId}", func(r chi.Router) {
				r.Post("/cancel", h.CancelEvent)
				r.Get("/sales", h.EventSales)
				r.Get("/live", h.EventLive)
			})

			r.Route("/tickets", func(r chi.Router) {
				r.Get("/{ticketId}/qr", h.TicketQR)
				r.Get("/{ticketId}/pdf", h.TicketPDF)
				r.Post("/check-in", h.CheckIn)
			})
		})
	})
	return r
}

func (h *Handler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.Log.LogAPI(r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SuccessResponse("ok", nil))
}
