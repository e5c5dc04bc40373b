package api

import (
	"errors"
	"fmt"
	"io"
	"ms-ticket-orders/internal/apperr"
	"ms-ticket-orders/internal/auth"
	"ms-ticket-orders/internal/order"
	"ms-ticket-orders/internal/payment"
	"ms-ticket-orders/internal/refund"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

// ---------------- Orders ----------------

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var in order.CreateInput
	if err := decodeBody(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	in.BuyerID = principal(r).UserID

	o, err := h.Orders.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Log.LogOrder("CREATE", o.ID, fmt.Sprintf("%s for event %s is %s", o.OrderNumber, o.EventID, o.Status))
	writeJSON(w, http.StatusCreated, SuccessResponse("order created", o))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "orderId"), principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("order found", o))
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if err := h.Orders.Cancel(r.Context(), orderID, principal(r).UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("order cancelled", map[string]string{"orderId": orderID}))
}

// ---------------- Refunds ----------------

func (h *Handler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	var in refund.CreateInput
	if err := decodeBody(w, r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	in.RequestedBy = principal(r).UserID

	rf, err := h.Refunds.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SuccessResponse("refund requested", rf))
}

func (h *Handler) ApproveRefund(w http.ResponseWriter, r *http.Request) {
	rf, err := h.Refunds.Approve(r.Context(), chi.URLParam(r, "refundId"), principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("refund completed", rf))
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RejectRefund(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	rf, err := h.Refunds.Reject(r.Context(), chi.URLParam(r, "refundId"), req.Reason, principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("refund rejected", rf))
}

func (h *Handler) CancelRefund(w http.ResponseWriter, r *http.Request) {
	rf, err := h.Refunds.CancelByRequester(r.Context(), chi.URLParam(r, "refundId"), principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("refund cancelled", rf))
}

// ---------------- Events ----------------

func (h *Handler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	n, err := h.Events.Cancel(r.Context(), eventID, principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("event cancelled", map[string]any{
		"eventId":       eventID,
		"refundsOpened": n,
	}))
}

func (h *Handler) EventSales(w http.ResponseWriter, r *http.Request) {
	report, err := h.Analytics.EventSales(r.Context(), chi.URLParam(r, "eventId"), principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("event sales", report))
}

// ---------------- Tickets ----------------

func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	png, err := h.Tickets.QRCode(r.Context(), chi.URLParam(r, "ticketId"), principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *Handler) TicketPDF(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketId")
	doc, err := h.Tickets.PrintableTicket(r.Context(), ticketID, principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", "ticket-"+ticketID+".pdf"))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

type checkInRequest struct {
	Token string `json:"token"`
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Token == "" {
		h.writeError(w, r, apperr.Validation("token is required"))
		return
	}
	t, err := h.Tickets.CheckIn(r.Context(), req.Token, principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("ticket checked in", t))
}

// ---------------- Payments ----------------

func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodyBytes = int64(65536)
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.Log.Error("WEBHOOK", fmt.Sprintf("read body: %v", err))
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse("Service Unavailable", "Error reading request body"))
		return
	}

	err = h.Payments.HandleStripeWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		var werr *payment.WebhookError
		if errors.As(err, &werr) {
			h.Log.Error("WEBHOOK", fmt.Sprintf("[%s] %s", werr.Category, werr.InternalError))
			if werr.StatusCode < http.StatusBadRequest {
				writeJSON(w, werr.StatusCode, SuccessResponse(werr.PublicError, nil))
				return
			}
			writeJSON(w, werr.StatusCode, ErrorResponse(http.StatusText(werr.StatusCode), werr.PublicError))
			return
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse("received", nil))
}
