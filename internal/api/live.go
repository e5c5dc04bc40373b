package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Accel-Buffering", "no")
}

// EventLive streams the event's order activity to its organizer as
// server-sent events until the client goes away.
func (h *Handler) EventLive(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	if err := h.Events.Authorize(r.Context(), eventID, principal(r)); err != nil {
		h.writeError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	// The stream outlives the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	ctx := r.Context()
	updates := h.Live.Subscribe(ctx, eventID)

	setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: connected\ndata: {\"eventId\":%q}\n\n", eventID)
	if err := rc.Flush(); err != nil {
		h.Log.Error("SSE", fmt.Sprintf("streaming unsupported: %v", err))
		return
	}
	h.Log.Info("SSE", fmt.Sprintf("client connected to live feed of event %s", eventID))

	keepAlive := time.NewTicker(25 * time.Second)
	defer keepAlive.Stop()
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(u.Data)
			if err != nil {
				h.Log.Error("SSE", fmt.Sprintf("failed to serialize %s: %v", u.Kind, err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", u.Kind, data)
			if err := rc.Flush(); err != nil {
				return
			}
		case <-keepAlive.C:
			fmt.Fprint(w, ": ping\n\n")
			if err := rc.Flush(); err != nil {
				return
			}
		case <-ctx.Done():
			h.Log.Debug("SSE", fmt.Sprintf("client left live feed of event %s", eventID))
			return
		}
	}
}
