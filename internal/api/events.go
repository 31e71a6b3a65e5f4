package api

import (
	"net/http"
	"time"

	"github.com/achadosufc/achados/internal/bus"
)

// defaultEventWait bounds a long-poll when the client sends no timeout.
const defaultEventWait = 25 * time.Second

type eventJSON struct {
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// Events handles GET /v1/events: a long-poll over the daemon bus.
// ?prefix= filters by event namespace; the request returns as soon as
// one event arrives, or an empty list when the wait times out.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	wait := defaultEventWait
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 || d > time.Minute {
			jsonError(w, http.StatusBadRequest, "invalid timeout")
			return
		}
		wait = d
	}

	ch, unsub := h.Bus.Subscribe(prefix, 64)
	defer unsub()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	var events []eventJSON
	select {
	case evt := <-ch:
		events = append(events, toEventJSON(evt))
		// Drain whatever queued up behind the first event.
		for {
			select {
			case more := <-ch:
				events = append(events, toEventJSON(more))
			default:
				jsonResponse(w, http.StatusOK, events)
				return
			}
		}
	case <-timer.C:
		jsonResponse(w, http.StatusOK, []eventJSON{})
	case <-r.Context().Done():
	}
}

func toEventJSON(evt bus.Event) eventJSON {
	return eventJSON{
		Kind:      evt.Kind,
		Timestamp: evt.Timestamp.UnixMilli(),
		Payload:   evt.Payload,
	}
}
