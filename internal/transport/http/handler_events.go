package httptransport

import (
	"net/http"
	"time"

	"realtime-room/internal/events"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

var ssePingInterval = 15 * time.Second

// EventsSSEHandler streams journal entries. Under /rooms/{room_id} only that
// room's entries are sent. Last-Event-ID resumes after a known entry.
func EventsSSEHandler(journal *events.Journal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "room_id")
		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteHTTPError(w, http.StatusInternalServerError, "stream_not_supported")
			return
		}
		match := func(e events.Entry) bool { return roomID == "" || e.Scope == roomID }

		metricSSEConnectionsTotal.Add(1)
		metricSSEConnectionsActive.Add(1)
		defer metricSSEConnectionsActive.Add(-1)

		events.SetSSEHeaders(w)
		reqID := chimw.GetReqID(r.Context())
		log.Info().Str("request_id", reqID).Str("room_id", roomID).Msg("sse stream opened")

		ch := journal.Subscribe()
		defer journal.Unsubscribe(ch)

		lastSent := r.Header.Get("Last-Event-ID")
		for _, ev := range journal.ReplayAfter(lastSent) {
			if !match(ev) {
				continue
			}
			if err := events.WriteSSE(w, ev); err != nil {
				return
			}
			lastSent = ev.EventID
		}
		flusher.Flush()

		ticker := time.NewTicker(ssePingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				log.Info().Str("request_id", reqID).Str("room_id", roomID).Err(r.Context().Err()).Msg("sse stream closed")
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if !match(ev) || !newer(ev.EventID, lastSent) {
					continue
				}
				if err := events.WriteSSE(w, ev); err != nil {
					return
				}
				lastSent = ev.EventID
				flusher.Flush()
			case <-ticker.C:
				ping := events.Entry{Event: "ping", Scope: roomID, ServerTS: time.Now().UnixMilli()}
				if err := events.WriteSSE(w, ping); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// newer reports whether id sorts after last. Entries delivered live may
// already have been sent during replay.
func newer(id, last string) bool {
	if last == "" {
		return true
	}
	if len(id) != len(last) {
		return len(id) > len(last)
	}
	return id > last
}
