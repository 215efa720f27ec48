package httptransport

import (
	"context"
	"net/http"

	"realtime-room/internal/transport"
	"realtime-room/internal/transport/memory"

	"github.com/go-chi/chi/v5"
)

// Inspector is the read side of a hub the HTTP API reports on.
type Inspector interface {
	Rooms() []memory.RoomSummary
	Members(channel string) []transport.PresenceMessage
	History(ctx context.Context, channel string, limit int) ([]transport.Message, error)
	ConnectedClients() int
}

type RoomHandlers struct {
	hub Inspector
}

func NewRoomHandlers(hub Inspector) *RoomHandlers {
	return &RoomHandlers{hub: hub}
}

func (h *RoomHandlers) Rooms() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, map[string]any{
			"items":             h.hub.Rooms(),
			"connected_clients": h.hub.ConnectedClients(),
		})
	}
}

func (h *RoomHandlers) Presence() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "room_id")
		members := h.hub.Members(roomID)
		items := make([]transport.PresenceRecord, 0, len(members))
		for _, m := range members {
			items = append(items, m.Data)
		}
		WriteJSON(w, map[string]any{"room_id": roomID, "items": items})
	}
}

func (h *RoomHandlers) History() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "room_id")
		limit := ParseLimit(r, 20, 500)
		msgs, err := h.hub.History(r.Context(), roomID, limit)
		if err != nil {
			metricHistoryQueryErrors.Add(1)
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		metricHistoryQueryTotal.Add(1)
		if msgs == nil {
			msgs = []transport.Message{}
		}
		WriteJSON(w, map[string]any{"room_id": roomID, "items": msgs, "limit": limit})
	}
}

// HealthCheck reports one backend dependency.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

func Health(checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{}
		ok := true
		for _, c := range checks {
			if err := c.Ping(r.Context()); err != nil {
				status[c.Name] = "down"
				ok = false
				continue
			}
			status[c.Name] = "up"
		}
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		WriteJSON(w, map[string]any{"ok": ok, "checks": status})
	}
}
