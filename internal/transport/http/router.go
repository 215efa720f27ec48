package httptransport

import (
	"cmp"
	"expvar"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"realtime-room/internal/events"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

type RouterDeps struct {
	Hub         Inspector
	Journal     *events.Journal
	WS          http.Handler
	MCP         http.Handler
	Checks      []HealthCheck
	AdminAPIKey string
}

func NewRouter(deps RouterDeps) *chi.Mux {
	rooms := NewRoomHandlers(deps.Hub)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(APILogMiddleware()).Get("/healthz", Health(deps.Checks...))
	if deps.WS != nil {
		r.Handle("/ws", deps.WS)
	}
	if deps.MCP != nil {
		r.With(APILogMiddleware()).Handle("/mcp", deps.MCP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(APILogMiddleware())
		r.Get("/rooms", rooms.Rooms())
		r.Get("/rooms/{room_id}/presence", rooms.Presence())
		r.Get("/rooms/{room_id}/history", rooms.History())
		if deps.Journal != nil {
			r.Get("/events", EventsSSEHandler(deps.Journal))
			r.Get("/rooms/{room_id}/events", EventsSSEHandler(deps.Journal))
		}

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(deps.AdminAPIKey))
			r.Get("/debug/vars", expvar.Handler().ServeHTTP)
		})
	})
	return r
}

func LogRoutes(r chi.Router) {
	type routeDef struct {
		Method string
		Path   string
	}
	routes := make([]routeDef, 0, 16)
	err := chi.Walk(r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, routeDef{Method: method, Path: route})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("walk routes failed")
		return
	}
	slices.SortFunc(routes, func(a, b routeDef) int {
		return cmp.Or(cmp.Compare(a.Path, b.Path), cmp.Compare(a.Method, b.Method))
	})
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Registered routes (%d):\n", len(routes)))
	for _, rt := range routes {
		b.WriteString(fmt.Sprintf("  %-6s %s\n", rt.Method, rt.Path))
	}
	fmt.Print(b.String())
}
