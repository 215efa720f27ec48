// Package mcpserver exposes read-only room inspection as MCP tools and
// resources, served over streamable HTTP next to the inspector API.
package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"realtime-room/internal/roomprops"
	"realtime-room/internal/transport"
	"realtime-room/internal/transport/memory"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Rooms is the hub view the tools read from.
type Rooms interface {
	Rooms() []memory.RoomSummary
	Members(channel string) []transport.PresenceMessage
	History(ctx context.Context, channel string, limit int) ([]transport.Message, error)
}

type Options struct {
	// StaleAfter and HistoryPageSize mirror what a joining participant uses,
	// so get_room_properties reports what a newcomer would see.
	StaleAfter      time.Duration
	HistoryPageSize int
	Now             func() time.Time
}

type Server struct {
	rooms Rooms
	opts  Options

	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

func New(rooms Rooms, opts Options) *Server {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = roomprops.DefaultStaleAfter
	}
	if opts.HistoryPageSize <= 0 {
		opts.HistoryPageSize = roomprops.DefaultHistoryPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	mcpSrv := server.NewMCPServer(
		"realtime-room",
		"0.1.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
		server.WithResourceRecovery(),
	)
	s := &Server{
		rooms:      rooms,
		opts:       opts,
		mcpServer:  mcpSrv,
		httpServer: server.NewStreamableHTTPServer(mcpSrv, server.WithStateLess(true), server.WithDisableStreaming(true)),
	}
	s.registerRoomTools()
	s.registerResources()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer
}

func (s *Server) registerResources() {
	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"room://{room_id}/properties",
			"room_properties",
			mcp.WithTemplateDescription("Room properties a participant joining now would adopt"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			raw := string(request.Params.URI)
			if !strings.HasPrefix(raw, "room://") || !strings.HasSuffix(raw, "/properties") {
				return nil, nil
			}
			roomID := strings.TrimSuffix(strings.TrimPrefix(raw, "room://"), "/properties")
			if roomID == "" {
				return nil, nil
			}
			view, err := s.roomProperties(ctx, roomID)
			if err != nil {
				return nil, err
			}
			payload, err := json.Marshal(view)
			if err != nil {
				return nil, err
			}
			return []mcp.ResourceContents{
				mcp.TextResourceContents{
					URI:      raw,
					MIMEType: "application/json",
					Text:     string(payload),
				},
			}, nil
		},
	)
}

type propertiesView struct {
	RoomID     string               `json:"room_id"`
	Properties roomprops.Properties `json:"properties"`
	// Adopted is false when a newcomer would reset the room to defaults.
	Adopted    bool                 `json:"adopted"`
	Reason     string               `json:"reason,omitempty"`
}

func (s *Server) roomProperties(ctx context.Context, roomID string) (propertiesView, error) {
	msgs, err := s.rooms.History(ctx, roomID, s.opts.HistoryPageSize)
	if err != nil {
		return propertiesView{}, err
	}
	props, adopted, resolveErr := roomprops.FromHistory(msgs, s.opts.Now(), s.opts.StaleAfter, nil)
	view := propertiesView{RoomID: roomID, Properties: props, Adopted: adopted}
	if resolveErr != nil {
		view.Reason = resolveErr.Error()
	}
	return view, nil
}
