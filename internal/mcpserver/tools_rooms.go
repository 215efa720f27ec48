package mcpserver

import (
	"context"

	"realtime-room/internal/transport"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerRoomTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_rooms",
			mcp.WithDescription("List rooms with live channels"),
		),
		s.handleListRooms,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_presence",
			mcp.WithDescription("List participants present in a room"),
			mcp.WithString("room_id", mcp.Required(), mcp.Description("Room id")),
		),
		s.handleGetPresence,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_history",
			mcp.WithDescription("Recent room messages, newest first"),
			mcp.WithString("room_id", mcp.Required(), mcp.Description("Room id")),
			mcp.WithNumber("limit", mcp.Description("Page size, default 20, max 500")),
		),
		s.handleGetHistory,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_room_properties",
			mcp.WithDescription("Room properties a participant joining now would adopt"),
			mcp.WithString("room_id", mcp.Required(), mcp.Description("Room id")),
		),
		s.handleGetRoomProperties,
	)
}

func (s *Server) handleListRooms(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolResult(map[string]any{"items": s.rooms.Rooms()}), nil
}

func (s *Server) handleGetPresence(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, err := request.RequireString("room_id")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	members := s.rooms.Members(roomID)
	items := make([]transport.PresenceRecord, 0, len(members))
	for _, m := range members {
		items = append(items, m.Data)
	}
	return toolResult(map[string]any{"room_id": roomID, "items": items}), nil
}

func (s *Server) handleGetHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, err := request.RequireString("room_id")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	limit := clampLimit(request.GetInt("limit", defaultPageLimit), maxPageLimit)
	msgs, err := s.rooms.History(ctx, roomID, limit)
	if err != nil {
		return toolError("internal_error", err.Error()), nil
	}
	if msgs == nil {
		msgs = []transport.Message{}
	}
	return toolResult(map[string]any{"room_id": roomID, "items": msgs, "limit": limit}), nil
}

func (s *Server) handleGetRoomProperties(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	roomID, err := request.RequireString("room_id")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	view, err := s.roomProperties(ctx, roomID)
	if err != nil {
		return toolError("internal_error", err.Error()), nil
	}
	return toolResult(view), nil
}
