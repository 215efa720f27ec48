package mcpserver

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"realtime-room/internal/clock"
	"realtime-room/internal/roomprops"
	roomtransport "realtime-room/internal/transport"
	"realtime-room/internal/transport/memory"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

func TestMCPServerRoomTools(t *testing.T) {
	clk := clock.NewManual(time.Unix(10_000, 0))
	hub := memory.NewHub(memory.WithClock(clk))
	c := hub.NewClient("alice")
	c.Connect()
	ch := c.Channel("lobby")
	ch.Attach()
	ch.Presence().Enter(roomtransport.PresenceRecord{ID: "alice", Name: "Alice"}, nil)
	ch.Publish(roomprops.UpdateEvent, json.RawMessage(`{"hostClientId":"alice","isGridModeEnabled":true,"transcript":"stopped"}`), nil)

	srv := New(hub, Options{Now: clk.Now})
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	mcpClient, closeClient := newMCPClient(t, httpSrv.URL+"/mcp")
	defer closeClient()

	assertToolNames(t, mustListTools(t, mcpClient),
		"list_rooms",
		"get_presence",
		"get_history",
		"get_room_properties",
	)

	rooms := mapFromStructured(t, mustCallTool(t, mcpClient, "list_rooms", map[string]any{}))
	items, _ := rooms["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one room, got %v", rooms)
	}

	presence := mapFromStructured(t, mustCallTool(t, mcpClient, "get_presence", map[string]any{"room_id": "lobby"}))
	members, _ := presence["items"].([]any)
	if len(members) != 1 {
		t.Fatalf("expected one member, got %v", presence)
	}
	if m, _ := members[0].(map[string]any); asString(m["id"]) != "alice" {
		t.Fatalf("unexpected member %v", members[0])
	}

	history := mapFromStructured(t, mustCallTool(t, mcpClient, "get_history", map[string]any{"room_id": "lobby", "limit": 1000}))
	if asFloat64(history["limit"]) != maxPageLimit {
		t.Fatalf("limit not clamped: %v", history["limit"])
	}
	msgs, _ := history["items"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("expected one history message, got %v", history)
	}

	props := mapFromStructured(t, mustCallTool(t, mcpClient, "get_room_properties", map[string]any{"room_id": "lobby"}))
	if props["adopted"] != true {
		t.Fatalf("expected adopted properties, got %v", props)
	}
	record, _ := props["properties"].(map[string]any)
	if asString(record["hostClientId"]) != "alice" || record["isGridModeEnabled"] != true {
		t.Fatalf("unexpected properties %v", record)
	}
}

func TestRoomPropertiesResetWhenStale(t *testing.T) {
	clk := clock.NewManual(time.Unix(10_000, 0))
	hub := memory.NewHub(memory.WithClock(clk))
	c := hub.NewClient("alice")
	c.Connect()
	ch := c.Channel("lobby")
	ch.Attach()
	ch.Publish(roomprops.UpdateEvent, json.RawMessage(`{"hostClientId":"alice"}`), nil)
	clk.Advance(2 * time.Hour)

	srv := New(hub, Options{Now: clk.Now})
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	mcpClient, closeClient := newMCPClient(t, httpSrv.URL+"/mcp")
	defer closeClient()

	props := mapFromStructured(t, mustCallTool(t, mcpClient, "get_room_properties", map[string]any{"room_id": "lobby"}))
	if props["adopted"] != false || asString(props["reason"]) != "stale_history" {
		t.Fatalf("expected stale reset, got %v", props)
	}
	record, _ := props["properties"].(map[string]any)
	if record["hostClientId"] != nil || asString(record["transcript"]) != "stopped" {
		t.Fatalf("expected defaults, got %v", record)
	}
}

func TestMCPServerToolErrors(t *testing.T) {
	srv := New(memory.NewHub(), Options{})
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	mcpClient, closeClient := newMCPClient(t, httpSrv.URL+"/mcp")
	defer closeClient()

	for _, name := range []string{"get_presence", "get_history", "get_room_properties"} {
		assertToolErrorCode(t, mustCallTool(t, mcpClient, name, map[string]any{}), "invalid_request")
	}
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{0: defaultPageLimit, -3: defaultPageLimit, 7: 7, 501: maxPageLimit}
	for in, want := range cases {
		if got := clampLimit(in, maxPageLimit); got != want {
			t.Fatalf("clampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func newMCPClient(t *testing.T, endpoint string) (*client.Client, func()) {
	t.Helper()
	ctx := context.Background()
	trans, err := transport.NewStreamableHTTP(endpoint)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	if err := trans.Start(ctx); err != nil {
		t.Fatalf("transport start: %v", err)
	}
	c := client.NewClient(trans)
	_, err = c.Initialize(ctx, mcp.InitializeRequest{Params: mcp.InitializeParams{ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION}})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return c, func() { _ = trans.Close() }
}

func mustListTools(t *testing.T, c *client.Client) []mcp.Tool {
	t.Helper()
	res, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	return res.Tools
}

func assertToolNames(t *testing.T, tools []mcp.Tool, expected ...string) {
	t.Helper()
	got := make([]string, 0, len(tools))
	for _, tool := range tools {
		got = append(got, tool.Name)
	}
	sort.Strings(got)
	sort.Strings(expected)
	if len(got) != len(expected) {
		t.Fatalf("tool count mismatch got=%v expected=%v", got, expected)
	}
	for i := range got {
		if got[i] != expected[i] {
			t.Fatalf("tool list mismatch got=%v expected=%v", got, expected)
		}
	}
}

func mustCallTool(t *testing.T, c *client.Client, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := c.CallTool(context.Background(), mcp.CallToolRequest{Params: mcp.CallToolParams{Name: name, Arguments: args}})
	if err != nil {
		t.Fatalf("call tool %s: %v", name, err)
	}
	return res
}

func assertToolErrorCode(t *testing.T, res *mcp.CallToolResult, want string) {
	t.Helper()
	if !res.IsError {
		t.Fatalf("expected tool error %q, got success: %v", want, res.StructuredContent)
	}
	payload := decodeStructured(t, res)
	errObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("error payload missing 'error': %v", payload)
	}
	if got := asString(errObj["code"]); got != want {
		t.Fatalf("error code=%q want=%q payload=%v", got, want, payload)
	}
}

func mapFromStructured(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	if res.IsError {
		t.Fatalf("unexpected tool error: %v", res.StructuredContent)
	}
	return decodeStructured(t, res)
}

func decodeStructured(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	b, err := json.Marshal(res.StructuredContent)
	if err != nil {
		t.Fatalf("marshal structured content: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal structured content: %v", err)
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat64(v any) float64 {
	f, _ := v.(float64)
	return f
}
