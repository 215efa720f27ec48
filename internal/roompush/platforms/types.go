package platforms

import (
	"context"
	"encoding/json"
)

type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Event is the machine-readable form of the pushed room event.
type Event struct {
	ID        string          `json:"event_id"`
	Type      string          `json:"event"`
	RoomID    string          `json:"room_id"`
	ClientID  string          `json:"client_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	ServerTS  int64           `json:"server_ts"`
	SlotIndex *int            `json:"slot_index,omitempty"`
}

type Message struct {
	Title       string
	Content     string
	Description string
	Color       int
	Timestamp   string
	Footer      string
	Fields      []Field
	Event       Event
}

type Adapter interface {
	Name() string
	Send(ctx context.Context, endpoint, secret string, msg Message) error
}
