// Package ws carries the transport over a websocket: Server exposes a memory
// hub to remote participants and Client implements transport.Adapter on the
// participant side.
package ws

import (
	"encoding/json"
	"errors"

	"realtime-room/internal/transport"
)

const ProtocolVersion = "1"

// Frame types.
const (
	frameHello         = "hello"
	frameWelcome       = "welcome"
	frameError         = "error"
	frameAck           = "ack"
	frameAttach        = "attach"
	frameDetach        = "detach"
	framePublish       = "publish"
	frameHistory       = "history"
	framePresenceEnter = "presence_enter"
	framePresenceUpd   = "presence_update"
	framePresenceLeave = "presence_leave"
	framePresenceGet   = "presence_get"
	frameChannelState  = "channel_state"
	frameMessage       = "message"
	framePresence      = "presence"
)

// Frame is the single envelope exchanged in both directions. Requests carry
// a ReqID that the matching ack echoes.
type Frame struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ReqID           int64  `json:"req_id,omitempty"`
	Error           string `json:"error,omitempty"`

	ClientID     string `json:"client_id,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`

	Channel string                    `json:"channel,omitempty"`
	Name    string                    `json:"name,omitempty"`
	Data    json.RawMessage           `json:"data,omitempty"`
	Limit   int                       `json:"limit,omitempty"`
	Record  *transport.PresenceRecord `json:"record,omitempty"`
	State   transport.ChannelState    `json:"state,omitempty"`

	Message  *transport.Message          `json:"message,omitempty"`
	Messages []transport.Message         `json:"messages,omitempty"`
	Presence *transport.PresenceMessage  `json:"presence,omitempty"`
	Members  []transport.PresenceMessage `json:"members,omitempty"`
}

var errUnknownFrame = errors.New("unknown_frame")

var wireErrors = map[string]error{
	transport.ErrUnauthorized.Error():     transport.ErrUnauthorized,
	transport.ErrNotConnected.Error():     transport.ErrNotConnected,
	transport.ErrChannelDetached.Error():  transport.ErrChannelDetached,
	transport.ErrConnectionClosed.Error(): transport.ErrConnectionClosed,
	errUnknownFrame.Error():               errUnknownFrame,
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// errorFromCode maps a wire error back to the transport sentinel when there
// is one.
func errorFromCode(code string) error {
	if code == "" {
		return nil
	}
	if err, ok := wireErrors[code]; ok {
		return err
	}
	return errors.New(code)
}
