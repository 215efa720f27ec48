// Package transport describes the realtime backend the engine runs on:
// a connection, named channels with pub/sub and history, and a presence set
// per channel. Every operation is asynchronous; results arrive on callbacks.
package transport

import (
	"encoding/json"
	"time"
)

type ConnectionState string

const (
	ConnInitialized  ConnectionState = "initialized"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnDisconnected ConnectionState = "disconnected"
	ConnSuspended    ConnectionState = "suspended"
	ConnClosing      ConnectionState = "closing"
	ConnClosed       ConnectionState = "closed"
	ConnFailed       ConnectionState = "failed"
)

type ChannelState string

const (
	ChannelInitialized ChannelState = "initialized"
	ChannelAttaching   ChannelState = "attaching"
	ChannelAttached    ChannelState = "attached"
	ChannelDetaching   ChannelState = "detaching"
	ChannelDetached    ChannelState = "detached"
	ChannelSuspended   ChannelState = "suspended"
	ChannelFailed      ChannelState = "failed"
)

// ConnectionChange is a raw connection-level state event. RetryIn is set when
// the backend announces its own retry.
type ConnectionChange struct {
	Current  ConnectionState
	Previous ConnectionState
	RetryIn  time.Duration
	Reason   error
}

type ChannelChange struct {
	Channel  string
	Current  ChannelState
	Previous ChannelState
	Reason   error
}

type Message struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	ClientID  string          `json:"client_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

type PresenceAction string

const (
	PresenceEnter   PresenceAction = "enter"
	PresenceUpdate  PresenceAction = "update"
	PresenceLeave   PresenceAction = "leave"
	PresencePresent PresenceAction = "present"
)

type ParticipantType string

const (
	ParticipantHost     ParticipantType = "host"
	ParticipantGuest    ParticipantType = "guest"
	ParticipantAudience ParticipantType = "audience"
)

// PresenceRecord is the data blob a participant keeps in the presence set.
type PresenceRecord struct {
	ID               string          `json:"id"`
	Name             string          `json:"name,omitempty"`
	SlotIndex        *int            `json:"slotIndex"`
	Type             ParticipantType `json:"type,omitempty"`
	ActiveComponents []string        `json:"activeComponents"`
	Timestamp        int64           `json:"timestamp"`
}

func (r PresenceRecord) Clone() PresenceRecord {
	out := r
	if r.SlotIndex != nil {
		idx := *r.SlotIndex
		out.SlotIndex = &idx
	}
	if r.ActiveComponents != nil {
		out.ActiveComponents = append([]string(nil), r.ActiveComponents...)
	}
	return out
}

type PresenceMessage struct {
	Action    PresenceAction `json:"action"`
	ClientID  string         `json:"client_id"`
	Data      PresenceRecord `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Connection is the session-wide link to the backend.
type Connection interface {
	Connect()
	Close()
	State() ConnectionState
	OnStateChange(h func(ConnectionChange)) (off func())
}

// Presence is the membership set of one channel. done callbacks may be nil.
type Presence interface {
	Enter(data PresenceRecord, done func(error))
	Update(data PresenceRecord, done func(error))
	Leave(done func(error))
	Get(cb func([]PresenceMessage, error))
	Subscribe(action PresenceAction, h func(PresenceMessage)) (off func())
}

// Channel is a named room channel. History returns newest first.
type Channel interface {
	Name() string
	Attach()
	Detach()
	State() ChannelState
	OnStateChange(h func(ChannelChange)) (off func())
	Subscribe(name string, h func(Message)) (off func())
	Publish(name string, data json.RawMessage, done func(error))
	History(limit int, cb func([]Message, error))
	Presence() Presence
}

type Adapter interface {
	ClientID() string
	Connection() Connection
	Channel(name string) Channel
}
