// Package roompush forwards hub journal entries to chat and webhook
// targets through a small worker pool with retries and a per-target breaker.
package roompush

import (
	"context"
	"encoding/json"
	"time"
)

type PushManager interface {
	Start(ctx context.Context) error
}

type PushTarget struct {
	Platform       string   `json:"platform"`
	Endpoint       string   `json:"endpoint"`
	Secret         string   `json:"secret"`
	ScopeType      string   `json:"scope_type"`
	ScopeValue     string   `json:"scope_value"`
	EventAllowlist []string `json:"event_allowlist"`
	Enabled        bool     `json:"enabled"`
}

type Config struct {
	Enabled             bool
	ConfigPath          string
	ConfigReload        time.Duration
	Targets             []PushTarget
	Workers             int
	RetryMax            int
	RetryBase           time.Duration
	FailureThreshold    int
	CircuitOpenDuration time.Duration
	RequestTimeout      time.Duration
	DispatchBuffer      int
}

// RoomEvent is a journal entry flattened to what formatters need.
type RoomEvent struct {
	EventID     string
	EventType   string
	ServerTS    int64
	RoomID      string
	ClientID    string
	Name        string
	Participant string
	SlotIndex   *int
	Data        json.RawMessage
}

type MessageField struct {
	Name   string
	Value  string
	Inline bool
}

type FormattedMessage struct {
	Title       string
	Content     string
	Description string
	Color       int
	Timestamp   string
	Footer      string
	Fields      []MessageField
	// Event is the raw room event, sent as-is by generic webhooks.
	Event       RoomEvent
}

type pushJob struct {
	Target    PushTarget
	Event     RoomEvent
	Formatted FormattedMessage
	Attempt   int
}

func (j pushJob) key() string {
	return targetKey(j.Target)
}

func targetKey(t PushTarget) string {
	return t.Platform + "|" + t.Endpoint + "|" + t.ScopeType + "|" + t.ScopeValue
}
