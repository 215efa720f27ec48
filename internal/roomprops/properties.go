package roomprops

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"realtime-room/internal/events"
	"realtime-room/internal/transport"
)

type TranscriptState string

const (
	TranscriptStopped TranscriptState = "stopped"
	TranscriptStarted TranscriptState = "started"
)

// Properties is the shared record of a room. Its JSON form is the body of
// every "update" message on the room channel.
type Properties struct {
	HostClientID        *string                   `json:"hostClientId"`
	IsGridModeEnabled   bool                      `json:"isGridModeEnabled"`
	FollowParticipantID *string                   `json:"followParticipantId"`
	Gather              bool                      `json:"gather"`
	Drawing             json.RawMessage           `json:"drawing"`
	Transcript          TranscriptState           `json:"transcript"`
	KickParticipant     *transport.PresenceRecord `json:"kickParticipant"`
}

// Defaults is the record a participant writes when it finds no fresh history.
func Defaults() Properties {
	return Properties{Transcript: TranscriptStopped}
}

// Host returns the host client id, empty when there is none.
func (p Properties) Host() string {
	if p.HostClientID == nil {
		return ""
	}
	return *p.HostClientID
}

// Following returns the followed participant id, empty when nobody is followed.
func (p Properties) Following() string {
	if p.FollowParticipantID == nil {
		return ""
	}
	return *p.FollowParticipantID
}

func (p Properties) Clone() Properties {
	out := p
	out.HostClientID = cloneString(p.HostClientID)
	out.FollowParticipantID = cloneString(p.FollowParticipantID)
	if p.Drawing != nil {
		out.Drawing = append(json.RawMessage(nil), p.Drawing...)
	}
	if p.KickParticipant != nil {
		k := p.KickParticipant.Clone()
		out.KickParticipant = &k
	}
	return out
}

func (p *Properties) normalize() {
	if isNull(p.Drawing) {
		p.Drawing = nil
	}
	if p.Transcript == "" {
		p.Transcript = TranscriptStopped
	}
}

// Merger folds a received update payload into the current record.
type Merger interface {
	Merge(current Properties, payload json.RawMessage) (Properties, error)
}

// ShallowMerge overwrites every top-level key the payload carries and keeps
// the rest. Nested values are replaced wholesale.
type ShallowMerge struct{}

func (ShallowMerge) Merge(current Properties, payload json.RawMessage) (Properties, error) {
	var incoming map[string]json.RawMessage
	if err := json.Unmarshal(payload, &incoming); err != nil {
		return current, fmt.Errorf("decode update: %w", err)
	}
	if incoming == nil {
		return current, fmt.Errorf("decode update: payload is not an object")
	}

	base, err := json.Marshal(current)
	if err != nil {
		return current, fmt.Errorf("encode current: %w", err)
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return current, fmt.Errorf("decode current: %w", err)
	}
	for k, v := range incoming {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return current, fmt.Errorf("encode merged: %w", err)
	}

	var out Properties
	if err := json.Unmarshal(raw, &out); err != nil {
		return current, fmt.Errorf("decode merged: %w", err)
	}
	out.normalize()
	return out, nil
}

type fieldChange struct {
	topic   events.Topic
	payload any
}

// changedFields lists the per-field notifications between two records, in
// wire order.
func changedFields(prev, next Properties) []fieldChange {
	var out []fieldChange
	if prev.Host() != next.Host() {
		out = append(out, fieldChange{topic: events.TopicHost, payload: next.Host()})
	}
	if prev.IsGridModeEnabled != next.IsGridModeEnabled {
		out = append(out, fieldChange{topic: events.TopicGridMode, payload: next.IsGridModeEnabled})
	}
	if prev.Following() != next.Following() {
		out = append(out, fieldChange{topic: events.TopicFollow, payload: next.Following()})
	}
	if prev.Gather != next.Gather {
		out = append(out, fieldChange{topic: events.TopicGather, payload: next.Gather})
	}
	if !bytes.Equal(prev.Drawing, next.Drawing) {
		out = append(out, fieldChange{topic: events.TopicDrawing, payload: next.Drawing})
	}
	if prev.Transcript != next.Transcript {
		out = append(out, fieldChange{topic: events.TopicTranscript, payload: next.Transcript})
	}
	if !reflect.DeepEqual(prev.KickParticipant, next.KickParticipant) {
		out = append(out, fieldChange{topic: events.TopicKickRequest, payload: next.KickParticipant})
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func stringOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}
