package roompush

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	colorMessage = 0x5865F2
	colorEnter   = 0x57F287
	colorUpdate  = 0xFEE75C
	colorLeave   = 0xED4245

	dataPreviewLimit = 160
	shortIDLimit     = 12
	defaultFooter    = "realtime-room push"
)

func FormatMessage(ev RoomEvent) (FormattedMessage, bool) {
	roomShort := shortID(fallback(ev.RoomID, "unknown"), shortIDLimit)
	who := fallback(ev.Participant, fallback(ev.ClientID, "unknown"))
	fields := make([]MessageField, 0, 6)
	base := FormattedMessage{
		Timestamp: eventTimestamp(ev.ServerTS),
		Footer:    defaultFooter,
		Event:     ev,
	}

	switch ev.EventType {
	case "message":
		base.Title = fmt.Sprintf("%s · R:%s", fallback(ev.Name, "message"), roomShort)
		base.Content = fmt.Sprintf("%s sent %s", who, fallback(ev.Name, "a message"))
		base.Description = dataPreview(ev.Data)
		base.Color = colorMessage
		fields = append(fields,
			MessageField{Name: "From", Value: who, Inline: true},
			MessageField{Name: "Event", Value: fallback(ev.Name, "-"), Inline: true},
		)
		if keys := changedKeys(ev.Data); keys != "" {
			fields = append(fields, MessageField{Name: "Keys", Value: keys, Inline: false})
		}
	case "presence.enter":
		base.Title = fmt.Sprintf("Joined · R:%s", roomShort)
		base.Content = fmt.Sprintf("%s joined", who)
		base.Description = fmt.Sprintf("%s entered the room.", who)
		base.Color = colorEnter
		fields = append(fields, MessageField{Name: "Slot", Value: slotText(ev.SlotIndex), Inline: true})
	case "presence.update":
		base.Title = fmt.Sprintf("Presence · R:%s", roomShort)
		base.Content = fmt.Sprintf("%s updated presence", who)
		base.Description = fmt.Sprintf("%s updated presence.", who)
		base.Color = colorUpdate
		fields = append(fields, MessageField{Name: "Slot", Value: slotText(ev.SlotIndex), Inline: true})
	case "presence.leave":
		base.Title = fmt.Sprintf("Left · R:%s", roomShort)
		base.Content = fmt.Sprintf("%s left", who)
		base.Description = fmt.Sprintf("%s left the room.", who)
		base.Color = colorLeave
	default:
		return FormattedMessage{}, false
	}

	base.Fields = fields
	return base, true
}

func slotText(slot *int) string {
	if slot == nil {
		return "-"
	}
	return strconv.Itoa(*slot)
}

// changedKeys lists the top-level keys of an object payload, sorted.
func changedKeys(data json.RawMessage) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || len(obj) == 0 {
		return ""
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return strings.Join(keys, ", ")
}

func dataPreview(data json.RawMessage) string {
	return trimText(strings.TrimSpace(string(data)), dataPreviewLimit)
}

func trimText(v string, max int) string {
	if max <= 0 || len(v) <= max {
		return v
	}
	if max <= 3 {
		return v[:max]
	}
	return v[:max-3] + "..."
}

func shortID(v string, max int) string {
	if max <= 0 || len(v) <= max {
		return v
	}
	return v[:max]
}

func eventTimestamp(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func fallback(v, d string) string {
	if strings.TrimSpace(v) == "" {
		return d
	}
	return v
}
