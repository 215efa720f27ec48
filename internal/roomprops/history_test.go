package roomprops

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"realtime-room/internal/transport"
)

func TestFromHistory(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	update := func(data string, age time.Duration) transport.Message {
		return transport.Message{ID: data, Name: UpdateEvent, Data: json.RawMessage(data), Timestamp: now.Add(-age)}
	}

	t.Run("empty", func(t *testing.T) {
		p, adopted, err := FromHistory(nil, now, time.Hour, nil)
		if adopted || err != nil || p.Transcript != TranscriptStopped {
			t.Fatalf("got %+v adopted=%v err=%v", p, adopted, err)
		}
	})

	t.Run("fresh", func(t *testing.T) {
		msgs := []transport.Message{
			{Name: "other", Data: json.RawMessage(`{}`), Timestamp: now},
			update(`{"isGridModeEnabled":true}`, time.Minute),
			update(`{"gather":true}`, 2*time.Minute),
		}
		p, adopted, err := FromHistory(msgs, now, time.Hour, ShallowMerge{})
		if !adopted || err != nil {
			t.Fatalf("adopted=%v err=%v", adopted, err)
		}
		if !p.IsGridModeEnabled || p.Gather {
			t.Fatalf("expected only the newest update, got %+v", p)
		}
	})

	t.Run("stale", func(t *testing.T) {
		_, adopted, err := FromHistory([]transport.Message{update(`{"gather":true}`, 61*time.Minute)}, now, time.Hour, nil)
		if adopted || !errors.Is(err, errStaleHistory) {
			t.Fatalf("adopted=%v err=%v", adopted, err)
		}
	})

	t.Run("unreadable", func(t *testing.T) {
		_, adopted, err := FromHistory([]transport.Message{update(`[1,2]`, time.Second)}, now, time.Hour, nil)
		if adopted || err == nil || errors.Is(err, errStaleHistory) {
			t.Fatalf("adopted=%v err=%v", adopted, err)
		}
	})
}
