package memory

import (
	"context"
	"sync"

	"realtime-room/internal/transport"
)

// HistoryStore persists channel messages. Latest returns newest first.
type HistoryStore interface {
	Append(ctx context.Context, channel string, msg transport.Message) error
	Latest(ctx context.Context, channel string, limit int) ([]transport.Message, error)
}

// RingHistory keeps the last max messages per channel in memory.
type RingHistory struct {
	mu        sync.Mutex
	max       int
	byChannel map[string][]transport.Message
}

func NewRingHistory(max int) *RingHistory {
	if max <= 0 {
		max = 100
	}
	return &RingHistory{max: max, byChannel: map[string][]transport.Message{}}
}

func (r *RingHistory) Append(_ context.Context, channel string, msg transport.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := append(r.byChannel[channel], msg)
	if len(msgs) > r.max {
		msgs = msgs[len(msgs)-r.max:]
	}
	r.byChannel[channel] = msgs
	return nil
}

func (r *RingHistory) Latest(_ context.Context, channel string, limit int) ([]transport.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.byChannel[channel]
	if limit <= 0 || limit > len(msgs) {
		limit = len(msgs)
	}
	out := make([]transport.Message, 0, limit)
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}
