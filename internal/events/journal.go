package events

import (
	"strconv"
	"sync"
	"time"
)

type Entry struct {
	EventID  string `json:"event_id"`
	Event    string `json:"event"`
	Scope    string `json:"scope"`
	ServerTS int64  `json:"server_ts"`
	Data     any    `json:"data"`
}

// Journal keeps the most recent entries and fans new ones out to watchers.
// Slow watchers miss entries instead of blocking publishers.
type Journal struct {
	mu       sync.Mutex
	nextID   int64
	max      int
	entries  []Entry
	watchers map[chan Entry]struct{}
	closed   bool
}

func NewJournal(max int) *Journal {
	if max <= 0 {
		max = 500
	}
	return &Journal{
		max:      max,
		watchers: map[chan Entry]struct{}{},
	}
}

func (j *Journal) Append(event, scope string, data any) Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return Entry{}
	}
	j.nextID++
	e := Entry{
		EventID:  strconv.FormatInt(j.nextID, 10),
		Event:    event,
		Scope:    scope,
		ServerTS: time.Now().UnixMilli(),
		Data:     data,
	}
	j.entries = append(j.entries, e)
	if len(j.entries) > j.max {
		j.entries = j.entries[len(j.entries)-j.max:]
	}
	for ch := range j.watchers {
		select {
		case ch <- e:
		default:
			metricJournalDroppedTotal.Add(1)
		}
	}
	return e
}

// ReplayAfter returns entries newer than lastEventID, or everything retained
// when lastEventID is empty or unparsable.
func (j *Journal) ReplayAfter(lastEventID string) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.entries) == 0 {
		return nil
	}
	last, err := strconv.ParseInt(lastEventID, 10, 64)
	if lastEventID == "" || err != nil {
		out := make([]Entry, len(j.entries))
		copy(out, j.entries)
		return out
	}
	out := make([]Entry, 0, len(j.entries))
	for _, e := range j.entries {
		id, _ := strconv.ParseInt(e.EventID, 10, 64)
		if id > last {
			out = append(out, e)
		}
	}
	return out
}

func (j *Journal) Subscribe() chan Entry {
	ch := make(chan Entry, 32)
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		close(ch)
		return ch
	}
	j.watchers[ch] = struct{}{}
	return ch
}

func (j *Journal) Unsubscribe(ch chan Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.watchers[ch]; ok {
		delete(j.watchers, ch)
		close(ch)
	}
}

func (j *Journal) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	j.closed = true
	for ch := range j.watchers {
		close(ch)
		delete(j.watchers, ch)
	}
}
