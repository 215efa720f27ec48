// Package memory is an in-process realtime backend. It backs tests, the
// simulation binary and the websocket bridge.
package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"realtime-room/internal/clock"
	"realtime-room/internal/events"
	"realtime-room/internal/ids"
	"realtime-room/internal/transport"

	"github.com/rs/zerolog/log"
)

type Option func(*Hub)

func WithClock(c clock.Clock) Option {
	return func(h *Hub) { h.clock = c }
}

func WithHistory(store HistoryStore) Option {
	return func(h *Hub) { h.history = store }
}

// WithAllowList restricts which client ids may connect. Others fail with
// transport.ErrUnauthorized.
func WithAllowList(clientIDs ...string) Option {
	return func(h *Hub) {
		h.allow = map[string]struct{}{}
		for _, id := range clientIDs {
			h.allow[id] = struct{}{}
		}
	}
}

// WithJournal mirrors channel traffic into j, scoped by channel name.
func WithJournal(j *events.Journal) Option {
	return func(h *Hub) { h.journal = j }
}

type member struct {
	clientID string
	record   transport.PresenceRecord
	at       time.Time
}

type hubChannel struct {
	name     string
	members  map[string]member
	attached map[*clientChannel]struct{}
}

// Hub owns channels, presence sets and history. All callbacks run through a
// single FIFO queue so handlers never re-enter each other.
type Hub struct {
	clock   clock.Clock
	history HistoryStore
	journal *events.Journal

	mu       sync.Mutex
	allow    map[string]struct{}
	channels map[string]*hubChannel
	clients  map[string]*Client

	qmu      sync.Mutex
	queue    []func()
	draining bool
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clock:    clock.Real(),
		channels: map[string]*hubChannel{},
		clients:  map[string]*Client{},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.history == nil {
		h.history = NewRingHistory(100)
	}
	return h
}

func (h *Hub) Clock() clock.Clock { return h.clock }

// NewClient creates a disconnected client for clientID.
func (h *Hub) NewClient(clientID string) *Client {
	return &Client{
		hub:       h,
		connID:    ids.NewConnectionID(),
		clientID:  clientID,
		state:     transport.ConnInitialized,
		listeners: map[int]func(transport.ConnectionChange){},
		channels:  map[string]*clientChannel{},
	}
}

type RoomSummary struct {
	Name        string `json:"name"`
	Members     int    `json:"members"`
	Subscribers int    `json:"subscribers"`
}

func (h *Hub) Rooms() []RoomSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]RoomSummary, 0, len(h.channels))
	for _, ch := range h.channels {
		out = append(out, RoomSummary{Name: ch.name, Members: len(ch.members), Subscribers: len(ch.attached)})
	}
	slices.SortFunc(out, func(a, b RoomSummary) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Members returns the presence set of a channel ordered by client id.
func (h *Hub) Members(channel string) []transport.PresenceMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := h.channels[channel]
	if ch == nil {
		return nil
	}
	return snapshotMembers(ch)
}

func (h *Hub) History(ctx context.Context, channel string, limit int) ([]transport.Message, error) {
	return h.history.Latest(ctx, channel, limit)
}

func (h *Hub) ConnectedClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) allowed(clientID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.allow == nil {
		return true
	}
	_, ok := h.allow[clientID]
	return ok
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.connID] = c
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.connID)
}

func (h *Hub) channelLocked(name string) *hubChannel {
	ch := h.channels[name]
	if ch == nil {
		ch = &hubChannel{
			name:     name,
			members:  map[string]member{},
			attached: map[*clientChannel]struct{}{},
		}
		h.channels[name] = ch
	}
	return ch
}

func (h *Hub) attach(cc *clientChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channelLocked(cc.name).attached[cc] = struct{}{}
}

func (h *Hub) detach(cc *clientChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch := h.channels[cc.name]; ch != nil {
		delete(ch.attached, cc)
		h.gcLocked(ch)
	}
}

func (h *Hub) gcLocked(ch *hubChannel) {
	if len(ch.attached) == 0 && len(ch.members) == 0 {
		delete(h.channels, ch.name)
	}
}

func (h *Hub) isAttached(cc *clientChannel) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := h.channels[cc.name]
	if ch == nil {
		return false
	}
	_, ok := ch.attached[cc]
	return ok
}

func (h *Hub) publish(cc *clientChannel, name string, data json.RawMessage) transport.Message {
	now := h.clock.Now()
	msg := transport.Message{
		ID:        ids.NewIDAt(now),
		Name:      name,
		ClientID:  cc.client.clientID,
		Data:      append(json.RawMessage(nil), data...),
		Timestamp: now,
	}
	if err := h.history.Append(context.Background(), cc.name, msg); err != nil {
		metricHistoryErrorsTotal.Add(1)
		log.Error().Err(err).Str("module", "memory.hub").Str("channel", cc.name).Msg("append history failed")
	}
	metricMessagesPublishedTotal.Add(1)
	if h.journal != nil {
		h.journal.Append("message", cc.name, msg)
	}

	h.mu.Lock()
	targets := attachedList(h.channels[cc.name])
	h.mu.Unlock()
	deliveries := make([]func(), 0, len(targets))
	for _, t := range targets {
		target := t
		deliveries = append(deliveries, func() { target.deliverMessage(msg) })
	}
	h.dispatch(deliveries...)
	return msg
}

func (h *Hub) presence(cc *clientChannel, action transport.PresenceAction, rec transport.PresenceRecord) bool {
	now := h.clock.Now()
	clientID := cc.client.clientID

	h.mu.Lock()
	ch := h.channelLocked(cc.name)
	_, existed := ch.members[clientID]
	switch action {
	case transport.PresenceLeave:
		if !existed {
			h.mu.Unlock()
			return false
		}
		rec = ch.members[clientID].record
		delete(ch.members, clientID)
	case transport.PresenceEnter, transport.PresenceUpdate:
		if existed {
			action = transport.PresenceUpdate
		} else {
			action = transport.PresenceEnter
		}
		ch.members[clientID] = member{clientID: clientID, record: rec.Clone(), at: now}
	}
	targets := attachedList(ch)
	h.gcLocked(ch)
	h.mu.Unlock()

	msg := transport.PresenceMessage{Action: action, ClientID: clientID, Data: rec.Clone(), Timestamp: now}
	metricPresenceEventsTotal.Add(1)
	if h.journal != nil {
		h.journal.Append("presence."+string(action), cc.name, msg)
	}
	deliveries := make([]func(), 0, len(targets))
	for _, t := range targets {
		target := t
		deliveries = append(deliveries, func() { target.deliverPresence(msg) })
	}
	h.dispatch(deliveries...)
	return true
}

// dispatch queues fns and drains the queue unless another caller is already
// draining it, in which case that caller runs them. Queuing a whole fan-out
// at once keeps per-channel delivery FIFO for every subscriber.
func (h *Hub) dispatch(fns ...func()) {
	h.qmu.Lock()
	h.queue = append(h.queue, fns...)
	if h.draining {
		h.qmu.Unlock()
		return
	}
	h.draining = true
	h.qmu.Unlock()

	for {
		h.qmu.Lock()
		if len(h.queue) == 0 {
			h.draining = false
			h.qmu.Unlock()
			return
		}
		next := h.queue[0]
		h.queue[0] = nil
		h.queue = h.queue[1:]
		h.qmu.Unlock()
		h.run(next)
	}
}

func (h *Hub) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "memory.hub").Interface("panic", r).Msg("callback panicked")
		}
	}()
	fn()
}

func attachedList(ch *hubChannel) []*clientChannel {
	if ch == nil {
		return nil
	}
	out := make([]*clientChannel, 0, len(ch.attached))
	for cc := range ch.attached {
		out = append(out, cc)
	}
	slices.SortFunc(out, func(a, b *clientChannel) int {
		return cmp.Or(cmp.Compare(a.client.clientID, b.client.clientID), cmp.Compare(a.client.connID, b.client.connID))
	})
	return out
}

func snapshotMembers(ch *hubChannel) []transport.PresenceMessage {
	out := make([]transport.PresenceMessage, 0, len(ch.members))
	for _, m := range ch.members {
		out = append(out, transport.PresenceMessage{
			Action:    transport.PresencePresent,
			ClientID:  m.clientID,
			Data:      m.record.Clone(),
			Timestamp: m.at,
		})
	}
	slices.SortFunc(out, func(a, b transport.PresenceMessage) int { return cmp.Compare(a.ClientID, b.ClientID) })
	return out
}
