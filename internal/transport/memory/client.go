package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"realtime-room/internal/transport"

	"github.com/rs/zerolog/log"
)

// Client is one participant's connection to a Hub. It implements both
// transport.Adapter and transport.Connection.
type Client struct {
	hub      *Hub
	connID   string
	clientID string

	mu        sync.Mutex
	state     transport.ConnectionState
	nextSub   int
	listeners map[int]func(transport.ConnectionChange)
	channels  map[string]*clientChannel
}

var (
	_ transport.Adapter    = (*Client)(nil)
	_ transport.Connection = (*Client)(nil)
	_ transport.Channel    = (*clientChannel)(nil)
	_ transport.Presence   = (*clientPresence)(nil)
)

func (c *Client) ClientID() string { return c.clientID }

func (c *Client) ConnectionID() string { return c.connID }

func (c *Client) Connection() transport.Connection { return c }

func (c *Client) State() transport.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) OnStateChange(h func(transport.ConnectionChange)) func() {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.listeners[id] = h
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Client) Channel(name string) transport.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.channels[name]
	if ch == nil {
		ch = &clientChannel{
			client:    c,
			name:      name,
			state:     transport.ChannelInitialized,
			stateSubs: map[int]func(transport.ChannelChange){},
			msgSubs:   map[int]messageSub{},
			presSubs:  map[int]presenceSub{},
		}
		c.channels[name] = ch
	}
	return ch
}

func (c *Client) Connect() {
	state := c.State()
	if state == transport.ConnConnected || state == transport.ConnConnecting {
		return
	}
	c.setState(transport.ConnConnecting, 0, nil)
	if !c.hub.allowed(c.clientID) {
		metricAuthRejectedTotal.Add(1)
		log.Warn().Str("module", "memory.client").Str("client_id", c.clientID).Msg("client not allowed")
		c.setState(transport.ConnFailed, 0, transport.ErrUnauthorized)
		return
	}
	c.hub.register(c)
	c.setState(transport.ConnConnected, 0, nil)
	for _, ch := range c.channelList() {
		if ch.wantsAttach() {
			ch.attachNow()
		}
	}
}

func (c *Client) Close() {
	state := c.State()
	if state == transport.ConnClosed || state == transport.ConnClosing {
		return
	}
	for _, ch := range c.channelList() {
		ch.detachNow(true)
	}
	c.setState(transport.ConnClosing, 0, nil)
	c.hub.unregister(c)
	c.setState(transport.ConnClosed, 0, nil)
}

// Interrupt simulates losing the link: channels stop receiving traffic and
// the connection moves to state. A non-zero retryIn is reported as the
// backend's own retry hint. Presence entries stay on the hub until the
// client reconnects or closes.
func (c *Client) Interrupt(state transport.ConnectionState, retryIn time.Duration) {
	for _, ch := range c.channelList() {
		ch.interrupt(state)
	}
	c.hub.unregister(c)
	c.setState(state, retryIn, nil)
}

// Fail moves the connection to failed with reason.
func (c *Client) Fail(reason error) {
	for _, ch := range c.channelList() {
		ch.interrupt(transport.ConnFailed)
	}
	c.hub.unregister(c)
	c.setState(transport.ConnFailed, 0, reason)
}

func (c *Client) channelList() []*clientChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*clientChannel, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, ch)
	}
	slices.SortFunc(out, func(a, b *clientChannel) int { return cmp.Compare(a.name, b.name) })
	return out
}

func (c *Client) connected() bool {
	return c.State() == transport.ConnConnected
}

func (c *Client) setState(next transport.ConnectionState, retryIn time.Duration, reason error) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	listeners := sortedListeners(c.listeners)
	c.mu.Unlock()

	change := transport.ConnectionChange{Current: next, Previous: prev, RetryIn: retryIn, Reason: reason}
	c.hub.dispatch(func() {
		for _, l := range listeners {
			l(change)
		}
	})
}

type messageSub struct {
	name string
	h    func(transport.Message)
}

type presenceSub struct {
	action transport.PresenceAction
	h      func(transport.PresenceMessage)
}

type clientChannel struct {
	client *Client
	name   string

	mu           sync.Mutex
	state        transport.ChannelState
	wantAttached bool
	entered      *transport.PresenceRecord
	nextSub      int
	stateSubs    map[int]func(transport.ChannelChange)
	msgSubs      map[int]messageSub
	presSubs     map[int]presenceSub
}

func (ch *clientChannel) Name() string { return ch.name }

func (ch *clientChannel) State() transport.ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *clientChannel) OnStateChange(h func(transport.ChannelChange)) func() {
	ch.mu.Lock()
	ch.nextSub++
	id := ch.nextSub
	ch.stateSubs[id] = h
	ch.mu.Unlock()
	return func() {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		delete(ch.stateSubs, id)
	}
}

func (ch *clientChannel) Attach() {
	ch.mu.Lock()
	ch.wantAttached = true
	ch.mu.Unlock()
	if ch.client.connected() {
		ch.attachNow()
	}
}

func (ch *clientChannel) Detach() {
	ch.mu.Lock()
	ch.wantAttached = false
	ch.mu.Unlock()
	ch.detachNow(true)
}

func (ch *clientChannel) wantsAttach() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.wantAttached
}

func (ch *clientChannel) attachNow() {
	if ch.client.hub.isAttached(ch) {
		return
	}
	ch.setState(transport.ChannelAttaching, nil)
	ch.client.hub.attach(ch)
	ch.setState(transport.ChannelAttached, nil)

	ch.mu.Lock()
	entered := ch.entered
	ch.mu.Unlock()
	if entered != nil {
		ch.client.hub.presence(ch, transport.PresenceEnter, entered.Clone())
	}
}

func (ch *clientChannel) detachNow(leave bool) {
	ch.mu.Lock()
	entered := ch.entered
	if leave {
		ch.entered = nil
	}
	state := ch.state
	ch.mu.Unlock()

	if leave && entered != nil {
		ch.client.hub.presence(ch, transport.PresenceLeave, transport.PresenceRecord{})
	}
	if state == transport.ChannelDetached || state == transport.ChannelInitialized {
		return
	}
	ch.setState(transport.ChannelDetaching, nil)
	ch.client.hub.detach(ch)
	ch.setState(transport.ChannelDetached, nil)
}

func (ch *clientChannel) interrupt(conn transport.ConnectionState) {
	if ch.State() != transport.ChannelAttached {
		return
	}
	ch.client.hub.detach(ch)
	switch conn {
	case transport.ConnFailed:
		ch.setState(transport.ChannelFailed, nil)
	case transport.ConnSuspended:
		ch.setState(transport.ChannelSuspended, nil)
	default:
		ch.setState(transport.ChannelAttaching, nil)
	}
}

func (ch *clientChannel) setState(next transport.ChannelState, reason error) {
	ch.mu.Lock()
	prev := ch.state
	ch.state = next
	ids := make([]int, 0, len(ch.stateSubs))
	for id := range ch.stateSubs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	subs := make([]func(transport.ChannelChange), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, ch.stateSubs[id])
	}
	ch.mu.Unlock()

	change := transport.ChannelChange{Channel: ch.name, Current: next, Previous: prev, Reason: reason}
	ch.client.hub.dispatch(func() {
		for _, s := range subs {
			s(change)
		}
	})
}

// Subscribe registers h for messages named name; an empty name receives all.
func (ch *clientChannel) Subscribe(name string, h func(transport.Message)) func() {
	ch.mu.Lock()
	ch.nextSub++
	id := ch.nextSub
	ch.msgSubs[id] = messageSub{name: name, h: h}
	ch.mu.Unlock()
	return func() {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		delete(ch.msgSubs, id)
	}
}

func (ch *clientChannel) Publish(name string, data json.RawMessage, done func(error)) {
	if !ch.client.hub.isAttached(ch) {
		ch.complete(done, transport.ErrChannelDetached)
		return
	}
	ch.client.hub.publish(ch, name, data)
	ch.complete(done, nil)
}

func (ch *clientChannel) History(limit int, cb func([]transport.Message, error)) {
	hub := ch.client.hub
	hub.dispatch(func() {
		msgs, err := hub.history.Latest(context.Background(), ch.name, limit)
		cb(msgs, err)
	})
}

func (ch *clientChannel) Presence() transport.Presence {
	return &clientPresence{ch: ch}
}

func (ch *clientChannel) complete(done func(error), err error) {
	if done == nil {
		return
	}
	ch.client.hub.dispatch(func() { done(err) })
}

func (ch *clientChannel) deliverMessage(msg transport.Message) {
	ch.mu.Lock()
	ids := make([]int, 0, len(ch.msgSubs))
	for id, sub := range ch.msgSubs {
		if sub.name == "" || sub.name == msg.Name {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	handlers := make([]func(transport.Message), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, ch.msgSubs[id].h)
	}
	ch.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (ch *clientChannel) deliverPresence(msg transport.PresenceMessage) {
	ch.mu.Lock()
	ids := make([]int, 0, len(ch.presSubs))
	for id, sub := range ch.presSubs {
		if sub.action == "" || sub.action == msg.Action {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	handlers := make([]func(transport.PresenceMessage), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, ch.presSubs[id].h)
	}
	ch.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

type clientPresence struct {
	ch *clientChannel
}

func (p *clientPresence) Enter(data transport.PresenceRecord, done func(error)) {
	p.write(transport.PresenceEnter, data, done)
}

func (p *clientPresence) Update(data transport.PresenceRecord, done func(error)) {
	p.write(transport.PresenceUpdate, data, done)
}

func (p *clientPresence) write(action transport.PresenceAction, data transport.PresenceRecord, done func(error)) {
	ch := p.ch
	if !ch.client.hub.isAttached(ch) {
		ch.complete(done, transport.ErrChannelDetached)
		return
	}
	rec := data.Clone()
	ch.mu.Lock()
	ch.entered = &rec
	ch.mu.Unlock()
	ch.client.hub.presence(ch, action, rec)
	ch.complete(done, nil)
}

func (p *clientPresence) Leave(done func(error)) {
	ch := p.ch
	ch.mu.Lock()
	ch.entered = nil
	ch.mu.Unlock()
	ch.client.hub.presence(ch, transport.PresenceLeave, transport.PresenceRecord{})
	ch.complete(done, nil)
}

func (p *clientPresence) Get(cb func([]transport.PresenceMessage, error)) {
	hub := p.ch.client.hub
	name := p.ch.name
	hub.dispatch(func() { cb(hub.Members(name), nil) })
}

// Subscribe registers h for action; an empty action receives all.
func (p *clientPresence) Subscribe(action transport.PresenceAction, h func(transport.PresenceMessage)) func() {
	ch := p.ch
	ch.mu.Lock()
	ch.nextSub++
	id := ch.nextSub
	ch.presSubs[id] = presenceSub{action: action, h: h}
	ch.mu.Unlock()
	return func() {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		delete(ch.presSubs, id)
	}
}

func sortedListeners(m map[int]func(transport.ConnectionChange)) []func(transport.ConnectionChange) {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(transport.ConnectionChange), 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}
