package ws

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"realtime-room/internal/transport"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type ClientOption func(*Client)

func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

// WithRequestTimeout bounds how long an unanswered request waits for its
// ack before failing with transport.ErrNotConnected.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.reqTimeout = d }
}

// WithRetryHint sets the RetryIn announced when a socket drops or a dial
// fails. The caller's reconnect scheduler decides when Connect runs again.
func WithRetryHint(d time.Duration) ClientOption {
	return func(c *Client) { c.retryHint = d }
}

// DefaultRetryHint is announced with every unrequested disconnect.
const DefaultRetryHint = 5 * time.Second

// Client is a participant's websocket link to a Server. It implements
// transport.Adapter and transport.Connection. A dropped socket reports
// disconnected with a retry hint and waits for Connect; only Close reports
// closed.
type Client struct {
	url        string
	clientID   string
	dialer     *websocket.Dialer
	reqTimeout time.Duration
	retryHint  time.Duration

	mu        sync.Mutex
	state     transport.ConnectionState
	conn      *websocket.Conn
	connID    string
	epoch     uint64
	nextSub   int
	nextReq   int64
	listeners map[int]func(transport.ConnectionChange)
	channels  map[string]*channel
	pending   map[int64]func(Frame)

	wmu sync.Mutex

	qmu      sync.Mutex
	queue    []func()
	draining bool
}

var (
	_ transport.Adapter    = (*Client)(nil)
	_ transport.Connection = (*Client)(nil)
	_ transport.Channel    = (*channel)(nil)
	_ transport.Presence   = (*presence)(nil)
)

func NewClient(url, clientID string, opts ...ClientOption) *Client {
	c := &Client{
		url:        url,
		clientID:   clientID,
		dialer:     websocket.DefaultDialer,
		reqTimeout: 10 * time.Second,
		retryHint:  DefaultRetryHint,
		state:      transport.ConnInitialized,
		listeners:  map[int]func(transport.ConnectionChange){},
		channels:   map[string]*channel{},
		pending:    map[int64]func(Frame){},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ClientID() string { return c.clientID }

// ConnectionID is assigned by the server on each successful connect.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

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
		ch = &channel{
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

// Connect dials in the background. The outcome arrives as a state change.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.state == transport.ConnConnected || c.state == transport.ConnConnecting {
		c.mu.Unlock()
		return
	}
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	c.setState(transport.ConnConnecting, nil)
	go c.dial(epoch)
}

func (c *Client) dial(epoch uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), helloTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		metricDialErrorsTotal.Add(1)
		log.Debug().Err(err).Str("module", "ws.client").Str("url", c.url).Msg("dial failed")
		c.lost(epoch, err)
		return
	}
	welcome, err := handshake(conn, c.clientID)
	if err != nil {
		_ = conn.Close()
		if errors.Is(err, transport.ErrUnauthorized) {
			c.fail(epoch, err)
			return
		}
		c.lost(epoch, err)
		return
	}

	c.mu.Lock()
	if c.epoch != epoch || c.state != transport.ConnConnecting {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.connID = welcome.ConnectionID
	c.mu.Unlock()

	c.setState(transport.ConnConnected, nil)
	for _, ch := range c.channelList() {
		if ch.wantsAttach() {
			ch.sendAttach()
		}
	}
	go c.readLoop(epoch, conn)
}

func handshake(conn *websocket.Conn, clientID string) (Frame, error) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(Frame{Type: frameHello, ProtocolVersion: ProtocolVersion, ClientID: clientID}); err != nil {
		return Frame{}, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		return Frame{}, err
	}
	switch f.Type {
	case frameWelcome:
		return f, nil
	case frameError:
		return Frame{}, errorFromCode(f.Error)
	default:
		return Frame{}, errUnknownFrame
	}
}

func (c *Client) readLoop(epoch uint64, conn *websocket.Conn) {
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			c.lost(epoch, err)
			return
		}
		c.handle(f)
	}
}

func (c *Client) handle(f Frame) {
	switch f.Type {
	case frameAck:
		c.mu.Lock()
		cb := c.pending[f.ReqID]
		delete(c.pending, f.ReqID)
		c.mu.Unlock()
		if cb != nil {
			c.dispatch(func() { cb(f) })
		}
	case frameChannelState:
		if ch := c.existingChannel(f.Channel); ch != nil {
			ch.setState(f.State, errorFromCode(f.Error))
		}
	case frameMessage:
		if ch := c.existingChannel(f.Channel); ch != nil && f.Message != nil {
			msg := *f.Message
			c.dispatch(func() { ch.deliverMessage(msg) })
		}
	case framePresence:
		if ch := c.existingChannel(f.Channel); ch != nil && f.Presence != nil {
			msg := *f.Presence
			c.dispatch(func() { ch.deliverPresence(msg) })
		}
	}
}

// lost handles a dropped or failed link for the given connect attempt.
func (c *Client) lost(epoch uint64, reason error) {
	if !c.drop(epoch) {
		return
	}
	metricDropsTotal.Add(1)
	log.Info().Err(reason).Str("module", "ws.client").Str("client_id", c.clientID).Dur("retry_in", c.retryHint).Msg("link lost")
	c.setStateRetry(transport.ConnDisconnected, c.retryHint, reason)
}

func (c *Client) fail(epoch uint64, reason error) {
	if !c.drop(epoch) {
		return
	}
	c.setState(transport.ConnFailed, reason)
}

// drop detaches the socket of epoch and fails its pending requests. It
// reports false when epoch is no longer current.
func (c *Client) drop(epoch uint64) bool {
	c.mu.Lock()
	if c.epoch != epoch || c.state == transport.ConnClosed || c.state == transport.ConnClosing {
		c.mu.Unlock()
		return false
	}
	conn := c.conn
	c.conn = nil
	pending := c.pending
	c.pending = map[int64]func(Frame){}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.failPending(pending, transport.ErrNotConnected)
	for _, ch := range c.channelList() {
		ch.interrupt()
	}
	return true
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.state == transport.ConnClosed || c.state == transport.ConnClosing {
		c.mu.Unlock()
		return
	}
	c.epoch++
	conn := c.conn
	c.conn = nil
	pending := c.pending
	c.pending = map[int64]func(Frame){}
	c.mu.Unlock()

	c.setState(transport.ConnClosing, nil)
	if conn != nil {
		c.wmu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
		c.wmu.Unlock()
		_ = conn.Close()
	}
	c.failPending(pending, transport.ErrConnectionClosed)
	for _, ch := range c.channelList() {
		ch.setState(transport.ChannelDetached, nil)
	}
	c.setState(transport.ConnClosed, nil)
}

func (c *Client) failPending(pending map[int64]func(Frame), err error) {
	ids := make([]int64, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		cb := pending[id]
		c.dispatch(func() { cb(Frame{Type: frameAck, ReqID: id, Error: errorCode(err)}) })
	}
}

// request sends f and calls cb with the ack. cb may be nil.
func (c *Client) request(f Frame, cb func(Frame)) {
	if cb == nil {
		cb = func(Frame) {}
	}
	c.mu.Lock()
	conn := c.conn
	if conn == nil || c.state != transport.ConnConnected {
		c.mu.Unlock()
		c.dispatch(func() { cb(Frame{Type: frameAck, Error: errorCode(transport.ErrNotConnected)}) })
		return
	}
	c.nextReq++
	f.ReqID = c.nextReq
	c.pending[f.ReqID] = cb
	c.mu.Unlock()

	if err := c.write(conn, f); err != nil {
		c.resolve(f.ReqID, transport.ErrNotConnected)
		return
	}
	reqID := f.ReqID
	time.AfterFunc(c.reqTimeout, func() { c.resolve(reqID, transport.ErrNotConnected) })
}

// resolve fails a still-pending request with err.
func (c *Client) resolve(reqID int64, err error) {
	c.mu.Lock()
	cb := c.pending[reqID]
	delete(c.pending, reqID)
	c.mu.Unlock()
	if cb != nil {
		c.dispatch(func() { cb(Frame{Type: frameAck, ReqID: reqID, Error: errorCode(err)}) })
	}
}

// send writes a frame that expects no ack.
func (c *Client) send(f Frame) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	if err := c.write(conn, f); err != nil {
		log.Debug().Err(err).Str("module", "ws.client").Str("type", f.Type).Msg("write failed")
	}
}

func (c *Client) write(conn *websocket.Conn, f Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(f)
}

func (c *Client) setState(next transport.ConnectionState, reason error) {
	c.setStateRetry(next, 0, reason)
}

func (c *Client) setStateRetry(next transport.ConnectionState, retryIn time.Duration, reason error) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]func(transport.ConnectionChange), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, c.listeners[id])
	}
	c.mu.Unlock()

	change := transport.ConnectionChange{Current: next, Previous: prev, RetryIn: retryIn, Reason: reason}
	c.dispatch(func() {
		for _, l := range listeners {
			l(change)
		}
	})
}

func (c *Client) existingChannel(name string) *channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[name]
}

func (c *Client) channelList() []*channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*channel, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, ch)
	}
	slices.SortFunc(out, func(a, b *channel) int { return cmp.Compare(a.name, b.name) })
	return out
}

func (c *Client) connected() bool {
	return c.State() == transport.ConnConnected
}

// dispatch runs callbacks one at a time in submission order, whichever
// goroutine submits them.
func (c *Client) dispatch(fns ...func()) {
	c.qmu.Lock()
	c.queue = append(c.queue, fns...)
	if c.draining {
		c.qmu.Unlock()
		return
	}
	c.draining = true
	for len(c.queue) > 0 {
		fn := c.queue[0]
		c.queue = c.queue[1:]
		c.qmu.Unlock()
		fn()
		c.qmu.Lock()
	}
	c.draining = false
	c.qmu.Unlock()
}

type messageSub struct {
	name string
	h    func(transport.Message)
}

type presenceSub struct {
	action transport.PresenceAction
	h      func(transport.PresenceMessage)
}

type channel struct {
	client *Client
	name   string

	mu           sync.Mutex
	state        transport.ChannelState
	wantAttached bool
	nextSub      int
	stateSubs    map[int]func(transport.ChannelChange)
	msgSubs      map[int]messageSub
	presSubs     map[int]presenceSub
}

func (ch *channel) Name() string { return ch.name }

func (ch *channel) State() transport.ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *channel) OnStateChange(h func(transport.ChannelChange)) func() {
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

func (ch *channel) Attach() {
	ch.mu.Lock()
	ch.wantAttached = true
	ch.mu.Unlock()
	if ch.client.connected() {
		ch.sendAttach()
	}
}

func (ch *channel) sendAttach() {
	if ch.State() != transport.ChannelAttached {
		ch.setState(transport.ChannelAttaching, nil)
	}
	ch.client.send(Frame{Type: frameAttach, Channel: ch.name})
}

func (ch *channel) Detach() {
	ch.mu.Lock()
	ch.wantAttached = false
	ch.mu.Unlock()
	if ch.client.connected() {
		ch.client.send(Frame{Type: frameDetach, Channel: ch.name})
		return
	}
	ch.setState(transport.ChannelDetached, nil)
}

func (ch *channel) wantsAttach() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.wantAttached
}

// interrupt moves an attached channel back to attaching while the link is
// down.
func (ch *channel) interrupt() {
	if ch.State() != transport.ChannelAttached {
		return
	}
	ch.setState(transport.ChannelAttaching, nil)
}

func (ch *channel) setState(next transport.ChannelState, reason error) {
	ch.mu.Lock()
	prev := ch.state
	if prev == next {
		ch.mu.Unlock()
		return
	}
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
	ch.client.dispatch(func() {
		for _, s := range subs {
			s(change)
		}
	})
}

// Subscribe registers h for messages named name; an empty name receives all.
func (ch *channel) Subscribe(name string, h func(transport.Message)) func() {
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

func (ch *channel) Publish(name string, data json.RawMessage, done func(error)) {
	if ch.State() != transport.ChannelAttached {
		ch.client.dispatch(func() { complete(done, transport.ErrChannelDetached) })
		return
	}
	ch.client.request(Frame{Type: framePublish, Channel: ch.name, Name: name, Data: data}, func(f Frame) {
		complete(done, errorFromCode(f.Error))
	})
}

func (ch *channel) History(limit int, cb func([]transport.Message, error)) {
	ch.client.request(Frame{Type: frameHistory, Channel: ch.name, Limit: limit}, func(f Frame) {
		if err := errorFromCode(f.Error); err != nil {
			cb(nil, err)
			return
		}
		cb(f.Messages, nil)
	})
}

func (ch *channel) Presence() transport.Presence {
	return &presence{ch: ch}
}

func (ch *channel) deliverMessage(msg transport.Message) {
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

func (ch *channel) deliverPresence(msg transport.PresenceMessage) {
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

func complete(done func(error), err error) {
	if done != nil {
		done(err)
	}
}

type presence struct {
	ch *channel
}

func (p *presence) Enter(data transport.PresenceRecord, done func(error)) {
	p.write(framePresenceEnter, data, done)
}

func (p *presence) Update(data transport.PresenceRecord, done func(error)) {
	p.write(framePresenceUpd, data, done)
}

func (p *presence) write(kind string, data transport.PresenceRecord, done func(error)) {
	if p.ch.State() != transport.ChannelAttached {
		p.ch.client.dispatch(func() { complete(done, transport.ErrChannelDetached) })
		return
	}
	rec := data.Clone()
	p.ch.client.request(Frame{Type: kind, Channel: p.ch.name, Record: &rec}, func(f Frame) {
		complete(done, errorFromCode(f.Error))
	})
}

func (p *presence) Leave(done func(error)) {
	p.ch.client.request(Frame{Type: framePresenceLeave, Channel: p.ch.name}, func(f Frame) {
		complete(done, errorFromCode(f.Error))
	})
}

func (p *presence) Get(cb func([]transport.PresenceMessage, error)) {
	p.ch.client.request(Frame{Type: framePresenceGet, Channel: p.ch.name}, func(f Frame) {
		if err := errorFromCode(f.Error); err != nil {
			cb(nil, err)
			return
		}
		cb(f.Members, nil)
	})
}

// Subscribe registers h for action; an empty action receives all.
func (p *presence) Subscribe(action transport.PresenceAction, h func(transport.PresenceMessage)) func() {
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
