package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"realtime-room/internal/transport"
	"realtime-room/internal/transport/memory"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
	helloTimeout = 10 * time.Second
	pingInterval = 25 * time.Second
)

// Server bridges websocket peers onto a memory hub. Each peer gets its own
// hub client for the lifetime of the socket.
type Server struct {
	hub      *memory.Hub
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[*peer]struct{}
}

func NewServer(hub *memory.Hub) *Server {
	return &Server{
		hub:      hub,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		peers:    map[*peer]struct{}{},
	}
}

// Peers returns the number of open sockets.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

type peer struct {
	conn   *websocket.Conn
	send   chan []byte
	client *memory.Client

	closeOnce sync.Once
	done      chan struct{}

	mu       sync.Mutex
	channels map[string]transport.Channel
	offs     []func()
}

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		channels: map[string]transport.Channel{},
	}
	go p.writeLoop()

	hello, err := readHello(conn)
	if err != nil {
		log.Debug().Err(err).Str("module", "ws").Msg("hello failed")
		p.sendFrame(Frame{Type: frameError, Error: errorCode(err)})
		p.close()
		return
	}

	p.client = s.hub.NewClient(hello.ClientID)
	p.client.Connect()
	if p.client.State() != transport.ConnConnected {
		metricRejectedTotal.Add(1)
		p.sendFrame(Frame{Type: frameError, Error: errorCode(transport.ErrUnauthorized)})
		p.close()
		return
	}

	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()
	metricPeersConnected.Add(1)
	log.Info().Str("module", "ws").Str("client_id", hello.ClientID).Str("connection_id", p.client.ConnectionID()).Msg("peer connected")

	p.sendFrame(Frame{Type: frameWelcome, ProtocolVersion: ProtocolVersion, ClientID: hello.ClientID, ConnectionID: p.client.ConnectionID()})
	p.readLoop()

	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
	metricPeersConnected.Add(-1)
	p.teardown()
	log.Info().Str("module", "ws").Str("client_id", hello.ClientID).Msg("peer disconnected")
}

func readHello(conn *websocket.Conn) (Frame, error) {
	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		return Frame{}, err
	}
	if f.Type != frameHello || f.ClientID == "" {
		return Frame{}, errUnknownFrame
	}
	return f, nil
}

func (p *peer) readLoop() {
	defer p.close()
	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		metricFramesInTotal.Add(1)
		p.handle(f)
	}
}

func (p *peer) handle(f Frame) {
	switch f.Type {
	case frameAttach:
		p.channel(f.Channel).Attach()
	case frameDetach:
		p.channel(f.Channel).Detach()
	case framePublish:
		p.channel(f.Channel).Publish(f.Name, f.Data, func(err error) {
			p.ack(f.ReqID, Frame{Error: errorCode(err)})
		})
	case frameHistory:
		p.channel(f.Channel).History(f.Limit, func(msgs []transport.Message, err error) {
			p.ack(f.ReqID, Frame{Messages: msgs, Error: errorCode(err)})
		})
	case framePresenceEnter, framePresenceUpd:
		var rec transport.PresenceRecord
		if f.Record != nil {
			rec = *f.Record
		}
		pres := p.channel(f.Channel).Presence()
		done := func(err error) { p.ack(f.ReqID, Frame{Error: errorCode(err)}) }
		if f.Type == framePresenceEnter {
			pres.Enter(rec, done)
		} else {
			pres.Update(rec, done)
		}
	case framePresenceLeave:
		p.channel(f.Channel).Presence().Leave(func(err error) {
			p.ack(f.ReqID, Frame{Error: errorCode(err)})
		})
	case framePresenceGet:
		p.channel(f.Channel).Presence().Get(func(members []transport.PresenceMessage, err error) {
			p.ack(f.ReqID, Frame{Members: members, Error: errorCode(err)})
		})
	default:
		if f.ReqID != 0 {
			p.ack(f.ReqID, Frame{Error: errorCode(errUnknownFrame)})
		}
	}
}

// channel returns the hub channel for name, wiring its events to the socket
// the first time it is used.
func (p *peer) channel(name string) transport.Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.channels[name]; ok {
		return ch
	}
	ch := p.client.Channel(name)
	p.channels[name] = ch
	p.offs = append(p.offs,
		ch.OnStateChange(func(c transport.ChannelChange) {
			p.sendFrame(Frame{Type: frameChannelState, Channel: name, State: c.Current, Error: errorCode(c.Reason)})
		}),
		ch.Subscribe("", func(msg transport.Message) {
			m := msg
			p.sendFrame(Frame{Type: frameMessage, Channel: name, Message: &m})
		}),
		ch.Presence().Subscribe("", func(msg transport.PresenceMessage) {
			m := msg
			p.sendFrame(Frame{Type: framePresence, Channel: name, Presence: &m})
		}),
	)
	return ch
}

func (p *peer) ack(reqID int64, f Frame) {
	if reqID == 0 {
		return
	}
	f.Type = frameAck
	f.ReqID = reqID
	p.sendFrame(f)
}

// sendFrame queues f without blocking. A peer that cannot keep up is
// disconnected.
func (p *peer) sendFrame(f Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Str("type", f.Type).Msg("encode frame")
		return
	}
	select {
	case <-p.done:
	case p.send <- b:
		metricFramesOutTotal.Add(1)
	default:
		metricSlowPeersTotal.Add(1)
		log.Warn().Str("module", "ws").Msg("peer send buffer full; closing")
		p.close()
	}
}

func (p *peer) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-p.done:
			p.drain()
			_ = p.conn.Close()
			return
		case msg := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				p.close()
			}
		case <-ping.C:
			_ = p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
		}
	}
}

// drain flushes frames queued before close, such as a final error.
func (p *peer) drain() {
	for {
		select {
		case msg := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			return
		}
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *peer) teardown() {
	p.mu.Lock()
	offs := p.offs
	p.offs = nil
	p.mu.Unlock()
	for _, off := range offs {
		off()
	}
	if p.client != nil {
		p.client.Close()
	}
}

// HandleWSHandler adapts HandleWS to http.Handler.
func (s *Server) HandleWSHandler() http.Handler {
	return http.HandlerFunc(s.HandleWS)
}

// DisconnectAll closes every open socket. New sockets are still accepted.
func (s *Server) DisconnectAll() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		p.close()
	}
}
