// Package engine wires one participant's view of a room: the connection
// state machine, the room property store, the slot allocator and the
// presence cache, all over a single transport channel.
package engine

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"realtime-room/internal/clock"
	"realtime-room/internal/connstate"
	"realtime-room/internal/events"
	"realtime-room/internal/roomprops"
	"realtime-room/internal/slots"
	"realtime-room/internal/transport"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type Options struct {
	Room       string
	Name       string
	Type       transport.ParticipantType
	Dispatcher *events.Dispatcher
	Clock      clock.Clock
	Rand       func(n int) int
	Merger     roomprops.Merger

	ReconnectDebounce time.Duration
	HistoryPageSize   int
	StaleAfter        time.Duration
	MaxPayloadBytes   int
	// LeaveOnKick makes the session leave the room when it is kicked.
	LeaveOnKick bool
}

type Session struct {
	conn        transport.Connection
	ch          transport.Channel
	room        string
	clientID    string
	name        string
	ptype       transport.ParticipantType
	dispatch    *events.Dispatcher
	clock       clock.Clock
	leaveOnKick bool

	machine *connstate.Machine
	store   *roomprops.Store
	slots   *slots.Allocator

	mu           sync.Mutex
	joined       bool
	started      bool
	generation   uint64
	components   []string
	slotIndex    *int
	participants map[string]transport.PresenceRecord
	unsubs       []func()
}

func New(adapter transport.Adapter, opts Options) *Session {
	if opts.Dispatcher == nil {
		opts.Dispatcher = events.NewDispatcher()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Type == "" {
		opts.Type = transport.ParticipantGuest
	}
	ch := adapter.Channel(opts.Room)
	s := &Session{
		conn:        adapter.Connection(),
		ch:          ch,
		room:        opts.Room,
		clientID:    adapter.ClientID(),
		name:        opts.Name,
		ptype:       opts.Type,
		dispatch:    opts.Dispatcher,
		clock:       opts.Clock,
		leaveOnKick: opts.LeaveOnKick,
	}
	s.machine = connstate.New(connstate.Options{
		Clock:      opts.Clock,
		Dispatcher: opts.Dispatcher,
		Debounce:   opts.ReconnectDebounce,
		Reconnect:  s.reconnect,
		OnRejoin:   s.rejoin,
	})
	s.store = roomprops.New(roomprops.Options{
		Channel:         ch,
		ClientID:        s.clientID,
		Dispatcher:      opts.Dispatcher,
		Clock:           opts.Clock,
		Merger:          opts.Merger,
		HistoryPageSize: opts.HistoryPageSize,
		StaleAfter:      opts.StaleAfter,
		MaxPayloadBytes: opts.MaxPayloadBytes,
	})
	s.slots = slots.New(slots.Options{
		Presence:   ch.Presence(),
		ClientID:   s.clientID,
		Dispatcher: opts.Dispatcher,
		Clock:      opts.Clock,
		Rand:       opts.Rand,
		Record:     s.selfRecord,
		OnChange:   s.onSlot,
	})
	return s
}

func (s *Session) ClientID() string { return s.clientID }

func (s *Session) Room() string { return s.room }

func (s *Session) Dispatcher() *events.Dispatcher { return s.dispatch }

func (s *Session) State() connstate.State { return s.machine.State() }

func (s *Session) Attempts() int { return s.machine.Attempts() }

func (s *Session) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

// Join connects, attaches the room channel and, once connected, enters
// presence and runs the room join protocol. It returns before the
// connection is up; use WaitForState to block.
func (s *Session) Join(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.joined {
		s.mu.Unlock()
		return ErrAlreadyJoined
	}
	s.joined = true
	s.started = false
	s.generation++
	s.participants = map[string]transport.PresenceRecord{}
	s.mu.Unlock()

	s.machine.Restart()
	unsubs := []func(){
		s.conn.OnStateChange(s.machine.HandleConnection),
		s.ch.OnStateChange(s.machine.HandleChannel),
		s.ch.Presence().Subscribe("", s.onPresence),
		events.On(s.dispatch, events.TopicConnectionState, s.onState),
		events.On(s.dispatch, events.TopicAuthFailed, s.onAuthFailed),
		events.On(s.dispatch, events.TopicKicked, s.onKicked),
	}
	s.mu.Lock()
	s.unsubs = unsubs
	s.mu.Unlock()

	metricSessionsJoinedTotal.Add(1)
	metricSessionsActive.Add(1)
	log.Info().Str("module", "engine").Str("room", s.room).Str("client_id", s.clientID).Msg("joining room")

	s.conn.Connect()
	// a rejected connection tears the session down inside Connect
	if s.Joined() {
		s.ch.Attach()
	}
	return nil
}

// Leave detaches every subscription, releases the slot, leaves presence and
// drops local state before returning. Results still in flight are ignored.
func (s *Session) Leave() {
	s.mu.Lock()
	if !s.joined {
		s.mu.Unlock()
		return
	}
	s.joined = false
	s.started = false
	s.generation++
	unsubs := s.unsubs
	s.unsubs = nil
	s.participants = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if s.machine.State() == connstate.Connected {
		s.slots.SetDefaultSlot()
	}
	s.slots.Stop()
	s.store.Leave()
	s.ch.Presence().Leave(nil)
	s.ch.Detach()
	s.machine.Stop()
	s.conn.Close()

	s.mu.Lock()
	s.slotIndex = nil
	s.mu.Unlock()

	metricSessionsActive.Add(-1)
	metricSessionsLeftTotal.Add(1)
	log.Info().Str("module", "engine").Str("room", s.room).Str("client_id", s.clientID).Msg("left room")
}

// WaitForState blocks until the connection reaches want or ctx is done.
func (s *Session) WaitForState(ctx context.Context, want connstate.State) error {
	reached := make(chan struct{}, 1)
	unsub := events.On(s.dispatch, events.TopicConnectionState, func(st connstate.State) {
		if st != want {
			return
		}
		select {
		case reached <- struct{}{}:
		default:
		}
	})
	defer unsub()
	if s.machine.State() == want {
		return nil
	}
	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) onState(state connstate.State) {
	if state != connstate.Connected {
		return
	}
	s.mu.Lock()
	if !s.joined || s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	gen := s.generation
	needsSlot := slots.NeedsSlot(s.components)
	s.mu.Unlock()

	log.Info().Str("module", "engine").Str("room", s.room).Str("client_id", s.clientID).Msg("connected; entering room")
	s.ch.Presence().Enter(s.selfRecord(), s.logFailure("enter presence"))
	s.refreshParticipants(gen)
	s.store.Join()
	s.mu.Lock()
	current := s.joined && s.generation == gen
	s.mu.Unlock()
	if !current {
		// left while joining, e.g. kicked by a request found in history
		return
	}
	s.slots.Start()
	if needsSlot {
		s.slots.AssignSlot(nil)
	} else {
		s.slots.SetDefaultSlot()
	}
}

// rejoin replays the join protocol after the connection comes back.
func (s *Session) rejoin() {
	s.mu.Lock()
	if !s.joined || !s.started {
		s.mu.Unlock()
		return
	}
	gen := s.generation
	components := append([]string(nil), s.components...)
	s.mu.Unlock()

	log.Info().Str("module", "engine").Str("room", s.room).Str("client_id", s.clientID).Msg("reconnected; replaying join")
	s.ch.Presence().Enter(s.selfRecord(), s.logFailure("re-enter presence"))
	s.refreshParticipants(gen)
	s.store.Join()
	s.slots.SyncWithComponents(components)
}

func (s *Session) reconnect() {
	s.conn.Connect()
	s.ch.Attach()
}

func (s *Session) onAuthFailed(err error) {
	log.Error().Err(err).Str("module", "engine").Str("room", s.room).Str("client_id", s.clientID).Msg("rejected by backend; leaving")
	s.Leave()
}

func (s *Session) onKicked(transport.PresenceRecord) {
	if !s.leaveOnKick {
		return
	}
	log.Info().Str("module", "engine").Str("room", s.room).Str("client_id", s.clientID).Msg("kicked; leaving")
	s.Leave()
}

func (s *Session) refreshParticipants(gen uint64) {
	s.ch.Presence().Get(func(members []transport.PresenceMessage, err error) {
		if err != nil {
			log.Warn().Err(err).Str("module", "engine").Str("room", s.room).Msg("presence snapshot failed")
			return
		}
		s.mu.Lock()
		if !s.joined || s.generation != gen {
			s.mu.Unlock()
			return
		}
		s.participants = make(map[string]transport.PresenceRecord, len(members))
		for _, m := range members {
			s.participants[m.ClientID] = m.Data.Clone()
		}
		list := s.participantsLocked()
		s.mu.Unlock()
		s.dispatch.Publish(events.TopicParticipants, list)
	})
}

func (s *Session) onPresence(msg transport.PresenceMessage) {
	metricPresenceEventsTotal.Add(1)

	s.mu.Lock()
	if !s.joined || s.participants == nil {
		s.mu.Unlock()
		return
	}
	switch msg.Action {
	case transport.PresenceLeave:
		delete(s.participants, msg.ClientID)
	default:
		if prev, ok := s.participants[msg.ClientID]; ok && msg.Data.Timestamp < prev.Timestamp {
			s.mu.Unlock()
			return
		}
		s.participants[msg.ClientID] = msg.Data.Clone()
	}
	list := s.participantsLocked()
	s.mu.Unlock()

	s.dispatch.Publish(events.Scoped(events.TopicPresenceUpdate, msg.ClientID), msg)
	s.dispatch.Publish(events.TopicPresenceUpdate, msg)
	s.dispatch.Publish(events.TopicParticipants, list)
}

func (s *Session) onSlot(slot slots.Slot) {
	s.mu.Lock()
	s.slotIndex = cloneInt(slot.Index)
	rec, ok := s.participants[s.clientID]
	if !ok || !s.joined {
		s.mu.Unlock()
		return
	}
	rec.SlotIndex = cloneInt(slot.Index)
	s.participants[s.clientID] = rec
	list := s.participantsLocked()
	s.mu.Unlock()
	s.dispatch.Publish(events.TopicParticipants, list)
}

// Participants returns the cached presence set ordered by id.
func (s *Session) Participants() []transport.PresenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantsLocked()
}

func (s *Session) participantsLocked() []transport.PresenceRecord {
	out := make([]transport.PresenceRecord, 0, len(s.participants))
	for _, rec := range s.participants {
		out = append(out, rec.Clone())
	}
	slices.SortFunc(out, func(a, b transport.PresenceRecord) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *Session) selfRecord() transport.PresenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transport.PresenceRecord{
		ID:               s.clientID,
		Name:             s.name,
		SlotIndex:        cloneInt(s.slotIndex),
		Type:             s.ptype,
		ActiveComponents: append([]string{}, s.components...),
		Timestamp:        s.clock.Now().UnixMilli(),
	}
}

// Components returns the locally active components.
func (s *Session) Components() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.components...)
}

// AddComponent marks name active, pushes it to presence and assigns a slot
// if the component needs one.
func (s *Session) AddComponent(name string) {
	s.mu.Lock()
	if lo.Contains(s.components, name) {
		s.mu.Unlock()
		return
	}
	s.components = append(s.components, name)
	s.mu.Unlock()
	s.syncComponents()
}

func (s *Session) RemoveComponent(name string) {
	s.mu.Lock()
	if !lo.Contains(s.components, name) {
		s.mu.Unlock()
		return
	}
	s.components = lo.Without(s.components, name)
	s.mu.Unlock()
	s.syncComponents()
}

func (s *Session) syncComponents() {
	s.mu.Lock()
	live := s.joined && s.started
	components := append([]string(nil), s.components...)
	s.mu.Unlock()
	if !live {
		return
	}
	s.ch.Presence().Update(s.selfRecord(), s.logFailure("update presence"))
	s.slots.SyncWithComponents(components)
}

func (s *Session) Properties() (roomprops.Properties, bool) { return s.store.Properties() }

func (s *Session) SetHost(clientID string) error { return s.store.SetHost(clientID) }

func (s *Session) SetGridMode(enabled bool) error { return s.store.SetGridMode(enabled) }

func (s *Session) SetFollowParticipant(participantID string) error {
	return s.store.SetFollowParticipant(participantID)
}

func (s *Session) SetGather(gather bool) error { return s.store.SetGather(gather) }

func (s *Session) SetDrawing(drawing json.RawMessage) error { return s.store.SetDrawing(drawing) }

func (s *Session) SetTranscript(state roomprops.TranscriptState) error {
	return s.store.SetTranscript(state)
}

func (s *Session) SetKickParticipant(participant *transport.PresenceRecord) error {
	return s.store.SetKickParticipant(participant)
}

// Kick asks the participant with id to leave, using its cached presence
// record.
func (s *Session) Kick(participantID string) error {
	s.mu.Lock()
	rec, ok := s.participants[participantID]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownParticipant
	}
	return s.store.SetKickParticipant(&rec)
}

// FreezeSync pauses (true) or resumes (false) room property replication.
func (s *Session) FreezeSync(freeze bool) { s.store.FreezeSync(freeze) }

func (s *Session) Slot() slots.Slot { return s.slots.Slot() }

func (s *Session) AssignSlot(done func(slots.Slot, error)) { s.slots.AssignSlot(done) }

func (s *Session) SetDefaultSlot() { s.slots.SetDefaultSlot() }

func (s *Session) logFailure(op string) func(error) {
	return func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("module", "engine").Str("room", s.room).Str("client_id", s.clientID).Msg(op + " failed")
		}
	}
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
