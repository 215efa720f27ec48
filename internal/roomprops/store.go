// Package roomprops replicates the shared room record: the join protocol
// replays channel history, every write broadcasts the full record, and every
// received update is merged over the local copy.
package roomprops

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"realtime-room/internal/clock"
	"realtime-room/internal/events"
	"realtime-room/internal/transport"

	"github.com/rs/zerolog/log"
)

// UpdateEvent is the message name carrying room properties on the channel.
const UpdateEvent = "update"

const (
	DefaultHistoryPageSize = 100
	DefaultStaleAfter      = time.Hour
	DefaultMaxPayloadBytes = 60000
)

type Options struct {
	Channel    transport.Channel
	ClientID   string
	Dispatcher *events.Dispatcher
	Clock      clock.Clock
	Merger     Merger

	HistoryPageSize int
	StaleAfter      time.Duration
	MaxPayloadBytes int
}

type Store struct {
	ch         transport.Channel
	clientID   string
	dispatch   *events.Dispatcher
	clock      clock.Clock
	merger     Merger
	pageSize   int
	staleAfter time.Duration
	maxPayload int

	mu         sync.Mutex
	props      *Properties
	joined     bool
	frozen     bool
	generation uint64
	unsub      func()
}

func New(opts Options) *Store {
	if opts.Dispatcher == nil {
		opts.Dispatcher = events.NewDispatcher()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Merger == nil {
		opts.Merger = ShallowMerge{}
	}
	if opts.HistoryPageSize <= 0 {
		opts.HistoryPageSize = DefaultHistoryPageSize
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	return &Store{
		ch:         opts.Channel,
		clientID:   opts.ClientID,
		dispatch:   opts.Dispatcher,
		clock:      opts.Clock,
		merger:     opts.Merger,
		pageSize:   opts.HistoryPageSize,
		staleAfter: opts.StaleAfter,
		maxPayload: opts.MaxPayloadBytes,
	}
}

// Properties returns a copy of the local record. ok is false until the join
// protocol has produced one.
func (s *Store) Properties() (props Properties, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.props == nil {
		return Properties{}, false
	}
	return s.props.Clone(), true
}

func (s *Store) Frozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}

// Join runs the join protocol: read the newest update from history, adopt it
// if fresh, otherwise initialize the room with defaults and broadcast them.
// Calling Join again (after a reconnect) replays the protocol.
func (s *Store) Join() {
	s.mu.Lock()
	s.joined = true
	s.generation++
	gen := s.generation
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}

	s.ch.History(s.pageSize, func(msgs []transport.Message, err error) {
		s.onHistory(gen, msgs, err)
	})
}

func (s *Store) onHistory(gen uint64, msgs []transport.Message, err error) {
	if err != nil {
		log.Warn().Err(err).Str("module", "roomprops").Str("channel", s.ch.Name()).Msg("history fetch failed; treating room as new")
	}
	next, adopted, resolveErr := FromHistory(msgs, s.clock.Now(), s.staleAfter, s.merger)
	switch {
	case errors.Is(resolveErr, errStaleHistory):
		log.Debug().Str("module", "roomprops").Str("channel", s.ch.Name()).Msg("history is stale; resetting room")
	case resolveErr != nil:
		metricUpdateDecodeErrors.Add(1)
		log.Warn().Err(resolveErr).Str("module", "roomprops").Str("channel", s.ch.Name()).Msg("history payload unreadable; resetting room")
	}
	broadcast := !adopted

	s.mu.Lock()
	if !s.joined || s.generation != gen {
		s.mu.Unlock()
		metricStaleResultsDropped.Add(1)
		return
	}
	prev := Properties{}
	if s.props != nil {
		prev = *s.props
	}
	stored := next.Clone()
	s.props = &stored
	frozen := s.frozen
	s.mu.Unlock()

	if broadcast {
		metricRoomsInitialized.Add(1)
		s.broadcast(next)
	} else {
		metricHistoryAdopted.Add(1)
	}
	s.publishChanges(prev, next, true)
	if !frozen {
		s.subscribe(gen)
	}
	if adopted {
		kickedBy := ""
		if latest := latestUpdate(msgs); latest != nil {
			kickedBy = latest.ClientID
		}
		s.handleKick(next, kickedBy)
	}
}

func (s *Store) subscribe(gen uint64) {
	unsub := s.ch.Subscribe(UpdateEvent, s.onUpdate)
	s.mu.Lock()
	if !s.joined || s.generation != gen || s.frozen || s.unsub != nil {
		s.mu.Unlock()
		unsub()
		return
	}
	s.unsub = unsub
	s.mu.Unlock()
}

func (s *Store) onUpdate(msg transport.Message) {
	metricUpdatesReceivedTotal.Add(1)

	s.mu.Lock()
	if !s.joined || s.frozen || s.props == nil {
		s.mu.Unlock()
		return
	}
	prev := *s.props
	next, err := s.merger.Merge(prev, msg.Data)
	if err != nil {
		s.mu.Unlock()
		metricUpdateDecodeErrors.Add(1)
		log.Warn().Err(err).Str("module", "roomprops").Str("message_id", msg.ID).Msg("dropping unreadable update")
		return
	}
	stored := next.Clone()
	s.props = &stored
	s.mu.Unlock()

	s.publishChanges(prev, next, false)
	s.handleKick(next, msg.ClientID)
}

// handleKick clears a kick request naming this participant and announces it.
func (s *Store) handleKick(p Properties, kickedBy string) {
	k := p.KickParticipant
	if k == nil || k.ID != s.clientID {
		return
	}
	metricKicksTotal.Add(1)
	log.Info().Str("module", "roomprops").Str("client_id", s.clientID).Str("kicked_by", kickedBy).Msg("kicked from room")
	if err := s.SetKickParticipant(nil); err != nil {
		log.Warn().Err(err).Str("module", "roomprops").Msg("clear kick request failed")
	}
	s.dispatch.Publish(events.TopicKicked, k.Clone())
}

// FreezeSync stops (true) or resumes (false) applying remote updates and
// accepting writes. Local state is kept; resuming does not replay history.
func (s *Store) FreezeSync(freeze bool) {
	s.mu.Lock()
	if s.frozen == freeze {
		s.mu.Unlock()
		return
	}
	s.frozen = freeze
	unsub := s.unsub
	if freeze {
		s.unsub = nil
	}
	resume := !freeze && s.joined && s.props != nil
	gen := s.generation
	s.mu.Unlock()

	log.Info().Str("module", "roomprops").Bool("frozen", freeze).Msg("room sync toggled")
	if freeze && unsub != nil {
		unsub()
	}
	if resume {
		s.subscribe(gen)
	}
}

// Leave drops the subscription and the local record. Pending history results
// are discarded.
func (s *Store) Leave() {
	s.mu.Lock()
	s.joined = false
	s.generation++
	s.props = nil
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (s *Store) SetHost(clientID string) error {
	return s.write("host", func(p *Properties) { p.HostClientID = stringOrNil(clientID) })
}

func (s *Store) SetGridMode(enabled bool) error {
	return s.write("grid_mode", func(p *Properties) { p.IsGridModeEnabled = enabled })
}

// SetFollowParticipant sets the participant everyone follows; empty clears it.
func (s *Store) SetFollowParticipant(participantID string) error {
	return s.write("follow", func(p *Properties) { p.FollowParticipantID = stringOrNil(participantID) })
}

func (s *Store) SetGather(gather bool) error {
	return s.write("gather", func(p *Properties) { p.Gather = gather })
}

// SetDrawing replaces the drawing payload; nil clears it.
func (s *Store) SetDrawing(drawing json.RawMessage) error {
	if isNull(drawing) {
		drawing = nil
	} else if !json.Valid(drawing) {
		return fmt.Errorf("set drawing: invalid json")
	}
	return s.write("drawing", func(p *Properties) { p.Drawing = append(json.RawMessage(nil), drawing...) })
}

func (s *Store) SetTranscript(state TranscriptState) error {
	return s.write("transcript", func(p *Properties) { p.Transcript = state })
}

// SetKickParticipant asks participant to leave; nil clears a pending request.
func (s *Store) SetKickParticipant(participant *transport.PresenceRecord) error {
	return s.write("kick", func(p *Properties) {
		if participant == nil {
			p.KickParticipant = nil
			return
		}
		k := participant.Clone()
		p.KickParticipant = &k
	})
}

func (s *Store) write(field string, mutate func(*Properties)) error {
	s.mu.Lock()
	var reject error
	switch {
	case !s.joined || s.props == nil:
		reject = ErrNotJoined
	case s.frozen:
		reject = ErrSyncFrozen
	}
	if reject != nil {
		s.mu.Unlock()
		metricWritesRejectedTotal.Add(1)
		log.Warn().Err(reject).Str("module", "roomprops").Str("field", field).Msg("room property write rejected")
		return reject
	}

	prev := *s.props
	next := prev.Clone()
	mutate(&next)
	data, err := json.Marshal(next)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("encode room properties: %w", err)
	}
	if len(data) > s.maxPayload {
		s.mu.Unlock()
		metricWritesRejectedTotal.Add(1)
		log.Warn().
			Str("module", "roomprops").
			Str("field", field).
			Int("bytes", len(data)).
			Int("limit", s.maxPayload).
			Msg("room property write too large")
		return ErrPayloadTooLarge
	}
	stored := next.Clone()
	s.props = &stored
	s.mu.Unlock()

	metricWritesTotal.Add(1)
	s.publishChanges(prev, next, false)
	s.send(field, data)
	return nil
}

func (s *Store) broadcast(p Properties) {
	data, err := json.Marshal(p)
	if err != nil {
		log.Error().Err(err).Str("module", "roomprops").Msg("encode room properties failed")
		return
	}
	s.send("init", data)
}

func (s *Store) send(field string, data json.RawMessage) {
	s.ch.Publish(UpdateEvent, data, func(err error) {
		if err == nil {
			return
		}
		metricPublishErrorsTotal.Add(1)
		log.Warn().Err(err).Str("module", "roomprops").Str("field", field).Msg("publish room properties failed")
	})
}

// publishChanges notifies consumers. With all set every field is announced,
// otherwise only the fields that differ.
func (s *Store) publishChanges(prev, next Properties, all bool) {
	changes := changedFields(prev, next)
	if all {
		changes = allFields(next)
	}
	if len(changes) == 0 {
		return
	}
	s.dispatch.Publish(events.TopicRoomProperties, next.Clone())
	for _, c := range changes {
		s.dispatch.Publish(c.topic, c.payload)
	}
}

func allFields(p Properties) []fieldChange {
	return []fieldChange{
		{topic: events.TopicHost, payload: p.Host()},
		{topic: events.TopicGridMode, payload: p.IsGridModeEnabled},
		{topic: events.TopicFollow, payload: p.Following()},
		{topic: events.TopicGather, payload: p.Gather},
		{topic: events.TopicDrawing, payload: p.Drawing},
		{topic: events.TopicTranscript, payload: p.Transcript},
		{topic: events.TopicKickRequest, payload: p.KickParticipant},
	}
}

var errStaleHistory = errors.New("stale_history")

// FromHistory resolves the room properties a joining participant should
// start from, given a newest-first history page. adopted is false when the
// room has to be reset to Defaults: no update, an update older than
// staleAfter, or one the merger cannot read. err says which of the last two
// happened.
func FromHistory(msgs []transport.Message, now time.Time, staleAfter time.Duration, m Merger) (props Properties, adopted bool, err error) {
	if m == nil {
		m = ShallowMerge{}
	}
	latest := latestUpdate(msgs)
	if latest == nil {
		return Defaults(), false, nil
	}
	if now.Sub(latest.Timestamp) > staleAfter {
		return Defaults(), false, errStaleHistory
	}
	next, err := m.Merge(Defaults(), latest.Data)
	if err != nil {
		return Defaults(), false, fmt.Errorf("decode update %s: %w", latest.ID, err)
	}
	return next, true, nil
}

// latestUpdate picks the newest update message from a newest-first page.
func latestUpdate(msgs []transport.Message) *transport.Message {
	var latest *transport.Message
	for i := range msgs {
		if msgs[i].Name != UpdateEvent {
			continue
		}
		if latest == nil || msgs[i].Timestamp.After(latest.Timestamp) {
			latest = &msgs[i]
		}
	}
	return latest
}
