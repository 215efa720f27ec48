// Package slots hands each participant that needs a visible identity a slot
// in [0, MaxSlots) mapped to a color, and moves off a slot when another
// participant turns out to hold the same one.
package slots

import (
	"math/rand/v2"
	"sync"

	"realtime-room/internal/clock"
	"realtime-room/internal/events"
	"realtime-room/internal/transport"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Slot is a participant's color identity. Index is nil for the neutral slot.
type Slot struct {
	Index     *int   `json:"index"`
	Color     string `json:"color"`
	TextColor string `json:"textColor"`
	ColorName string `json:"colorName"`
	Timestamp int64  `json:"timestamp"`
}

func (s Slot) Held() bool { return s.Index != nil }

// For returns the slot for index, stamped with at (unix milliseconds).
func For(index int, at int64) Slot {
	if index < 0 || index >= MaxSlots {
		return Neutral(at)
	}
	e := palette[index]
	idx := index
	return Slot{Index: &idx, Color: e.hex, TextColor: textColorFor(e.hex), ColorName: e.name, Timestamp: at}
}

func Neutral(at int64) Slot {
	return Slot{Color: neutralColor, TextColor: lightText, ColorName: neutralColorName, Timestamp: at}
}

// IdentityComponents are the components that need a slot while active.
var IdentityComponents = []string{
	"videoConference",
	"comments",
	"whoIsOnline",
	"presence",
	"presence3dMatterport",
	"presence3dAutodesk",
	"presence3dThreejs",
	"formElements",
	"mousePointers",
}

type Options struct {
	Presence   transport.Presence
	ClientID   string
	Dispatcher *events.Dispatcher
	Clock      clock.Clock
	// Rand returns a uniform int in [0, n).
	Rand func(n int) int
	// Record returns the local presence record that slot changes are pushed
	// with. Defaults to a record carrying only the client id.
	Record func() transport.PresenceRecord
	// OnChange observes every slot the allocator records locally.
	OnChange func(Slot)
}

type Allocator struct {
	presence transport.Presence
	clientID string
	dispatch *events.Dispatcher
	clock    clock.Clock
	rand     func(int) int
	record   func() transport.PresenceRecord
	onChange func(Slot)

	mu         sync.Mutex
	slot       Slot
	active     bool
	assigning  bool
	generation uint64
	lastSeen   map[string]int64
	unsub      func()
}

func New(opts Options) *Allocator {
	if opts.Dispatcher == nil {
		opts.Dispatcher = events.NewDispatcher()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Rand == nil {
		opts.Rand = rand.IntN
	}
	if opts.Record == nil {
		id := opts.ClientID
		opts.Record = func() transport.PresenceRecord { return transport.PresenceRecord{ID: id} }
	}
	a := &Allocator{
		presence: opts.Presence,
		clientID: opts.ClientID,
		dispatch: opts.Dispatcher,
		clock:    opts.Clock,
		rand:     opts.Rand,
		record:   opts.Record,
		onChange: opts.OnChange,
		lastSeen: map[string]int64{},
	}
	a.slot = Neutral(a.now())
	return a
}

// Slot returns the locally held slot.
func (a *Allocator) Slot() Slot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneSlot(a.slot)
}

// Start begins watching presence for slot conflicts.
func (a *Allocator) Start() {
	a.mu.Lock()
	if a.active {
		a.mu.Unlock()
		return
	}
	a.active = true
	a.generation++
	a.mu.Unlock()

	unsub := a.presence.Subscribe("", a.HandlePresenceUpdate)
	a.mu.Lock()
	a.unsub = unsub
	a.mu.Unlock()
}

// Stop stops watching presence and forgets the held slot without pushing it.
// In-flight assignments are discarded.
func (a *Allocator) Stop() {
	a.mu.Lock()
	a.active = false
	a.assigning = false
	a.generation++
	a.slot = Neutral(a.now())
	a.lastSeen = map[string]int64{}
	unsub := a.unsub
	a.unsub = nil
	a.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// AssignSlot reads the presence set and picks a slot nobody else holds: one
// random probe, then the lowest free index. done may be nil. On exhaustion
// done receives the neutral slot and ErrSlotsExhausted.
func (a *Allocator) AssignSlot(done func(Slot, error)) {
	if done == nil {
		done = func(Slot, error) {}
	}
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		done(Neutral(a.now()), ErrNotStarted)
		return
	}
	a.assigning = true
	gen := a.generation
	a.mu.Unlock()

	a.presence.Get(func(members []transport.PresenceMessage, err error) {
		a.onSnapshot(gen, members, err, done)
	})
}

func (a *Allocator) onSnapshot(gen uint64, members []transport.PresenceMessage, err error, done func(Slot, error)) {
	a.mu.Lock()
	if !a.active || a.generation != gen {
		a.mu.Unlock()
		metricStaleResults.Add(1)
		done(Neutral(a.now()), ErrAssignmentAborted)
		return
	}
	a.mu.Unlock()

	if err != nil {
		a.finishAssign(gen)
		log.Warn().Err(err).Str("module", "slots").Msg("presence snapshot failed")
		done(Neutral(a.now()), err)
		return
	}

	index, ok := a.pick(members)
	if !ok {
		a.finishAssign(gen)
		metricExhaustedTotal.Add(1)
		log.Error().Err(ErrSlotsExhausted).Str("module", "slots").Str("client_id", a.clientID).Int("members", len(members)).Msg("no free slot")
		done(Neutral(a.now()), ErrSlotsExhausted)
		return
	}

	slot := For(index, a.now())
	a.mu.Lock()
	if !a.active || a.generation != gen {
		a.mu.Unlock()
		metricStaleResults.Add(1)
		done(Neutral(a.now()), ErrAssignmentAborted)
		return
	}
	a.assigning = false
	a.slot = cloneSlot(slot)
	a.mu.Unlock()

	metricAssignedTotal.Add(1)
	log.Debug().Str("module", "slots").Str("client_id", a.clientID).Int("slot", index).Msg("slot assigned")
	a.apply(slot)
	done(cloneSlot(slot), nil)
}

func (a *Allocator) finishAssign(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.generation == gen {
		a.assigning = false
	}
}

// pick chooses a slot not held by any other member of the snapshot.
func (a *Allocator) pick(members []transport.PresenceMessage) (int, bool) {
	others := lo.Filter(members, func(m transport.PresenceMessage, _ int) bool {
		return m.ClientID != a.clientID
	})
	if len(others) >= MaxSlots {
		return 0, false
	}
	taken := lo.FilterMap(others, func(m transport.PresenceMessage, _ int) (int, bool) {
		if m.Data.SlotIndex == nil {
			return 0, false
		}
		return *m.Data.SlotIndex, true
	})
	candidates := lo.Without(lo.Range(MaxSlots), taken...)
	if len(candidates) == 0 {
		return 0, false
	}
	probe := a.rand(MaxSlots)
	if lo.Contains(candidates, probe) {
		return probe, true
	}
	metricRandomProbeMisses.Add(1)
	return lo.Min(candidates), true
}

// SetDefaultSlot releases any held slot and pushes the neutral slot.
func (a *Allocator) SetDefaultSlot() {
	slot := Neutral(a.now())
	a.mu.Lock()
	a.slot = slot
	a.assigning = false
	a.generation++
	active := a.active
	a.mu.Unlock()
	if !active {
		return
	}
	a.apply(slot)
}

// HandlePresenceUpdate gives up the local slot when another participant
// reports the same index, then assigns a new one. Updates older than the
// last one seen from that participant are ignored.
func (a *Allocator) HandlePresenceUpdate(msg transport.PresenceMessage) {
	if msg.ClientID == a.clientID {
		return
	}
	at := msg.Data.Timestamp
	if at == 0 {
		at = msg.Timestamp.UnixMilli()
	}

	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return
	}
	if msg.Action == transport.PresenceLeave {
		delete(a.lastSeen, msg.ClientID)
		a.mu.Unlock()
		return
	}
	if last, seen := a.lastSeen[msg.ClientID]; seen && at < last {
		a.mu.Unlock()
		return
	}
	a.lastSeen[msg.ClientID] = at
	conflict := a.slot.Index != nil && msg.Data.SlotIndex != nil && *msg.Data.SlotIndex == *a.slot.Index
	var lost int
	if conflict {
		lost = *a.slot.Index
		a.slot = Neutral(a.now())
		a.generation++
		a.assigning = false
	}
	released := cloneSlot(a.slot)
	a.mu.Unlock()

	if !conflict {
		return
	}
	metricConflictsTotal.Add(1)
	log.Info().Str("module", "slots").Str("client_id", a.clientID).Str("holder", msg.ClientID).Int("slot", lost).Msg("slot conflict; reassigning")
	a.apply(released)
	a.AssignSlot(nil)
}

// SyncWithComponents assigns a slot when an active component needs one and
// none is held, and releases it when none of them needs it any more.
func (a *Allocator) SyncWithComponents(active []string) {
	needs := NeedsSlot(active)

	a.mu.Lock()
	held := a.slot.Index != nil
	assigning := a.assigning
	started := a.active
	a.mu.Unlock()
	if !started {
		return
	}

	switch {
	case needs && !held && !assigning:
		a.AssignSlot(nil)
	case !needs && (held || assigning):
		a.SetDefaultSlot()
	}
}

// NeedsSlot reports whether any of components requires a slot.
func NeedsSlot(components []string) bool {
	return lo.Some(components, IdentityComponents)
}

func (a *Allocator) apply(slot Slot) {
	a.dispatch.Publish(events.TopicSlot, cloneSlot(slot))
	if a.onChange != nil {
		a.onChange(cloneSlot(slot))
	}
	rec := a.record()
	rec.ID = a.clientID
	rec.SlotIndex = cloneInt(slot.Index)
	rec.Timestamp = slot.Timestamp
	a.presence.Update(rec, func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("module", "slots").Str("client_id", a.clientID).Msg("push slot to presence failed")
		}
	})
}

func (a *Allocator) now() int64 {
	return a.clock.Now().UnixMilli()
}

func cloneSlot(s Slot) Slot {
	s.Index = cloneInt(s.Index)
	return s
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
