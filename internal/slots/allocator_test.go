package slots

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"realtime-room/internal/clock"
	"realtime-room/internal/events"
	"realtime-room/internal/transport"
	"realtime-room/internal/transport/memory"
)

const testRoom = "room-1"

func fixedRand(v int) func(int) int {
	return func(int) int { return v }
}

func newHub() (*clock.Manual, *memory.Hub) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	return clk, memory.NewHub(memory.WithClock(clk))
}

func attach(t *testing.T, hub *memory.Hub, clientID string) transport.Channel {
	t.Helper()
	c := hub.NewClient(clientID)
	c.Connect()
	ch := c.Channel(testRoom)
	ch.Attach()
	if ch.State() != transport.ChannelAttached {
		t.Fatalf("%s: channel not attached", clientID)
	}
	return ch
}

func enterWithSlot(t *testing.T, hub *memory.Hub, clientID string, slot *int, ts int64) transport.Channel {
	t.Helper()
	ch := attach(t, hub, clientID)
	ch.Presence().Enter(transport.PresenceRecord{ID: clientID, SlotIndex: slot, Timestamp: ts}, nil)
	return ch
}

func intPtr(v int) *int { return &v }

type harness struct {
	alloc *Allocator
	slots []Slot
}

func startAllocator(clk clock.Clock, p transport.Presence, clientID string, rnd func(int) int) *harness {
	h := &harness{}
	d := events.NewDispatcher()
	events.On(d, events.TopicSlot, func(s Slot) { h.slots = append(h.slots, s) })
	h.alloc = New(Options{Presence: p, ClientID: clientID, Dispatcher: d, Clock: clk, Rand: rnd})
	h.alloc.Start()
	return h
}

func assign(t *testing.T, a *Allocator) (Slot, error) {
	t.Helper()
	var (
		got    Slot
		gotErr error
		called bool
	)
	a.AssignSlot(func(s Slot, err error) {
		got, gotErr, called = s, err, true
	})
	if !called {
		t.Fatal("assign did not complete")
	}
	return got, gotErr
}

func TestAssignSlotDisjointFromExistingSlots(t *testing.T) {
	for n := 1; n <= MaxSlots; n++ {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			clk, hub := newHub()
			taken := map[int]bool{}
			for i := 0; i < n-1; i++ {
				idx := (i * 7) % MaxSlots
				taken[idx] = true
				enterWithSlot(t, hub, fmt.Sprintf("other-%02d", i), intPtr(idx), 1)
			}
			me := attach(t, hub, "me")
			h := startAllocator(clk, me.Presence(), "me", fixedRand((n*13)%MaxSlots))

			slot, err := assign(t, h.alloc)
			if err != nil {
				t.Fatalf("assign: %v", err)
			}
			if slot.Index == nil {
				t.Fatal("expected a slot")
			}
			if taken[*slot.Index] {
				t.Fatalf("slot %d already held by another participant", *slot.Index)
			}
		})
	}
}

func TestAssignSlotUsesFreeRandomProbe(t *testing.T) {
	clk, hub := newHub()
	me := attach(t, hub, "me")
	h := startAllocator(clk, me.Presence(), "me", fixedRand(42))

	slot, err := assign(t, h.alloc)
	if err != nil || slot.Index == nil || *slot.Index != 42 {
		t.Fatalf("slot = %+v err = %v, want 42", slot, err)
	}
	if slot.Color != palette[42].hex || slot.ColorName != palette[42].name {
		t.Fatalf("color lookup mismatch: %+v", slot)
	}
}

func TestAssignSlotFallsBackToLowestFree(t *testing.T) {
	clk, hub := newHub()
	enterWithSlot(t, hub, "b", intPtr(0), 1)
	enterWithSlot(t, hub, "c", intPtr(1), 1)
	enterWithSlot(t, hub, "d", intPtr(42), 1)
	me := attach(t, hub, "me")
	h := startAllocator(clk, me.Presence(), "me", fixedRand(42))

	slot, err := assign(t, h.alloc)
	if err != nil || slot.Index == nil || *slot.Index != 2 {
		t.Fatalf("slot = %+v err = %v, want 2", slot, err)
	}
}

func TestAssignSlotPushesIndexToPresence(t *testing.T) {
	clk, hub := newHub()
	me := attach(t, hub, "me")
	h := startAllocator(clk, me.Presence(), "me", fixedRand(9))
	if _, err := assign(t, h.alloc); err != nil {
		t.Fatal(err)
	}

	members := hub.Members(testRoom)
	if len(members) != 1 || members[0].Data.SlotIndex == nil || *members[0].Data.SlotIndex != 9 {
		t.Fatalf("presence = %+v, want me with slot 9", members)
	}
	if len(h.slots) != 1 || *h.slots[0].Index != 9 {
		t.Fatalf("published slots = %+v", h.slots)
	}
}

func TestFiftyFirstParticipantGetsNullSlot(t *testing.T) {
	clk, hub := newHub()
	for i := 0; i < MaxSlots; i++ {
		enterWithSlot(t, hub, fmt.Sprintf("other-%02d", i), intPtr(i), 1)
	}
	me := attach(t, hub, "me")
	h := startAllocator(clk, me.Presence(), "me", fixedRand(3))

	slot, err := assign(t, h.alloc)
	if !errors.Is(err, ErrSlotsExhausted) {
		t.Fatalf("err = %v, want slots_exhausted", err)
	}
	if slot.Held() || h.alloc.Slot().Held() {
		t.Fatalf("expected null slot, got %+v", slot)
	}
	if slot.ColorName != neutralColorName {
		t.Fatalf("expected neutral color, got %s", slot.ColorName)
	}
}

func TestFiftyOthersWithoutSlotsStillExhausts(t *testing.T) {
	clk, hub := newHub()
	for i := 0; i < MaxSlots; i++ {
		enterWithSlot(t, hub, fmt.Sprintf("other-%02d", i), nil, 1)
	}
	me := attach(t, hub, "me")
	h := startAllocator(clk, me.Presence(), "me", fixedRand(3))

	if _, err := assign(t, h.alloc); !errors.Is(err, ErrSlotsExhausted) {
		t.Fatalf("err = %v, want slots_exhausted", err)
	}
}

func TestConflictingUpdateTriggersReassignment(t *testing.T) {
	clk, hub := newHub()
	me := attach(t, hub, "me")
	h := startAllocator(clk, me.Presence(), "me", fixedRand(7))
	if slot, _ := assign(t, h.alloc); slot.Index == nil || *slot.Index != 7 {
		t.Fatalf("initial slot = %+v, want 7", slot)
	}

	enterWithSlot(t, hub, "b", intPtr(7), clk.Now().UnixMilli())

	got := h.alloc.Slot()
	if got.Index == nil || *got.Index == 7 {
		t.Fatalf("slot after conflict = %+v, want a slot other than 7", got)
	}
	if len(h.slots) != 3 || h.slots[1].Held() {
		t.Fatalf("published slots = %+v, want [7 null new]", h.slots)
	}
}

func TestStaleEchoDoesNotTriggerReassignment(t *testing.T) {
	clk, hub := newHub()
	me := attach(t, hub, "me")
	h := startAllocator(clk, me.Presence(), "me", fixedRand(7))
	assign(t, h.alloc)

	b := enterWithSlot(t, hub, "b", intPtr(3), 2000)
	b.Presence().Update(transport.PresenceRecord{ID: "b", SlotIndex: intPtr(7), Timestamp: 1000}, nil)

	if got := h.alloc.Slot(); got.Index == nil || *got.Index != 7 {
		t.Fatalf("slot = %+v, stale update must be ignored", got)
	}
}

func TestUpdatesFromOtherSlotsAreIgnored(t *testing.T) {
	clk, hub := newHub()
	me := attach(t, hub, "me")
	h := startAllocator(clk, me.Presence(), "me", fixedRand(7))
	assign(t, h.alloc)

	enterWithSlot(t, hub, "b", intPtr(8), 1)
	if got := h.alloc.Slot(); *got.Index != 7 {
		t.Fatalf("slot = %d, want 7", *got.Index)
	}
}

// laggingPresence answers Get with the snapshot taken when Get was called,
// but only once flushed.
type laggingPresence struct {
	transport.Presence
	lag     bool
	pending []func()
}

func (p *laggingPresence) Get(cb func([]transport.PresenceMessage, error)) {
	if !p.lag {
		p.Presence.Get(cb)
		return
	}
	p.Presence.Get(func(members []transport.PresenceMessage, err error) {
		p.pending = append(p.pending, func() { cb(members, err) })
	})
}

func (p *laggingPresence) flush() {
	pending := p.pending
	p.pending = nil
	for _, f := range pending {
		f()
	}
}

// Two participants racing for the same vacancy can both pick it. The race is
// only resolved after the fact, by whoever sees the other's update.
func TestKnownRaceResolvedByConflictReassignment(t *testing.T) {
	clk, hub := newHub()
	pa := &laggingPresence{Presence: attach(t, hub, "a").Presence(), lag: true}
	pb := &laggingPresence{Presence: attach(t, hub, "b").Presence(), lag: true}
	a := startAllocator(clk, pa, "a", fixedRand(7))
	b := startAllocator(clk, pb, "b", fixedRand(7))

	var firstA, firstB Slot
	a.alloc.AssignSlot(func(s Slot, _ error) { firstA = s })
	b.alloc.AssignSlot(func(s Slot, _ error) { firstB = s })
	pa.lag, pb.lag = false, false
	pa.flush()
	pb.flush()

	if firstA.Index == nil || firstB.Index == nil || *firstA.Index != 7 || *firstB.Index != 7 {
		t.Fatalf("expected both racers to pick 7 from stale snapshots, got a=%+v b=%+v", firstA, firstB)
	}
	sa, sb := a.alloc.Slot(), b.alloc.Slot()
	if sa.Index == nil || sb.Index == nil || *sa.Index == *sb.Index {
		t.Fatalf("conflict not resolved: a=%+v b=%+v", sa, sb)
	}
}

func TestSyncWithComponents(t *testing.T) {
	clk, hub := newHub()
	me := attach(t, hub, "me")
	p := &laggingPresence{Presence: me.Presence(), lag: true}
	h := startAllocator(clk, p, "me", fixedRand(5))

	h.alloc.SyncWithComponents([]string{"comments"})
	h.alloc.SyncWithComponents([]string{"comments", "videoConference"})
	if len(p.pending) != 1 {
		t.Fatalf("pending snapshots = %d, want 1", len(p.pending))
	}
	p.lag = false
	p.flush()
	if got := h.alloc.Slot(); got.Index == nil || *got.Index != 5 {
		t.Fatalf("slot = %+v, want 5", got)
	}

	h.alloc.SyncWithComponents([]string{"comments"})
	if len(h.slots) != 1 {
		t.Fatalf("held slot was reassigned: %+v", h.slots)
	}

	h.alloc.SyncWithComponents([]string{"transcription"})
	if h.alloc.Slot().Held() {
		t.Fatal("slot not released when no component needs it")
	}
	members := hub.Members(testRoom)
	if len(members) != 1 || members[0].Data.SlotIndex != nil {
		t.Fatalf("presence = %+v, want null slot", members)
	}
}

func TestAssignAbortedByStop(t *testing.T) {
	clk, hub := newHub()
	me := attach(t, hub, "me")
	p := &laggingPresence{Presence: me.Presence(), lag: true}
	h := startAllocator(clk, p, "me", fixedRand(5))

	var gotErr error
	h.alloc.AssignSlot(func(_ Slot, err error) { gotErr = err })
	h.alloc.Stop()
	p.flush()

	if !errors.Is(gotErr, ErrAssignmentAborted) {
		t.Fatalf("err = %v, want slot_assignment_aborted", gotErr)
	}
	if h.alloc.Slot().Held() || len(h.slots) != 0 {
		t.Fatal("aborted assignment was applied")
	}
}

func TestTextColorFollowsLuminance(t *testing.T) {
	cases := []struct {
		hex  string
		want string
	}{
		{"#ffd600", darkText},
		{"#18ffff", darkText},
		{"#1a237e", lightText},
		{"#b71c1c", lightText},
		{"bogus", lightText},
	}
	for _, tc := range cases {
		if got := textColorFor(tc.hex); got != tc.want {
			t.Fatalf("textColorFor(%s) = %s, want %s", tc.hex, got, tc.want)
		}
	}
}

func TestPaletteNamesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for i, e := range palette {
		if seen[e.name] || seen[e.hex] {
			t.Fatalf("palette entry %d duplicates %s/%s", i, e.name, e.hex)
		}
		seen[e.name], seen[e.hex] = true, true
	}
}
