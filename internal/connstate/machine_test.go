package connstate

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"realtime-room/internal/clock"
	"realtime-room/internal/events"
	"realtime-room/internal/transport"
	"realtime-room/internal/transport/memory"
)

type harness struct {
	clk        *clock.Manual
	d          *events.Dispatcher
	m          *Machine
	states     []State
	attempts   []int
	reconnects int
	rejoins    int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{clk: clock.NewManual(time.Unix(0, 0)), d: events.NewDispatcher()}
	h.m = New(Options{
		Clock:      h.clk,
		Dispatcher: h.d,
		Reconnect:  func() { h.reconnects++ },
		OnRejoin:   func() { h.rejoins++ },
	})
	events.On(h.d, events.TopicConnectionState, func(s State) { h.states = append(h.states, s) })
	events.On(h.d, events.TopicConnectionAttempt, func(n int) { h.attempts = append(h.attempts, n) })
	return h
}

func (h *harness) conn(state transport.ConnectionState) {
	h.m.HandleConnection(transport.ConnectionChange{Current: state})
}

func (h *harness) channel(state transport.ChannelState) {
	h.m.HandleChannel(transport.ChannelChange{Channel: "room", Current: state})
}

func (h *harness) join() {
	h.conn(transport.ConnConnecting)
	h.conn(transport.ConnConnected)
	h.channel(transport.ChannelAttaching)
	h.channel(transport.ChannelAttached)
}

func assertStates(t *testing.T, got []State, want ...State) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states = %v, want %v", got, want)
		}
	}
}

func TestJoinSequenceMapsToLogicalStates(t *testing.T) {
	h := newHarness(t)
	h.join()
	assertStates(t, h.states, Initializing, ReadyToJoin, Connecting, Connected)
	if h.m.State() != Connected {
		t.Fatalf("state = %s, want connected", h.m.State())
	}
}

func TestRepeatedStateIsNotRepublished(t *testing.T) {
	h := newHarness(t)
	h.conn(transport.ConnConnecting)
	h.conn(transport.ConnInitialized)
	h.conn(transport.ConnConnecting)
	assertStates(t, h.states, Initializing)
}

func TestMemoryTransportDrivesJoinSequence(t *testing.T) {
	h := newHarness(t)
	hub := memory.NewHub(memory.WithClock(h.clk))
	client := hub.NewClient("p1")
	ch := client.Channel("room")
	client.OnStateChange(h.m.HandleConnection)
	ch.OnStateChange(h.m.HandleChannel)

	client.Connect()
	ch.Attach()
	assertStates(t, h.states, Initializing, ReadyToJoin, Connecting, Connected)
}

func TestSuspendedSchedulesDebouncedReconnect(t *testing.T) {
	h := newHarness(t)
	h.join()
	h.conn(transport.ConnSuspended)
	if h.m.State() != Retrying {
		t.Fatalf("state = %s, want retrying", h.m.State())
	}
	if !h.m.ReconnectPending() {
		t.Fatal("expected reconnect to be scheduled")
	}

	h.clk.Advance(4 * time.Second)
	if h.reconnects != 0 {
		t.Fatal("reconnect fired before debounce window")
	}
	h.clk.Advance(time.Second)
	if h.reconnects != 1 {
		t.Fatalf("reconnects = %d, want 1", h.reconnects)
	}
	if len(h.attempts) != 1 || h.attempts[0] != 1 {
		t.Fatalf("attempts = %v, want [1]", h.attempts)
	}
	if !h.m.ReconnectPending() {
		t.Fatal("expected another attempt to be scheduled while still retrying")
	}
	h.clk.Advance(DefaultDebounce)
	if h.reconnects != 2 || h.m.Attempts() != 2 {
		t.Fatalf("reconnects = %d attempts = %d, want 2/2", h.reconnects, h.m.Attempts())
	}
}

func TestChurnResetsDebounceWindow(t *testing.T) {
	h := newHarness(t)
	h.join()
	h.conn(transport.ConnSuspended)
	h.clk.Advance(3 * time.Second)
	h.conn(transport.ConnConnecting)
	h.clk.Advance(3 * time.Second)
	if h.reconnects != 0 {
		t.Fatal("reconnect fired despite churn inside window")
	}
	h.conn(transport.ConnSuspended)
	h.clk.Advance(5 * time.Second)
	if h.reconnects != 1 {
		t.Fatalf("reconnects = %d, want 1", h.reconnects)
	}
}

func TestFailedDoesNotExtendPendingReconnect(t *testing.T) {
	h := newHarness(t)
	h.join()
	h.channel(transport.ChannelSuspended)
	h.clk.Advance(3 * time.Second)
	h.conn(transport.ConnFailed)
	if h.m.State() != Failed {
		t.Fatalf("state = %s, want failed", h.m.State())
	}
	h.clk.Advance(2 * time.Second)
	if h.reconnects != 1 {
		t.Fatalf("reconnects = %d, want 1 at original deadline", h.reconnects)
	}
}

func TestRetryHintIncrementsAttempts(t *testing.T) {
	h := newHarness(t)
	h.join()
	h.m.HandleConnection(transport.ConnectionChange{Current: transport.ConnDisconnected, RetryIn: 2 * time.Second})
	h.m.HandleConnection(transport.ConnectionChange{Current: transport.ConnDisconnected, RetryIn: 4 * time.Second})
	if h.m.State() != Retrying {
		t.Fatalf("state = %s, want retrying", h.m.State())
	}
	if h.m.Attempts() != 2 {
		t.Fatalf("attempts = %d, want 2", h.m.Attempts())
	}
	if len(h.attempts) != 2 || h.attempts[1] != 2 {
		t.Fatalf("published attempts = %v", h.attempts)
	}

	h.conn(transport.ConnConnected)
	if h.m.Attempts() != 0 {
		t.Fatalf("attempts = %d after ready_to_join, want 0", h.m.Attempts())
	}
}

func TestDisconnectedWithoutHintIsDisconnected(t *testing.T) {
	h := newHarness(t)
	h.join()
	h.conn(transport.ConnDisconnected)
	if h.m.State() != Disconnected {
		t.Fatalf("state = %s, want disconnected", h.m.State())
	}
	if h.m.ReconnectPending() {
		t.Fatal("plain disconnect should not schedule a reconnect")
	}
}

func TestDetachedChannelIsDisconnected(t *testing.T) {
	h := newHarness(t)
	h.join()
	h.channel(transport.ChannelDetaching)
	h.channel(transport.ChannelDetached)
	assertStates(t, h.states, Initializing, ReadyToJoin, Connecting, Connected, Disconnected)
}

func TestRejoinAfterReconnect(t *testing.T) {
	h := newHarness(t)
	h.join()
	if h.rejoins != 0 {
		t.Fatal("first join must not count as rejoin")
	}
	h.conn(transport.ConnSuspended)
	h.clk.Advance(DefaultDebounce)
	h.join()
	if h.rejoins != 1 {
		t.Fatalf("rejoins = %d, want 1", h.rejoins)
	}
	if h.m.ReconnectPending() {
		t.Fatal("reconnect still pending after recovery")
	}
}

func TestUnauthorizedIsTerminal(t *testing.T) {
	h := newHarness(t)
	var authErrs []error
	events.On(h.d, events.TopicAuthFailed, func(err error) { authErrs = append(authErrs, err) })

	h.conn(transport.ConnConnecting)
	h.m.HandleConnection(transport.ConnectionChange{Current: transport.ConnFailed, Reason: transport.ErrUnauthorized})
	h.m.HandleConnection(transport.ConnectionChange{Current: transport.ConnFailed, Reason: transport.ErrUnauthorized})
	h.conn(transport.ConnConnecting)

	if len(authErrs) != 1 || !errors.Is(authErrs[0], transport.ErrUnauthorized) {
		t.Fatalf("auth notifications = %v, want exactly one", authErrs)
	}
	if !h.m.Terminal() || h.m.State() != Failed {
		t.Fatalf("terminal = %v state = %s", h.m.Terminal(), h.m.State())
	}
	h.clk.Advance(time.Minute)
	if h.reconnects != 0 {
		t.Fatal("terminal machine must not reconnect")
	}
}

func TestStopCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t)
	h.join()
	h.conn(transport.ConnSuspended)
	h.m.Stop()
	h.clk.Advance(time.Minute)
	if h.reconnects != 0 {
		t.Fatal("stopped machine reconnected")
	}
	if h.m.State() != Disconnected {
		t.Fatalf("state = %s, want disconnected", h.m.State())
	}
}

func TestStopKeepsTerminalFailure(t *testing.T) {
	h := newHarness(t)
	h.m.HandleConnection(transport.ConnectionChange{Current: transport.ConnFailed, Reason: transport.ErrUnauthorized})
	h.m.Stop()
	if h.m.State() != Failed {
		t.Fatalf("state = %s, want failed to survive stop", h.m.State())
	}

	h.m.Restart()
	if h.m.Terminal() || h.m.State() != Disconnected {
		t.Fatalf("restart left terminal = %v state = %s", h.m.Terminal(), h.m.State())
	}
	h.join()
	if h.m.State() != Connected {
		t.Fatalf("state = %s after restart and join, want connected", h.m.State())
	}
}

func TestRealClockReconnectsUnderChurn(t *testing.T) {
	var reconnects atomic.Int64
	m := New(Options{
		Clock:     clock.Real(),
		Debounce:  time.Millisecond,
		Reconnect: func() { reconnects.Add(1) },
	})
	m.HandleConnection(transport.ConnectionChange{Current: transport.ConnSuspended})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.HandleConnection(transport.ConnectionChange{Current: transport.ConnSuspended})
				_ = m.ReconnectPending()
				time.Sleep(100 * time.Microsecond)
			}
		}()
	}
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for reconnects.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if reconnects.Load() < 3 {
		t.Fatalf("reconnects = %d, want the re-armed timer to keep firing", reconnects.Load())
	}

	m.Stop()
	if m.ReconnectPending() {
		t.Fatal("stop left a reconnect pending")
	}
	if m.State() != Disconnected {
		t.Fatalf("state = %s, want disconnected", m.State())
	}
}
