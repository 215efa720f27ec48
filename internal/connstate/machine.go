// Package connstate folds raw transport connection and channel events into
// the seven logical states consumers see, and owns the reconnect scheduler.
package connstate

import (
	"errors"
	"sync"
	"time"

	"realtime-room/internal/clock"
	"realtime-room/internal/events"
	"realtime-room/internal/transport"

	"github.com/rs/zerolog/log"
)

type State string

const (
	Disconnected State = "disconnected"
	Initializing State = "initializing"
	ReadyToJoin  State = "ready_to_join"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Retrying     State = "retrying"
	Failed       State = "failed"
)

// DefaultDebounce is how long the state must stay quiet before a scheduled
// reconnect fires.
const DefaultDebounce = 5 * time.Second

type Options struct {
	Clock      clock.Clock
	Dispatcher *events.Dispatcher
	Debounce   time.Duration
	// Reconnect is invoked when a scheduled attempt fires.
	Reconnect func()
	// OnRejoin is invoked when Connected is reached after a reconnect.
	OnRejoin func()
}

type Machine struct {
	clock     clock.Clock
	dispatch  *events.Dispatcher
	debounce  time.Duration
	reconnect func()
	onRejoin  func()

	mu            sync.Mutex
	state         State
	conn          transport.ConnectionState
	channel       transport.ChannelState
	attempts      int
	timer         clock.Timer
	timerSeq      uint64
	everConnected bool
	reconnecting  bool
	terminal      bool
	stopped       bool
}

func New(opts Options) *Machine {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = events.NewDispatcher()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Machine{
		clock:     opts.Clock,
		dispatch:  opts.Dispatcher,
		debounce:  opts.Debounce,
		reconnect: opts.Reconnect,
		onRejoin:  opts.OnRejoin,
		state:     Disconnected,
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Terminal reports whether the backend rejected the participant.
func (m *Machine) Terminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminal
}

// ReconnectPending reports whether a reconnect attempt is scheduled.
func (m *Machine) ReconnectPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

func (m *Machine) HandleConnection(change transport.ConnectionChange) {
	m.mu.Lock()
	if m.terminal || m.stopped {
		m.mu.Unlock()
		return
	}
	m.conn = change.Current
	if change.Current != transport.ConnConnected {
		m.channel = ""
	}

	if change.Current == transport.ConnFailed && errors.Is(change.Reason, transport.ErrUnauthorized) {
		m.terminal = true
		m.cancelTimerLocked()
		prev := m.state
		m.state = Failed
		m.mu.Unlock()

		metricAuthFailedTotal.Add(1)
		log.Error().Str("module", "connstate").Err(change.Reason).Msg("connection rejected by backend")
		if prev != Failed {
			m.dispatch.Publish(events.TopicConnectionState, Failed)
		}
		m.dispatch.Publish(events.TopicAuthFailed, change.Reason)
		return
	}

	var next State
	announced := false
	switch {
	case change.RetryIn > 0:
		next = Retrying
		m.attempts++
		announced = true
	case change.Current == transport.ConnInitialized || change.Current == transport.ConnConnecting:
		next = Initializing
	case change.Current == transport.ConnConnected:
		next = m.connectedStateLocked()
	case change.Current == transport.ConnSuspended:
		next = Retrying
	case change.Current == transport.ConnFailed:
		next = Failed
	default:
		// disconnected without a retry hint, closing, closed
		next = Disconnected
	}
	attempts := m.attempts
	m.transitionLocked(next)

	if announced {
		metricReconnectAttemptsTotal.Add(1)
		m.dispatch.Publish(events.TopicConnectionAttempt, attempts)
	}
}

func (m *Machine) HandleChannel(change transport.ChannelChange) {
	m.mu.Lock()
	if m.terminal || m.stopped {
		m.mu.Unlock()
		return
	}
	m.channel = change.Current

	var next State
	switch change.Current {
	case transport.ChannelSuspended:
		next = Retrying
	case transport.ChannelFailed:
		next = Failed
	case transport.ChannelDetaching, transport.ChannelDetached:
		next = Disconnected
	default:
		if m.conn != transport.ConnConnected {
			m.mu.Unlock()
			return
		}
		next = m.connectedStateLocked()
	}
	m.transitionLocked(next)
}

// Stop cancels any pending reconnect and ignores further events. Used when
// the participant leaves.
func (m *Machine) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.cancelTimerLocked()
	if m.terminal {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = Disconnected
	m.reconnecting = false
	m.mu.Unlock()
	if prev != Disconnected {
		m.dispatch.Publish(events.TopicConnectionState, Disconnected)
	}
}

// Restart re-enables event handling after Stop, for a participant joining
// again with the same machine. It also clears a terminal auth failure.
func (m *Machine) Restart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = false
	m.terminal = false
	m.reconnecting = false
	m.state = Disconnected
	m.conn = ""
	m.channel = ""
	m.attempts = 0
	m.everConnected = false
}

func (m *Machine) connectedStateLocked() State {
	switch m.channel {
	case transport.ChannelAttaching:
		return Connecting
	case transport.ChannelAttached:
		return Connected
	case transport.ChannelDetaching, transport.ChannelDetached:
		return Disconnected
	case transport.ChannelSuspended:
		return Retrying
	case transport.ChannelFailed:
		return Failed
	default:
		return ReadyToJoin
	}
}

// transitionLocked applies next, runs scheduling side effects and publishes.
// It releases m.mu.
func (m *Machine) transitionLocked(next State) {
	prev := m.state
	rejoin := false

	switch next {
	case ReadyToJoin:
		m.attempts = 0
		m.cancelTimerLocked()
	case Connected:
		m.cancelTimerLocked()
		rejoin = m.reconnecting && prev != Connected
		m.reconnecting = false
		m.everConnected = true
	case Retrying:
		if m.everConnected {
			m.reconnecting = true
		}
		m.scheduleLocked()
	case Failed:
		if m.everConnected {
			m.reconnecting = true
		}
		if m.timer == nil {
			m.scheduleLocked()
		}
	default:
		if m.timer != nil && next != prev {
			m.scheduleLocked()
		}
	}
	m.state = next
	m.mu.Unlock()

	if next == prev {
		return
	}
	log.Debug().Str("module", "connstate").Str("from", string(prev)).Str("to", string(next)).Msg("connection state changed")
	m.dispatch.Publish(events.TopicConnectionState, next)
	if rejoin && m.onRejoin != nil {
		metricRejoinsTotal.Add(1)
		m.onRejoin()
	}
}

// scheduleLocked (re)arms the debounce timer. Each arming gets a sequence
// number so a callback from a replaced timer is ignored.
func (m *Machine) scheduleLocked() {
	m.cancelTimerLocked()
	m.timerSeq++
	seq := m.timerSeq
	m.timer = m.clock.AfterFunc(m.debounce, func() { m.fire(seq) })
}

func (m *Machine) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) fire(seq uint64) {
	m.mu.Lock()
	if m.timer == nil || m.timerSeq != seq {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	if m.terminal || m.stopped || (m.state != Retrying && m.state != Failed) {
		m.mu.Unlock()
		return
	}
	m.attempts++
	attempts := m.attempts
	m.reconnecting = m.reconnecting || m.everConnected
	m.mu.Unlock()

	metricReconnectAttemptsTotal.Add(1)
	log.Info().Str("module", "connstate").Int("attempt", attempts).Msg("reconnect attempt")
	m.dispatch.Publish(events.TopicConnectionAttempt, attempts)
	if m.reconnect != nil {
		m.reconnect()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminal || m.stopped || m.timer != nil {
		return
	}
	if m.state == Retrying || m.state == Failed {
		m.scheduleLocked()
	}
}
