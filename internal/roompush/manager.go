package roompush

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"realtime-room/internal/clock"
	"realtime-room/internal/events"
	"realtime-room/internal/roompush/platforms"
	"realtime-room/internal/transport"

	"github.com/rs/zerolog/log"
)

var _ PushManager = (*Manager)(nil)

type Manager struct {
	cfg      Config
	router   Router
	adapters map[string]platforms.Adapter
	journal  *events.Journal
	clock    clock.Clock

	dispatchCh chan pushJob
	retries    *retrySet
	breakers   *breakerSet
	done       chan struct{}

	mu      sync.Mutex
	started bool
}

func NewManager(cfg Config, journal *events.Journal) *Manager {
	client := platforms.NewHTTPClient(cfg.RequestTimeout)
	adapters := map[string]platforms.Adapter{
		"discord": platforms.NewDiscordAdapter(client),
		"webhook": platforms.NewWebhookAdapter(client),
	}
	if cfg.DispatchBuffer <= 0 {
		cfg.DispatchBuffer = 2048
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.CircuitOpenDuration <= 0 {
		cfg.CircuitOpenDuration = 30 * time.Second
	}

	m := &Manager{
		cfg:        cfg,
		router:     Router{},
		adapters:   adapters,
		journal:    journal,
		clock:      clock.Real(),
		dispatchCh: make(chan pushJob, cfg.DispatchBuffer),
		breakers:   newBreakerSet(cfg.FailureThreshold, cfg.CircuitOpenDuration),
		done:       make(chan struct{}),
	}
	m.retries = newRetrySet(m.clock, m.dispatchCh, m.done)
	return m
}

// withClock swaps the clock that drives retry backoff and target pauses.
// Call it before Start.
func (m *Manager) withClock(c clock.Clock) *Manager {
	m.clock = c
	m.retries = newRetrySet(c, m.dispatchCh, m.done)
	return m
}

// Start launches the workers and begins following the journal. It is a
// no-op when pushing is disabled. Everything stops when ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		return nil
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	for i := 0; i < m.cfg.Workers; i++ {
		go m.deliverLoop(ctx)
	}
	if m.cfg.ConfigPath != "" {
		go m.watchConfigLoop(ctx)
	}
	if m.journal != nil {
		go m.consumeJournal(ctx, m.journal.Subscribe())
	}
	go func() {
		<-ctx.Done()
		m.retries.close()
		close(m.done)
	}()
	log.Info().Str("module", "roompush").Int("targets", len(m.currentTargets())).Int("workers", m.cfg.Workers).Msg("room push started")
	return nil
}

func (m *Manager) consumeJournal(ctx context.Context, ch chan events.Entry) {
	defer m.journal.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.handleEntry(e)
		}
	}
}

func (m *Manager) handleEntry(e events.Entry) {
	ev, ok := normalizeEntry(e)
	if !ok {
		return
	}
	targets := m.router.MatchTargets(m.currentTargets(), ev)
	if len(targets) == 0 {
		return
	}
	formatted, ok := FormatMessage(ev)
	if !ok {
		return
	}
	for _, target := range targets {
		job := pushJob{Target: target, Event: ev, Formatted: formatted}
		if !m.enqueue(job) {
			metricPushDroppedTotal.Add(1)
		}
	}
}

func (m *Manager) enqueue(job pushJob) bool {
	select {
	case <-m.done:
		return false
	case m.dispatchCh <- job:
		metricPushQueuedTotal.Add(1)
		metricPushQueueLen.Set(int64(len(m.dispatchCh)))
		return true
	default:
		return false
	}
}

// normalizeEntry understands the hub's message and presence entries and
// skips everything else.
func normalizeEntry(e events.Entry) (RoomEvent, bool) {
	ev := RoomEvent{EventID: e.EventID, EventType: e.Event, ServerTS: e.ServerTS, RoomID: e.Scope}
	switch data := e.Data.(type) {
	case transport.Message:
		ev.ClientID = data.ClientID
		ev.Name = data.Name
		ev.Data = data.Data
	case transport.PresenceMessage:
		ev.ClientID = data.ClientID
		ev.Participant = data.Data.Name
		ev.SlotIndex = data.Data.SlotIndex
	default:
		return RoomEvent{}, false
	}
	return ev, true
}

func (m *Manager) currentTargets() []PushTarget {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PushTarget, len(m.cfg.Targets))
	copy(out, m.cfg.Targets)
	return out
}

func (m *Manager) watchConfigLoop(ctx context.Context) {
	interval := m.cfg.ConfigReload
	if interval <= 0 {
		interval = time.Second
	}
	lastRaw := ""
	if raw, err := os.ReadFile(m.cfg.ConfigPath); err == nil {
		lastRaw = strings.TrimSpace(string(raw))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			raw, err := os.ReadFile(m.cfg.ConfigPath)
			if err != nil {
				metricPushConfigReloadError.Add(1)
				continue
			}
			nextRaw := strings.TrimSpace(string(raw))
			if nextRaw == lastRaw {
				continue
			}
			targets, err := parseTargetsJSON(nextRaw)
			if err != nil {
				metricPushConfigReloadError.Add(1)
				log.Warn().Err(err).Str("module", "roompush").Msg("push config reload failed")
				continue
			}
			m.mu.Lock()
			m.cfg.Targets = targets
			m.mu.Unlock()
			lastRaw = nextRaw
			metricPushConfigReloadTotal.Add(1)
			log.Info().Str("module", "roompush").Int("targets", len(targets)).Msg("push config reloaded")
		}
	}
}
