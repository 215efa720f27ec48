package roompush

import (
	"context"
	"errors"
	"sync"
	"time"

	"realtime-room/internal/clock"
	"realtime-room/internal/roompush/platforms"

	"github.com/rs/zerolog/log"
)

var errTargetPaused = errors.New("target_paused")

// maxRetryDelay caps the exponential backoff between delivery attempts.
const maxRetryDelay = time.Minute

func (m *Manager) deliverLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case job := <-m.dispatchCh:
			metricPushQueueLen.Set(int64(len(m.dispatchCh)))
			m.deliver(ctx, job)
		}
	}
}

func (m *Manager) deliver(ctx context.Context, job pushJob) {
	adapter := m.adapters[job.Target.Platform]
	if adapter == nil {
		metricPushDroppedTotal.Add(1)
		log.Warn().Str("module", "roompush").Str("platform", job.Target.Platform).Msg("no adapter for target platform")
		return
	}

	key := job.key()
	if !m.breakers.allow(key, m.clock.Now()) {
		metricPushCircuitOpenTotal.Add(1)
		m.retryLater(job, errTargetPaused)
		return
	}

	if err := adapter.Send(ctx, job.Target.Endpoint, job.Target.Secret, platformMessage(job.Formatted)); err != nil {
		metricPushFailedTotal.Add(1)
		if until, opened := m.breakers.fail(key, m.clock.Now()); opened {
			log.Warn().Err(err).Str("module", "roompush").Str("target", key).Time("paused_until", until).Msg("push target paused")
		}
		m.retryLater(job, err)
		return
	}
	metricPushSentTotal.Add(1)
	m.breakers.succeed(key)
}

// retryLater schedules job again with exponential backoff, or drops it once
// the attempt budget is spent.
func (m *Manager) retryLater(job pushJob, err error) {
	if job.Attempt >= m.cfg.RetryMax {
		metricPushRetryDroppedTotal.Add(1)
		log.Warn().Err(err).
			Str("module", "roompush").
			Str("platform", job.Target.Platform).
			Str("room", job.Event.RoomID).
			Str("event_id", job.Event.EventID).
			Int("attempt", job.Attempt).
			Msg("push dropped")
		return
	}
	job.Attempt++
	metricPushRetryTotal.Add(1)
	m.retries.schedule(job, backoff(m.cfg.RetryBase, job.Attempt))
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}

// retrySet holds jobs waiting for their backoff to elapse. Every pending
// timer is tracked so shutdown can cancel them.
type retrySet struct {
	clock clock.Clock
	out   chan<- pushJob
	done  <-chan struct{}

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]clock.Timer
	closed  bool
}

func newRetrySet(c clock.Clock, out chan<- pushJob, done <-chan struct{}) *retrySet {
	return &retrySet{clock: c, out: out, done: done, pending: map[uint64]clock.Timer{}}
}

func (r *retrySet) schedule(job pushJob, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.seq++
	id := r.seq
	r.pending[id] = r.clock.AfterFunc(delay, func() { r.release(id, job) })
	metricPushRetryPending.Set(int64(len(r.pending)))
}

func (r *retrySet) release(id uint64, job pushJob) {
	r.mu.Lock()
	if _, ok := r.pending[id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.pending, id)
	metricPushRetryPending.Set(int64(len(r.pending)))
	r.mu.Unlock()

	select {
	case <-r.done:
	case r.out <- job:
		metricPushQueueLen.Set(int64(len(r.out)))
	default:
		metricPushDroppedTotal.Add(1)
		log.Warn().Str("module", "roompush").Str("event_id", job.Event.EventID).Msg("push queue full; retry dropped")
	}
}

// close cancels every pending retry and refuses new ones.
func (r *retrySet) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, t := range r.pending {
		t.Stop()
		delete(r.pending, id)
	}
	metricPushRetryPending.Set(0)
}

func (r *retrySet) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// breakerSet pauses a target after consecutive failures.
type breakerSet struct {
	threshold int
	pause     time.Duration

	mu    sync.Mutex
	byKey map[string]breaker
}

type breaker struct {
	failures    int
	pausedUntil time.Time
}

func newBreakerSet(threshold int, pause time.Duration) *breakerSet {
	return &breakerSet{threshold: threshold, pause: pause, byKey: map[string]breaker{}}
}

func (b *breakerSet) allow(key string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !now.Before(b.byKey[key].pausedUntil)
}

// fail records a failed send and reports whether it paused the target.
func (b *breakerSet) fail(key string, now time.Time) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.byKey[key]
	st.failures++
	opened := false
	if st.failures >= b.threshold {
		st.pausedUntil = now.Add(b.pause)
		st.failures = 0
		opened = true
	}
	b.byKey[key] = st
	return st.pausedUntil, opened
}

func (b *breakerSet) succeed(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.byKey, key)
}

func platformMessage(msg FormattedMessage) platforms.Message {
	fields := make([]platforms.Field, 0, len(msg.Fields))
	for _, f := range msg.Fields {
		fields = append(fields, platforms.Field{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	ev := msg.Event
	return platforms.Message{
		Title:       msg.Title,
		Content:     msg.Content,
		Description: msg.Description,
		Color:       msg.Color,
		Timestamp:   msg.Timestamp,
		Footer:      msg.Footer,
		Fields:      fields,
		Event: platforms.Event{
			ID:        ev.EventID,
			Type:      ev.EventType,
			RoomID:    ev.RoomID,
			ClientID:  ev.ClientID,
			Name:      ev.Name,
			Data:      ev.Data,
			ServerTS:  ev.ServerTS,
			SlotIndex: ev.SlotIndex,
		},
	}
}
