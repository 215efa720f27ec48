// Package events is the instance-owned publish/subscribe registry shared by
// the connection machine, the room property store and the slot allocator.
package events

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Topic string

// Scoped derives a per-key topic, e.g. presence updates for one participant.
func Scoped(topic Topic, key string) Topic {
	return topic + Topic(":"+key)
}

type Event struct {
	Topic   Topic
	Payload any
	At      time.Time
}

type Handler func(Event)

type subscription struct {
	id int64
	h  Handler
}

type Dispatcher struct {
	mu      sync.Mutex
	nextID  int64
	subs    map[Topic]map[int64]Handler
	journal *Journal
	scope   string
	now     func() time.Time
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subs: map[Topic]map[int64]Handler{},
		now:  time.Now,
	}
}

// Tap mirrors every published event into j under the given scope.
func (d *Dispatcher) Tap(j *Journal, scope string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.journal = j
	d.scope = scope
}

// Subscribe registers h for topic and returns a func that removes it.
// The returned func is safe to call more than once.
func (d *Dispatcher) Subscribe(topic Topic, h Handler) func() {
	if h == nil {
		return func() {}
	}
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	set := d.subs[topic]
	if set == nil {
		set = map[int64]Handler{}
		d.subs[topic] = set
	}
	set[id] = h
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if set := d.subs[topic]; set != nil {
				delete(set, id)
				if len(set) == 0 {
					delete(d.subs, topic)
				}
			}
		})
	}
}

// Publish delivers payload to every handler of topic, synchronously and in
// subscription order. Handlers may publish or (un)subscribe re-entrantly.
func (d *Dispatcher) Publish(topic Topic, payload any) {
	d.mu.Lock()
	set := d.subs[topic]
	handlers := make([]subscription, 0, len(set))
	for id, h := range set {
		handlers = append(handlers, subscription{id: id, h: h})
	}
	journal := d.journal
	scope := d.scope
	now := d.now()
	d.mu.Unlock()

	slices.SortFunc(handlers, func(a, b subscription) int { return cmp.Compare(a.id, b.id) })

	if journal != nil {
		journal.Append(string(topic), scope, payload)
	}
	ev := Event{Topic: topic, Payload: payload, At: now}
	for _, s := range handlers {
		d.deliver(s.h, ev)
	}
}

func (d *Dispatcher) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			metricHandlerPanicsTotal.Add(1)
			log.Error().
				Str("module", "events").
				Str("topic", string(ev.Topic)).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	h(ev)
}

// Subscribers reports how many handlers are registered for topic.
func (d *Dispatcher) Subscribers(topic Topic) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs[topic])
}

// Reset drops every subscription.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = map[Topic]map[int64]Handler{}
}

// On subscribes a typed handler. Events whose payload is not a T are ignored.
func On[T any](d *Dispatcher, topic Topic, fn func(T)) func() {
	return d.Subscribe(topic, func(ev Event) {
		v, ok := ev.Payload.(T)
		if !ok {
			return
		}
		fn(v)
	})
}
