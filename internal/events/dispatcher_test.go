package events

import "testing"

func TestDispatcherDeliversInSubscriptionOrder(t *testing.T) {
	d := NewDispatcher()
	var got []int
	d.Subscribe("t", func(Event) { got = append(got, 1) })
	d.Subscribe("t", func(Event) { got = append(got, 2) })
	d.Subscribe("other", func(Event) { got = append(got, 99) })

	d.Publish("t", nil)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("unexpected delivery: %v", got)
	}
}

func TestDispatcherUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	off := d.Subscribe("t", func(Event) { calls++ })
	d.Publish("t", nil)
	off()
	off()
	d.Publish("t", nil)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if n := d.Subscribers("t"); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
}

func TestDispatcherReentrantPublish(t *testing.T) {
	d := NewDispatcher()
	var seen []Topic
	d.Subscribe("a", func(ev Event) {
		seen = append(seen, ev.Topic)
		d.Publish("b", nil)
	})
	d.Subscribe("b", func(ev Event) { seen = append(seen, ev.Topic) })
	d.Publish("a", nil)
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Fatalf("unexpected order: %v", seen)
	}
}

func TestDispatcherRecoversHandlerPanic(t *testing.T) {
	d := NewDispatcher()
	reached := false
	d.Subscribe("t", func(Event) { panic("boom") })
	d.Subscribe("t", func(Event) { reached = true })
	d.Publish("t", nil)
	if !reached {
		t.Fatal("second handler not reached after panic")
	}
}

func TestOnFiltersPayloadType(t *testing.T) {
	d := NewDispatcher()
	var got []string
	On(d, "t", func(s string) { got = append(got, s) })
	d.Publish("t", 42)
	d.Publish("t", "hello")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("unexpected typed delivery: %v", got)
	}
}

func TestScopedTopic(t *testing.T) {
	if got := Scoped(TopicPresenceUpdate, "p1"); got != "presence.update:p1" {
		t.Fatalf("scoped = %q", got)
	}
}

func TestTapMirrorsIntoJournal(t *testing.T) {
	d := NewDispatcher()
	j := NewJournal(10)
	d.Tap(j, "p1")
	d.Publish(TopicHost, "p2")

	entries := j.ReplayAfter("")
	if len(entries) != 1 {
		t.Fatalf("expected 1 journal entry, got %d", len(entries))
	}
	if entries[0].Event != string(TopicHost) || entries[0].Scope != "p1" || entries[0].Data != "p2" {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}
