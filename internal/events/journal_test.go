package events

import "testing"

func TestJournalOrderAndReplay(t *testing.T) {
	j := NewJournal(10)
	e1 := j.Append("a", "room", map[string]any{"n": 1})
	e2 := j.Append("b", "room", map[string]any{"n": 2})
	e3 := j.Append("c", "room", map[string]any{"n": 3})

	if e1.EventID != "1" || e2.EventID != "2" || e3.EventID != "3" {
		t.Fatalf("unexpected event ids: %s %s %s", e1.EventID, e2.EventID, e3.EventID)
	}

	replay := j.ReplayAfter("1")
	if len(replay) != 2 {
		t.Fatalf("expected 2 replay entries, got %d", len(replay))
	}
	if replay[0].EventID != "2" || replay[1].EventID != "3" {
		t.Fatalf("unexpected replay order: %+v", replay)
	}
}

func TestJournalTrimsToMax(t *testing.T) {
	j := NewJournal(2)
	j.Append("a", "", nil)
	j.Append("b", "", nil)
	j.Append("c", "", nil)
	replay := j.ReplayAfter("")
	if len(replay) != 2 || replay[0].Event != "b" {
		t.Fatalf("unexpected retained entries: %+v", replay)
	}
}

func TestJournalWatchersClosedOnClose(t *testing.T) {
	j := NewJournal(4)
	ch := j.Subscribe()
	j.Append("a", "", nil)
	if e := <-ch; e.Event != "a" {
		t.Fatalf("unexpected live entry: %+v", e)
	}
	j.Close()
	if _, ok := <-ch; ok {
		t.Fatal("expected watcher channel closed")
	}
	if e := j.Append("b", "", nil); e.EventID != "" {
		t.Fatalf("append after close should be dropped, got %+v", e)
	}
}
