package roompush

import "testing"

func TestRouterMatchTargets(t *testing.T) {
	r := Router{}
	targets := []PushTarget{
		{Platform: "discord", Endpoint: "https://x/1", ScopeType: "room", ScopeValue: "lobby", Enabled: true},
		{Platform: "webhook", Endpoint: "https://x/2", ScopeType: "room", ScopeValue: "other", Enabled: true},
		{Platform: "discord", Endpoint: "https://x/3", ScopeType: "all", Enabled: true, EventAllowlist: []string{"presence"}},
		{Platform: "webhook", Endpoint: "https://x/4", ScopeType: "all", Enabled: false},
	}
	msg := RoomEvent{EventType: "message", RoomID: "lobby"}
	if matched := r.MatchTargets(targets, msg); len(matched) != 1 {
		t.Fatalf("expected 1 target for message, got %d", len(matched))
	}

	enter := RoomEvent{EventType: "presence.enter", RoomID: "lobby"}
	if matched := r.MatchTargets(targets, enter); len(matched) != 2 {
		t.Fatalf("expected 2 targets for presence, got %d", len(matched))
	}
}

func TestEventAllowedExactAndPrefix(t *testing.T) {
	if !eventAllowed([]string{"presence.leave"}, "presence.leave") {
		t.Fatal("exact match rejected")
	}
	if eventAllowed([]string{"presence.leave"}, "presence.enter") {
		t.Fatal("other presence action accepted")
	}
	if eventAllowed([]string{"pres"}, "presence.enter") {
		t.Fatal("partial prefix accepted")
	}
}
