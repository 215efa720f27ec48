package main

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"realtime-room/internal/clock"
	"realtime-room/internal/config"
	"realtime-room/internal/connstate"
	"realtime-room/internal/engine"
	"realtime-room/internal/transport"
	"realtime-room/internal/transport/memory"
)

func TestSessionOptionsFromConfig(t *testing.T) {
	opts := sessionOptions(config.AgentConfig{
		ClientID: "agent-7",
		Room:     "lobby",
		Type:     "host",
		Engine:   config.EngineConfig{ReconnectDebounce: 2 * time.Second, StaleAfter: time.Minute, LeaveOnKick: true},
	})
	if opts.Name != "agent-7" {
		t.Fatalf("Name = %q, want client id fallback", opts.Name)
	}
	if opts.Type != transport.ParticipantHost || opts.Room != "lobby" {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if opts.ReconnectDebounce != 2*time.Second || opts.StaleAfter != time.Minute || !opts.LeaveOnKick {
		t.Fatalf("engine settings not carried: %+v", opts)
	}
}

func TestParticipantTypeFallsBackToGuest(t *testing.T) {
	if got := participantType("admin"); got != transport.ParticipantGuest {
		t.Fatalf("participantType(admin) = %q, want guest", got)
	}
	if got := participantType("audience"); got != transport.ParticipantAudience {
		t.Fatalf("participantType(audience) = %q", got)
	}
}

func TestRandomWriteChangesProperties(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	hub := memory.NewHub(memory.WithClock(clk))
	s := engine.New(hub.NewClient("agent"), engine.Options{Room: "lobby", Clock: clk})
	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	defer s.Leave()
	if s.State() != connstate.Connected {
		t.Fatalf("state = %s, want connected", s.State())
	}

	rnd := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 8; i++ {
		if err := randomWrite(s, rnd); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	msgs, err := hub.History(context.Background(), "lobby", 100)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) < 9 {
		t.Fatalf("expected join broadcast plus 8 writes, got %d messages", len(msgs))
	}
}
