package main

import (
	"math/rand/v2"

	"realtime-room/internal/config"
	"realtime-room/internal/engine"
	"realtime-room/internal/roomprops"
	"realtime-room/internal/transport"
)

func sessionOptions(cfg config.AgentConfig) engine.Options {
	name := cfg.Name
	if name == "" {
		name = cfg.ClientID
	}
	return engine.Options{
		Room:              cfg.Room,
		Name:              name,
		Type:              participantType(cfg.Type),
		ReconnectDebounce: cfg.Engine.ReconnectDebounce,
		HistoryPageSize:   cfg.Engine.HistoryPageSize,
		StaleAfter:        cfg.Engine.StaleAfter,
		MaxPayloadBytes:   cfg.Engine.MaxPayloadBytes,
		LeaveOnKick:       cfg.Engine.LeaveOnKick,
	}
}

func participantType(v string) transport.ParticipantType {
	switch t := transport.ParticipantType(v); t {
	case transport.ParticipantHost, transport.ParticipantAudience:
		return t
	default:
		return transport.ParticipantGuest
	}
}

// randomWrite changes one room property the way a live participant would.
func randomWrite(s *engine.Session, rnd *rand.Rand) error {
	props, _ := s.Properties()
	switch rnd.IntN(4) {
	case 0:
		return s.SetGridMode(!props.IsGridModeEnabled)
	case 1:
		return s.SetGather(!props.Gather)
	case 2:
		if props.Transcript == roomprops.TranscriptStarted {
			return s.SetTranscript(roomprops.TranscriptStopped)
		}
		return s.SetTranscript(roomprops.TranscriptStarted)
	default:
		if props.Host() == s.ClientID() {
			return s.SetHost("")
		}
		return s.SetHost(s.ClientID())
	}
}
