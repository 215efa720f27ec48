package main

import (
	"context"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"realtime-room/internal/config"
	"realtime-room/internal/connstate"
	"realtime-room/internal/engine"
	"realtime-room/internal/events"
	"realtime-room/internal/logging"
	"realtime-room/internal/roomprops"
	"realtime-room/internal/slots"
	"realtime-room/internal/ws"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()

	logCfg, err := config.LoadLog()
	if err != nil {
		panic(err)
	}
	if logCfg.Service == "" {
		logCfg.Service = "roomsync-agent"
	}
	logCloser, err := logging.Init(logCfg)
	if err != nil {
		panic(err)
	}
	defer logCloser.Close()

	cfg, err := config.LoadAgent()
	if err != nil {
		log.Fatal().Err(err).Msg("load agent config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := ws.NewClient(cfg.WSURL, cfg.ClientID)
	s := engine.New(client, sessionOptions(cfg))
	watch(s)
	for _, c := range cfg.Components {
		s.AddComponent(c)
	}
	if err := s.Join(ctx); err != nil {
		log.Fatal().Err(err).Msg("join failed")
	}
	defer s.Leave()

	joinCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = s.WaitForState(joinCtx, connstate.Connected)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.WSURL).Msg("room not joined")
	}

	var tick <-chan time.Time
	if cfg.WriteEvery > 0 {
		ticker := time.NewTicker(cfg.WriteEvery)
		defer ticker.Stop()
		tick = ticker.C
	}
	rnd := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("leaving room")
			return
		case <-tick:
			if err := randomWrite(s, rnd); err != nil {
				log.Warn().Err(err).Msg("property write rejected")
			}
		}
	}
}

func watch(s *engine.Session) {
	d := s.Dispatcher()
	events.On(d, events.TopicConnectionState, func(st connstate.State) {
		log.Info().Str("state", string(st)).Int("attempts", s.Attempts()).Msg("connection state")
	})
	events.On(d, events.TopicRoomProperties, func(p roomprops.Properties) {
		log.Info().Str("host", p.Host()).Bool("grid", p.IsGridModeEnabled).Bool("gather", p.Gather).Str("transcript", string(p.Transcript)).Msg("room properties")
	})
	events.On(d, events.TopicSlot, func(slot slots.Slot) {
		ev := log.Info().Str("color", slot.ColorName)
		if slot.Index != nil {
			ev = ev.Int("slot", *slot.Index)
		}
		ev.Msg("slot changed")
	})
	d.Subscribe(events.TopicParticipants, func(e events.Event) {
		log.Info().Int("participants", len(s.Participants())).Msg("participants changed")
	})
}
