package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"realtime-room/internal/config"
	"realtime-room/internal/events"
	"realtime-room/internal/logging"
	"realtime-room/internal/mcpserver"
	"realtime-room/internal/roompush"
	httptransport "realtime-room/internal/transport/http"
	"realtime-room/internal/transport/memory"
	"realtime-room/internal/ws"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadApp()
	if err != nil {
		panic(err)
	}
	if cfg.Log.Service == "" {
		cfg.Log.Service = "roomsync-hub"
	}
	logCloser, err := logging.Init(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openHistory(ctx, cfg.Hub)
	if err != nil {
		log.Fatal().Err(err).Msg("history backend init failed")
	}
	defer backend.Close()
	log.Info().Str("backend", backend.Name).Msg("history backend ready")
	if backend.Prune != nil {
		go runPruner(ctx, backend.Prune, cfg.Hub.PruneEvery, cfg.Hub.HistoryTTL)
	}

	journal := events.NewJournal(cfg.Hub.JournalSize)
	defer journal.Close()
	hubOpts := []memory.Option{memory.WithHistory(backend.Store), memory.WithJournal(journal)}
	if len(cfg.Hub.AllowClients) > 0 {
		hubOpts = append(hubOpts, memory.WithAllowList(cfg.Hub.AllowClients...))
	}
	hub := memory.NewHub(hubOpts...)

	pushCfg, err := roompush.ConfigFromEnv(cfg.Push)
	if err != nil {
		log.Fatal().Err(err).Msg("push config invalid")
	}
	if err := roompush.NewManager(pushCfg, journal).Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("push manager start failed")
	}
	bridge := ws.NewServer(hub)
	inspector := mcpserver.New(hub, mcpserver.Options{
		StaleAfter:      cfg.Engine.StaleAfter,
		HistoryPageSize: cfg.Engine.HistoryPageSize,
	})

	r := httptransport.NewRouter(httptransport.RouterDeps{
		Hub:         hub,
		Journal:     journal,
		WS:          bridge.HandleWSHandler(),
		MCP:         inspector.Handler(),
		Checks:      backend.Checks,
		AdminAPIKey: cfg.Hub.AdminAPIKey,
	})
	httptransport.LogRoutes(r)

	server := &http.Server{
		Addr:              cfg.Hub.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		bridge.DisconnectAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.Hub.HTTPAddr).Msg("http listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func runPruner(ctx context.Context, prune func(context.Context, time.Time) (int64, error), every, ttl time.Duration) {
	if every <= 0 || ttl <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := prune(ctx, now.Add(-ttl))
			if err != nil {
				log.Warn().Err(err).Msg("history prune failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("deleted", n).Msg("history pruned")
			}
		}
	}
}
