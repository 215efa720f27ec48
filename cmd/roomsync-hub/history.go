package main

import (
	"context"
	"time"

	"realtime-room/internal/cache"
	"realtime-room/internal/config"
	"realtime-room/internal/store"
	httptransport "realtime-room/internal/transport/http"
	"realtime-room/internal/transport/memory"
)

var (
	_ memory.HistoryStore = (*store.Store)(nil)
	_ memory.HistoryStore = (*cache.RedisHistory)(nil)
	_ memory.HistoryStore = (*memory.RingHistory)(nil)
)

// historyBackend is the history store the hub runs on plus what the process
// needs to supervise it.
type historyBackend struct {
	Name   string
	Store  memory.HistoryStore
	Checks []httptransport.HealthCheck
	// Prune is set for backends that do not expire entries themselves.
	Prune func(ctx context.Context, before time.Time) (int64, error)
	Close func()
}

// openHistory picks Postgres, then Redis, then the in-memory ring.
func openHistory(ctx context.Context, cfg config.HubConfig) (historyBackend, error) {
	switch {
	case cfg.PostgresDSN != "":
		st, err := store.New(cfg.PostgresDSN)
		if err != nil {
			return historyBackend{}, err
		}
		if err := st.Ping(ctx); err != nil {
			st.Close()
			return historyBackend{}, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return historyBackend{}, err
		}
		return historyBackend{
			Name:   "postgres",
			Store:  st,
			Checks: []httptransport.HealthCheck{{Name: "postgres", Ping: st.Ping}},
			Prune:  st.Prune,
			Close:  st.Close,
		}, nil
	case cfg.RedisAddr != "":
		rh, err := cache.NewRedisHistory(ctx, cache.RedisOptions{
			Addr:          cfg.RedisAddr,
			Password:      cfg.RedisPassword,
			DB:            cfg.RedisDB,
			MaxPerChannel: cfg.HistoryLimit,
			TTL:           cfg.HistoryTTL,
		})
		if err != nil {
			return historyBackend{}, err
		}
		return historyBackend{
			Name:   "redis",
			Store:  rh,
			Checks: []httptransport.HealthCheck{{Name: "redis", Ping: rh.Ping}},
			Close:  func() { _ = rh.Close() },
		}, nil
	default:
		return historyBackend{
			Name:  "memory",
			Store: memory.NewRingHistory(cfg.HistoryLimit),
			Close: func() {},
		}, nil
	}
}
