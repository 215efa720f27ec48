package main

import (
	"context"
	"testing"
	"time"

	"realtime-room/internal/config"
	"realtime-room/internal/testutil"
	"realtime-room/internal/transport/memory"
)

func TestOpenHistoryDefaultsToMemory(t *testing.T) {
	backend, err := openHistory(context.Background(), config.HubConfig{HistoryLimit: 5})
	if err != nil {
		t.Fatalf("openHistory: %v", err)
	}
	defer backend.Close()
	if backend.Name != "memory" {
		t.Fatalf("backend = %q, want memory", backend.Name)
	}
	if _, ok := backend.Store.(*memory.RingHistory); !ok {
		t.Fatalf("store = %T, want *memory.RingHistory", backend.Store)
	}
	if backend.Prune != nil || len(backend.Checks) != 0 {
		t.Fatalf("memory backend should not prune or report checks: %+v", backend)
	}
}

func TestOpenHistoryPrefersPostgres(t *testing.T) {
	dsn := testutil.PostgresDSN(t)
	backend, err := openHistory(context.Background(), config.HubConfig{PostgresDSN: dsn, RedisAddr: "127.0.0.1:1"})
	if err != nil {
		t.Fatalf("openHistory: %v", err)
	}
	defer backend.Close()
	if backend.Name != "postgres" || backend.Prune == nil {
		t.Fatalf("unexpected backend: %+v", backend)
	}
}

func TestRunPrunerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan time.Time, 8)
	done := make(chan struct{})
	go func() {
		runPruner(ctx, func(_ context.Context, before time.Time) (int64, error) {
			calls <- before
			return 1, nil
		}, 5*time.Millisecond, time.Hour)
		close(done)
	}()

	select {
	case before := <-calls:
		if time.Since(before) < 59*time.Minute {
			t.Fatalf("cutoff %v is not an hour back", before)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pruner never ran")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pruner did not stop")
	}
}
