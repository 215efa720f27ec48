package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"realtime-room/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var ErrNotFound = errors.New("not found")

// Store wraps DB access.
type Store struct {
	Pool *pgxpool.Pool
}

func New(dsn string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

// Migrate applies the embedded schema. Every statement is idempotent, so it
// runs on each start.
func (s *Store) Migrate(ctx context.Context) error {
	stmts, err := migrations.Up()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	for i, sql := range stmts {
		if _, err := s.Pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
	}
	log.Debug().Str("module", "store").Int("migrations", len(stmts)).Msg("schema up to date")
	return nil
}
