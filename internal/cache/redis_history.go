// Package cache keeps recent channel history in Redis so several hub
// processes can serve the same rooms.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"realtime-room/internal/transport"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxPerChannel = 100
	defaultTTL           = 24 * time.Hour
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// MaxPerChannel caps the list kept per channel.
	MaxPerChannel int
	// TTL is refreshed on every append.
	TTL time.Duration
}

// RedisHistory stores each channel as a Redis list, newest at the head.
type RedisHistory struct {
	client *redis.Client
	max    int64
	ttl    time.Duration
}

func NewRedisHistory(ctx context.Context, opts RedisOptions) (*RedisHistory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().Str("module", "cache").Str("addr", opts.Addr).Msg("redis connected")
	return newRedisHistory(client, opts), nil
}

func newRedisHistory(client *redis.Client, opts RedisOptions) *RedisHistory {
	if opts.MaxPerChannel <= 0 {
		opts.MaxPerChannel = defaultMaxPerChannel
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	return &RedisHistory{client: client, max: int64(opts.MaxPerChannel), ttl: opts.TTL}
}

func historyKey(channel string) string {
	return "room:" + channel + ":history"
}

func (r *RedisHistory) Append(ctx context.Context, channel string, msg transport.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := historyKey(channel)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, r.max-1)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		metricRedisErrorsTotal.Add(1)
		return fmt.Errorf("append history: %w", err)
	}
	metricRedisAppendsTotal.Add(1)
	return nil
}

// Latest returns up to limit messages, newest first. Entries that fail to
// decode are skipped.
func (r *RedisHistory) Latest(ctx context.Context, channel string, limit int) ([]transport.Message, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	results, err := r.client.LRange(ctx, historyKey(channel), 0, stop).Result()
	if err != nil {
		metricRedisErrorsTotal.Add(1)
		return nil, fmt.Errorf("read history: %w", err)
	}
	out := make([]transport.Message, 0, len(results))
	for _, raw := range results {
		var msg transport.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			log.Warn().Err(err).Str("module", "cache").Str("channel", channel).Msg("skip undecodable history entry")
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Count returns the number of messages kept for channel.
func (r *RedisHistory) Count(ctx context.Context, channel string) (int64, error) {
	return r.client.LLen(ctx, historyKey(channel)).Result()
}

func (r *RedisHistory) Clear(ctx context.Context, channel string) error {
	return r.client.Del(ctx, historyKey(channel)).Err()
}

func (r *RedisHistory) Close() error {
	return r.client.Close()
}

func (r *RedisHistory) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
