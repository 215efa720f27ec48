package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"realtime-room/internal/transport"

	"github.com/jackc/pgx/v5"
)

const defaultHistoryLimit = 100

// Append persists one channel message. Messages are keyed by their ULID so
// replays of the same message are ignored.
func (s *Store) Append(ctx context.Context, channel string, msg transport.Message) error {
	data := msg.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO room_messages (id, channel, name, client_id, data, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		ON CONFLICT (id) DO NOTHING`,
		msg.ID, channel, msg.Name, msg.ClientID, string(data), msg.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Latest returns up to limit messages of channel, newest first.
func (s *Store) Latest(ctx context.Context, channel string, limit int) ([]transport.Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, name, client_id, data, created_at
		FROM room_messages
		WHERE channel = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		channel, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]transport.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return out, nil
}

func (s *Store) Message(ctx context.Context, id string) (transport.Message, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, name, client_id, data, created_at
		FROM room_messages
		WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return transport.Message{}, ErrNotFound
	}
	return msg, err
}

// Prune deletes messages created before cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM room_messages WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanMessage(row pgx.Row) (transport.Message, error) {
	var (
		msg  transport.Message
		data []byte
	)
	if err := row.Scan(&msg.ID, &msg.Name, &msg.ClientID, &data, &msg.Timestamp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return transport.Message{}, err
		}
		return transport.Message{}, fmt.Errorf("scan message: %w", err)
	}
	msg.Data = json.RawMessage(data)
	return msg, nil
}
