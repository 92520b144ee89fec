package db

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/manpreetbhatti/sketchroom/backend/internal/oplog"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS room_snapshots (
	room_key TEXT PRIMARY KEY,
	snapshot JSONB NOT NULL,
	op_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_room_snapshots_updated_at ON room_snapshots(updated_at DESC);
`

// PostgresStore keeps room snapshots in a shared PostgreSQL database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL, retrying the initial ping, and
// applies the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := retryConnect(ctx, "postgres", func() error { return pool.Ping(ctx) }); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	log.Println("Connected to PostgreSQL successfully.")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, roomKey string, ops []oplog.Operation) error {
	data, err := encodeOperations(ops)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO room_snapshots (room_key, snapshot, op_count, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (room_key) DO UPDATE SET
			snapshot = excluded.snapshot,
			op_count = excluded.op_count,
			updated_at = now()
	`, roomKey, string(data), len(ops))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, roomKey string) ([]oplog.Operation, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		"SELECT snapshot FROM room_snapshots WHERE room_key = $1",
		roomKey,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	return decodeOperations(data)
}

func (s *PostgresStore) ListSaved(ctx context.Context, limit, offset int) ([]SavedRoom, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT room_key, op_count, updated_at FROM room_snapshots
		ORDER BY updated_at DESC, room_key ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var saved []SavedRoom
	for rows.Next() {
		var r SavedRoom
		if err := rows.Scan(&r.RoomKey, &r.Operations, &r.UpdatedAt); err != nil {
			return nil, err
		}
		saved = append(saved, r)
	}
	return saved, rows.Err()
}

func (s *PostgresStore) DeleteSaved(ctx context.Context, roomKey string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM room_snapshots WHERE room_key = $1", roomKey)
	return err
}

func (s *PostgresStore) Stats(ctx context.Context) (map[string]interface{}, error) {
	var rooms, ops int
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*), COALESCE(SUM(op_count), 0) FROM room_snapshots",
	).Scan(&rooms, &ops)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"saved_rooms":      rooms,
		"saved_operations": ops,
	}, nil
}
