package db

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/manpreetbhatti/sketchroom/backend/internal/oplog"
)

// RedisStore keeps one record per room under prefix+roomKey.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// OpenRedis connects to addr, retrying the initial ping.
func OpenRedis(ctx context.Context, addr, prefix string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	err := retryConnect(ctx, "redis "+addr, func() error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		rdb.Close()
		return nil, err
	}

	log.Printf("Connected to Redis at %s", addr)
	return NewRedisStore(rdb, prefix), nil
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(roomKey string) string {
	return s.prefix + "room:" + roomKey
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) Save(ctx context.Context, roomKey string, ops []oplog.Operation) error {
	data, err := encodeRecord(roomKey, ops, s.now())
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(roomKey), data, 0).Err()
}

func (s *RedisStore) Load(ctx context.Context, roomKey string) ([]oplog.Operation, error) {
	data, err := s.rdb.Get(ctx, s.key(roomKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	return rec.Operations, nil
}
