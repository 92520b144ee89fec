package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/manpreetbhatti/sketchroom/backend/internal/oplog"
)

var snapshotsBucket = []byte("room_snapshots")

// BoltStore keeps one record per room in a single bbolt file.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	log.Printf("Bolt store initialized at %s", path)
	return &BoltStore{db: db, now: time.Now}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Save(ctx context.Context, roomKey string, ops []oplog.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeRecord(roomKey, ops, s.now())
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotsBucket).Put([]byte(roomKey), data)
	})
}

func (s *BoltStore) Load(ctx context.Context, roomKey string) ([]oplog.Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(snapshotsBucket).Get([]byte(roomKey))
		if v != nil {
			// v is only valid inside the transaction
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNoSnapshot
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	return rec.Operations, nil
}

func (s *BoltStore) ListSaved(ctx context.Context, limit, offset int) ([]SavedRoom, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var saved []SavedRoom
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotsBucket).ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("room %s: %w", k, err)
			}
			saved = append(saved, SavedRoom{
				RoomKey:    string(k),
				Operations: len(rec.Operations),
				UpdatedAt:  rec.SavedAt,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(saved, func(i, j int) bool {
		return saved[i].UpdatedAt.After(saved[j].UpdatedAt)
	})

	if offset >= len(saved) {
		return nil, nil
	}
	saved = saved[offset:]
	if limit < len(saved) {
		saved = saved[:limit]
	}
	return saved, nil
}

func (s *BoltStore) DeleteSaved(ctx context.Context, roomKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotsBucket).Delete([]byte(roomKey))
	})
}
