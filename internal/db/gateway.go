package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/manpreetbhatti/sketchroom/backend/internal/oplog"
)

// ErrNoSnapshot is returned by Load when nothing was ever saved for a room.
var ErrNoSnapshot = errors.New("no saved snapshot")

// Gateway is the durable store for room histories, keyed by room. It does
// not interpret the operations it stores.
type Gateway interface {
	Save(ctx context.Context, roomKey string, ops []oplog.Operation) error
	Load(ctx context.Context, roomKey string) ([]oplog.Operation, error)
	Close() error
}

// SavedRoom describes one stored snapshot
type SavedRoom struct {
	RoomKey    string    `json:"room_key"`
	Operations int       `json:"operations"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Catalog is implemented by gateways that can enumerate what they hold.
type Catalog interface {
	ListSaved(ctx context.Context, limit, offset int) ([]SavedRoom, error)
	DeleteSaved(ctx context.Context, roomKey string) error
}

// StatsProvider is implemented by gateways that can report totals.
type StatsProvider interface {
	Stats(ctx context.Context) (map[string]interface{}, error)
}

// record is the value stored per room by the key-value backends.
type record struct {
	RoomKey    string            `json:"roomKey"`
	SavedAt    time.Time         `json:"savedAt"`
	Operations []oplog.Operation `json:"operations"`
}

func encodeOperations(ops []oplog.Operation) ([]byte, error) {
	if ops == nil {
		ops = []oplog.Operation{}
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("encode operations: %w", err)
	}
	return data, nil
}

func decodeOperations(data []byte) ([]oplog.Operation, error) {
	var ops []oplog.Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("decode operations: %w", err)
	}
	if ops == nil {
		ops = []oplog.Operation{}
	}
	return ops, nil
}

func encodeRecord(roomKey string, ops []oplog.Operation, now time.Time) ([]byte, error) {
	if ops == nil {
		ops = []oplog.Operation{}
	}
	data, err := json.Marshal(record{RoomKey: roomKey, SavedAt: now.UTC(), Operations: ops})
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (record, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode record: %w", err)
	}
	if rec.Operations == nil {
		rec.Operations = []oplog.Operation{}
	}
	return rec, nil
}

// connectRetries bounds how often a networked backend is pinged at startup.
const connectRetries = 5

// retryConnect pings a networked backend with exponential backoff until it
// answers, the retries run out or ctx is done.
func retryConnect(ctx context.Context, name string, ping func() error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := ping()
		if err != nil {
			log.Printf("⚠️ %s not reachable (attempt %d): %v", name, attempt, err)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), connectRetries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return fmt.Errorf("connect %s: %w", name, err)
	}
	return nil
}
