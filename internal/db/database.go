package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/manpreetbhatti/sketchroom/backend/internal/oplog"
)

// Database is the SQLite gateway. It is the default store.
type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// Pragmas in the DSN are applied to every connection the pool opens
	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("Database initialized at %s", dbPath)
	return &Database{db: db}, nil
}

func sqliteDSN(dbPath string) string {
	return "file:" + dbPath +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS room_snapshots (
		room_id TEXT PRIMARY KEY,
		snapshot_data BLOB NOT NULL,
		op_count INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_room_snapshots_updated_at ON room_snapshots(updated_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Snapshot operations

// Save stores the full history of a room, replacing any earlier snapshot.
func (d *Database) Save(ctx context.Context, roomKey string, ops []oplog.Operation) error {
	data, err := encodeOperations(ops)
	if err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO rooms (id) VALUES (?)", roomKey); err != nil {
		return fmt.Errorf("create room: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO room_snapshots (room_id, snapshot_data, op_count, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_id) DO UPDATE SET
			snapshot_data = excluded.snapshot_data,
			op_count = excluded.op_count,
			updated_at = CURRENT_TIMESTAMP
	`, roomKey, data, len(ops)); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE rooms SET updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		roomKey,
	); err != nil {
		return fmt.Errorf("touch room: %w", err)
	}

	return tx.Commit()
}

func (d *Database) Load(ctx context.Context, roomKey string) ([]oplog.Operation, error) {
	var data []byte
	err := d.db.QueryRowContext(ctx,
		"SELECT snapshot_data FROM room_snapshots WHERE room_id = ?",
		roomKey,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	return decodeOperations(data)
}

func (d *Database) ListSaved(ctx context.Context, limit, offset int) ([]SavedRoom, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT room_id, op_count, updated_at FROM room_snapshots
		ORDER BY updated_at DESC, room_id ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var saved []SavedRoom
	for rows.Next() {
		var s SavedRoom
		if err := rows.Scan(&s.RoomKey, &s.Operations, &s.UpdatedAt); err != nil {
			return nil, err
		}
		saved = append(saved, s)
	}
	return saved, rows.Err()
}

// DeleteSaved drops the room row; its snapshot goes with it.
func (d *Database) DeleteSaved(ctx context.Context, roomKey string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM room_snapshots WHERE room_id = ?", roomKey); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", roomKey); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return tx.Commit()
}

// Stats

func (d *Database) Stats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var roomCount int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM room_snapshots").Scan(&roomCount); err != nil {
		return nil, err
	}
	stats["saved_rooms"] = roomCount

	var opCount int
	if err := d.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(op_count), 0) FROM room_snapshots").Scan(&opCount); err != nil {
		return nil, err
	}
	stats["saved_operations"] = opCount

	return stats, nil
}
